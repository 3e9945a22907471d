package http

import "github.com/gin-gonic/gin"

// Module mounts its own routes. The pipeline module is the only one today.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the groups a Module may mount on.
type RouterContext struct {
	// Protected is /api/v1 behind the JWT check.
	Protected *gin.RouterGroup
}
