// Package http holds what the API binary hands to the router: the App it
// builds at startup and the Module contract each route owner implements.
package http

import (
	"context"

	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"
)

// RouterConfig is the slice of configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs GET /api/health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in cmd/api and consumed by router.New.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health is optional; without it /api/health always reports ok.
	Health  HealthChecker
	Modules []Module
}
