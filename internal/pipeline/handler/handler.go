package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"estate_crm_backend/internal/pipeline/density"
	"estate_crm_backend/internal/pipeline/maintenance"
	"estate_crm_backend/internal/pipeline/scoring"
	"estate_crm_backend/internal/pipeline/stalled"
	"estate_crm_backend/internal/pipeline/transitions"
	"estate_crm_backend/internal/pipeline/transport"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/httpkit"
	"estate_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// RecalcEnqueuer hands a bulk recalculation to the background worker.
type RecalcEnqueuer interface {
	EnqueueLastActivityRecalc(ctx context.Context, dryRun bool) (string, error)
}

// Services bundles the pipeline services the handler serves.
type Services struct {
	Transitions *transitions.Service
	Stalled     *stalled.Detector
	Scorer      *scoring.Scorer
	Density     *density.Analyzer
	Recalc      *maintenance.LastActivityRecalculator
	// Enqueuer is optional; without it async recalculation is rejected.
	Enqueuer RecalcEnqueuer
}

type Handler struct {
	svc Services
	val *validator.Validator
}

func New(svc Services, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.PUT("/leads/:id/stage", h.ChangeLeadStage)
	rg.GET("/leads/:id/history", h.LeadHistory)
	rg.GET("/leads/scores", h.LeadScores)
	rg.PUT("/deals/:id/sync", h.SyncDealStage)
	rg.GET("/deals/:id/history", h.DealHistory)
	rg.GET("/deals/scores", h.DealScores)
	rg.GET("/density", h.Density)
	rg.GET("/stalled", h.Stalled)
	rg.GET("/health/:dealId", h.DealHealth)
	rg.POST("/bulk-recalc", httpkit.RequireRole("admin"), h.BulkRecalc)
}

func (h *Handler) ChangeLeadStage(c *gin.Context) {
	id, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	var req transport.ChangeLeadStageRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.svc.Transitions.ChangeLeadStage(c.Request.Context(), id, req, httpkit.GetIdentity(c).UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) SyncDealStage(c *gin.Context) {
	id, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	var req transport.SyncDealStageRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.svc.Transitions.SyncDealStage(c.Request.Context(), id, req, httpkit.GetIdentity(c).UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) LeadHistory(c *gin.Context) {
	id, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	resp, err := h.svc.Transitions.LeadHistory(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) DealHistory(c *gin.Context) {
	id, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	resp, err := h.svc.Transitions.DealHistory(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) Density(c *gin.Context) {
	resp, err := h.svc.Density.Density(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) Stalled(c *gin.Context) {
	details := map[string]string{}
	stageAge := positiveQueryInt(c, "daysSinceStageChange", details)
	noActivity := positiveQueryInt(c, "daysNoActivity", details)
	if len(details) > 0 {
		httpkit.HandleError(c, apperr.BadRequest("invalid stalled thresholds").WithDetails(details))
		return
	}

	resp, err := h.svc.Stalled.Detect(c.Request.Context(), stalled.Thresholds{StageAgeDays: stageAge, NoActivityDays: noActivity})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) DealHealth(c *gin.Context) {
	id, ok := parseObjectID(c, "dealId")
	if !ok {
		return
	}

	resp, err := h.svc.Scorer.DealHealth(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) LeadScores(c *gin.Context) {
	resp, err := h.svc.Scorer.LeadScores(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) DealScores(c *gin.Context) {
	resp, err := h.svc.Scorer.DealScores(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) BulkRecalc(c *gin.Context) {
	var req transport.BulkRecalcRequest
	// An empty body means a real run.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if h.svc.Enqueuer == nil {
			httpkit.HandleError(c, apperr.BadRequest("async recalculation is not configured"))
			return
		}
		taskID, err := h.svc.Enqueuer.EnqueueLastActivityRecalc(c.Request.Context(), req.DryRun)
		if err != nil {
			httpkit.HandleError(c, apperr.Internal("failed to enqueue recalculation", err))
			return
		}
		httpkit.JSON(c, http.StatusAccepted, transport.BulkRecalcQueuedResponse{Status: "queued", TaskID: taskID, DryRun: req.DryRun})
		return
	}

	resp, err := h.svc.Recalc.Run(c.Request.Context(), req.DryRun)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(validator.FieldErrors(err)))
		return false
	}
	return true
}

func parseObjectID(c *gin.Context, param string) (bson.ObjectID, bool) {
	id, err := bson.ObjectIDFromHex(c.Param(param))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid id").WithDetails(map[string]string{param: "objectid"}))
		return bson.ObjectID{}, false
	}
	return id, true
}

// positiveQueryInt returns 0 when the parameter is absent.
func positiveQueryInt(c *gin.Context, key string, details map[string]string) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		details[key] = "must be a positive integer"
		return 0
	}
	return n
}
