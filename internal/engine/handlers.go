package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/logging"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/snapshot"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/validation"
)

// Handler provides HTTP endpoints for the behavioral engine.
type Handler struct {
	service *Service
}

// NewHandler creates a new engine handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the engine routes on r (normally the /v1 group).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.RecordEvent)

	user := r.Group("/behavior/:userId", validation.UserIDParamMiddleware(), annotateUser())
	user.POST("/analyze", h.Analyze)
	user.GET("/analysis", h.GetAnalysis)
	user.POST("/incidents", h.ReportIncident)
	user.GET("/risks", h.GetRisks)
	user.GET("/recommendations", h.GetRecommendations)
	user.GET("/history", h.GetHistory)
}

// annotateUser puts the path user ID on the request context so that
// logging.L includes it.
func annotateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithUserID(c.Request.Context(), c.Param("userId"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Analyze handles POST /v1/behavior/:userId/analyze
func (h *Handler) Analyze(c *gin.Context) {
	analysis, err := h.service.AnalyzeUserBehavior(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

// GetAnalysis handles GET /v1/behavior/:userId/analysis
func (h *Handler) GetAnalysis(c *gin.Context) {
	analysis, err := h.service.GetLatestBehaviorAnalysis(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if analysis == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No analysis recorded for this user yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

type incidentRequest struct {
	Reason  string          `json:"reason"`
	Context json.RawMessage `json:"context,omitempty"`
}

// ReportIncident handles POST /v1/behavior/:userId/incidents
func (h *Handler) ReportIncident(c *gin.Context) {
	var req incidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be JSON with a reason",
		})
		return
	}

	ctx := c.Request.Context()
	userID := c.Param("userId")
	ic := decodeIncidentContext(c, req.Context)

	if err := h.service.LearnFromUnderSaving(ctx, userID, req.Reason, ic); err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"recorded": true}
	recs, err := h.service.GenerateAdaptiveRecommendations(ctx, userID)
	if err != nil {
		logging.L(ctx).Warn("recommendations unavailable after incident", "error", err)
	} else {
		resp["recommendations"] = recs
	}
	c.JSON(http.StatusCreated, resp)
}

// decodeIncidentContext parses the optional context leniently: fields with
// the wrong type are dropped one by one, a context that is not an object is
// dropped whole, and out-of-range values are left for the learner to
// sanitize.
func decodeIncidentContext(c *gin.Context, raw json.RawMessage) *events.IncidentContext {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	log := logging.L(c.Request.Context())
	ic, dropped, err := events.DecodeIncidentContext(raw)
	if err != nil {
		log.Debug("dropping unparseable incident context", "error", err)
		return nil
	}
	if len(dropped) > 0 {
		log.Debug("dropping mistyped incident context fields", "fields", dropped)
	}
	if errs := validation.Struct(ic); len(errs) > 0 {
		log.Debug("incident context has unusable fields", "fields", errs.Error())
	}
	return ic
}

// GetRisks handles GET /v1/behavior/:userId/risks
func (h *Handler) GetRisks(c *gin.Context) {
	assessment, err := h.service.AssessFinancialRisks(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assessment": assessment,
		"count":      len(assessment.Risks),
	})
}

// GetRecommendations handles GET /v1/behavior/:userId/recommendations
func (h *Handler) GetRecommendations(c *gin.Context) {
	recs, err := h.service.GenerateAdaptiveRecommendations(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recommendations": recs,
		"count":           len(recs),
	})
}

// GetHistory handles GET /v1/behavior/:userId/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit := snapshot.DefaultHistoryLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	snaps, err := h.service.History(c.Request.Context(), c.Param("userId"), snapshot.Kind(c.Query("kind")), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

type recordEventRequest struct {
	UserID         string           `json:"userId" validate:"required,userid"`
	Kind           string           `json:"kind" validate:"required,oneof=contribution expectation"`
	Timestamp      *time.Time       `json:"timestamp,omitempty"`
	GoalID         string           `json:"goalId,omitempty" validate:"omitempty,max=128"`
	ExpectedAmount *decimal.Decimal `json:"expectedAmount,omitempty"`
	ActualAmount   *decimal.Decimal `json:"actualAmount,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

// RecordEvent handles POST /v1/events
func (h *Handler) RecordEvent(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON event",
		})
		return
	}

	errs := validation.Struct(&req)
	errs = append(errs, validation.Validate(
		validation.NonNegativeAmount("expectedAmount", req.ExpectedAmount),
		validation.NonNegativeAmount("actualAmount", req.ActualAmount),
	)...)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	ev := &events.Event{
		UserID:         req.UserID,
		Kind:           events.Kind(req.Kind),
		GoalID:         req.GoalID,
		ExpectedAmount: req.ExpectedAmount,
		ActualAmount:   req.ActualAmount,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}

	id, err := h.service.RecordEvent(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// writeError maps engine failures onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_failed"
	case errors.Is(err, snapshot.ErrOutOfOrder):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, ErrCollaboratorUnavailable):
		status = http.StatusServiceUnavailable
		code = "unavailable"
	}

	resp := gin.H{"error": code, "message": err.Error()}
	if stage := StageOf(err); stage != "" {
		resp["stage"] = stage
	}
	c.JSON(status, resp)
}
