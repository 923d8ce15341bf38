package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/dto"
	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/realtime"
	"github.com/noah-isme/pickup-roster-api/internal/service"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
	"github.com/noah-isme/pickup-roster-api/pkg/middleware/requestid"
	"github.com/noah-isme/pickup-roster-api/pkg/response"
)

type rosterService interface {
	Today(ctx context.Context) (models.RosterSnapshot, error)
	SetStatus(ctx context.Context, req service.StatusRequest) (*service.StatusChange, error)
	Prepare(ctx context.Context) (*service.PrepareResult, error)
	Resync(ctx context.Context) error
	History(ctx context.Context, studentID string) ([]models.LogEntry, error)
	SetVisible(ctx context.Context, device string, visible bool) error
}

type rosterStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, snapshot realtime.SnapshotFunc) error
}

// RosterHandler exposes the daily pickup roster.
type RosterHandler struct {
	service  rosterService
	stream   rosterStreamer
	validate *validator.Validate
	logger   *zap.Logger
}

// NewRosterHandler builds a new handler.
func NewRosterHandler(service rosterService, stream rosterStreamer, logger *zap.Logger) *RosterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterHandler{service: service, stream: stream, validate: dto.NewValidator(), logger: logger}
}

// Today godoc
// @Summary Today's roster
// @Description Students with current status, display time and picked-once flag
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /roster/today [get]
func (h *RosterHandler) Today(c *gin.Context) {
	snap, err := h.service.Today(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snap, nil)
}

// SetStatus godoc
// @Summary Set a student's status
// @Tags Roster
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.SetRosterStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /roster/students/{id}/status [post]
func (h *RosterHandler) SetStatus(c *gin.Context) {
	var req dto.SetRosterStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload"))
		return
	}
	source := req.Source
	if source == "" {
		source = "ui"
		if device := requestid.DeviceID(c); device != "" {
			source = "ui:" + device
		}
	}
	change, err := h.service.SetStatus(c.Request.Context(), service.StatusRequest{
		StudentID:    c.Param("id"),
		Status:       models.Status(req.Status),
		PickupPerson: req.PickupPerson,
		Override:     req.Override,
		PickupTime:   req.PickupTime,
		Source:       source,
	})
	if err != nil {
		if !appErrors.IsValidation(err) {
			h.logger.Warn("roster status change failed", zap.String("student_id", c.Param("id")), zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, map[string]interface{}{"direction": change.Direction.String()})
}

// History godoc
// @Summary Today's transition log for one student
// @Tags Roster
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /roster/students/{id}/history [get]
func (h *RosterHandler) History(c *gin.Context) {
	entries, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

// Prepare godoc
// @Summary Apply today's skipped defaults
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /roster/prepare [post]
func (h *RosterHandler) Prepare(c *gin.Context) {
	result, err := h.service.Prepare(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Resync godoc
// @Summary Reload today's roster from the store
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /roster/resync [post]
func (h *RosterHandler) Resync(c *gin.Context) {
	if err := h.service.Resync(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	h.Today(c)
}

// Visibility godoc
// @Summary Report roster view visibility
// @Tags Roster
// @Accept json
// @Param payload body dto.RosterVisibilityRequest true "Visibility payload"
// @Success 204
// @Router /roster/visibility [post]
func (h *RosterHandler) Visibility(c *gin.Context) {
	var req dto.RosterVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid visibility payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "visible is required"))
		return
	}
	if err := h.service.SetVisible(c.Request.Context(), requestid.DeviceID(c), *req.Visible); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Stream godoc
// @Summary Stream roster changes over a websocket
// @Tags Roster
// @Router /roster/ws [get]
func (h *RosterHandler) Stream(c *gin.Context) {
	if h.stream == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "roster stream not configured"))
		return
	}
	// fail with a plain HTTP error while the request can still take one
	if _, err := h.service.Today(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	snapshot := func(ctx context.Context) (*models.RosterSnapshot, error) {
		snap, err := h.service.Today(ctx)
		if err != nil {
			return nil, err
		}
		return &snap, nil
	}
	if err := h.stream.Serve(c.Writer, c.Request, snapshot); err != nil {
		h.logger.Debug("roster stream ended", zap.Error(err))
	}
}

// RegisterRoutes mounts the roster endpoints.
func (h *RosterHandler) RegisterRoutes(group *gin.RouterGroup) {
	roster := group.Group("/roster")
	roster.GET("/today", h.Today)
	roster.POST("/students/:id/status", h.SetStatus)
	roster.GET("/students/:id/history", h.History)
	roster.POST("/prepare", h.Prepare)
	roster.POST("/resync", h.Resync)
	roster.POST("/visibility", h.Visibility)
	roster.GET("/ws", h.Stream)
}
