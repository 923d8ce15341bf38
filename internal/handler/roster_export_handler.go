package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/service"
	"github.com/noah-isme/pickup-roster-api/pkg/response"
)

type rosterSnapshotter interface {
	Today(ctx context.Context) (models.RosterSnapshot, error)
}

type rosterExporter interface {
	Export(snap models.RosterSnapshot, format string) (*service.RosterExport, error)
}

// RosterExportHandler serves the end-of-day roster sheet.
type RosterExportHandler struct {
	roster   rosterSnapshotter
	exporter rosterExporter
}

// NewRosterExportHandler builds the handler.
func NewRosterExportHandler(roster rosterSnapshotter, exporter rosterExporter) *RosterExportHandler {
	return &RosterExportHandler{roster: roster, exporter: exporter}
}

// Export godoc
// @Summary Download today's roster sheet
// @Tags Roster
// @Produce text/csv,application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /roster/export [get]
func (h *RosterExportHandler) Export(c *gin.Context) {
	snap, err := h.roster.Today(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.exporter.Export(snap, c.DefaultQuery("format", service.ExportCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Body)
}

// RegisterRoutes mounts the export endpoint under /roster.
func (h *RosterExportHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/roster/export", h.Export)
}
