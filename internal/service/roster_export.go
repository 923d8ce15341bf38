package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
	"github.com/noah-isme/pickup-roster-api/internal/models"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
	"github.com/noah-isme/pickup-roster-api/pkg/export"
)

// Export formats.
const (
	ExportCSV = "csv"
	ExportPDF = "pdf"
)

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// RosterExport is a rendered roster sheet.
type RosterExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

// RosterExporter renders a roster snapshot as an end-of-day sheet. Times are shown in the roster zone.
type RosterExporter struct {
	loc *time.Location
	csv tableRenderer
	pdf tableRenderer
}

// NewRosterExporter constructs an exporter with the default renderers.
func NewRosterExporter(loc *time.Location) *RosterExporter {
	if loc == nil {
		loc = time.UTC
	}
	return &RosterExporter{loc: loc, csv: export.NewCSVExporter(), pdf: export.NewPDFExporter()}
}

// Export renders snap in the requested format.
func (e *RosterExporter) Export(snap models.RosterSnapshot, format string) (*RosterExport, error) {
	table := e.table(snap)
	name := fmt.Sprintf("roster-%s", snap.RosterDate)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", ExportCSV:
		body, err := e.csv.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render roster csv")
		}
		return &RosterExport{Filename: name + ".csv", ContentType: "text/csv", Body: body}, nil
	case ExportPDF:
		body, err := e.pdf.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render roster pdf")
		}
		return &RosterExport{Filename: name + ".pdf", ContentType: "application/pdf", Body: body}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (e *RosterExporter) table(snap models.RosterSnapshot) export.Table {
	table := export.Table{
		Title:    "Pickup roster " + snap.RosterDate,
		Subtitle: fmt.Sprintf("%d students, times in %s", len(snap.Rows), e.loc.String()),
		Columns: []export.Column{
			{Header: "Student ID", Width: 1.2},
			{Header: "Name", Width: 2.5},
			{Header: "School", Width: 1.5},
			{Header: "Room", Width: 0.8},
			{Header: "Program", Width: 1.2},
			{Header: "Status", Width: 1},
			{Header: "Time", Width: 0.8},
			{Header: "Picked once", Width: 0.9},
		},
		Rows: make([][]string, 0, len(snap.Rows)),
	}
	if snap.SyncedAt != nil {
		table.Subtitle += ", synced " + e.clock(*snap.SyncedAt)
	}
	for _, row := range snap.Rows {
		at := ""
		if row.DisplayAt != nil {
			at = e.clock(*row.DisplayAt)
		}
		picked := ""
		if row.PickedOnce {
			picked = "yes"
		}
		table.Rows = append(table.Rows, []string{
			row.Student.ID,
			row.Student.FullName,
			row.Student.School,
			row.Student.Room,
			row.Student.Program,
			string(row.Status),
			at,
			picked,
		})
	}
	return table
}

func (e *RosterExporter) clock(t time.Time) string {
	local := civil.FromInstant(t, e.loc)
	return fmt.Sprintf("%02d:%02d", local.Hour, local.Minute)
}
