package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/roster"
	"github.com/noah-isme/pickup-roster-api/internal/status"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
)

// RosterProcedures is the authoritative store-side write.
type RosterProcedures interface {
	SetStatus(ctx context.Context, rosterDate, studentID string, status models.Status, meta models.LogMeta) error
}

// RosterStatusWriter is the fallback status upsert.
type RosterStatusWriter interface {
	Upsert(ctx context.Context, entry *models.RosterStatusEntry) error
}

// RosterLogStore appends to and queries the audit log.
type RosterLogStore interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	EarliestAt(ctx context.Context, rosterDate, studentID string, action models.Status) (*time.Time, error)
}

// SkipPolicy decides whether a student may be marked skipped.
type SkipPolicy interface {
	CanSkip(student models.Student) bool
}

// StatusRequest is an operator's request to move a student to a new status.
type StatusRequest struct {
	StudentID    string
	Status       models.Status
	PickupPerson string
	Override     string
	PickupTime   string
	Source       string
}

// StatusChange describes the outcome of an accepted transition.
type StatusChange struct {
	RosterDate string           `json:"roster_date"`
	StudentID  string           `json:"student_id"`
	Previous   models.Status    `json:"previous"`
	Status     models.Status    `json:"status"`
	DisplayAt  time.Time        `json:"display_at"`
	Direction  status.Direction `json:"-"`
	WritePath  string           `json:"write_path"`
	PickedOnce bool             `json:"picked_once"`
}

// RosterEngine applies status transitions for one roster day.
type RosterEngine struct {
	state    *roster.State
	procs    RosterProcedures
	statuses RosterStatusWriter
	logs     RosterLogStore
	policy   SkipPolicy
	loc      *time.Location
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewRosterEngine constructs the engine around a day's state.
func NewRosterEngine(state *roster.State, procs RosterProcedures, statuses RosterStatusWriter, logs RosterLogStore, policy SkipPolicy, loc *time.Location, metrics *MetricsService, logger *zap.Logger) *RosterEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RosterEngine{
		state:    state,
		procs:    procs,
		statuses: statuses,
		logs:     logs,
		policy:   policy,
		loc:      loc,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// SetStatus validates the request, persists it and updates the local state.
//
// Validation failures return before any write. A failed authoritative write falls back to a
// direct upsert plus a best-effort log append; only a failed upsert is returned, as
// PERSISTENCE_FAILURE, and in that case the local state is left untouched.
func (e *RosterEngine) SetStatus(ctx context.Context, req StatusRequest) (*StatusChange, error) {
	date := e.state.Date()
	student, ok := e.state.Student(req.StudentID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not on today's roster")
	}

	prev := e.state.Status(req.StudentID)
	var prevTime *time.Time
	if at, ok := e.state.DisplayAt(req.StudentID); ok {
		prevTime = &at
	}

	meta, err := status.Check(status.Transition{
		From: prev,
		To:   req.Status,
		Meta: models.LogMeta{
			PickupPerson: req.PickupPerson,
			Override:     req.Override,
			PickupTime:   req.PickupTime,
			Source:       req.Source,
		},
		SkipEligible: e.canSkip(student),
	})
	if err != nil {
		e.metrics.RecordRejection(appErrors.FromError(err).Code)
		return nil, err
	}
	meta = status.Enrich(meta, prev, prevTime)

	var pickupInstant *time.Time
	if req.Status == models.StatusChecked && meta.PickupTime != "" {
		local, err := civil.Parse(meta.PickupTime, date)
		if err != nil {
			e.metrics.RecordRejection(appErrors.ErrValidation.Code)
			return nil, appErrors.Clone(appErrors.ErrValidation, "pickup_time must be a local date-time or HH:MM")
		}
		at := civil.ToInstant(local, e.loc)
		pickupInstant = &at
	}

	path, err := e.write(ctx, date, req.StudentID, req.Status, meta)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	direction := status.Classify(prev, req.Status)
	display := now
	switch direction {
	case status.Backward:
		display = earliestFromLog(ctx, e.logs, e.logger, date, req.StudentID, req.Status, now)
	case status.Restart:
		// leaving skipped starts over; there is no earlier occurrence to restore
	case status.Lateral:
		if pickupInstant != nil {
			display = *pickupInstant
		} else if prevTime != nil {
			display = *prevTime
		}
	default:
		if pickupInstant != nil {
			display = *pickupInstant
		}
	}

	e.state.SetStatus(req.StudentID, req.Status)
	e.state.SetDisplayAt(req.StudentID, display)
	e.state.Observe(req.StudentID, req.Status)
	e.metrics.RecordTransition(req.Status, direction.String())

	return &StatusChange{
		RosterDate: date,
		StudentID:  req.StudentID,
		Previous:   prev,
		Status:     req.Status,
		DisplayAt:  display,
		Direction:  direction,
		WritePath:  path,
		PickedOnce: e.state.PickedOnce(req.StudentID),
	}, nil
}

func (e *RosterEngine) canSkip(student models.Student) bool {
	if e.policy == nil {
		return student.Active
	}
	return e.policy.CanSkip(student)
}

func (e *RosterEngine) write(ctx context.Context, date, studentID string, next models.Status, meta models.LogMeta) (string, error) {
	start := time.Now()
	err := e.procs.SetStatus(ctx, date, studentID, next, meta)
	e.metrics.ObserveStoreQuery("set_roster_status", time.Since(start))
	if err == nil {
		e.metrics.RecordWritePath(WritePathProcedure)
		return WritePathProcedure, nil
	}
	e.logger.Warn("authoritative roster write failed, using fallback",
		zap.String("roster_date", date),
		zap.String("student_id", studentID),
		zap.String("status", string(next)),
		zap.Error(appErrors.Wrap(err, appErrors.ErrRecoverableWrite.Code, appErrors.ErrRecoverableWrite.Status, appErrors.ErrRecoverableWrite.Message)),
	)

	at := e.now().UTC()
	if err := e.statuses.Upsert(ctx, &models.RosterStatusEntry{
		RosterDate:    date,
		StudentID:     studentID,
		CurrentStatus: next,
		LastUpdate:    at,
	}); err != nil {
		e.metrics.RecordWritePath(WritePathFailed)
		e.logger.Error("fallback roster upsert failed",
			zap.String("roster_date", date),
			zap.String("student_id", studentID),
			zap.Error(err),
		)
		return WritePathFailed, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	e.metrics.RecordWritePath(WritePathFallback)

	if err := e.logs.Append(ctx, &models.LogEntry{
		RosterDate: date,
		StudentID:  studentID,
		Action:     next,
		At:         at,
		Meta:       meta,
	}); err != nil {
		e.metrics.RecordLogAppendFailure()
		e.logger.Warn("roster log append failed",
			zap.String("roster_date", date),
			zap.String("student_id", studentID),
			zap.String("action", string(next)),
			zap.Error(err),
		)
	}
	return WritePathFallback, nil
}

type earliestReader interface {
	EarliestAt(ctx context.Context, rosterDate, studentID string, action models.Status) (*time.Time, error)
}

// earliestFromLog returns the first time the student reached target today, or fallback when the log has none.
func earliestFromLog(ctx context.Context, logs earliestReader, logger *zap.Logger, date, studentID string, target models.Status, fallback time.Time) time.Time {
	at, err := logs.EarliestAt(ctx, date, studentID, target)
	if err != nil {
		logger.Warn("earliest roster log lookup failed",
			zap.String("roster_date", date),
			zap.String("student_id", studentID),
			zap.String("action", string(target)),
			zap.Error(err),
		)
		return fallback
	}
	if at == nil {
		return fallback
	}
	return at.UTC()
}
