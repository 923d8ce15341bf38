package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/roster"
	"github.com/noah-isme/pickup-roster-api/internal/status"
)

// Resync reasons.
const (
	ResyncOpened     = "opened"
	ResyncSubscribed = "subscribed"
	ResyncReconnect  = "reconnect"
	ResyncPoll       = "poll"
	ResyncVisible    = "visible"
	ResyncManual     = "manual"
	ResyncPrepared   = "prepared"
)

// Change origins reported to clients.
const (
	OriginLocal  = "local"
	OriginFeed   = "feed"
	OriginResync = "resync"
)

// StudentLister loads the active roster.
type StudentLister interface {
	ListActive(ctx context.Context) ([]models.Student, error)
}

// RosterStatusReader reads the current status rows for a day.
type RosterStatusReader interface {
	ListByDate(ctx context.Context, rosterDate string) ([]models.RosterStatusEntry, error)
}

// RosterLogReader answers history questions from the audit log.
type RosterLogReader interface {
	EarliestAt(ctx context.Context, rosterDate, studentID string, action models.Status) (*time.Time, error)
	PickedSinceReset(ctx context.Context, rosterDate string) ([]string, error)
}

// RosterNotifier fans local state changes out to connected clients.
type RosterNotifier interface {
	Broadcast(change models.RosterChange)
}

// RosterSync reconciles the local state with changes observed in the store.
type RosterSync struct {
	state    *roster.State
	students StudentLister
	statuses RosterStatusReader
	logs     RosterLogReader
	notifier RosterNotifier
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewRosterSync constructs the sync layer for a day's state.
func NewRosterSync(state *roster.State, students StudentLister, statuses RosterStatusReader, logs RosterLogReader, notifier RosterNotifier, metrics *MetricsService, logger *zap.Logger) *RosterSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterSync{
		state:    state,
		students: students,
		statuses: statuses,
		logs:     logs,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Merge applies one change event with the direction-aware rule and reports whether the local
// view changed. Events for another roster date are ignored.
//
// The event is compared with the last status this layer observed for the student. The same
// status leaves the display time alone. Forward progress and restarts take the server's
// last_update. Undo looks up the earliest log entry for the new status. The new status is
// recorded as observed on every branch.
func (s *RosterSync) Merge(ctx context.Context, ev models.ChangeEvent, origin string) bool {
	if ev.RosterDate != s.state.Date() {
		return false
	}
	incoming := ev.CurrentStatus.OrDefault()
	if ev.EventType == models.ChangeDelete {
		incoming = models.StatusNotPicked
	}
	if !incoming.Valid() {
		s.logger.Warn("ignoring roster change with unknown status",
			zap.String("student_id", ev.StudentID),
			zap.String("status", string(ev.CurrentStatus)),
		)
		return false
	}

	prevStatus := s.state.Status(ev.StudentID)
	prevAt, hadAt := s.state.DisplayAt(ev.StudentID)

	last, seen := s.state.Observed(ev.StudentID)
	direction := status.Forward
	if seen {
		direction = status.Classify(last, incoming)
	}

	switch direction {
	case status.Lateral:
		// same status keeps its display time
	case status.Backward:
		s.state.SetDisplayAt(ev.StudentID, earliestFromLog(ctx, s.logs, s.logger, s.state.Date(), ev.StudentID, incoming, s.now().UTC()))
	default:
		at := ev.LastUpdate
		if at.IsZero() {
			at = s.now()
		}
		s.state.SetDisplayAt(ev.StudentID, at)
	}
	s.state.SetStatus(ev.StudentID, incoming)
	s.state.Observe(ev.StudentID, incoming)

	newAt, hasAt := s.state.DisplayAt(ev.StudentID)
	changed := prevStatus != incoming || hadAt != hasAt || !prevAt.Equal(newAt)
	if changed && s.notifier != nil {
		s.notifier.Broadcast(s.state.Change(ev.StudentID, origin))
	}
	return changed
}

// Resync reloads the whole day from the store and merges every row. Students observed earlier
// whose row has disappeared merge as not_picked. The picked-once marks are rebuilt from the log.
func (s *RosterSync) Resync(ctx context.Context, reason string) error {
	err := s.resync(ctx)
	s.metrics.RecordResync(reason, err)
	if err != nil {
		s.logger.Warn("roster resync failed", zap.String("roster_date", s.state.Date()), zap.String("reason", reason), zap.Error(err))
		return err
	}
	return nil
}

func (s *RosterSync) resync(ctx context.Context) error {
	date := s.state.Date()
	if s.students != nil {
		students, err := s.students.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("load students: %w", err)
		}
		s.state.SetStudents(students)
	}

	start := time.Now()
	rows, err := s.statuses.ListByDate(ctx, date)
	s.metrics.ObserveStoreQuery("roster_status_by_date", time.Since(start))
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		present[row.StudentID] = struct{}{}
		s.Merge(ctx, models.ChangeEvent{
			EventType:     models.ChangeUpdate,
			RosterDate:    date,
			StudentID:     row.StudentID,
			CurrentStatus: row.CurrentStatus,
			LastUpdate:    row.LastUpdate,
		}, OriginResync)
	}
	for _, id := range s.state.ObservedIDs() {
		if _, ok := present[id]; ok {
			continue
		}
		s.Merge(ctx, models.ChangeEvent{
			EventType:  models.ChangeDelete,
			RosterDate: date,
			StudentID:  id,
		}, OriginResync)
	}

	picked, err := s.logs.PickedSinceReset(ctx, date)
	if err != nil {
		s.logger.Warn("rebuild picked-once failed", zap.String("roster_date", date), zap.Error(err))
	} else {
		s.state.ResetPickedOnce(picked)
	}

	s.state.MarkSynced(s.now())
	return nil
}
