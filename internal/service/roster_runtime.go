package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/roster"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
)

// RosterStatusStore reads and writes status rows.
type RosterStatusStore interface {
	RosterStatusReader
	RosterStatusWriter
}

// RosterLogRepository appends to and reads the audit log.
type RosterLogRepository interface {
	RosterLogStore
	RosterLogReader
	ListForStudent(ctx context.Context, rosterDate, studentID string) ([]models.LogEntry, error)
}

// RosterStore groups the store operations a day session needs.
type RosterStore struct {
	Students   StudentLister
	Statuses   RosterStatusStore
	Logs       RosterLogRepository
	Procedures RosterProcedures
}

// RuntimeConfig tunes the runtime.
type RuntimeConfig struct {
	Location       *time.Location
	PollInterval   time.Duration
	PrepareOnStart bool
	ActionTimeout  time.Duration
}

// RosterRuntime owns the current day's session. A session is created on first use and replaced
// once the civil roster date moves on; the old one is torn down.
type RosterRuntime struct {
	store    RosterStore
	policy   SkipPolicy
	feed     ChangeFeed
	notifier RosterNotifier
	preparer *RosterPreparer
	cfg      RuntimeConfig
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time

	ctx     context.Context
	mu      sync.Mutex
	current *RosterSession
	views   map[string]bool
	closed  bool
}

// NewRosterRuntime constructs a runtime. Sessions inherit ctx.
func NewRosterRuntime(ctx context.Context, store RosterStore, policy SkipPolicy, feed ChangeFeed, notifier RosterNotifier, preparer *RosterPreparer, cfg RuntimeConfig, metrics *MetricsService, logger *zap.Logger) *RosterRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	return &RosterRuntime{
		store:    store,
		policy:   policy,
		feed:     feed,
		notifier: notifier,
		preparer: preparer,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		views:    make(map[string]bool),
	}
}

// RosterDate returns today's roster date.
func (r *RosterRuntime) RosterDate() string {
	return civil.RosterDate(r.now(), r.cfg.Location)
}

// Session returns the session for today, rolling over when the date has changed.
func (r *RosterRuntime) Session(ctx context.Context) (*RosterSession, error) {
	date := r.RosterDate()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, appErrors.ErrSessionClosed
	}
	if r.current != nil && r.current.Date() == date {
		session := r.current
		r.mu.Unlock()
		return session, nil
	}
	r.mu.Unlock()

	session, err := r.open(ctx, date)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = session.Close()
		return nil, appErrors.ErrSessionClosed
	}
	if r.current != nil && r.current.Date() == date {
		existing := r.current
		r.mu.Unlock()
		_ = session.Close()
		return existing, nil
	}
	old := r.current
	r.current = session
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("roster day rolled over", zap.String("from", old.Date()), zap.String("to", date))
		if err := old.Close(); err != nil {
			r.logger.Warn("closing previous roster session", zap.String("roster_date", old.Date()), zap.Error(err))
		}
	}
	if r.cfg.PrepareOnStart && r.preparer != nil {
		go r.prepareInBackground(session)
	}
	return session, nil
}

func (r *RosterRuntime) open(ctx context.Context, date string) (*RosterSession, error) {
	students, err := r.store.Students.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	state := roster.New(date, students)
	engine := NewRosterEngine(state, r.store.Procedures, r.store.Statuses, r.store.Logs, r.policy, r.cfg.Location, r.metrics, r.logger)
	engine.now = r.now
	syncer := NewRosterSync(state, r.store.Students, r.store.Statuses, r.store.Logs, r.notifier, r.metrics, r.logger)
	syncer.now = r.now
	if err := syncer.Resync(ctx, ResyncOpened); err != nil {
		return nil, fmt.Errorf("load roster %s: %w", date, err)
	}

	r.mu.Lock()
	visible := r.anyVisibleLocked()
	r.mu.Unlock()

	session := NewRosterSession(state, engine, syncer, r.feed, SessionConfig{
		PollInterval: r.cfg.PollInterval,
		Visible:      visible,
		OnTick:       func() { go r.checkRollover() },
	}, r.metrics, r.logger)
	session.Mount(r.ctx)
	r.logger.Info("roster session opened", zap.String("roster_date", date), zap.Int("students", len(students)))
	return session, nil
}

func (r *RosterRuntime) checkRollover() {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()
	if current == nil || current.Date() == r.RosterDate() {
		return
	}
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.ActionTimeout)
	defer cancel()
	if _, err := r.Session(ctx); err != nil {
		r.logger.Warn("roster rollover failed", zap.Error(err))
	}
}

func (r *RosterRuntime) prepareInBackground(session *RosterSession) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.ActionTimeout)
	defer cancel()
	if _, err := r.prepareSession(ctx, session); err != nil {
		r.logger.Warn("roster prepare on start failed", zap.String("roster_date", session.Date()), zap.Error(err))
	}
}

func (r *RosterRuntime) prepareSession(ctx context.Context, session *RosterSession) (*PrepareResult, error) {
	result, err := r.preparer.Prepare(ctx, session.Date())
	if err != nil {
		return nil, err
	}
	if result.Outcome == PrepareApplied {
		if err := session.Resync(ctx, ResyncPrepared); err != nil {
			r.logger.Warn("resync after prepare failed", zap.Error(err))
		}
	}
	return result, nil
}

func (r *RosterRuntime) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.ActionTimeout)
}

// Today returns the current day's roster.
func (r *RosterRuntime) Today(ctx context.Context) (models.RosterSnapshot, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	session, err := r.Session(ctx)
	if err != nil {
		return models.RosterSnapshot{}, err
	}
	return session.Snapshot(ctx)
}

// SetStatus applies an operator transition to today's roster.
func (r *RosterRuntime) SetStatus(ctx context.Context, req StatusRequest) (*StatusChange, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	session, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}
	return session.SetStatus(ctx, req)
}

// Resync forces a full resync of today's roster.
func (r *RosterRuntime) Resync(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	session, err := r.Session(ctx)
	if err != nil {
		return err
	}
	return session.Resync(ctx, ResyncManual)
}

// Prepare runs the daily preparation for today.
func (r *RosterRuntime) Prepare(ctx context.Context) (*PrepareResult, error) {
	if r.preparer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "roster preparation not configured")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	session, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}
	return r.prepareSession(ctx, session)
}

// History returns today's audit log for one student, oldest first.
func (r *RosterRuntime) History(ctx context.Context, studentID string) ([]models.LogEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	session, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}
	known, err := session.HasStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not on today's roster")
	}

	start := time.Now()
	entries, err := r.store.Logs.ListForStudent(ctx, session.Date(), studentID)
	r.metrics.ObserveStoreQuery("roster_log_by_student", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "roster history unavailable")
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	return entries, nil
}

// SetVisible records one operator view's visibility. Polling continues while any known view is
// visible, or while no view has reported yet. The result carries over to the next day's session.
func (r *RosterRuntime) SetVisible(ctx context.Context, device string, visible bool) error {
	r.mu.Lock()
	r.views[device] = visible
	effective := r.anyVisibleLocked()
	r.mu.Unlock()
	session, err := r.Session(ctx)
	if err != nil {
		return err
	}
	session.SetVisible(effective)
	return nil
}

func (r *RosterRuntime) anyVisibleLocked() bool {
	if len(r.views) == 0 {
		return true
	}
	for _, visible := range r.views {
		if visible {
			return true
		}
	}
	return false
}

// Close tears down the current session. Later calls fail with SESSION_CLOSED.
func (r *RosterRuntime) Close() error {
	r.mu.Lock()
	current := r.current
	r.current = nil
	r.closed = true
	r.mu.Unlock()
	if current == nil {
		return nil
	}
	return current.Close()
}
