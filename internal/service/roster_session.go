package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/realtime"
	"github.com/noah-isme/pickup-roster-api/internal/roster"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
	"github.com/noah-isme/pickup-roster-api/pkg/jobs"
)

// Session job types.
const (
	jobUserAction = "user_action"
	jobFeedEvent  = "feed_event"
	jobResync     = "resync"
	jobSnapshot   = "snapshot"
)

// ChangeFeed opens change subscriptions scoped to one roster date.
type ChangeFeed interface {
	Subscribe(ctx context.Context, rosterDate string) (realtime.Subscription, error)
}

// SessionConfig tunes a day session.
type SessionConfig struct {
	PollInterval time.Duration
	Visible      bool
	// OnTick runs on the poller goroutine after each visible tick.
	OnTick func()
}

type sessionTask struct {
	ctx   context.Context
	run   func(ctx context.Context) error
	reply chan error
}

// RosterSession owns one roster day: its state, engine and sync layer, and the single-worker
// loop that serialises user actions, feed events and poll ticks against them.
type RosterSession struct {
	state   *roster.State
	engine  *RosterEngine
	sync    *RosterSync
	feed    ChangeFeed
	queue   *jobs.Queue
	cfg     SessionConfig
	metrics *MetricsService
	logger  *zap.Logger

	mu        sync.Mutex
	visible   bool
	visibleCh chan bool
	sub       realtime.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRosterSession wires a session; call Mount to start it.
func NewRosterSession(state *roster.State, engine *RosterEngine, syncer *RosterSync, feed ChangeFeed, cfg SessionConfig, metrics *MetricsService, logger *zap.Logger) *RosterSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	s := &RosterSession{
		state:     state,
		engine:    engine,
		sync:      syncer,
		feed:      feed,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With(zap.String("roster_date", state.Date())),
		visible:   cfg.Visible,
		visibleCh: make(chan bool, 1),
	}
	s.queue = jobs.NewQueue("roster-"+state.Date(), s.handle, jobs.QueueConfig{Workers: 1, BufferSize: 64, Logger: s.logger})
	return s
}

// Date returns the session's roster date.
func (s *RosterSession) Date() string {
	return s.state.Date()
}

// Mount starts the loop, subscribes to the change feed and starts polling. A failed
// subscription is logged; polling still keeps the state current.
func (s *RosterSession) Mount(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.queue.Start(runCtx)

	if s.feed != nil {
		sub, err := s.feed.Subscribe(runCtx, s.state.Date())
		if err != nil {
			s.logger.Warn("roster feed subscribe failed", zap.Error(err))
		} else {
			s.mu.Lock()
			s.sub = sub
			s.mu.Unlock()
			s.wg.Add(1)
			go s.pump(runCtx, sub)
		}
	}

	s.wg.Add(1)
	go s.poll(runCtx)
}

// Close tears the session down: unsubscribe, stop polling, stop the loop. Every step runs
// even when an earlier one fails.
func (s *RosterSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		sub, cancel := s.sub, s.cancel
		s.sub = nil
		s.mu.Unlock()

		if sub != nil {
			if cerr := sub.Close(); cerr != nil {
				err = fmt.Errorf("close roster feed: %w", cerr)
			}
		}
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		s.queue.Stop()
		s.logger.Info("roster session closed")
	})
	return err
}

// SetStatus runs a user action on the loop and waits for its result.
func (s *RosterSession) SetStatus(ctx context.Context, req StatusRequest) (*StatusChange, error) {
	var change *StatusChange
	err := s.do(ctx, jobUserAction, func(ctx context.Context) error {
		var err error
		change, err = s.engine.SetStatus(ctx, req)
		if err != nil {
			return err
		}
		if s.sync.notifier != nil {
			s.sync.notifier.Broadcast(s.state.Change(req.StudentID, OriginLocal))
		}
		return nil
	})
	return change, err
}

// Snapshot renders the day as currently held.
func (s *RosterSession) Snapshot(ctx context.Context) (models.RosterSnapshot, error) {
	var snap models.RosterSnapshot
	err := s.do(ctx, jobSnapshot, func(ctx context.Context) error {
		snap = s.state.Snapshot()
		return nil
	})
	return snap, err
}

// HasStudent reports whether id is on the session's roster.
func (s *RosterSession) HasStudent(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.do(ctx, jobSnapshot, func(ctx context.Context) error {
		_, ok = s.state.Student(id)
		return nil
	})
	return ok, err
}

// Resync runs a full resync on the loop and waits for it.
func (s *RosterSession) Resync(ctx context.Context, reason string) error {
	return s.do(ctx, jobResync, func(ctx context.Context) error {
		return s.sync.Resync(ctx, reason)
	})
}

// SetVisible records whether the operator's view is in the foreground. Polling runs only while
// visible; becoming visible again triggers an immediate resync.
func (s *RosterSession) SetVisible(visible bool) {
	s.mu.Lock()
	s.visible = visible
	s.mu.Unlock()
	select {
	case s.visibleCh <- visible:
	default:
		select {
		case <-s.visibleCh:
		default:
		}
		select {
		case s.visibleCh <- visible:
		default:
		}
	}
}

// Visible reports the last visibility set.
func (s *RosterSession) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *RosterSession) handle(ctx context.Context, job jobs.Job) error {
	task, ok := job.Payload.(*sessionTask)
	if !ok {
		return fmt.Errorf("unexpected roster job payload %T", job.Payload)
	}
	runCtx := task.ctx
	if runCtx == nil {
		runCtx = ctx
	}
	var err error
	if cerr := runCtx.Err(); cerr != nil {
		err = cerr
	} else {
		err = task.run(runCtx)
	}
	if task.reply != nil {
		task.reply <- err
		return nil
	}
	return err
}

// do enqueues fn and blocks until it has run, the caller gives up, or the session closes.
func (s *RosterSession) do(ctx context.Context, jobType string, fn func(ctx context.Context) error) error {
	task := &sessionTask{ctx: ctx, run: fn, reply: make(chan error, 1)}
	if err := s.queue.Enqueue(jobs.Job{Type: jobType, Payload: task}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrSessionClosed.Code, appErrors.ErrSessionClosed.Status, appErrors.ErrSessionClosed.Message)
	}
	select {
	case err := <-task.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.queue.Done():
		select {
		case err := <-task.reply:
			return err
		default:
		}
		return appErrors.ErrSessionClosed
	}
}

// post enqueues fn without waiting. Errors are logged by the queue.
func (s *RosterSession) post(ctx context.Context, jobType string, fn func(ctx context.Context) error) {
	if err := s.queue.Enqueue(jobs.Job{Type: jobType, Payload: &sessionTask{ctx: ctx, run: fn}}); err != nil {
		s.logger.Debug("roster job dropped", zap.String("type", jobType), zap.Error(err))
	}
}

func (s *RosterSession) pump(ctx context.Context, sub realtime.Subscription) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.metrics.RecordFeedEvent(msg.Kind.String())
			switch msg.Kind {
			case realtime.MessageReady:
				s.post(ctx, jobResync, func(ctx context.Context) error {
					return s.sync.Resync(ctx, ResyncSubscribed)
				})
			case realtime.MessageReconnect:
				s.post(ctx, jobResync, func(ctx context.Context) error {
					return s.sync.Resync(ctx, ResyncReconnect)
				})
			case realtime.MessageChange:
				ev := msg.Event
				s.post(ctx, jobFeedEvent, func(ctx context.Context) error {
					s.sync.Merge(ctx, ev, OriginFeed)
					return nil
				})
			}
		}
	}
}

func (s *RosterSession) poll(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	if !s.Visible() {
		ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case visible := <-s.visibleCh:
			if !visible {
				ticker.Stop()
				continue
			}
			ticker.Reset(s.cfg.PollInterval)
			s.post(ctx, jobResync, func(ctx context.Context) error {
				return s.sync.Resync(ctx, ResyncVisible)
			})
		case <-ticker.C:
			if !s.Visible() {
				continue
			}
			s.post(ctx, jobResync, func(ctx context.Context) error {
				return s.sync.Resync(ctx, ResyncPoll)
			})
			if s.cfg.OnTick != nil {
				s.cfg.OnTick()
			}
		}
	}
}
