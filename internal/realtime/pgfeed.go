package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

const (
	defaultFeedChannel = "roster_status_changes"
	listenerPingPeriod = 90 * time.Second
	feedBufferSize     = 64
)

type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// PGFeedConfig configures the Postgres change feed.
type PGFeedConfig struct {
	DSN          string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// PGFeed subscribes to roster_status changes published by the roster_status_notify trigger.
// Each subscription holds its own LISTEN connection.
type PGFeed struct {
	cfg         PGFeedConfig
	logger      *zap.Logger
	newListener func(cfg PGFeedConfig, logger *zap.Logger) listener
}

// NewPGFeed constructs a feed.
func NewPGFeed(cfg PGFeedConfig, logger *zap.Logger) *PGFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultFeedChannel
	}
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 10 * time.Second
	}
	if cfg.MaxReconnect < cfg.MinReconnect {
		cfg.MaxReconnect = cfg.MinReconnect
	}
	return &PGFeed{cfg: cfg, logger: logger, newListener: newPQListener}
}

func newPQListener(cfg PGFeedConfig, logger *zap.Logger) listener {
	return pq.NewListener(cfg.DSN, cfg.MinReconnect, cfg.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Debug("roster feed connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("roster feed disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("roster feed reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("roster feed connection attempt failed", zap.Error(err))
		}
	})
}

// Subscribe starts listening and returns a subscription that yields MessageReady first, then
// the changes for rosterDate.
func (f *PGFeed) Subscribe(ctx context.Context, rosterDate string) (Subscription, error) {
	l := f.newListener(f.cfg, f.logger)
	if err := l.Listen(f.cfg.Channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", f.cfg.Channel, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &pgSubscription{
		listener: l,
		date:     rosterDate,
		out:      make(chan Message, feedBufferSize),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   f.logger.With(zap.String("roster_date", rosterDate)),
	}
	go sub.run(runCtx)
	return sub, nil
}

type pgSubscription struct {
	listener  listener
	date      string
	out       chan Message
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	logger    *zap.Logger
}

func (s *pgSubscription) Messages() <-chan Message {
	return s.out
}

func (s *pgSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.listener.Close()
		<-s.done
	})
	return s.closeErr
}

func (s *pgSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	if !s.emit(ctx, Message{Kind: MessageReady}) {
		return
	}

	ping := time.NewTicker(listenerPingPeriod)
	defer ping.Stop()
	notifications := s.listener.NotificationChannel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := s.listener.Ping(); err != nil {
				s.logger.Warn("roster feed ping failed", zap.Error(err))
			}
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n == nil {
				// the listener reconnected; anything sent meanwhile is lost
				if !s.emit(ctx, Message{Kind: MessageReconnect}) {
					return
				}
				continue
			}
			ev, err := DecodeChange(n.Extra)
			if err != nil {
				s.logger.Warn("dropping malformed roster change", zap.String("payload", n.Extra), zap.Error(err))
				continue
			}
			if ev.RosterDate != s.date {
				continue
			}
			if !s.emit(ctx, Message{Kind: MessageChange, Event: ev}) {
				return
			}
		}
	}
}

func (s *pgSubscription) emit(ctx context.Context, msg Message) bool {
	select {
	case <-ctx.Done():
		return false
	case s.out <- msg:
		return true
	}
}

// DecodeChange parses a roster_status_notify payload.
func DecodeChange(payload string) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode roster change: %w", err)
	}
	switch ev.EventType {
	case models.ChangeInsert, models.ChangeUpdate, models.ChangeDelete:
	default:
		return ev, fmt.Errorf("unknown event type %q", ev.EventType)
	}
	if ev.StudentID == "" || ev.RosterDate == "" {
		return ev, fmt.Errorf("roster change missing key")
	}
	return ev, nil
}
