package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultPrepareMarkerTTL = 36 * time.Hour

// Prepare outcomes.
const (
	PrepareApplied       = "applied"
	PrepareMarkerPresent = "marker_present"
	PrepareRowsPresent   = "rows_present"
)

// MarkerStore keeps the device-local "already prepared" marker.
type MarkerStore interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RosterStatusCounter counts a day's status rows.
type RosterStatusCounter interface {
	CountByDate(ctx context.Context, rosterDate string) (int, error)
}

// DayPreparer applies the day's skipped defaults.
type DayPreparer interface {
	PrepareDay(ctx context.Context, rosterDate string) (int, error)
}

// PrepareResult reports what a preparation attempt did.
type PrepareResult struct {
	RosterDate string `json:"roster_date"`
	DeviceID   string `json:"device_id"`
	Outcome    string `json:"outcome"`
	Created    int    `json:"created"`
}

type prepareMarker struct {
	PreparedAt time.Time `json:"prepared_at"`
	Created    int       `json:"created"`
}

// RosterPreparer runs the daily preparation at most once per device per day. The marker is
// checked first; without it, an existing row for the day also counts as prepared.
type RosterPreparer struct {
	markers  MarkerStore
	counter  RosterStatusCounter
	procs    DayPreparer
	deviceID string
	ttl      time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewRosterPreparer constructs a preparer.
func NewRosterPreparer(markers MarkerStore, counter RosterStatusCounter, procs DayPreparer, deviceID string, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *RosterPreparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultPrepareMarkerTTL
	}
	return &RosterPreparer{
		markers:  markers,
		counter:  counter,
		procs:    procs,
		deviceID: deviceID,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// DeviceID returns the identifier markers are keyed by.
func (p *RosterPreparer) DeviceID() string {
	return p.deviceID
}

// MarkerKey is the cache key recording that this device prepared rosterDate.
func (p *RosterPreparer) MarkerKey(rosterDate string) string {
	return fmt.Sprintf("roster:prepared:%s:%s", p.deviceID, rosterDate)
}

// Prepare applies the skipped defaults for rosterDate unless this device or another already did.
func (p *RosterPreparer) Prepare(ctx context.Context, rosterDate string) (*PrepareResult, error) {
	result := &PrepareResult{RosterDate: rosterDate, DeviceID: p.deviceID}
	key := p.MarkerKey(rosterDate)

	if p.markers != nil {
		var marker prepareMarker
		hit, err := p.markers.Get(ctx, key, &marker)
		if err != nil {
			p.logger.Warn("prepare marker lookup failed, falling back to row count", zap.String("key", key), zap.Error(err))
		}
		if hit {
			result.Outcome = PrepareMarkerPresent
			p.metrics.RecordPrepare(result.Outcome)
			return result, nil
		}
	}

	existing, err := p.counter.CountByDate(ctx, rosterDate)
	if err != nil {
		return nil, fmt.Errorf("count roster rows: %w", err)
	}
	if existing > 0 {
		p.setMarker(ctx, key, 0)
		result.Outcome = PrepareRowsPresent
		p.metrics.RecordPrepare(result.Outcome)
		return result, nil
	}

	created, err := p.procs.PrepareDay(ctx, rosterDate)
	if err != nil {
		p.metrics.RecordPrepare("failed")
		return nil, fmt.Errorf("prepare roster day: %w", err)
	}
	p.setMarker(ctx, key, created)
	result.Outcome = PrepareApplied
	result.Created = created
	p.metrics.RecordPrepare(result.Outcome)
	p.logger.Info("roster day prepared", zap.String("roster_date", rosterDate), zap.Int("created", created))
	return result, nil
}

// Reset forgets this device's marker for rosterDate so the next Prepare re-checks the store.
func (p *RosterPreparer) Reset(ctx context.Context, rosterDate string) error {
	if p.markers == nil {
		return nil
	}
	return p.markers.Delete(ctx, p.MarkerKey(rosterDate))
}

func (p *RosterPreparer) setMarker(ctx context.Context, key string, created int) {
	if p.markers == nil {
		return
	}
	if err := p.markers.Set(ctx, key, prepareMarker{PreparedAt: p.now().UTC(), Created: created}, p.ttl); err != nil {
		p.logger.Warn("prepare marker write failed", zap.String("key", key), zap.Error(err))
	}
}
