package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
)

// MarkerBackend persists markers.
type MarkerBackend interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MarkerService wraps a MarkerBackend with metrics and logging. Without a backend every lookup
// is a miss and writes are dropped, so callers fall back to their own checks.
type MarkerService struct {
	backend MarkerBackend
	metrics *MetricsService
	logger  *zap.Logger
}

// NewMarkerService constructs a marker service. backend may be nil.
func NewMarkerService(backend MarkerBackend, metrics *MetricsService, logger *zap.Logger) *MarkerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkerService{backend: backend, metrics: metrics, logger: logger}
}

// Enabled indicates whether a backend is configured.
func (s *MarkerService) Enabled() bool {
	return s != nil && s.backend != nil
}

// Get reports whether the marker exists, decoding it into dest when it does.
func (s *MarkerService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	err := s.backend.Get(ctx, key, dest)
	switch {
	case err == nil:
		s.metrics.RecordMarkerLookup(MarkerHit)
		return true, nil
	case errors.Is(err, appErrors.ErrMarkerMissing):
		s.metrics.RecordMarkerLookup(MarkerMiss)
		return false, nil
	default:
		s.metrics.RecordMarkerLookup(MarkerError)
		s.logger.Warn("marker get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
}

// Set stores the marker.
func (s *MarkerService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	start := time.Now()
	err := s.backend.Set(ctx, key, value, ttl)
	s.metrics.ObserveMarkerWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("marker set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Delete removes the marker.
func (s *MarkerService) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("marker delete failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
