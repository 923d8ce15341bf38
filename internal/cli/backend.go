package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
	"github.com/noah-isme/pickup-roster-api/internal/policy"
	"github.com/noah-isme/pickup-roster-api/internal/repository"
	"github.com/noah-isme/pickup-roster-api/internal/service"
	"github.com/noah-isme/pickup-roster-api/pkg/cache"
	"github.com/noah-isme/pickup-roster-api/pkg/config"
	"github.com/noah-isme/pickup-roster-api/pkg/database"
	"github.com/noah-isme/pickup-roster-api/pkg/logger"
)

// Backend bundles the stores and services a data command operates on.
type Backend struct {
	Logger   *zap.Logger
	Location *time.Location
	Store    service.RosterStore
	Policy   service.SkipPolicy
	Preparer *service.RosterPreparer
	Migrate  func(ctx context.Context) (int, error)

	now     func() time.Time
	closers []func() error
}

// Now returns the backend clock.
func (b *Backend) Now() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// Close releases connections in reverse order of acquisition.
func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// OpenBackend wires the backend from environment configuration. Redis is optional; without it
// the prepare step relies on the row count alone.
func OpenBackend(ctx context.Context) (*Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	loc, err := civil.LoadZone(cfg.Roster.Timezone)
	if err != nil {
		return nil, err
	}
	skipPolicy, err := policy.Load(cfg.Roster.PolicyFile)
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.Database, "rosterctl")
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	b := &Backend{Logger: logr, Location: loc, Policy: skipPolicy}
	b.closers = append(b.closers, db.Close)

	var markerRepo service.MarkerBackend
	if client, err := cache.NewRedis(ctx, cfg.Redis, "rosterctl:"+cfg.Roster.DeviceID); err != nil {
		logr.Warn("redis unavailable, prepare markers disabled", zap.Error(err))
	} else {
		repo := repository.NewMarkerRepository(client, cfg.Redis.KeyPrefix)
		markerRepo = repo
		b.closers = append(b.closers, repo.Close)
	}
	markers := service.NewMarkerService(markerRepo, nil, logr)

	statuses := repository.NewRosterStatusRepository(db)
	procs := repository.NewRosterProcedureRepository(db)
	b.Store = service.RosterStore{
		Students:   repository.NewStudentRepository(db),
		Statuses:   statuses,
		Logs:       repository.NewRosterLogRepository(db),
		Procedures: procs,
	}
	b.Preparer = service.NewRosterPreparer(markers, statuses, procs, cfg.Roster.DeviceID, cfg.Roster.PrepareMarkerTTL, nil, logr)
	b.Migrate = func(ctx context.Context) (int, error) {
		return database.Migrate(ctx, db, logr)
	}
	b.closers = append(b.closers, func() error {
		_ = logr.Sync()
		return nil
	})
	return b, nil
}

// RosterDate is today's roster date in the configured zone.
func (b *Backend) RosterDate() string {
	return civil.RosterDate(b.Now(), b.Location)
}
