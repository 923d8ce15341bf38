package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/pickup-roster-api/api/swagger"
	"github.com/noah-isme/pickup-roster-api/internal/civil"
	"github.com/noah-isme/pickup-roster-api/internal/handler"
	"github.com/noah-isme/pickup-roster-api/internal/middleware"
	"github.com/noah-isme/pickup-roster-api/internal/policy"
	"github.com/noah-isme/pickup-roster-api/internal/realtime"
	"github.com/noah-isme/pickup-roster-api/internal/repository"
	"github.com/noah-isme/pickup-roster-api/internal/service"
	"github.com/noah-isme/pickup-roster-api/pkg/cache"
	"github.com/noah-isme/pickup-roster-api/pkg/config"
	"github.com/noah-isme/pickup-roster-api/pkg/database"
	"github.com/noah-isme/pickup-roster-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/pickup-roster-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/pickup-roster-api/pkg/middleware/requestid"
)

// @title Pickup Roster API
// @version 0.1.0
// @description Daily after-school pickup roster shared by every front-desk device
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	loc, err := civil.LoadZone(cfg.Roster.Timezone)
	if err != nil {
		return err
	}
	skipPolicy, err := policy.Load(cfg.Roster.PolicyFile)
	if err != nil {
		return err
	}

	db, err := database.NewPostgres(ctx, cfg.Database, "roster-api")
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db, logr)
	if err != nil {
		return err
	}
	logr.Info("schema up to date", zap.Int("applied", applied))

	metricsSvc := service.NewMetricsService()

	var (
		markerRepo service.MarkerBackend
		checks     []handler.Check
	)
	if client, err := cache.NewRedis(ctx, cfg.Redis, "roster-api:"+cfg.Roster.DeviceID); err != nil {
		logr.Warn("redis unavailable, prepare markers disabled", zap.Error(err))
	} else {
		repo := repository.NewMarkerRepository(client, cfg.Redis.KeyPrefix)
		defer repo.Close()
		markerRepo = repo
		checks = append(checks, handler.Check{Name: "markers", Ping: repo.Ping})
	}
	markers := service.NewMarkerService(markerRepo, metricsSvc, logr)

	studentRepo := repository.NewStudentRepository(db)
	statusRepo := repository.NewRosterStatusRepository(db)
	logRepo := repository.NewRosterLogRepository(db)
	procRepo := repository.NewRosterProcedureRepository(db)

	hub := realtime.NewHub(logr)
	go hub.Run(ctx)

	feed := realtime.NewPGFeed(realtime.PGFeedConfig{
		DSN:          cfg.Database.DSN(),
		Channel:      cfg.Roster.FeedChannel,
		MinReconnect: cfg.Roster.FeedMinReconnect,
		MaxReconnect: cfg.Roster.FeedMaxReconnect,
	}, logr)

	preparer := service.NewRosterPreparer(markers, statusRepo, procRepo, cfg.Roster.DeviceID, cfg.Roster.PrepareMarkerTTL, metricsSvc, logr)
	rosterRuntime := service.NewRosterRuntime(ctx, service.RosterStore{
		Students:   studentRepo,
		Statuses:   statusRepo,
		Logs:       logRepo,
		Procedures: procRepo,
	}, skipPolicy, feed, hub, preparer, service.RuntimeConfig{
		Location:       loc,
		PollInterval:   cfg.Roster.PollInterval,
		PrepareOnStart: cfg.Roster.PrepareOnStart,
		ActionTimeout:  cfg.Roster.ActionTimeout,
	}, metricsSvc, logr)
	defer rosterRuntime.Close() //nolint:errcheck

	if _, err := rosterRuntime.Session(ctx); err != nil {
		logr.Warn("initial roster session failed, retrying on first request", zap.Error(err))
	}

	rosterHandler := handler.NewRosterHandler(rosterRuntime, hub, logr)
	exportHandler := handler.NewRosterExportHandler(rosterRuntime, service.NewRosterExporter(loc))
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, checks...)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler.RegisterRoutes(r)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	rosterHandler.RegisterRoutes(api)
	exportHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "device_id", cfg.Roster.DeviceID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
