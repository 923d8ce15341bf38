package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/pickup-roster-api/pkg/config"
)

const connectTimeout = 5 * time.Second

// NewPostgres opens the roster database and pings it. appName is reported as
// application_name so each front-desk process is visible in pg_stat_activity.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, appName string) (*sqlx.DB, error) {
	dsn := cfg.DSN()
	if appName != "" {
		dsn += fmt.Sprintf(" application_name=%s", appName)
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s@%s:%d/%s: %w", cfg.User, cfg.Host, cfg.Port, cfg.Name, err)
	}
	return db, nil
}
