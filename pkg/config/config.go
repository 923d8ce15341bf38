package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Roster   RosterConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders the lib/pq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RosterConfig tunes the daily roster session, its change feed and the prepare step.
type RosterConfig struct {
	Timezone         string
	PollInterval     time.Duration
	DeviceID         string
	PolicyFile       string
	PrepareOnStart   bool
	PrepareMarkerTTL time.Duration
	FeedChannel      string
	FeedMinReconnect time.Duration
	FeedMaxReconnect time.Duration
	ActionTimeout    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		KeyPrefix:   v.GetString("REDIS_KEY_PREFIX"),
		DialTimeout: v.GetDuration("REDIS_DIAL_TIMEOUT"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Roster = RosterConfig{
		Timezone:         v.GetString("ROSTER_TIMEZONE"),
		PollInterval:     parseDuration(v.GetString("ROSTER_POLL_INTERVAL"), 5*time.Second),
		DeviceID:         v.GetString("ROSTER_DEVICE_ID"),
		PolicyFile:       v.GetString("ROSTER_POLICY_FILE"),
		PrepareOnStart:   v.GetBool("ROSTER_PREPARE_ON_START"),
		PrepareMarkerTTL: parseDuration(v.GetString("ROSTER_PREPARE_MARKER_TTL"), 36*time.Hour),
		FeedChannel:      v.GetString("ROSTER_FEED_CHANNEL"),
		FeedMinReconnect: parseDuration(v.GetString("ROSTER_FEED_MIN_RECONNECT"), 10*time.Second),
		FeedMaxReconnect: parseDuration(v.GetString("ROSTER_FEED_MAX_RECONNECT"), time.Minute),
		ActionTimeout:    parseDuration(v.GetString("ROSTER_ACTION_TIMEOUT"), 10*time.Second),
	}
	if cfg.Roster.DeviceID == "" {
		cfg.Roster.DeviceID = defaultDeviceID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the roster cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		problems = append(problems, fmt.Sprintf("ENV must be %s or %s", EnvDevelopment, EnvProduction))
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d out of range", c.Port))
	}
	if c.Roster.PollInterval <= 0 {
		problems = append(problems, "ROSTER_POLL_INTERVAL must be positive")
	}
	if c.Roster.FeedMinReconnect > c.Roster.FeedMaxReconnect {
		problems = append(problems, "ROSTER_FEED_MIN_RECONNECT exceeds ROSTER_FEED_MAX_RECONNECT")
	}
	if c.Roster.FeedChannel == "" {
		problems = append(problems, "ROSTER_FEED_CHANNEL is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultDeviceID keys the prepare marker when ROSTER_DEVICE_ID is unset.
func defaultDeviceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "pickup_roster")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "pickup:")
	v.SetDefault("REDIS_DIAL_TIMEOUT", "2s")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ROSTER_TIMEZONE", "America/New_York")
	v.SetDefault("ROSTER_POLL_INTERVAL", "5s")
	v.SetDefault("ROSTER_DEVICE_ID", "")
	v.SetDefault("ROSTER_POLICY_FILE", "")
	v.SetDefault("ROSTER_PREPARE_ON_START", true)
	v.SetDefault("ROSTER_PREPARE_MARKER_TTL", "36h")
	v.SetDefault("ROSTER_FEED_CHANNEL", "roster_status_changes")
	v.SetDefault("ROSTER_FEED_MIN_RECONNECT", "10s")
	v.SetDefault("ROSTER_FEED_MAX_RECONNECT", "1m")
	v.SetDefault("ROSTER_ACTION_TIMEOUT", "10s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
