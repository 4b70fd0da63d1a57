package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Values come from defaults, then the optional YAML file
// named by CONFIG_FILE, then environment variables (with optional .env file).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Conference ConferenceConfig `yaml:"conference"`
	AWS        AWSConfig        `yaml:"aws"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `yaml:"port"`
	ReadTimeout        int    `yaml:"read_timeout_sec"`
	WriteTimeout       int    `yaml:"write_timeout_sec"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"` // comma-separated, or "*"
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres or memory
	URL      string `yaml:"url"`    // if set, used as-is
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"` // 0 uses the go-redis default
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

// ConferenceConfig addresses the external conferencing provider (Jitsi Meet).
// Without AppSecret rooms are returned unsigned.
type ConferenceConfig struct {
	Domain          string `yaml:"domain"`
	AppID           string `yaml:"app_id"`
	AppSecret       string `yaml:"app_secret"`
	RoomPrefix      string `yaml:"room_prefix"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// AWSConfig holds AWS credentials and the attendance archive bucket.
type AWSConfig struct {
	Region               string `yaml:"region"`
	AccessKeyID          string `yaml:"access_key_id"`
	SecretAccessKey      string `yaml:"secret_access_key"`
	AttendanceBucket     string `yaml:"attendance_bucket"`
	PresignExpireMinutes int    `yaml:"presign_expire_minutes"`
}

// SessionsConfig tunes live session housekeeping and queries.
type SessionsConfig struct {
	AutoEndGraceMinutes int    `yaml:"auto_end_grace_minutes"` // 0 disables the overdue sweep
	OverdueSweepSpec    string `yaml:"overdue_sweep_spec"`
	DeviceIdleDays      int    `yaml:"device_idle_days"` // 0 disables idle device pruning
	DevicePruneSpec     string `yaml:"device_prune_spec"`
	HistoryDefaultLimit int    `yaml:"history_default_limit"`
	HistoryMaxLimit     int    `yaml:"history_max_limit"`
}

// LogConfig selects the zap level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "8080",
			ReadTimeout:        30,
			WriteTimeout:       30,
			CORSAllowedOrigins: "http://localhost:3000,http://localhost:5173",
		},
		Database: DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			DBName:   "skillup",
			SSLMode:  "disable",
			MaxConns: 20,
			MinConns: 2,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
		},
		JWT: JWTConfig{
			Secret:      "change-me-in-production",
			ExpireHours: 24,
		},
		Conference: ConferenceConfig{
			Domain:          "meet.jit.si",
			TokenTTLMinutes: 180,
		},
		AWS: AWSConfig{
			Region:               "us-east-1",
			PresignExpireMinutes: 15,
		},
		Sessions: SessionsConfig{
			AutoEndGraceMinutes: 30,
			OverdueSweepSpec:    "@every 1m",
			DeviceIdleDays:      30,
			DevicePruneSpec:     "@daily",
			HistoryDefaultLimit: 50,
			HistoryMaxLimit:     200,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from defaults, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString(&cfg.Server.Port, "PORT")
	envInt(&cfg.Server.ReadTimeout, "READ_TIMEOUT_SEC")
	envInt(&cfg.Server.WriteTimeout, "WRITE_TIMEOUT_SEC")
	envString(&cfg.Server.CORSAllowedOrigins, "CORS_ALLOWED_ORIGINS")

	envString(&cfg.Database.Driver, "STORE_DRIVER")
	envString(&cfg.Database.URL, "DATABASE_URL")
	envString(&cfg.Database.Host, "DB_HOST")
	envString(&cfg.Database.Port, "DB_PORT")
	envString(&cfg.Database.User, "DB_USER")
	envString(&cfg.Database.Password, "DB_PASSWORD")
	envString(&cfg.Database.DBName, "DB_NAME")
	envString(&cfg.Database.SSLMode, "DB_SSLMODE")
	envInt(&cfg.Database.MaxConns, "DB_MAX_CONNS")
	envInt(&cfg.Database.MinConns, "DB_MIN_CONNS")

	envBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	envString(&cfg.Redis.Addr, "REDIS_ADDR")
	envString(&cfg.Redis.Password, "REDIS_PASSWORD")
	envInt(&cfg.Redis.DB, "REDIS_DB")
	envInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")

	envString(&cfg.JWT.Secret, "JWT_SECRET")
	envInt(&cfg.JWT.ExpireHours, "JWT_EXPIRE_HOURS")

	envString(&cfg.Conference.Domain, "CONFERENCE_DOMAIN")
	envString(&cfg.Conference.AppID, "CONFERENCE_APP_ID")
	envString(&cfg.Conference.AppSecret, "CONFERENCE_APP_SECRET")
	envString(&cfg.Conference.RoomPrefix, "CONFERENCE_ROOM_PREFIX")
	envInt(&cfg.Conference.TokenTTLMinutes, "CONFERENCE_TOKEN_TTL_MINUTES")

	envString(&cfg.AWS.Region, "AWS_REGION")
	envString(&cfg.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	envString(&cfg.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	envString(&cfg.AWS.AttendanceBucket, "AWS_S3_ATTENDANCE_BUCKET")
	envInt(&cfg.AWS.PresignExpireMinutes, "AWS_PRESIGN_EXPIRE_MINUTES")

	envInt(&cfg.Sessions.AutoEndGraceMinutes, "SESSION_AUTO_END_GRACE_MINUTES")
	envString(&cfg.Sessions.OverdueSweepSpec, "SESSION_OVERDUE_SWEEP_SPEC")
	envInt(&cfg.Sessions.DeviceIdleDays, "DEVICE_IDLE_DAYS")
	envString(&cfg.Sessions.DevicePruneSpec, "DEVICE_PRUNE_SPEC")
	envInt(&cfg.Sessions.HistoryDefaultLimit, "HISTORY_DEFAULT_LIMIT")
	envInt(&cfg.Sessions.HistoryMaxLimit, "HISTORY_MAX_LIMIT")

	envString(&cfg.Log.Level, "LOG_LEVEL")
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: STORE_DRIVER must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.Database.MinConns < 0 || c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("config: database pool must satisfy 0 <= min_conns <= max_conns")
	}
	if c.Sessions.HistoryDefaultLimit <= 0 || c.Sessions.HistoryMaxLimit < c.Sessions.HistoryDefaultLimit {
		return fmt.Errorf("config: history limits must satisfy 0 < default <= max")
	}
	if c.Sessions.AutoEndGraceMinutes < 0 || c.Sessions.DeviceIdleDays < 0 {
		return fmt.Errorf("config: grace and idle settings cannot be negative")
	}
	return nil
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
