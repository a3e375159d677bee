// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fluia/leadmagnet/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Port        string   `validate:"required,numeric"`
	FrontendURL string   `validate:"omitempty,url"`
	CORSOrigins []string `validate:"dive,required"`
	LogLevel    string   `validate:"oneof=debug info warn error"`
	// StaticDir holds a prebuilt frontend to serve; empty serves only the API.
	StaticDir string `validate:"omitempty,dir"`

	Store   StoreConfig
	Webhook WebhookConfig
	Flow    FlowConfig

	SessionTTL    time.Duration `validate:"gte=0"`
	IdleTimeout   time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`

	RateLimitRequests int           `validate:"gte=0"`
	RateLimitWindow   time.Duration `validate:"gte=0"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Backend       string `validate:"oneof=sqlite memory badger redis file"`
	Prefix        string `validate:"required"`
	DBPath        string `validate:"required_if=Backend sqlite"`
	BadgerDir     string
	FileDir       string `validate:"required_if=Backend file"`
	RedisAddr     string `validate:"required_if=Backend redis"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
}

// WebhookConfig points at the remote question service.
type WebhookConfig struct {
	URL        string        `validate:"required,url"`
	Source     string        `validate:"required"`
	Timeout    time.Duration `validate:"gt=0"`
	RetryDelay time.Duration `validate:"gte=0"`
}

// FlowConfig shapes the session state machine.
type FlowConfig struct {
	Variant         string        `validate:"oneof=scripted server"`
	TotalSteps      int           `validate:"gte=0"`
	StepPercent     int           `validate:"gt=0,lte=100"`
	ErrorClearDelay time.Duration `validate:"gt=0"`
	// ScriptPath is a YAML question script; empty uses the embedded default.
	ScriptPath string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		StaticDir:   getEnv("STATIC_DIR", ""),
		Store:       storeFromEnv(),
		Webhook: WebhookConfig{
			URL:        getEnv("WEBHOOK_URL", ""),
			Source:     getEnv("WEBHOOK_SOURCE", "lead-magnet-fluia"),
			Timeout:    getEnvDuration("WEBHOOK_TIMEOUT", 15*time.Second),
			RetryDelay: getEnvDuration("WEBHOOK_RETRY_DELAY", time.Second),
		},
		Flow: FlowConfig{
			Variant:         getEnv("FLOW_VARIANT", "scripted"),
			TotalSteps:      getEnvInt("TOTAL_STEPS", 0),
			StepPercent:     getEnvInt("STEP_PERCENT", 10),
			ErrorClearDelay: getEnvDuration("ERROR_CLEAR_DELAY", 3*time.Second),
			ScriptPath:      getEnv("SCRIPT_PATH", ""),
		},
		SessionTTL:        getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		IdleTimeout:       getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadStore reads only the store settings, for tools that never talk to
// the question service.
func LoadStore() (*StoreConfig, error) {
	cfg := storeFromEnv()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	return &cfg, nil
}

func storeFromEnv() StoreConfig {
	return StoreConfig{
		Backend:       getEnv("STORE_BACKEND", "sqlite"),
		Prefix:        getEnv("STORE_PREFIX", "fluia-lm-session-"),
		DBPath:        getEnv("DB_PATH", "./data/leadmagnet.db"),
		BadgerDir:     getEnv("BADGER_DIR", ""),
		FileDir:       getEnv("FILE_STORE_DIR", "./data/sessions"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}
}

// ToStore converts the settings into store.Open's configuration.
func (c StoreConfig) ToStore() store.Config {
	return store.Config{
		Backend:   c.Backend,
		Prefix:    c.Prefix,
		DBPath:    c.DBPath,
		BadgerDir: c.BadgerDir,
		FileDir:   c.FileDir,
		Redis: store.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("15s") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
