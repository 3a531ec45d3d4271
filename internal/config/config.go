// Package config loads leadsync settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is shared by the server and the terminal dashboard.
type Config struct {
	Addr                 string
	SourceDSN            string
	FeedDSN              string
	AutomationURL        string
	AutomationToken      string
	AutomationExchange   string
	AutomationRetries    int
	ClientID             string
	TerminalStageID      string
	RevertOnWriteFailure bool
	NoticeTTL            time.Duration
	FreshnessInterval    time.Duration
	LogLevel             string
	LogPretty            bool
	MaxBodyBytes         int64
	SeedDemo             bool
}

// Loader reads environment variables, logging and falling back on invalid values.
type Loader struct {
	Logger *zerolog.Logger
	Getenv func(string) string
}

// Load reads the process environment.
func Load(logger *zerolog.Logger) Config {
	return Loader{Logger: logger}.Load()
}

func (l Loader) Load() Config {
	return Config{
		Addr:                 l.EnvOrDefault("LEADSYNC_ADDR", ":8080"),
		SourceDSN:            l.EnvOrDefault("LEADSYNC_SOURCE_DSN", "memory://"),
		FeedDSN:              l.EnvOrDefault("LEADSYNC_FEED_DSN", ""),
		AutomationURL:        l.EnvOrDefault("LEADSYNC_AUTOMATION_URL", ""),
		AutomationToken:      l.EnvOrDefault("LEADSYNC_AUTOMATION_TOKEN", ""),
		AutomationExchange:   l.EnvOrDefault("LEADSYNC_AUTOMATION_EXCHANGE", "leadsync.workflows"),
		AutomationRetries:    l.IntEnv("LEADSYNC_AUTOMATION_RETRIES", 3),
		ClientID:             l.EnvOrDefault("LEADSYNC_CLIENT_ID", ""),
		TerminalStageID:      l.EnvOrDefault("LEADSYNC_TERMINAL_STAGE_ID", ""),
		RevertOnWriteFailure: l.BoolEnv("LEADSYNC_REVERT_ON_WRITE_FAILURE", false),
		NoticeTTL:            l.DurationEnv("LEADSYNC_NOTICE_TTL", 5*time.Second),
		FreshnessInterval:    l.DurationEnv("LEADSYNC_FRESHNESS_INTERVAL", time.Minute),
		LogLevel:             l.EnvOrDefault("LEADSYNC_LOG_LEVEL", "info"),
		LogPretty:            l.BoolEnv("LEADSYNC_LOG_PRETTY", false),
		MaxBodyBytes:         l.Int64Env("LEADSYNC_MAX_BODY_BYTES", 0),
		SeedDemo:             l.BoolEnv("LEADSYNC_SEED_DEMO", false),
	}
}

func (l Loader) getenv(name string) string {
	if l.Getenv != nil {
		return strings.TrimSpace(l.Getenv(name))
	}
	return strings.TrimSpace(os.Getenv(name))
}

func (l Loader) invalid(name, raw string, fallback any) {
	if l.Logger == nil {
		return
	}
	l.Logger.Warn().
		Str("name", name).
		Str("value", raw).
		Interface("fallback", fallback).
		Msg("invalid environment value, using fallback")
}

func (l Loader) EnvOrDefault(name, fallback string) string {
	value := l.getenv(name)
	if value == "" {
		return fallback
	}
	return value
}

func (l Loader) IntEnv(name string, fallback int) int {
	raw := l.getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		l.invalid(name, raw, fallback)
		return fallback
	}
	return value
}

func (l Loader) Int64Env(name string, fallback int64) int64 {
	raw := l.getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		l.invalid(name, raw, fallback)
		return fallback
	}
	return value
}

func (l Loader) DurationEnv(name string, fallback time.Duration) time.Duration {
	raw := l.getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		l.invalid(name, raw, fallback.String())
		return fallback
	}
	return value
}

func (l Loader) BoolEnv(name string, fallback bool) bool {
	raw := l.getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		l.invalid(name, raw, fallback)
		return fallback
	}
	return value
}
