package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Providers is the raw PROVIDERS JSON array; parsed by the provider package.
	Providers string

	DatabaseURL string

	HistoryLimit       int
	SkillContentMaxLen int
	StreamQueueSize    int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "wendui"),
		AllowAnyOrigin:     false,
		Providers:          strings.TrimSpace(os.Getenv("PROVIDERS")),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		HistoryLimit:       200,
		SkillContentMaxLen: 20000,
		StreamQueueSize:    256,
		ShutdownTimeout:    15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("AI_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.SkillContentMaxLen, err = intFromEnv("SKILL_CONTENT_MAX_LEN", cfg.SkillContentMaxLen)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamQueueSize, err = intFromEnv("STREAM_QUEUE_SIZE", cfg.StreamQueueSize)
	if err != nil {
		return Config{}, err
	}

	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("AI_HISTORY_LIMIT must be positive")
	}
	if cfg.SkillContentMaxLen <= 0 {
		return Config{}, fmt.Errorf("SKILL_CONTENT_MAX_LEN must be positive")
	}
	if cfg.StreamQueueSize < 16 {
		return Config{}, fmt.Errorf("STREAM_QUEUE_SIZE must be at least 16")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
