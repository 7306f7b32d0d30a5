// Package config loads runtime settings from the environment, with an
// optional YAML file supplying defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at an optional YAML config file.
const FileEnv = "CANE_CHECK_CONFIG"

// Config holds every environment-dependent setting.
type Config struct {
	PredictionEndpoint string
	ListenAddr         string
	RedisAddr          string
	PredictTimeout     time.Duration
	PreviewTTL         time.Duration
	SessionIdleTimeout time.Duration
	LogLevel           string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		PredictionEndpoint: "http://localhost:8000",
		ListenAddr:         ":8080",
		PredictTimeout:     30 * time.Second,
		PreviewTTL:         30 * time.Minute,
		SessionIdleTimeout: time.Hour,
		LogLevel:           "info",
	}
}

// Load reads the optional YAML file named by CANE_CHECK_CONFIG, then applies
// environment overrides.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.PredictionEndpoint = getEnv("PREDICTION_ENDPOINT", cfg.PredictionEndpoint)
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.PredictTimeout = getEnvDuration("PREDICT_TIMEOUT", cfg.PredictTimeout)
	cfg.PreviewTTL = getEnvDuration("PREVIEW_TTL", cfg.PreviewTTL)
	cfg.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)

	if cfg.PredictionEndpoint == "" {
		return Config{}, fmt.Errorf("prediction endpoint must not be empty")
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var file struct {
		PredictionEndpoint string `yaml:"prediction_endpoint"`
		ListenAddr         string `yaml:"listen_addr"`
		RedisAddr          string `yaml:"redis_addr"`
		PredictTimeout     string `yaml:"predict_timeout"`
		PreviewTTL         string `yaml:"preview_ttl"`
		SessionIdleTimeout string `yaml:"session_idle_timeout"`
		LogLevel           string `yaml:"log_level"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.PredictionEndpoint = orDefault(file.PredictionEndpoint, c.PredictionEndpoint)
	c.ListenAddr = orDefault(file.ListenAddr, c.ListenAddr)
	c.RedisAddr = orDefault(file.RedisAddr, c.RedisAddr)
	c.LogLevel = orDefault(file.LogLevel, c.LogLevel)
	c.PredictTimeout = parseDurationOr(file.PredictTimeout, c.PredictTimeout)
	c.PreviewTTL = parseDurationOr(file.PreviewTTL, c.PreviewTTL)
	c.SessionIdleTimeout = parseDurationOr(file.SessionIdleTimeout, c.SessionIdleTimeout)
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("45s") or plain seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	return parseDurationOr(os.Getenv(key), fallback)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
