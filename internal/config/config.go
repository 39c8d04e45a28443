package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBFile       string
	Addr         string
	BaseURL      string
	AuthSecret   string
	TokenExpiry  time.Duration
	HeartbeatTTL time.Duration
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	heartbeatTTL, err := time.ParseDuration(getEnv("HEARTBEAT_TTL", "15s"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:       getEnv("TASKPULSE_DB", "taskpulse.db"),
		Addr:         getEnv("ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		TokenExpiry:  tokenExpiry,
		HeartbeatTTL: heartbeatTTL,
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.HeartbeatTTL <= 0 {
		return fmt.Errorf("HEARTBEAT_TTL must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
