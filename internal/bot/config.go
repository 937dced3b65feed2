package bot

import (
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for the bot daemon.
type Config struct {
	// Platform gateway
	GatewayBaseURL string
	GatewayToken   string

	// Webhook receiver
	WebhookSecret string

	// Database
	DatabaseURL string

	// Ops alerts (optional)
	SlackOpsToken   string
	SlackOpsChannel string

	// Server configuration
	HTTPAddr    string
	MetricsAddr string

	// Snapshot refresh
	RefreshInterval time.Duration

	// Feature flags
	Verbose     bool
	EnablePprof bool
}

// LoadFromEnv loads configuration from environment variables and flags.
func LoadFromEnv(httpAddrFlag, metricsAddrFlag string, verbose, enablePprof bool) (*Config, error) {
	cfg := &Config{
		HTTPAddr:    httpAddrFlag,
		MetricsAddr: metricsAddrFlag,
		Verbose:     verbose,
		EnablePprof: enablePprof,
	}

	cfg.GatewayBaseURL = os.Getenv("PLATFORM_API_URL")
	if cfg.GatewayBaseURL == "" {
		return nil, fmt.Errorf("PLATFORM_API_URL is required")
	}

	cfg.GatewayToken = os.Getenv("PLATFORM_BOT_TOKEN")
	if cfg.GatewayToken == "" {
		return nil, fmt.Errorf("PLATFORM_BOT_TOKEN is required")
	}

	cfg.WebhookSecret = os.Getenv("PLATFORM_WEBHOOK_SECRET")
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("PLATFORM_WEBHOOK_SECRET is required")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Optional ops alerting
	cfg.SlackOpsToken = os.Getenv("SLACK_OPS_TOKEN")
	cfg.SlackOpsChannel = os.Getenv("SLACK_OPS_CHANNEL")

	if v := os.Getenv("INVITE_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid INVITE_REFRESH_INTERVAL: %w", err)
		}
		cfg.RefreshInterval = d
	}

	return cfg, nil
}
