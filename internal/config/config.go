// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	SecretKey  []byte // nil when COVERHOOK_SECRET_KEY is unset.

	// Enterprise marks a self-hosted install. LicenseSeats then replaces the
	// per-owner plan user count when activating users.
	Enterprise   bool
	LicenseSeats int

	GitHubWebhookSecret           string
	GitHubEnterpriseWebhookSecret string
	GitHubEnterpriseURL           string

	GitLabWebhookValidation           bool
	GitLabEnterpriseWebhookValidation bool
	GitLabEnterpriseURL               string

	BitbucketServerURL string

	CIContext           string
	StatusPendingOnPush bool

	TaskWorkers      int
	WebhookRateLimit int // Deliveries per minute per source; 0 disables.
	WebhookRateBurst int
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional. Defaults: COVERHOOK_LISTEN_ADDR (127.0.0.1:8080),
// COVERHOOK_DB_PATH (coverhook.db), COVERHOOK_CI_CONTEXT (codecov),
// COVERHOOK_TASK_WORKERS (16), COVERHOOK_WEBHOOK_RATE_LIMIT (600).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:                    envOr("COVERHOOK_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:                        envOr("COVERHOOK_DB_PATH", "coverhook.db"),
		GitHubWebhookSecret:           os.Getenv("COVERHOOK_GITHUB_WEBHOOK_SECRET"),
		GitHubEnterpriseWebhookSecret: os.Getenv("COVERHOOK_GITHUB_ENTERPRISE_WEBHOOK_SECRET"),
		GitHubEnterpriseURL:           os.Getenv("COVERHOOK_GITHUB_ENTERPRISE_URL"),
		GitLabEnterpriseURL:           os.Getenv("COVERHOOK_GITLAB_ENTERPRISE_URL"),
		BitbucketServerURL:            os.Getenv("COVERHOOK_BITBUCKET_SERVER_URL"),
		CIContext:                     envOr("COVERHOOK_CI_CONTEXT", "codecov"),
	}

	var err error
	if cfg.SecretKey, err = secretKey("COVERHOOK_SECRET_KEY"); err != nil {
		return nil, err
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"COVERHOOK_ENTERPRISE", &cfg.Enterprise},
		{"COVERHOOK_GITLAB_WEBHOOK_VALIDATION", &cfg.GitLabWebhookValidation},
		{"COVERHOOK_GITLAB_ENTERPRISE_WEBHOOK_VALIDATION", &cfg.GitLabEnterpriseWebhookValidation},
		{"COVERHOOK_STATUS_PENDING_ON_PUSH", &cfg.StatusPendingOnPush},
	}
	for _, b := range bools {
		if *b.dst, err = envBool(b.key); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"COVERHOOK_LICENSE_SEATS", 0, &cfg.LicenseSeats},
		{"COVERHOOK_TASK_WORKERS", 16, &cfg.TaskWorkers},
		{"COVERHOOK_WEBHOOK_RATE_LIMIT", 600, &cfg.WebhookRateLimit},
		{"COVERHOOK_WEBHOOK_RATE_BURST", 0, &cfg.WebhookRateBurst},
	}
	for _, i := range ints {
		if *i.dst, err = envInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if cfg.TaskWorkers < 1 {
		return nil, fmt.Errorf("COVERHOOK_TASK_WORKERS must be at least 1, got %d", cfg.TaskWorkers)
	}
	if cfg.Enterprise && cfg.LicenseSeats <= 0 {
		return nil, fmt.Errorf("COVERHOOK_LICENSE_SEATS must be positive when COVERHOOK_ENTERPRISE is set")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return n, nil
}

// secretKey decodes a 32-byte AES-256 key from 64 hex characters.
func secretKey(key string) ([]byte, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	if len(v) != 64 {
		return nil, fmt.Errorf("%s must be 64 hex characters (32 bytes), got %d", key, len(v))
	}
	decoded, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", key, err)
	}
	return decoded, nil
}
