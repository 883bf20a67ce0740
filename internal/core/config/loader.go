package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/chatrelay/internal/core/domain"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Path = path

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	d := backoff.DefaultConfig()

	if c.Relay.Mode == "" {
		c.Relay.Mode = string(domain.ModeCopy)
	}
	if c.Relay.Concurrency <= 0 {
		c.Relay.Concurrency = 1
	}
	if c.Relay.BatchSize <= 0 {
		c.Relay.BatchSize = 100
	}
	if c.Relay.MinDelay == 0 && c.Relay.MaxDelay == 0 {
		c.Relay.MinDelay = d.MinDelay
		c.Relay.MaxDelay = d.MaxDelay
	}
	if c.Relay.RetryAttempts == 0 {
		c.Relay.RetryAttempts = d.MaxAttempts
	}
	if c.Relay.RetryDelay == 0 {
		c.Relay.RetryDelay = d.BaseDelay
	}
	if c.Relay.FloodWaitBuffer == 0 {
		c.Relay.FloodWaitBuffer = d.RateLimitBuffer
	}
	if c.Relay.MaxFloodWait == 0 {
		c.Relay.MaxFloodWait = d.MaxCooldown
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "checkpoints.yaml"
	}
	if c.Storage.AbandonedPath == "" {
		c.Storage.AbandonedPath = filepath.Join(filepath.Dir(c.Storage.Path), "abandoned.yaml")
	}

	if c.Messaging.Driver == "" {
		c.Messaging.Driver = "postgres"
	}
	if c.Report.Target == "" {
		c.Report.Target = "me"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	for i := range c.Routes {
		if c.Routes[i].Name == "" {
			c.Routes[i].Name = fmt.Sprintf("%s-%s", c.Routes[i].Source, c.Routes[i].Dest)
		}
	}
}

// Validate checks that the configuration can start a run. Every problem is
// reported, wrapped in domain.ErrConfiguration.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Credentials.APIID == "" || c.Credentials.APIHash == "" {
		add("credentials.api_id and credentials.api_hash are required")
	}

	if len(c.Routes) == 0 {
		add("no routes configured")
	}
	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Source == "" || r.Dest == "" {
			add("route %d (%s): source and dest are required", i, r.Name)
		}
		if seen[r.Name] {
			add("route %s: duplicate name", r.Name)
		}
		seen[r.Name] = true
		if _, err := domain.ParseOffset(r.Offset); err != nil {
			add("route %s: %v", r.Name, err)
		}
	}

	if !domain.DeliveryMode(c.Relay.Mode).Valid() {
		add("relay.mode %q must be copy or forward", c.Relay.Mode)
	}
	if c.Relay.MinDelay < 0 || c.Relay.MaxDelay < c.Relay.MinDelay {
		add("relay.min_delay %s and max_delay %s must satisfy 0 <= min <= max", c.Relay.MinDelay, c.Relay.MaxDelay)
	}
	if c.Relay.RetryAttempts < 0 {
		add("relay.retry_attempts must not be negative")
	}

	switch c.Storage.Driver {
	case "file", "memory":
	case "redis":
		if c.Redis.URL == "" {
			add("storage.driver redis requires redis.url")
		}
	case "postgres":
		if c.Database.URL == "" {
			add("storage.driver postgres requires database.url")
		}
	default:
		add("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Messaging.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			add("messaging.driver postgres requires database.url")
		}
	default:
		add("unknown messaging.driver %q", c.Messaging.Driver)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
}
