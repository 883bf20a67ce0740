package config

import (
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
	redisclient "github.com/vietddude/chatrelay/internal/infra/redis"
	"github.com/vietddude/chatrelay/internal/infra/storage/postgres"
	"github.com/vietddude/chatrelay/internal/relaying/backoff"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Credentials CredentialsConfig  `yaml:"credentials"`
	Routes      []RouteConfig      `yaml:"routes"`
	Relay       RelayConfig        `yaml:"relay"`
	Storage     StorageConfig      `yaml:"storage"`
	Messaging   MessagingConfig    `yaml:"messaging"`
	Report      ReportConfig       `yaml:"report"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
	Logging     LoggingConfig      `yaml:"logging"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// CredentialsConfig holds the two account secrets.
type CredentialsConfig struct {
	APIID   string `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`
}

// RouteConfig is one source -> destination relay.
type RouteConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
	Offset string `yaml:"offset"` // decimal message id, empty for the beginning
}

// RelayConfig tunes delivery, pacing and retries.
type RelayConfig struct {
	Mode            string        `yaml:"mode"` // copy, forward
	AutoMode        bool          `yaml:"auto_mode"`
	Concurrency     int           `yaml:"concurrency"`
	BatchSize       int           `yaml:"batch_size"`
	MinDelay        time.Duration `yaml:"min_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	FloodWaitBuffer time.Duration `yaml:"flood_wait_buffer"`
	MaxFloodWait    time.Duration `yaml:"max_flood_wait"`
}

// StorageConfig selects where checkpoints and abandoned messages live.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // file, redis, postgres, memory
	Path          string `yaml:"path"`
	AbandonedPath string `yaml:"abandoned_path"`
}

// MessagingConfig selects the messaging client.
type MessagingConfig struct {
	Driver     string  `yaml:"driver"` // postgres, memory
	FloodLimit float64 `yaml:"flood_limit"`
	FloodBurst int     `yaml:"flood_burst"`
}

// ReportConfig controls the end-of-run summary.
type ReportConfig struct {
	Target       string `yaml:"target"`
	AttachConfig *bool  `yaml:"attach_config"`
	File         string `yaml:"file"`
}

// MetricsConfig holds the metrics server and Pushgateway settings.
type MetricsConfig struct {
	Port        int    `yaml:"port"` // 0 disables the server
	Pushgateway string `yaml:"pushgateway"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DomainRoutes converts the configured routes.
func (c *AppConfig) DomainRoutes() ([]domain.Route, error) {
	routes := make([]domain.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		off, err := domain.ParseOffset(rc.Offset)
		if err != nil {
			return nil, err
		}
		routes = append(routes, domain.Route{
			Name:          rc.Name,
			Source:        domain.Peer(rc.Source),
			Dest:          domain.Peer(rc.Dest),
			InitialOffset: off,
		})
	}
	return routes, nil
}

// Backoff returns the scheduler configuration.
func (r RelayConfig) Backoff() backoff.Config {
	return backoff.Config{
		RateLimitBuffer: r.FloodWaitBuffer,
		MaxCooldown:     r.MaxFloodWait,
		BaseDelay:       r.RetryDelay,
		MaxAttempts:     r.RetryAttempts,
		MinDelay:        r.MinDelay,
		MaxDelay:        r.MaxDelay,
	}
}

// AttachConfigFile reports whether the config file is attached to the report.
func (r ReportConfig) AttachConfigFile() bool {
	return r.AttachConfig == nil || *r.AttachConfig
}
