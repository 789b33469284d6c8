// Package config provides hierarchical configuration loading for the GOWA
// manager. Precedence: defaults < YAML file < environment variables < CLI
// flags.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config holds all runtime configuration for the manager.
type Config struct {
	Server    Server    `yaml:"server"`
	Data      Data      `yaml:"data"`
	Admin     Admin     `yaml:"admin"`
	Updater   Updater   `yaml:"updater"`
	Resources Resources `yaml:"resources"`
	Releases  Releases  `yaml:"releases"`
	Cleanup   Cleanup   `yaml:"cleanup"`
	Logging   Logging   `yaml:"logging"`
	OTEL      OTEL      `yaml:"otel"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Port        string `yaml:"port"`         // management + proxy listen port
	CORSOrigin  string `yaml:"cors_origin"`  // Access-Control-Allow-Origin value
	ProxyPrefix string `yaml:"proxy_prefix"` // path segment under which child traffic is routed
}

// Data holds filesystem layout configuration. Everything the manager writes
// lives under Dir.
type Data struct {
	Dir string `yaml:"dir"`
}

// DBPath is the embedded store location.
func (d Data) DBPath() string { return filepath.Join(d.Dir, "gowa.db") }

// BinDir holds installed binaries.
func (d Data) BinDir() string { return filepath.Join(d.Dir, "bin") }

// VersionsDir holds one subdirectory per installed tag.
func (d Data) VersionsDir() string { return filepath.Join(d.BinDir(), "versions") }

// InstancesDir holds per-instance working directories.
func (d Data) InstancesDir() string { return filepath.Join(d.Dir, "instances") }

// InstanceDir is the working directory (child cwd) for one instance id.
func (d Data) InstanceDir(id int64) string {
	return filepath.Join(d.InstancesDir(), fmt.Sprintf("%d", id))
}

// TempDir holds transient install staging directories.
func (d Data) TempDir() string { return filepath.Join(d.Dir, "temp") }

// Admin holds the shared management credential.
type Admin struct {
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`      // plaintext comparison when set
	PasswordHash string        `yaml:"password_hash"` // bcrypt, takes precedence over Password
	SessionTTL   time.Duration `yaml:"session_ttl"`
	// SessionSecret signs session cookies; generated at startup when empty.
	SessionSecret string `yaml:"session_secret"`
}

// Updater holds the auto-update loop configuration.
type Updater struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	InitialDelay       time.Duration `yaml:"initial_delay"`
	RestartConcurrency int           `yaml:"restart_concurrency"` // bound on parallel restarts after an update
}

// Resources holds resource monitor tuning.
type Resources struct {
	// MemoryTotalBytes is the reference for memoryPercent. Zero means
	// autodetect from the host, with a 16 GiB fallback.
	MemoryTotalBytes int64         `yaml:"memory_total_bytes"`
	DiskCacheTTL     time.Duration `yaml:"disk_cache_ttl"`
}

// Releases holds the upstream release index configuration.
type Releases struct {
	Repo    string        `yaml:"repo"`     // owner/name on the release host
	BaseURL string        `yaml:"base_url"` // API root, overridable for tests
	Timeout time.Duration `yaml:"timeout"`
}

// Cleanup holds the daily volatile-cache sweep configuration.
type Cleanup struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression, local time
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// OTEL holds OpenTelemetry export configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:        "3000",
			CORSOrigin:  "*",
			ProxyPrefix: "app",
		},
		Data: Data{Dir: "data"},
		Admin: Admin{
			Username:   "admin",
			SessionTTL: 24 * time.Hour,
		},
		Updater: Updater{
			Enabled:            true,
			Interval:           time.Hour,
			InitialDelay:       time.Minute,
			RestartConcurrency: 3,
		},
		Resources: Resources{
			DiskCacheTTL: 30 * time.Second,
		},
		Releases: Releases{
			Repo:    "aldinokemal/go-whatsapp-web-multidevice",
			BaseURL: "https://api.github.com",
			Timeout: 30 * time.Second,
		},
		Cleanup: Cleanup{
			Enabled:  true,
			Schedule: "0 0 * * *",
		},
		Logging: Logging{
			Level:   "info",
			Service: "gowa-manager",
		},
		OTEL: OTEL{
			ServiceName: "gowa-manager",
			SampleRate:  1.0,
		},
	}
}

// Validate checks cross-field constraints that cannot be expressed per field.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.ProxyPrefix == "" {
		return fmt.Errorf("server.proxy_prefix is required")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Updater.Interval <= 0 {
		return fmt.Errorf("updater.interval must be positive")
	}
	if c.Updater.RestartConcurrency < 1 {
		return fmt.Errorf("updater.restart_concurrency must be at least 1")
	}
	if c.Releases.Repo == "" {
		return fmt.Errorf("releases.repo is required")
	}
	if c.OTEL.SampleRate < 0 || c.OTEL.SampleRate > 1 {
		return fmt.Errorf("otel.sample_rate must be in [0, 1]")
	}
	return nil
}
