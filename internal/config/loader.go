package config

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "gowamanager.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset flags
// that should not override the config. Use ParseFlags to populate this
// struct.
type CLIFlags struct {
	ConfigPath    *string
	Port          *string
	DataDir       *string
	LogLevel      *string
	AdminUsername *string
	AdminPassword *string
}

// ParseFlags parses command-line arguments into CLIFlags.
// Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags

	fs := flag.NewFlagSet("gowamanager", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP server port")
	fs.StringVar(port, "p", "", "HTTP server port (shorthand)")
	dataDir := fs.String("data-dir", "", "data directory root")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	adminUser := fs.String("admin-username", "", "management API username")
	adminPass := fs.String("admin-password", "", "management API password")

	if args == nil {
		args = os.Args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	// Only set pointers for flags that were explicitly provided.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "port", "p":
			flags.Port = port
		case "data-dir":
			flags.DataDir = dataDir
		case "log-level":
			flags.LogLevel = logLevel
		case "admin-username":
			flags.AdminUsername = adminUser
		case "admin-password":
			flags.AdminPassword = adminPass
		}
	})

	return flags, nil
}

// Load builds the configuration from the default file location, the
// environment, and no CLI overrides.
func Load() (*Config, error) {
	return LoadWithCLI(CLIFlags{})
}

// LoadWithCLI builds the configuration with CLI flag overrides applied last.
func LoadWithCLI(flags CLIFlags) (*Config, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}

	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFrom reads defaults, then the YAML file at path (missing default file
// is not an error), then the environment.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigFile:
		// Optional default file.
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays recognized environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("ADMIN_USERNAME"); v != "" {
		cfg.Admin.Username = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Admin.PasswordHash = v
	}
	if v := os.Getenv("GOWA_REPO"); v != "" {
		cfg.Releases.Repo = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyFlags overlays explicitly-set CLI flags. Flags win over everything.
func applyFlags(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.DataDir != nil {
		cfg.Data.Dir = *flags.DataDir
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.AdminUsername != nil {
		cfg.Admin.Username = *flags.AdminUsername
	}
	if flags.AdminPassword != nil {
		cfg.Admin.Password = *flags.AdminPassword
	}
}
