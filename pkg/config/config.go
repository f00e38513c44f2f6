// Package config loads and validates the meshgate configuration file. The
// file holds defaults the CLI flags fall back to: organization, tailnet,
// router image, logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// Organization is the cloud platform org slug.
	Organization string `yaml:"organization" validate:"required"`

	// Tailnet is the mesh network name (usually a domain).
	Tailnet string `yaml:"tailnet" validate:"required,hostname_rfc1123"`

	// RouterImage is the container image deployed as the network router.
	RouterImage string `yaml:"router_image" validate:"required"`

	// DeviceWaitTimeout bounds polling for a new mesh device after a
	// router deploy.
	DeviceWaitTimeout time.Duration `yaml:"device_wait_timeout"`

	// DevicePollInterval is the fixed poll interval during that wait.
	DevicePollInterval time.Duration `yaml:"device_poll_interval"`

	// Logging configures CLI log output.
	Logging Logging `yaml:"logging"`
}

// Logging configures structured log output.
type Logging struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format is console or json.
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		RouterImage:        "ghcr.io/meshgate/router:latest",
		DeviceWaitTimeout:  5 * time.Minute,
		DevicePollInterval: 5 * time.Second,
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "meshgate", "config.yml"), nil
}

// Load reads the config file at path, layers it over Default, and applies
// environment overrides. A missing file yields the defaults; defaults alone
// do not pass validation because organization and tailnet have no sensible
// default, so callers overlay CLI flags before calling Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays MGATE_* environment variables. Env beats file; CLI flags
// beat both.
func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	overlay(&c.Organization, "MGATE_ORG")
	overlay(&c.Tailnet, "MGATE_TAILNET")
	overlay(&c.RouterImage, "MGATE_ROUTER_IMAGE")
	overlay(&c.Logging.Level, "MGATE_LOG_LEVEL")
	overlay(&c.Logging.Format, "MGATE_LOG_FORMAT")
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return err
	}
	if c.DevicePollInterval <= 0 || c.DeviceWaitTimeout <= 0 {
		return fmt.Errorf("device wait timeout and poll interval must be positive")
	}
	if c.DevicePollInterval >= c.DeviceWaitTimeout {
		return fmt.Errorf("device poll interval must be shorter than the wait timeout")
	}
	return nil
}
