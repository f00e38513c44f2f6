package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-config.yml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeviceWaitTimeout != 5*time.Minute {
		t.Errorf("DeviceWaitTimeout = %v", cfg.DeviceWaitTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	body := `
organization: lab-org
tailnet: example.com
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Organization != "lab-org" || cfg.Tailnet != "example.com" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Unset file keys keep their defaults.
	if cfg.RouterImage == "" {
		t.Error("RouterImage default lost on overlay")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	body := "organization: file-org\ntailnet: example.com\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MGATE_ORG", "env-org")
	t.Setenv("MGATE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Organization != "env-org" {
		t.Errorf("Organization = %q, want env override", cfg.Organization)
	}
	if cfg.Tailnet != "example.com" {
		t.Errorf("Tailnet = %q, file value lost", cfg.Tailnet)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing org", func(c *Config) { c.Organization = "" }},
		{"bad tailnet", func(c *Config) { c.Tailnet = "not a hostname!" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"inverted poll", func(c *Config) { c.DevicePollInterval = time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Organization = "lab-org"
			cfg.Tailnet = "example.com"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
