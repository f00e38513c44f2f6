// Package cloud drives the cloud app platform through its local CLI. Every
// operation shells out via pkg/proc with machine-readable output; the
// platform's HTTP API is never spoken directly.
package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/proc"
)

// DefaultBinary is the platform CLI executable name.
const DefaultBinary = "fly"

// Client wraps the platform CLI for one organization.
type Client struct {
	runner *proc.Runner
	bin    string
	org    string
	logger zerolog.Logger
}

// NewClient creates a cloud client for the given organization slug.
func NewClient(runner *proc.Runner, org string, logger zerolog.Logger) *Client {
	return &Client{
		runner: runner,
		bin:    DefaultBinary,
		org:    org,
		logger: logger.With().Str("component", "cloud").Logger(),
	}
}

// WithBinary overrides the CLI executable; tests point this at a stub.
func (c *Client) WithBinary(bin string) *Client {
	c.bin = bin
	return c
}

// Org returns the organization slug this client operates on.
func (c *Client) Org() string {
	return c.org
}

// ListApps returns every app in the organization.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var apps []App
	if err := c.json(ctx, &apps, "apps", "list", "--org", c.org); err != nil {
		return nil, err
	}
	return apps, nil
}

// AppExists reports whether an app with the given name exists in the
// organization. Absence is not an error.
func (c *Client) AppExists(ctx context.Context, name string) (bool, error) {
	apps, err := c.ListApps(ctx)
	if err != nil {
		return false, err
	}
	for _, app := range apps {
		if app.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateApp creates an app attached to the given private network.
func (c *Client) CreateApp(ctx context.Context, name, network string) error {
	result, err := c.runner.Run(ctx, c.bin, "apps", "create", name, "--org", c.org, "--network", network)
	if err != nil {
		return err
	}
	if !result.Success() {
		if strings.Contains(result.Stderr, "already been taken") {
			return engine.NewUnavailableError("app name already taken", nil).
				WithCode(engine.ErrCodeAlreadyExists).
				WithResource(name)
		}
		return c.cliError("apps create", name, result)
	}
	return nil
}

// DeleteApp destroys an app and everything attached to it. Deleting an app
// that is already gone succeeds.
func (c *Client) DeleteApp(ctx context.Context, name string) error {
	result, err := c.runner.Run(ctx, c.bin, "apps", "destroy", name, "--yes")
	if err != nil {
		return err
	}
	if !result.Success() {
		if strings.Contains(result.Stderr, "Could not find App") {
			return nil
		}
		return c.cliError("apps destroy", name, result)
	}
	return nil
}

// ListMachines returns the machines backing an app.
func (c *Client) ListMachines(ctx context.Context, app string) ([]Machine, error) {
	var machines []Machine
	if err := c.json(ctx, &machines, "machines", "list", "--app", app); err != nil {
		return nil, err
	}
	return machines, nil
}

// Deploy runs a deploy from an image, build directory, or explicit config
// path.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) error {
	args := []string{"deploy", "--app", req.App, "--yes"}
	switch {
	case req.Image != "":
		args = append(args, "--image", req.Image)
	case req.ConfigPath != "":
		args = append(args, "--config", req.ConfigPath)
	case req.BuildDir != "":
		args = append(args, req.BuildDir)
	default:
		return fmt.Errorf("deploy request for %s has no image, build dir, or config path", req.App)
	}
	for k, v := range req.Env {
		args = append(args, "--env", fmt.Sprintf("%s=%s", k, v))
	}

	result, err := c.runner.Run(ctx, c.bin, args...)
	if err != nil {
		return err
	}
	if !result.Success() {
		return c.cliError("deploy", req.App, result)
	}
	return nil
}

// SetSecrets sets app secrets. Staged secrets are stored without restarting
// machines; they take effect on the next deploy.
func (c *Client) SetSecrets(ctx context.Context, app string, secrets map[string]string, staged bool) error {
	args := []string{"secrets", "set", "--app", app}
	if staged {
		args = append(args, "--stage")
	}
	for k, v := range secrets {
		args = append(args, fmt.Sprintf("%s=%s", k, v))
	}

	result, err := c.runner.Run(ctx, c.bin, args...)
	if err != nil {
		return err
	}
	if !result.Success() {
		return c.cliError("secrets set", app, result)
	}
	return nil
}

// ListIPs returns every address allocated to an app.
func (c *Client) ListIPs(ctx context.Context, app string) ([]IPAddress, error) {
	var ips []IPAddress
	if err := c.json(ctx, &ips, "ips", "list", "--app", app); err != nil {
		return nil, err
	}
	return ips, nil
}

// ReleaseIP releases one allocated address.
func (c *Client) ReleaseIP(ctx context.Context, app, address string) error {
	result, err := c.runner.Run(ctx, c.bin, "ips", "release", address, "--app", app)
	if err != nil {
		return err
	}
	if !result.Success() {
		return c.cliError("ips release", app, result)
	}
	return nil
}

// AllocateFlycast allocates a private flycast address for the app on the
// given network.
func (c *Client) AllocateFlycast(ctx context.Context, app, network string) (*IPAddress, error) {
	var ip IPAddress
	err := c.json(ctx, &ip, "ips", "allocate-v6", "--private", "--network", network, "--app", app)
	if err != nil {
		return nil, err
	}
	return &ip, nil
}

// ListCertificates returns the app's platform-managed TLS certificates.
func (c *Client) ListCertificates(ctx context.Context, app string) ([]Certificate, error) {
	var certs []Certificate
	if err := c.json(ctx, &certs, "certs", "list", "--app", app); err != nil {
		return nil, err
	}
	return certs, nil
}

// RemoveCertificate removes one certificate by hostname.
func (c *Client) RemoveCertificate(ctx context.Context, app, hostname string) error {
	result, err := c.runner.Run(ctx, c.bin, "certs", "remove", hostname, "--app", app, "--yes")
	if err != nil {
		return err
	}
	if !result.Success() {
		return c.cliError("certs remove", app, result)
	}
	return nil
}

// GetConfig fetches the app's live merged runtime configuration.
func (c *Client) GetConfig(ctx context.Context, app string) (Config, error) {
	var cfg Config
	if err := c.json(ctx, &cfg, "config", "show", "--app", app); err != nil {
		return nil, err
	}
	return cfg, nil
}

// json runs a CLI subcommand with --json and decodes stdout into out.
func (c *Client) json(ctx context.Context, out interface{}, args ...string) error {
	args = append(args, "--json")
	if err := c.runner.RunJSON(ctx, out, c.bin, args...); err != nil {
		return engine.NewUnavailableError("platform CLI call failed", err).
			WithCode(engine.ErrCodeProviderFailed).
			WithOperation(strings.Join(args, " "))
	}
	return nil
}

func (c *Client) cliError(operation, resource string, result *proc.Result) error {
	return engine.NewUnavailableError(
		fmt.Sprintf("%s exited %d: %s", operation, result.ExitCode, strings.TrimSpace(result.Stderr)), nil).
		WithCode(engine.ErrCodeProviderFailed).
		WithOperation(operation).
		WithResource(resource)
}
