// Package audit enforces the "never publicly reachable" invariant after
// every workload deploy. The auditor does not veto: it repairs. Public
// addresses are released, platform certificates removed, and a missing
// private flycast allocation created, so that every audited deploy ends with
// exactly one private address on the intended network and nothing public.
// The caller decides whether non-zero repair counts are surfaced as a hard
// failure (the deploy workflow does).
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/providers/cloud"
)

// CloudAPI is the slice of the cloud provider the auditor needs.
type CloudAPI interface {
	ListIPs(ctx context.Context, app string) ([]cloud.IPAddress, error)
	ReleaseIP(ctx context.Context, app, address string) error
	AllocateFlycast(ctx context.Context, app, network string) (*cloud.IPAddress, error)
	ListCertificates(ctx context.Context, app string) ([]cloud.Certificate, error)
	RemoveCertificate(ctx context.Context, app, hostname string) error
	GetConfig(ctx context.Context, app string) (cloud.Config, error)
}

// Allocation is one confirmed private address on a network.
type Allocation struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// Result is what the audit had to do. Produced fresh on every deploy, never
// persisted.
type Result struct {
	// PublicIPsReleased counts public addresses the sweep released.
	PublicIPsReleased int `json:"public_ips_released"`

	// CertificatesRemoved counts platform TLS certificates removed; a
	// certificate only makes sense for public serving.
	CertificatesRemoved int `json:"certificates_removed"`

	// FlycastAllocations are the confirmed private allocations on the
	// target network after the audit.
	FlycastAllocations []Allocation `json:"flycast_allocations"`

	// Warnings are repairs and inert leftovers worth telling the user
	// about.
	Warnings []string `json:"warnings,omitempty"`
}

// Auditor runs the post-deploy sweep.
type Auditor struct {
	api    CloudAPI
	logger zerolog.Logger
}

// New creates an auditor.
func New(api CloudAPI, logger zerolog.Logger) *Auditor {
	return &Auditor{
		api:    api,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Audit sweeps app's addresses, inspects its live configuration, and
// verifies the private allocation on network. The three phases always run in
// order and are not configurable off.
func (a *Auditor) Audit(ctx context.Context, app, network string) (*Result, error) {
	result := &Result{}

	if err := a.sweepIPs(ctx, app, network, result); err != nil {
		return nil, err
	}
	if err := a.removeCertificates(ctx, app, result); err != nil {
		return nil, err
	}
	a.inspectConfig(ctx, app, result)
	if err := a.ensureAllocation(ctx, app, network, result); err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("app", app).
		Str("network", network).
		Int("public_released", result.PublicIPsReleased).
		Int("certs_removed", result.CertificatesRemoved).
		Int("warnings", len(result.Warnings)).
		Msg("deploy audit complete")
	return result, nil
}

// sweepIPs classifies every allocated address. Private on the target
// network: keep. Private elsewhere: release with a warning (deploy tooling
// defaults can allocate on the wrong network). Anything else is public:
// release and count.
func (a *Auditor) sweepIPs(ctx context.Context, app, network string, result *Result) error {
	ips, err := a.api.ListIPs(ctx, app)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		switch {
		case ip.Private() && ip.Network == network:
			result.FlycastAllocations = append(result.FlycastAllocations, Allocation{
				Address: ip.Address,
				Network: ip.Network,
			})
		case ip.Private():
			if err := a.api.ReleaseIP(ctx, app, ip.Address); err != nil {
				return fmt.Errorf("releasing %s on wrong network %q: %w", ip.Address, ip.Network, err)
			}
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("released private address %s allocated on network %q instead of %q", ip.Address, ip.Network, network))
		default:
			if err := a.api.ReleaseIP(ctx, app, ip.Address); err != nil {
				return fmt.Errorf("releasing public %s: %w", ip.Address, err)
			}
			result.PublicIPsReleased++
			a.logger.Warn().Str("app", app).Str("address", ip.Address).Msg("released public address")
		}
	}
	return nil
}

func (a *Auditor) removeCertificates(ctx context.Context, app string, result *Result) error {
	certs, err := a.api.ListCertificates(ctx, app)
	if err != nil {
		// Certificates are inert once no public address exists; a failed
		// listing degrades to a warning rather than blocking the audit.
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not list certificates: %v", err))
		return nil
	}
	for _, cert := range certs {
		if err := a.api.RemoveCertificate(ctx, app, cert.Hostname); err != nil {
			return fmt.Errorf("removing certificate for %s: %w", cert.Hostname, err)
		}
		result.CertificatesRemoved++
	}
	return nil
}

// inspectConfig scans the live merged configuration for patterns that only
// make sense for public exposure. The sweep already guarantees no public
// address exists, so these are warnings about inert configuration, not
// errors.
func (a *Auditor) inspectConfig(ctx context.Context, app string, result *Result) {
	cfg, err := a.api.GetConfig(ctx, app)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not inspect live config: %v", err))
		return
	}
	result.Warnings = append(result.Warnings, scanConfig(cfg)...)
}

// ensureAllocation guarantees exactly one private address exists on the
// target network after the audit.
func (a *Auditor) ensureAllocation(ctx context.Context, app, network string, result *Result) error {
	if len(result.FlycastAllocations) > 0 {
		return nil
	}
	ip, err := a.api.AllocateFlycast(ctx, app, network)
	if err != nil {
		return fmt.Errorf("allocating private address on %q: %w", network, err)
	}
	result.FlycastAllocations = append(result.FlycastAllocations, Allocation{
		Address: ip.Address,
		Network: network,
	})
	a.logger.Info().Str("app", app).Str("address", ip.Address).Msg("allocated private address")
	return nil
}

// scanConfig flags forced-HTTPS and TLS termination on the public HTTPS
// port in a merged runtime config.
func scanConfig(cfg cloud.Config) []string {
	var warnings []string

	if raw, ok := cfg["http_service"]; ok {
		var svc struct {
			ForceHTTPS bool `json:"force_https"`
		}
		if err := json.Unmarshal(raw, &svc); err == nil && svc.ForceHTTPS {
			warnings = append(warnings, "config forces HTTPS redirects; pointless without public exposure")
		}
	}

	if raw, ok := cfg["services"]; ok {
		var services []struct {
			Ports []struct {
				Port     int      `json:"port"`
				Handlers []string `json:"handlers"`
			} `json:"ports"`
		}
		if err := json.Unmarshal(raw, &services); err == nil {
			for _, svc := range services {
				for _, port := range svc.Ports {
					if port.Port != 443 {
						continue
					}
					for _, h := range port.Handlers {
						if h == "tls" {
							warnings = append(warnings,
								"config terminates TLS on port 443; pointless without public exposure")
						}
					}
				}
			}
		}
	}
	return warnings
}
