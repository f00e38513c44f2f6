package cloud

import "encoding/json"

// App is a cloud application. Router apps carry a fixed name prefix plus the
// network name and a short random suffix; workload apps are named
// <logical-name>-<routerID>.
type App struct {
	// Name is the globally unique app name.
	Name string `json:"name"`

	// Organization is the owning org slug.
	Organization string `json:"organization"`

	// Network is the private network the app is attached to.
	Network string `json:"network"`

	// Status is the platform's lifecycle summary (pending, deployed,
	// suspended).
	Status string `json:"status"`
}

// Machine is one VM backing an app.
type Machine struct {
	// ID is the machine identifier.
	ID string `json:"id"`

	// Name is the machine name.
	Name string `json:"name"`

	// State is the lifecycle state (created, starting, started, stopped,
	// destroyed).
	State string `json:"state"`

	// Region is the deployment region.
	Region string `json:"region"`

	// PrivateIP is the machine's 6PN address.
	PrivateIP string `json:"private_ip"`
}

// Started reports whether the machine is running.
func (m Machine) Started() bool {
	return m.State == "started"
}

// IPAddress is one address allocated to an app.
type IPAddress struct {
	// ID is the allocation identifier.
	ID string `json:"id"`

	// Address is the IP address.
	Address string `json:"address"`

	// Type is the allocation type: v4, v6, shared_v4, or private_v6
	// (flycast).
	Type string `json:"type"`

	// Network is the private network for flycast allocations; empty for
	// public addresses.
	Network string `json:"network"`

	// Region is the allocation region.
	Region string `json:"region"`
}

// Private reports whether the address is a private (flycast) allocation.
func (ip IPAddress) Private() bool {
	return ip.Type == "private_v6"
}

// Certificate is a platform-managed TLS certificate. A certificate only
// makes sense for public serving, so the deploy auditor removes them.
type Certificate struct {
	// ID is the certificate identifier.
	ID string `json:"id"`

	// Hostname is the certificate's domain.
	Hostname string `json:"hostname"`
}

// Secret is one staged or deployed app secret name (values are write-only).
type Secret struct {
	Name string `json:"name"`
}

// DeployRequest describes one deploy. Exactly one of Image, BuildDir, or
// ConfigPath drives the deploy source.
type DeployRequest struct {
	// App is the target app name.
	App string

	// Image deploys a prebuilt container image.
	Image string

	// BuildDir builds and deploys a local directory.
	BuildDir string

	// ConfigPath deploys from an explicit platform config file.
	ConfigPath string

	// Env is extra runtime environment for the deploy.
	Env map[string]string
}

// Config is the app's live merged runtime configuration as returned by the
// platform, kept raw so the auditor can scan substructures meshgate does not
// model.
type Config map[string]json.RawMessage
