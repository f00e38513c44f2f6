package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/audit"
	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/policy"
	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

// CloudAPI is everything workflows need from the cloud app platform.
// *cloud.Client satisfies it; tests inject fakes.
type CloudAPI interface {
	ListApps(ctx context.Context) ([]cloud.App, error)
	AppExists(ctx context.Context, name string) (bool, error)
	CreateApp(ctx context.Context, name, network string) error
	DeleteApp(ctx context.Context, name string) error
	ListMachines(ctx context.Context, app string) ([]cloud.Machine, error)
	Deploy(ctx context.Context, req cloud.DeployRequest) error
	SetSecrets(ctx context.Context, app string, secrets map[string]string, staged bool) error
	ListIPs(ctx context.Context, app string) ([]cloud.IPAddress, error)
	ReleaseIP(ctx context.Context, app, address string) error
	AllocateFlycast(ctx context.Context, app, network string) (*cloud.IPAddress, error)
	ListCertificates(ctx context.Context, app string) ([]cloud.Certificate, error)
	RemoveCertificate(ctx context.Context, app, hostname string) error
	GetConfig(ctx context.Context, app string) (cloud.Config, error)
}

// MeshAPI is everything workflows need from the mesh control plane.
// *mesh.Client satisfies it.
type MeshAPI interface {
	CreateAuthKey(ctx context.Context, req mesh.AuthKeyRequest) (*mesh.AuthKey, error)
	ListDevices(ctx context.Context) ([]mesh.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*mesh.Device, error)
	DeleteDevice(ctx context.Context, deviceID string) error
	GetRoutes(ctx context.Context, deviceID string) (*mesh.Routes, error)
	ApproveRoutes(ctx context.Context, deviceID string, routes []string) error
	GetSplitDNS(ctx context.Context) (map[string][]string, error)
	SetSplitDNS(ctx context.Context, domain string, resolvers []string) error
	GetPolicy(ctx context.Context) (policy.Document, error)
	ValidatePolicy(ctx context.Context, doc policy.Document) error
	SetPolicy(ctx context.Context, doc policy.Document) error
}

// AuthKeySecret is the secret name router apps read their registration key
// from.
const AuthKeySecret = "MESH_AUTH_KEY"

// internalDomain is the suffix of per-network DNS domains.
const internalDomain = ".internal"

// Context is the mutable, invocation-scoped record a workflow runs
// against: provider handles, inputs, and facts accumulated by hydration and
// transitions. It is owned by exactly one invocation, never shared, and
// never persisted; every run rebuilds its facts from live state.
type Context struct {
	Cloud  CloudAPI
	Mesh   MeshAPI
	Logger zerolog.Logger

	// Inputs.

	// Network is the private network name.
	Network string

	// Tag is the mesh ACL tag applied to the network's router device.
	Tag string

	// RouterImage is the container image deployed as the router.
	RouterImage string

	// ApproveRoutes gates the route-approval stage and everything after
	// it; with it off, create-network ends once the router device is on
	// the mesh.
	ApproveRoutes bool

	// DeviceWaitTimeout and DevicePollInterval bound the await-device
	// poll loop. There is no other cancellation signal.
	DeviceWaitTimeout  time.Duration
	DevicePollInterval time.Duration

	// Observer, when set, is notified of every phase transition.
	Observer engine.TransitionObserver

	// Workload inputs, used by deploy-app and destroy-app.

	// AppName is the workload's logical name; its physical app name is
	// AppName suffixed with the network's router ID.
	AppName string

	// AppImage, AppBuildDir, and AppConfigPath select the deploy source.
	// Exactly one is expected.
	AppImage      string
	AppBuildDir   string
	AppConfigPath string

	// AppEnv is extra runtime environment for the workload.
	AppEnv map[string]string

	// Facts accumulated during hydration and transitions.

	// RouterApp is the discovered or created router app name.
	RouterApp string

	// RouterID is the router's short random suffix.
	RouterID string

	// Device is the router's mesh device, once known.
	Device *mesh.Device

	// Routes are the subnet routes the router advertises, once known.
	Routes []string

	// WorkloadApp is the workload's physical app name, once resolved.
	WorkloadApp string

	// Audit is the most recent deploy audit result.
	Audit *audit.Result
}

// NewContext builds a workflow context with defaults filled in.
func NewContext(cloudAPI CloudAPI, meshAPI MeshAPI, network string, logger zerolog.Logger) *Context {
	return &Context{
		Cloud:              cloudAPI,
		Mesh:               meshAPI,
		Logger:             logger,
		Network:            network,
		Tag:                "tag:mesh-" + network,
		ApproveRoutes:      true,
		DeviceWaitTimeout:  5 * time.Minute,
		DevicePollInterval: 5 * time.Second,
	}
}

// Domain is the split-DNS domain for the network.
func (c *Context) Domain() string {
	return c.Network + internalDomain
}

// newRouterID mints the short random suffix baked into router app names.
func newRouterID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
}

// acceptRule is the ACL rule granting tailnet members access to one of the
// network's advertised routes.
func acceptRule(route string) policy.ACLRule {
	return policy.ACLRule{
		Action: "accept",
		Src:    []string{"autogroup:member"},
		Dst:    []string{route + ":*"},
	}
}
