package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/policy"
	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

// fakeCloud is an in-memory cloud platform. Every side-effecting call bumps
// mutations so idempotence tests can assert a re-run touched nothing.
type fakeCloud struct {
	apps     map[string]cloud.App
	machines map[string][]cloud.Machine
	ips      map[string][]cloud.IPAddress
	certs    map[string][]cloud.Certificate
	configs  map[string]cloud.Config
	secrets  map[string]map[string]string

	deploys   []cloud.DeployRequest
	mutations int

	// onDeploy lets a test simulate deploy side effects on the mesh side,
	// such as the router registering its device.
	onDeploy func(req cloud.DeployRequest)
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		apps:     map[string]cloud.App{},
		machines: map[string][]cloud.Machine{},
		ips:      map[string][]cloud.IPAddress{},
		certs:    map[string][]cloud.Certificate{},
		configs:  map[string]cloud.Config{},
		secrets:  map[string]map[string]string{},
	}
}

func (f *fakeCloud) ListApps(ctx context.Context) ([]cloud.App, error) {
	var out []cloud.App
	for _, app := range f.apps {
		out = append(out, app)
	}
	return out, nil
}

func (f *fakeCloud) AppExists(ctx context.Context, name string) (bool, error) {
	_, ok := f.apps[name]
	return ok, nil
}

func (f *fakeCloud) CreateApp(ctx context.Context, name, network string) error {
	f.mutations++
	f.apps[name] = cloud.App{Name: name, Network: network, Status: "pending"}
	return nil
}

func (f *fakeCloud) DeleteApp(ctx context.Context, name string) error {
	f.mutations++
	delete(f.apps, name)
	delete(f.machines, name)
	delete(f.ips, name)
	return nil
}

func (f *fakeCloud) ListMachines(ctx context.Context, app string) ([]cloud.Machine, error) {
	return f.machines[app], nil
}

func (f *fakeCloud) Deploy(ctx context.Context, req cloud.DeployRequest) error {
	f.mutations++
	f.deploys = append(f.deploys, req)
	f.machines[req.App] = []cloud.Machine{{ID: "m-" + req.App, State: "started"}}
	if app, ok := f.apps[req.App]; ok {
		app.Status = "deployed"
		f.apps[req.App] = app
	}
	if f.onDeploy != nil {
		f.onDeploy(req)
	}
	return nil
}

func (f *fakeCloud) SetSecrets(ctx context.Context, app string, secrets map[string]string, staged bool) error {
	f.mutations++
	if f.secrets[app] == nil {
		f.secrets[app] = map[string]string{}
	}
	for k, v := range secrets {
		f.secrets[app][k] = v
	}
	return nil
}

func (f *fakeCloud) ListIPs(ctx context.Context, app string) ([]cloud.IPAddress, error) {
	return f.ips[app], nil
}

func (f *fakeCloud) ReleaseIP(ctx context.Context, app, address string) error {
	f.mutations++
	var kept []cloud.IPAddress
	for _, ip := range f.ips[app] {
		if ip.Address != address {
			kept = append(kept, ip)
		}
	}
	f.ips[app] = kept
	return nil
}

func (f *fakeCloud) AllocateFlycast(ctx context.Context, app, network string) (*cloud.IPAddress, error) {
	f.mutations++
	ip := cloud.IPAddress{
		Address: fmt.Sprintf("fdaa:0:1::%d", len(f.ips[app])+1),
		Type:    "private_v6",
		Network: network,
	}
	f.ips[app] = append(f.ips[app], ip)
	return &ip, nil
}

func (f *fakeCloud) ListCertificates(ctx context.Context, app string) ([]cloud.Certificate, error) {
	return f.certs[app], nil
}

func (f *fakeCloud) RemoveCertificate(ctx context.Context, app, hostname string) error {
	f.mutations++
	var kept []cloud.Certificate
	for _, c := range f.certs[app] {
		if c.Hostname != hostname {
			kept = append(kept, c)
		}
	}
	f.certs[app] = kept
	return nil
}

func (f *fakeCloud) GetConfig(ctx context.Context, app string) (cloud.Config, error) {
	if cfg, ok := f.configs[app]; ok {
		return cfg, nil
	}
	return cloud.Config{}, nil
}

// fakeMesh is an in-memory mesh control plane.
type fakeMesh struct {
	devices []mesh.Device
	routes  map[string]*mesh.Routes
	dns     map[string][]string
	doc     policy.Document

	authKeys    []mesh.AuthKeyRequest
	mutations   int
	validateErr error
}

func newFakeMesh() *fakeMesh {
	return &fakeMesh{
		routes: map[string]*mesh.Routes{},
		dns:    map[string][]string{},
		doc:    policy.Document{},
	}
}

func (f *fakeMesh) CreateAuthKey(ctx context.Context, req mesh.AuthKeyRequest) (*mesh.AuthKey, error) {
	f.mutations++
	f.authKeys = append(f.authKeys, req)
	return &mesh.AuthKey{ID: fmt.Sprintf("key-%d", len(f.authKeys)), Key: "tskey-test"}, nil
}

func (f *fakeMesh) ListDevices(ctx context.Context) ([]mesh.Device, error) {
	return append([]mesh.Device(nil), f.devices...), nil
}

func (f *fakeMesh) GetDevice(ctx context.Context, deviceID string) (*mesh.Device, error) {
	for i := range f.devices {
		if f.devices[i].ID == deviceID {
			d := f.devices[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (f *fakeMesh) DeleteDevice(ctx context.Context, deviceID string) error {
	f.mutations++
	var kept []mesh.Device
	for _, d := range f.devices {
		if d.ID != deviceID {
			kept = append(kept, d)
		}
	}
	f.devices = kept
	return nil
}

func (f *fakeMesh) GetRoutes(ctx context.Context, deviceID string) (*mesh.Routes, error) {
	r, ok := f.routes[deviceID]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (f *fakeMesh) ApproveRoutes(ctx context.Context, deviceID string, routes []string) error {
	f.mutations++
	r := f.routes[deviceID]
	if r == nil {
		r = &mesh.Routes{}
		f.routes[deviceID] = r
	}
	r.Enabled = append([]string(nil), routes...)
	return nil
}

func (f *fakeMesh) GetSplitDNS(ctx context.Context) (map[string][]string, error) {
	out := map[string][]string{}
	for k, v := range f.dns {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

func (f *fakeMesh) SetSplitDNS(ctx context.Context, domain string, resolvers []string) error {
	f.mutations++
	if len(resolvers) == 0 {
		delete(f.dns, domain)
		return nil
	}
	f.dns[domain] = append([]string(nil), resolvers...)
	return nil
}

func (f *fakeMesh) GetPolicy(ctx context.Context) (policy.Document, error) {
	return f.doc, nil
}

func (f *fakeMesh) ValidatePolicy(ctx context.Context, doc policy.Document) error {
	return f.validateErr
}

func (f *fakeMesh) SetPolicy(ctx context.Context, doc policy.Document) error {
	f.mutations++
	f.doc = doc
	return nil
}

func mutations(fc *fakeCloud, fm *fakeMesh) int {
	return fc.mutations + fm.mutations
}

func newTestContext(fc *fakeCloud, fm *fakeMesh) *Context {
	wctx := NewContext(fc, fm, "lab", zerolog.Nop())
	wctx.RouterImage = "registry.test/mesh-router:latest"
	wctx.DeviceWaitTimeout = 250 * time.Millisecond
	wctx.DevicePollInterval = 5 * time.Millisecond
	return wctx
}

// routerRegisters makes a deploy of the router app register its mesh device
// with an advertised route, the way a real router image would.
func routerRegisters(fc *fakeCloud, fm *fakeMesh, route string) {
	fc.onDeploy = func(req cloud.DeployRequest) {
		id := "dev-" + req.App
		fm.devices = append(fm.devices, mesh.Device{
			ID:        id,
			Hostname:  req.App,
			Addresses: []string{"100.64.0.7"},
			Online:    true,
			LastSeen:  time.Now(),
		})
		fm.routes[id] = &mesh.Routes{Advertised: []string{route}}
	}
}

func mustParsePolicy(t *testing.T, raw string) policy.Document {
	t.Helper()
	doc, err := policy.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parsing policy fixture: %v", err)
	}
	return doc
}
