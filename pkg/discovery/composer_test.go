package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

type fakeCloud struct {
	apps        []cloud.App
	machines    map[string][]cloud.Machine
	ips         map[string][]cloud.IPAddress
	machinesErr error
}

func (f *fakeCloud) ListApps(ctx context.Context) ([]cloud.App, error) {
	return f.apps, nil
}

func (f *fakeCloud) ListMachines(ctx context.Context, app string) ([]cloud.Machine, error) {
	if f.machinesErr != nil {
		return nil, f.machinesErr
	}
	return f.machines[app], nil
}

func (f *fakeCloud) ListIPs(ctx context.Context, app string) ([]cloud.IPAddress, error) {
	return f.ips[app], nil
}

type fakeMesh struct {
	devices []mesh.Device
	err     error
}

func (f *fakeMesh) ListDevices(ctx context.Context) ([]mesh.Device, error) {
	return f.devices, f.err
}

func TestNames(t *testing.T) {
	name := RouterName("my-lab-net", "ab12ef")
	if name != "mesh-router-my-lab-net-ab12ef" {
		t.Fatalf("RouterName() = %q", name)
	}

	network, routerID, ok := ParseRouter(name)
	if !ok || network != "my-lab-net" || routerID != "ab12ef" {
		t.Errorf("ParseRouter() = %q, %q, %v", network, routerID, ok)
	}

	if _, _, ok := ParseRouter("lab-web-ab12ef"); ok {
		t.Error("ParseRouter() accepted a workload name")
	}

	logical, ok := ParseWorkload(WorkloadName("lab-web", "ab12ef"), "ab12ef")
	if !ok || logical != "lab-web" {
		t.Errorf("ParseWorkload() = %q, %v", logical, ok)
	}
}

func TestRouterComposesAllFacets(t *testing.T) {
	fc := &fakeCloud{
		apps: []cloud.App{
			{Name: "lab-web-ab12ef", Network: "lab"},
			{Name: "mesh-router-lab-ab12ef", Network: "lab", Status: "deployed"},
		},
		machines: map[string][]cloud.Machine{
			"mesh-router-lab-ab12ef": {{ID: "m1", State: "started", PrivateIP: "fdaa::3"}},
		},
	}
	fm := &fakeMesh{devices: []mesh.Device{
		{ID: "d1", Hostname: "mesh-router-lab-ab12ef", Online: true, Addresses: []string{"100.100.1.1"}},
	}}

	view, err := NewComposer(fc, fm, zerolog.Nop()).Router(context.Background(), "lab")
	if err != nil {
		t.Fatalf("Router() error = %v", err)
	}
	if view == nil {
		t.Fatal("Router() = nil for existing router")
	}
	if view.RouterID != "ab12ef" {
		t.Errorf("RouterID = %q", view.RouterID)
	}
	if !view.Started() {
		t.Error("Started() = false with a started machine")
	}
	if view.Device == nil || view.Device.ID != "d1" {
		t.Errorf("Device = %+v", view.Device)
	}
}

func TestRouterAbsenceIsNil(t *testing.T) {
	view, err := NewComposer(&fakeCloud{}, &fakeMesh{}, zerolog.Nop()).Router(context.Background(), "lab")
	if err != nil {
		t.Fatalf("Router() error = %v", err)
	}
	if view != nil {
		t.Errorf("Router() = %+v, want nil", view)
	}
}

func TestPartialViewOnFacetFailure(t *testing.T) {
	fc := &fakeCloud{
		apps:        []cloud.App{{Name: "mesh-router-lab-ab12ef", Network: "lab"}},
		machinesErr: errors.New("machines api down"),
	}
	fm := &fakeMesh{err: errors.New("mesh api down")}

	view, err := NewComposer(fc, fm, zerolog.Nop()).Router(context.Background(), "lab")
	if err != nil {
		t.Fatalf("Router() error = %v, partial views must not abort", err)
	}
	if view == nil {
		t.Fatal("Router() = nil")
	}
	if view.Machines != nil || view.Device != nil {
		t.Errorf("failed facets must be nil: machines=%v device=%v", view.Machines, view.Device)
	}
}

func TestRoutersFansOutAcrossNetworks(t *testing.T) {
	fc := &fakeCloud{
		apps: []cloud.App{
			{Name: "mesh-router-lab-ab12ef", Network: "lab"},
			{Name: "mesh-router-prod-99cc00", Network: "prod"},
			{Name: "plain-app", Network: "lab"},
		},
		machines: map[string][]cloud.Machine{
			"mesh-router-lab-ab12ef":  {{State: "started"}},
			"mesh-router-prod-99cc00": {{State: "stopped"}},
		},
	}

	views, err := NewComposer(fc, &fakeMesh{}, zerolog.Nop()).Routers(context.Background())
	if err != nil {
		t.Fatalf("Routers() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("Routers() = %d views, want 2", len(views))
	}
	if views[0].Network != "lab" || views[1].Network != "prod" {
		t.Errorf("views out of order: %q, %q", views[0].Network, views[1].Network)
	}
	if !views[0].Started() || views[1].Started() {
		t.Error("machine facets not filled during fan-out")
	}
}

func TestWorkloadsScopedToRouter(t *testing.T) {
	fc := &fakeCloud{
		apps: []cloud.App{
			{Name: "lab-web-ab12ef", Network: "lab"},
			{Name: "lab-web-99cc00", Network: "prod"}, // same logical name, other network
			{Name: "mesh-router-lab-ab12ef", Network: "lab"},
		},
		ips: map[string][]cloud.IPAddress{
			"lab-web-ab12ef": {
				{Address: "fdaa:0:1::5", Type: "private_v6", Network: "lab"},
				{Address: "1.2.3.4", Type: "v4"},
			},
		},
	}

	views, err := NewComposer(fc, &fakeMesh{}, zerolog.Nop()).Workloads(context.Background(), "lab", "ab12ef")
	if err != nil {
		t.Fatalf("Workloads() error = %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("Workloads() = %d views, want 1", len(views))
	}
	if views[0].LogicalName != "lab-web" {
		t.Errorf("LogicalName = %q", views[0].LogicalName)
	}
	if len(views[0].FlycastIPs) != 1 {
		t.Errorf("FlycastIPs = %v, want only the private allocation", views[0].FlycastIPs)
	}
}

func TestFindDeviceFallback(t *testing.T) {
	now := time.Now()
	devices := []mesh.Device{
		{ID: "stale", Hostname: "mesh-router-lab-ab12ef-1", Online: false, LastSeen: now.Add(-time.Hour)},
		{ID: "recent-offline", Hostname: "mesh-router-lab-ab12ef-2", Online: false, LastSeen: now},
		{ID: "other", Hostname: "mesh-router-prod-99cc00", Online: true, LastSeen: now},
	}

	// No exact match: prefix fallback prefers online, then most recent.
	got := FindDevice(devices, "mesh-router-lab-ab12ef")
	if got == nil || got.ID != "recent-offline" {
		t.Fatalf("FindDevice() = %+v, want most recently seen prefix match", got)
	}

	// An online prefix match beats a fresher offline one.
	devices = append(devices, mesh.Device{
		ID: "online", Hostname: "mesh-router-lab-ab12ef-3", Online: true, LastSeen: now.Add(-time.Minute),
	})
	got = FindDevice(devices, "mesh-router-lab-ab12ef")
	if got == nil || got.ID != "online" {
		t.Fatalf("FindDevice() = %+v, want online prefix match", got)
	}

	// Exact match always wins.
	devices = append(devices, mesh.Device{ID: "exact", Hostname: "mesh-router-lab-ab12ef"})
	got = FindDevice(devices, "mesh-router-lab-ab12ef")
	if got == nil || got.ID != "exact" {
		t.Fatalf("FindDevice() = %+v, want exact match", got)
	}

	if FindDevice(devices, "missing-host") != nil {
		t.Error("FindDevice() found a device for an unknown hostname")
	}
}
