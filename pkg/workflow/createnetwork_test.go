package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

const (
	testRouterApp = "mesh-router-lab-abc123"
	testRoute     = "10.0.0.0/24"
)

func seedRouterApp(fc *fakeCloud, started bool) {
	fc.apps[testRouterApp] = cloud.App{Name: testRouterApp, Network: "lab", Status: "deployed"}
	state := "stopped"
	if started {
		state = "started"
	}
	fc.machines[testRouterApp] = []cloud.Machine{{ID: "m1", State: state}}
}

func seedRouterDevice(fm *fakeMesh, approved bool) {
	fm.devices = append(fm.devices, mesh.Device{
		ID:        "dev-1",
		Hostname:  testRouterApp,
		Addresses: []string{"100.64.0.7"},
		Online:    true,
		LastSeen:  time.Now(),
	})
	routes := &mesh.Routes{Advertised: []string{testRoute}}
	if approved {
		routes.Enabled = []string{testRoute}
	}
	fm.routes["dev-1"] = routes
}

func TestCreateNetworkFull(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	routerRegisters(fc, fm, testRoute)
	wctx := newTestContext(fc, fm)

	var reached []engine.Phase
	wctx.Observer = func(from, to engine.Phase) { reached = append(reached, to) }

	if err := NewCreateNetwork(wctx).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reached) == 0 || reached[len(reached)-1] != PhaseComplete {
		t.Fatalf("workflow did not reach %s, saw %v", PhaseComplete, reached)
	}

	if !strings.HasPrefix(wctx.RouterApp, "mesh-router-lab-") {
		t.Errorf("router app name = %q, want mesh-router-lab- prefix", wctx.RouterApp)
	}
	app, ok := fc.apps[wctx.RouterApp]
	if !ok || app.Network != "lab" {
		t.Errorf("router app not created on network lab: %+v", app)
	}
	if got := fc.secrets[wctx.RouterApp][AuthKeySecret]; got != "tskey-test" {
		t.Errorf("auth key secret = %q", got)
	}
	if len(fm.authKeys) != 1 || !fm.authKeys[0].Preauthorized {
		t.Errorf("auth key request = %+v, want one preauthorized key", fm.authKeys)
	}
	if got := fm.authKeys[0].Tags; len(got) != 1 || got[0] != "tag:mesh-lab" {
		t.Errorf("auth key tags = %v", got)
	}

	deviceRoutes := fm.routes["dev-"+wctx.RouterApp]
	if deviceRoutes == nil || len(deviceRoutes.Enabled) != 1 || deviceRoutes.Enabled[0] != testRoute {
		t.Errorf("routes not approved: %+v", deviceRoutes)
	}
	if got := fm.dns["lab.internal"]; len(got) != 1 || got[0] != "100.64.0.7" {
		t.Errorf("split DNS = %v", got)
	}

	owners, err := fm.doc.TagOwners()
	if err != nil {
		t.Fatalf("TagOwners: %v", err)
	}
	if _, ok := owners["tag:mesh-lab"]; !ok {
		t.Errorf("tag owner entry missing: %v", owners)
	}
	approvers, err := fm.doc.AutoApproverRoutes()
	if err != nil {
		t.Fatalf("AutoApproverRoutes: %v", err)
	}
	if _, ok := approvers[testRoute]; !ok {
		t.Errorf("auto approver entry missing: %v", approvers)
	}
	rules, err := fm.doc.ACLs()
	if err != nil {
		t.Fatalf("ACLs: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("acls = %d rules, want 1", len(rules))
	}
}

func TestCreateNetworkIdempotent(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	routerRegisters(fc, fm, testRoute)

	if err := NewCreateNetwork(newTestContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := mutations(fc, fm)

	if err := NewCreateNetwork(newTestContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if after := mutations(fc, fm); after != before {
		t.Errorf("second run performed %d side-effecting calls", after-before)
	}
}

func TestCreateNetworkHydration(t *testing.T) {
	tests := []struct {
		name          string
		approveRoutes bool
		setup         func(fc *fakeCloud, fm *fakeMesh)
		want          engine.Phase
	}{
		{
			name:          "no router app",
			approveRoutes: true,
			setup:         func(fc *fakeCloud, fm *fakeMesh) {},
			want:          PhaseCreateApp,
		},
		{
			name:          "app exists machine not started",
			approveRoutes: true,
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, false)
			},
			want: PhaseDeployRouter,
		},
		{
			name:          "machine started but no device",
			approveRoutes: true,
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
			},
			want: PhaseAwaitDevice,
		},
		{
			name:          "device present approvals disabled",
			approveRoutes: false,
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
				seedRouterDevice(fm, false)
			},
			want: PhaseComplete,
		},
		{
			name:          "routes not yet approved",
			approveRoutes: true,
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
				seedRouterDevice(fm, false)
			},
			want: PhaseApproveRoutes,
		},
		{
			name:          "dns not configured",
			approveRoutes: true,
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
				seedRouterDevice(fm, true)
			},
			want: PhaseConfigureDNS,
		},
		{
			name:          "acl rule missing",
			approveRoutes: true,
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
				seedRouterDevice(fm, true)
				fm.dns["lab.internal"] = []string{"100.64.0.7"}
			},
			want: PhaseAcceptRoutes,
		},
		{
			name:          "everything satisfied",
			approveRoutes: true,
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
				seedRouterDevice(fm, true)
				fm.dns["lab.internal"] = []string{"100.64.0.7"}
				fm.doc = mustParsePolicy(t, `{
					"tagOwners": {"tag:mesh-lab": ["autogroup:admin"]},
					"autoApprovers": {"routes": {"10.0.0.0/24": ["tag:mesh-lab"]}},
					"acls": [{"action": "accept", "src": ["autogroup:member"], "dst": ["10.0.0.0/24:*"]}]
				}`)
			},
			want: PhaseComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, fm := newFakeCloud(), newFakeMesh()
			tt.setup(fc, fm)
			wctx := newTestContext(fc, fm)
			wctx.ApproveRoutes = tt.approveRoutes

			got, err := NewCreateNetwork(wctx).Hydrate(context.Background())
			if err != nil {
				t.Fatalf("Hydrate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Hydrate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCreateNetworkSkipsApprovalStages(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	routerRegisters(fc, fm, testRoute)
	wctx := newTestContext(fc, fm)
	wctx.ApproveRoutes = false

	if err := NewCreateNetwork(wctx).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if routes := fm.routes["dev-"+wctx.RouterApp]; routes == nil || len(routes.Enabled) != 0 {
		t.Errorf("routes were approved despite the flag: %+v", routes)
	}
	if len(fm.dns) != 0 {
		t.Errorf("split DNS was configured despite the flag: %v", fm.dns)
	}
	rules, err := fm.doc.ACLs()
	if err != nil {
		t.Fatalf("ACLs: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("acl rules were added despite the flag: %v", rules)
	}
}

func TestCreateNetworkDeviceTimeout(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	wctx := newTestContext(fc, fm)
	wctx.DeviceWaitTimeout = 30 * time.Millisecond

	err := NewCreateNetwork(wctx).Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded without a device ever appearing")
	}
	if !engine.IsTimeout(err) {
		t.Errorf("error class = %s, want timeout: %v", engine.ClassOf(err), err)
	}
	var engErr *engine.Error
	if !errors.As(err, &engErr) || engErr.Code != engine.ErrCodeDeviceTimeout {
		t.Errorf("error code = %v, want %s", err, engine.ErrCodeDeviceTimeout)
	}
	if engine.HintOf(err) == "" {
		t.Error("timeout error carries no hint")
	}
}
