package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

// seedProvisionedNetwork stands up the fake state create-network leaves
// behind, alongside pre-existing operator-managed policy entries that
// teardown must not touch.
func seedProvisionedNetwork(t *testing.T, fc *fakeCloud, fm *fakeMesh) {
	t.Helper()
	seedRouterApp(fc, true)
	seedRouterDevice(fm, true)
	fm.dns["lab.internal"] = []string{"100.64.0.7"}
	fm.doc = mustParsePolicy(t, `{
		"groups": {"group:eng": ["alice@example.com"]},
		"tagOwners": {
			"tag:mesh-lab": ["autogroup:admin"],
			"tag:prod": ["group:eng"]
		},
		"autoApprovers": {"routes": {
			"10.0.0.0/24": ["tag:mesh-lab"],
			"192.168.0.0/16": ["tag:prod"]
		}},
		"acls": [
			{"action": "accept", "src": ["group:eng"], "dst": ["tag:prod:*"]},
			{"action": "accept", "src": ["autogroup:member"], "dst": ["10.0.0.0/24:*"]}
		]
	}`)
}

// seedSiblingNetwork stands up network lab-2, whose name extends the test
// network's. Teardown of lab must never touch it.
func seedSiblingNetwork(fc *fakeCloud, fm *fakeMesh) {
	const siblingApp = "mesh-router-lab-2-def456"
	fc.apps[siblingApp] = cloud.App{Name: siblingApp, Network: "lab-2", Status: "deployed"}
	fc.machines[siblingApp] = []cloud.Machine{{ID: "m2", State: "started"}}
	fm.devices = append(fm.devices, mesh.Device{
		ID:        "dev-2",
		Hostname:  siblingApp,
		Addresses: []string{"100.64.0.9"},
		Online:    true,
		LastSeen:  time.Now(),
	})
	fm.dns["lab-2.internal"] = []string{"100.64.0.9"}
}

func TestDestroyNetworkHydration(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fc *fakeCloud, fm *fakeMesh)
		want  engine.Phase
	}{
		{
			name:  "nothing to tear down",
			setup: func(fc *fakeCloud, fm *fakeMesh) {},
			want:  PhaseComplete,
		},
		{
			name: "fully provisioned",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedProvisionedNetwork(t, fc, fm)
			},
			want: PhaseClearDNS,
		},
		{
			name: "dns cleared device remains",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
				seedRouterDevice(fm, false)
			},
			want: PhaseRemoveDevice,
		},
		{
			name: "only the app remains",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, false)
			},
			want: PhaseDestroyApp,
		},
		{
			name: "orphaned device without app",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterDevice(fm, false)
			},
			want: PhaseRemoveDevice,
		},
		{
			name: "orphaned dns entry",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				fm.dns["lab.internal"] = []string{"100.64.0.7"}
			},
			want: PhaseClearDNS,
		},
		{
			name:  "only a sibling network remains",
			setup: seedSiblingNetwork,
			want:  PhaseComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, fm := newFakeCloud(), newFakeMesh()
			tt.setup(fc, fm)

			got, err := NewDestroyNetwork(newTestContext(fc, fm)).Hydrate(context.Background())
			if err != nil {
				t.Fatalf("Hydrate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Hydrate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDestroyNetworkFull(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	seedProvisionedNetwork(t, fc, fm)

	if err := NewDestroyNetwork(newTestContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fm.dns) != 0 {
		t.Errorf("split DNS not cleared: %v", fm.dns)
	}
	if len(fm.devices) != 0 {
		t.Errorf("device not removed: %v", fm.devices)
	}
	if _, ok := fc.apps[testRouterApp]; ok {
		t.Error("router app not deleted")
	}

	owners, err := fm.doc.TagOwners()
	if err != nil {
		t.Fatalf("TagOwners: %v", err)
	}
	if _, ok := owners["tag:mesh-lab"]; ok {
		t.Error("tag owner entry survived teardown")
	}
	if _, ok := owners["tag:prod"]; !ok {
		t.Error("unrelated tag owner entry was removed")
	}

	approvers, err := fm.doc.AutoApproverRoutes()
	if err != nil {
		t.Fatalf("AutoApproverRoutes: %v", err)
	}
	if _, ok := approvers[testRoute]; ok {
		t.Error("auto approver entry survived teardown")
	}
	if _, ok := approvers["192.168.0.0/16"]; !ok {
		t.Error("unrelated auto approver entry was removed")
	}

	rules, err := fm.doc.ACLs()
	if err != nil {
		t.Fatalf("ACLs: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("acls = %d rules, want only the operator rule", len(rules))
	}
	var kept struct {
		Dst []string `json:"dst"`
	}
	if err := json.Unmarshal(rules[0], &kept); err != nil {
		t.Fatalf("decoding kept rule: %v", err)
	}
	if len(kept.Dst) != 1 || kept.Dst[0] != "tag:prod:*" {
		t.Errorf("wrong rule survived: %v", kept.Dst)
	}

	if _, ok := fm.doc["groups"]; !ok {
		t.Error("unknown top-level key dropped by teardown")
	}
}

func TestDestroyNetworkLeavesSiblingNetworkAlone(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	seedSiblingNetwork(fc, fm)

	if err := NewDestroyNetwork(newTestContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := mutations(fc, fm); got != 0 {
		t.Errorf("destroying lab performed %d side-effecting calls against lab-2", got)
	}
	if len(fm.devices) != 1 || fm.devices[0].ID != "dev-2" {
		t.Errorf("sibling network's device removed: %v", fm.devices)
	}
	if _, ok := fc.apps["mesh-router-lab-2-def456"]; !ok {
		t.Error("sibling network's router app deleted")
	}
	if len(fm.dns["lab-2.internal"]) == 0 {
		t.Error("sibling network's DNS entry cleared")
	}
}

func TestDestroyNetworkIdempotent(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	seedProvisionedNetwork(t, fc, fm)

	if err := NewDestroyNetwork(newTestContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := mutations(fc, fm)

	if err := NewDestroyNetwork(newTestContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if after := mutations(fc, fm); after != before {
		t.Errorf("second run performed %d side-effecting calls", after-before)
	}
}
