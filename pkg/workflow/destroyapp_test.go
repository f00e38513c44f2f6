package workflow

import (
	"context"
	"testing"

	"github.com/meshgate/meshgate/pkg/engine"
)

func TestDestroyAppHydration(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fc *fakeCloud, fm *fakeMesh)
		want  engine.Phase
	}{
		{
			name: "workload exists",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
				seedWorkloadApp(fc, true, true)
			},
			want: PhaseDestroyWorkload,
		},
		{
			name: "workload already gone",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedRouterApp(fc, true)
			},
			want: PhaseComplete,
		},
		{
			name: "router gone workload matched by prefix",
			setup: func(fc *fakeCloud, fm *fakeMesh) {
				seedWorkloadApp(fc, true, true)
			},
			want: PhaseDestroyWorkload,
		},
		{
			name:  "nothing at all",
			setup: func(fc *fakeCloud, fm *fakeMesh) {},
			want:  PhaseComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, fm := newFakeCloud(), newFakeMesh()
			tt.setup(fc, fm)

			got, err := NewDestroyApp(newWorkloadContext(fc, fm)).Hydrate(context.Background())
			if err != nil {
				t.Fatalf("Hydrate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Hydrate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDestroyAppFull(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	seedRouterApp(fc, true)
	seedWorkloadApp(fc, true, true)

	if err := NewDestroyApp(newWorkloadContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := fc.apps[testWorkloadApp]; ok {
		t.Error("workload app not deleted")
	}
	if _, ok := fc.apps[testRouterApp]; !ok {
		t.Error("router app was deleted by destroy-app")
	}
}

func TestDestroyAppIdempotent(t *testing.T) {
	fc, fm := newFakeCloud(), newFakeMesh()
	seedRouterApp(fc, true)
	seedWorkloadApp(fc, true, true)

	if err := NewDestroyApp(newWorkloadContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := mutations(fc, fm)

	if err := NewDestroyApp(newWorkloadContext(fc, fm)).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if after := mutations(fc, fm); after != before {
		t.Errorf("second run performed %d side-effecting calls", after-before)
	}
}
