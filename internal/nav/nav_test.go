package nav

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"gridsight/map-core/internal/regions"
)

func strptr(s string) *string { return &s }

func TestResolveTransitionTable(t *testing.T) {
	cases := []struct {
		label string
		want  Transition
	}{
		{"Hong Kong", Transition{regions.HongKong, DrillRegion, false}},
		{"Macau", Transition{regions.Macau, DrillRegion, false}},
		{"BOCYH", Transition{regions.Macau, DrillDetail, false}},
		{"BOCDSS", Transition{regions.Macau, DrillDetail, false}},
		{"屯门区", Transition{regions.TuenMun, DrillDetail, true}},
		{"广东省", Transition{regions.GuangDong, DrillRegion, true}},
		{"广州市", Transition{regions.GuangZhou, DrillRegion, true}},
		{"南沙区", Transition{regions.Spray, DrillDetail, true}},
	}
	for _, c := range cases {
		got := Resolve(strptr(c.label), regions.World)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Resolve(%q) = %+v, want %+v", c.label, got, c.want)
		}
		// Table entries do not depend on the prior region.
		if got2 := Resolve(strptr(c.label), regions.Macau); !reflect.DeepEqual(got2, got) {
			t.Errorf("Resolve(%q) depends on prior region: %+v vs %+v", c.label, got2, got)
		}
	}
}

func TestResolveUnknownLabelKeepsRegion(t *testing.T) {
	got := Resolve(strptr("somewhere else"), regions.HongKong)
	want := Transition{regions.HongKong, DrillRegion, false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unknown label: got %+v, want %+v", got, want)
	}
}

func TestResolveNilResetsToWorld(t *testing.T) {
	got := Resolve(nil, regions.GuangZhou)
	want := Transition{regions.World, DrillWorld, false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nil label: got %+v, want %+v", got, want)
	}
}

func TestMachineDetailClearsModelLoaded(t *testing.T) {
	m := NewMachine(zerolog.Nop())

	st := m.Select(strptr("BOCYH"))
	if st.Drill != DrillDetail || st.ModelLoaded {
		t.Fatalf("entering detail: %+v", st)
	}
	if st.ModelFile != "1403.glb" {
		t.Errorf("ModelFile = %q, want 1403.glb", st.ModelFile)
	}

	st = m.MarkModelLoaded()
	if !st.ModelLoaded {
		t.Fatal("MarkModelLoaded did not set the flag")
	}

	// Switching to another detail view re-arms the gate.
	st = m.Select(strptr("BOCDSS"))
	if st.ModelLoaded {
		t.Fatal("model-loaded flag survived a detail switch")
	}
	if st.ModelFile != "CMA+.glb" {
		t.Errorf("ModelFile = %q, want CMA+.glb", st.ModelFile)
	}
}

func TestMachineModelLoadedIgnoredOutsideDetail(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	m.Select(strptr("Hong Kong"))
	if st := m.MarkModelLoaded(); st.ModelLoaded {
		t.Fatal("model-loaded flag set outside detail view")
	}
}

func TestMachineResetAndMeshes(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	m.Select(strptr("南沙区"))
	m.SetSelectedMeshes([]string{"East", "West"})

	st := m.State()
	if len(st.SelectedMeshes) != 2 {
		t.Fatalf("SelectedMeshes = %v", st.SelectedMeshes)
	}
	if st.ModelFile != "spray.glb" {
		t.Errorf("ModelFile = %q, want spray.glb", st.ModelFile)
	}

	st = m.Reset()
	if st.Region != regions.World || st.Drill != DrillWorld {
		t.Fatalf("reset: %+v", st)
	}
	if len(st.SelectedMeshes) != 0 {
		t.Errorf("reset kept mesh selection: %v", st.SelectedMeshes)
	}
	if st.BoundaryFile != "China.json" {
		t.Errorf("BoundaryFile = %q, want China.json", st.BoundaryFile)
	}
}

func TestStateReturnsCopies(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	m.Select(strptr("南沙区"))
	m.SetSelectedMeshes([]string{"East"})

	st := m.State()
	st.SelectedMeshes[0] = "mutated"
	if got := m.State().SelectedMeshes[0]; got != "East" {
		t.Errorf("internal mesh set mutated through snapshot: %q", got)
	}
}
