package resolver

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Inlet-1":        "inlet1",
		"inlet_1":        "inlet1",
		"Elec Meter":     "elecmeter",
		"TEMP(sensor)#2": "tempsensor2",
		"---":            "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveKeyExactBeatsFuzzy(t *testing.T) {
	keys := []string{"Temperature_Inner", "Temp"}

	// "Temp" is an exact member even though "Temperature_Inner" would
	// fuzzy-match first by order.
	got, ok := ResolveKey("Temp", keys)
	if !ok || got != "Temp" {
		t.Fatalf("ResolveKey(Temp) = %q, %v", got, ok)
	}
}

func TestResolveKeyFuzzyBothDirections(t *testing.T) {
	// Mesh name contains the key.
	got, ok := ResolveKey("Mesh_Inlet1_Body", []string{"Inlet-1"})
	if !ok || got != "Inlet-1" {
		t.Fatalf("mesh-contains-key: %q, %v", got, ok)
	}

	// Key contains the mesh name.
	got, ok = ResolveKey("Inlet", []string{"Inlet-1"})
	if !ok || got != "Inlet-1" {
		t.Fatalf("key-contains-mesh: %q, %v", got, ok)
	}

	if _, ok := ResolveKey("Chassis", []string{"Inlet-1", "Weather"}); ok {
		t.Fatal("unrelated mesh should not resolve")
	}
}

func TestResolveKeyDeterministic(t *testing.T) {
	keys := []string{"Inlet-1", "Inlet-2"}
	first, _ := ResolveKey("Inlet", keys)
	for i := 0; i < 10; i++ {
		if got, _ := ResolveKey("Inlet", keys); got != first {
			t.Fatalf("resolution not deterministic: %q vs %q", got, first)
		}
	}
	if first != "Inlet-1" {
		t.Errorf("key order should decide ties, got %q", first)
	}
}

func TestKeyMatchesGrant(t *testing.T) {
	cases := []struct {
		key, grant string
		want       bool
	}{
		{"Temp", "Temp", true},
		{"866597079361000_Temp", "Temp", true},
		{"866597079361000_Temp", "Hum", false},
		{"AttemptTemp", "Temp", false}, // no underscore boundary
	}
	for _, c := range cases {
		if got := KeyMatchesGrant(c.key, c.grant); got != c.want {
			t.Errorf("KeyMatchesGrant(%q, %q) = %v, want %v", c.key, c.grant, got, c.want)
		}
	}
}

func TestFilterKeysByGrants(t *testing.T) {
	keys := []string{"866597079361000_Temp", "863013070187264_Hum", "866597079361000_Volt"}

	got := FilterKeysByGrants(keys, []string{"Temp", "Hum"}, true)
	want := []string{"866597079361000_Temp", "863013070187264_Hum"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("multi-device: got %v, want %v", got, want)
	}

	got = FilterKeysByGrants([]string{"Temp", "Hum"}, []string{"Temp"}, false)
	if !reflect.DeepEqual(got, []string{"Temp"}) {
		t.Errorf("single-device: got %v", got)
	}

	// No grants means no restriction.
	got = FilterKeysByGrants(keys, nil, true)
	if !reflect.DeepEqual(got, keys) {
		t.Errorf("empty grants: got %v", got)
	}
}

func TestGateModes(t *testing.T) {
	detail := Gate{Mode: ModeDetail, AllowedKeys: []string{"Inlet-1", "Weather"}}
	if !detail.Allows("Mesh_Inlet1") {
		t.Error("detail mode should fuzzy-match")
	}
	if detail.Allows("Chassis") {
		t.Error("detail mode should drop unknown meshes")
	}

	multi := Gate{Mode: ModeMultiDevice, AllowedKeys: []string{"866597079361000"}}
	if !multi.Allows("866597079361000") {
		t.Error("multi-device mode should allow listed ids")
	}
	if multi.Allows("8665970793610") {
		t.Error("multi-device mode must match exactly, not fuzzily")
	}

	fixed := Gate{Mode: ModeFixed, AllowedKeys: []string{"East", "West"}}
	if !fixed.Allows("East") || fixed.Allows("east") {
		t.Error("fixed mode must match exactly")
	}
}

func TestSelectionToggle(t *testing.T) {
	var s Selection

	if got := s.Toggle("A", false); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("plain pick: %v", got)
	}
	// Plain pick replaces, never accumulates.
	if got := s.Toggle("B", false); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("plain pick replace: %v", got)
	}

	// Modifier pick toggles membership.
	if got := s.Toggle("C", true); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Fatalf("modifier add: %v", got)
	}
	if got := s.Toggle("B", true); !reflect.DeepEqual(got, []string{"C"}) {
		t.Fatalf("modifier remove: %v", got)
	}

	s.Clear()
	if got := s.Current(); len(got) != 0 {
		t.Fatalf("clear: %v", got)
	}
}
