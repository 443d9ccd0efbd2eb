package overlay

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"gridsight/map-core/internal/scene"
)

func testCamera() (scene.Camera, scene.Viewport) {
	cam := scene.NewCamera(scene.Pose{
		Position: mgl32.Vec3{0, 0, 100},
		Target:   mgl32.Vec3{0, 0, 0},
		Near:     0.1,
		Far:      1000,
	})
	return cam, scene.Viewport{Width: 1280, Height: 720}
}

func TestBoxOverlaps(t *testing.T) {
	a := Box{0, 0, 10, 10}
	cases := []struct {
		b    Box
		want bool
	}{
		{Box{5, 5, 15, 15}, true},
		{Box{10, 0, 20, 10}, false}, // touching edges do not overlap
		{Box{11, 11, 20, 20}, false},
		{Box{-5, -5, 5, 5}, true},
	}
	for _, c := range cases {
		if got := a.Overlaps(c.b); got != c.want {
			t.Errorf("Overlaps(%+v) = %v, want %v", c.b, got, c.want)
		}
	}
}

func TestLayoutSeparatesCoincidentAnchors(t *testing.T) {
	cam, vp := testCamera()
	e := NewEngine()

	anchors := []Anchor{
		{MeshName: "Inlet-1", Center: mgl32.Vec3{0, 0, 0}, Radius: 1},
		{MeshName: "Inlet-2", Center: mgl32.Vec3{0, 0, 0}, Radius: 1},
	}
	panels := e.Layout(cam, vp, anchors, []string{"Inlet-1", "Inlet-2"})
	if len(panels) != 2 {
		t.Fatalf("placed %d panels, want 2", len(panels))
	}
	if panels[0].Screen.Overlaps(panels[1].Screen) {
		t.Errorf("panels overlap: %+v vs %+v", panels[0].Screen, panels[1].Screen)
	}
}

func TestLayoutResolvesKeysWithFallback(t *testing.T) {
	cam, vp := testCamera()
	e := NewEngine()

	anchors := []Anchor{
		{MeshName: "Mesh_Weather_Station", Center: mgl32.Vec3{0, 0, 0}, Radius: 1},
		{MeshName: "Unrelated", Center: mgl32.Vec3{5, 0, 0}, Radius: 1},
	}
	panels := e.Layout(cam, vp, anchors, []string{"Temp", "Weather"})
	if len(panels) != 2 {
		t.Fatalf("placed %d panels, want 2", len(panels))
	}
	if panels[0].Key != "Weather" {
		t.Errorf("resolved key = %q, want Weather", panels[0].Key)
	}
	if panels[1].Key != "Temp" {
		t.Errorf("fallback key = %q, want first key Temp", panels[1].Key)
	}
}

func TestLayoutWithoutKeysPlacesNothing(t *testing.T) {
	cam, vp := testCamera()
	e := NewEngine()
	panels := e.Layout(cam, vp, []Anchor{{MeshName: "A", Radius: 1}}, nil)
	if len(panels) != 0 {
		t.Fatalf("placed %d panels with no keys", len(panels))
	}
}

func TestDragOverrideWinsNextLayout(t *testing.T) {
	cam, vp := testCamera()
	e := NewEngine()

	anchors := []Anchor{{MeshName: "Weather", Center: mgl32.Vec3{0, 0, 0}, Radius: 1}}
	keys := []string{"Weather"}

	before := e.Layout(cam, vp, anchors, keys)
	if len(before) != 1 || before[0].Overridden {
		t.Fatalf("initial layout: %+v", before)
	}

	moved := e.Drag(cam, vp, "Weather", before[0].World, 120, 40)

	after := e.Layout(cam, vp, anchors, keys)
	if len(after) != 1 {
		t.Fatalf("layout after drag: %+v", after)
	}
	if !after[0].Overridden {
		t.Error("dragged panel lost its override")
	}
	if after[0].World != moved {
		t.Errorf("override position %v, want %v", after[0].World, moved)
	}
	if after[0].Screen == before[0].Screen {
		t.Error("drag did not move the panel on screen")
	}

	e.ClearOverrides()
	reset := e.Layout(cam, vp, anchors, keys)
	if reset[0].Overridden {
		t.Error("override survived ClearOverrides")
	}
}

func TestSpiralCapPlacesLastAttempt(t *testing.T) {
	cam, vp := testCamera()

	// Fill the neighborhood with enough boxes that no free slot exists
	// within the iteration cap.
	var placed []Box
	for x := float32(-2000); x <= 2000; x += boxWidth / 2 {
		for y := float32(-2000); y <= 2000; y += boxHeight / 2 {
			placed = append(placed, boxAt(x, y))
		}
	}

	_, _, visible := spiralPlace(cam, vp, mgl32.Vec3{0, 0, 0}, placed)
	if !visible {
		t.Fatal("exhausted spiral should still yield a placement")
	}
}
