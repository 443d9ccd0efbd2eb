// Package overlay places the floating metric panels next to their
// meshes in screen space without letting them pile on top of each
// other.
package overlay

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"gridsight/map-core/internal/resolver"
	"gridsight/map-core/internal/scene"
)

// Panel box size and spiral step sizes, in pixels.
const (
	boxWidth      = 200
	boxHeight     = 140
	stepX         = 24
	stepY         = 18
	maxIterations = 50
)

// anchorLift raises the anchor above the mesh by a fraction of its
// bounding-sphere radius so panels float over, not on, the geometry.
const anchorLift = 0.9

// Box is a screen-space AABB.
type Box struct {
	MinX, MinY, MaxX, MaxY float32
}

// Overlaps reports whether two boxes intersect.
func (b Box) Overlaps(o Box) bool {
	return b.MinX < o.MaxX && b.MaxX > o.MinX && b.MinY < o.MaxY && b.MaxY > o.MinY
}

func boxAt(cx, cy float32) Box {
	return Box{
		MinX: cx - boxWidth/2,
		MinY: cy - boxHeight/2,
		MaxX: cx + boxWidth/2,
		MaxY: cy + boxHeight/2,
	}
}

// Anchor is a mesh the layout should hang a panel off.
type Anchor struct {
	MeshName string
	Center   mgl32.Vec3
	Radius   float32
}

// Panel is a placed overlay box.
type Panel struct {
	Key        string
	World      mgl32.Vec3
	Screen     Box
	Overridden bool
}

// Engine lays out panels each pass and remembers drag overrides for
// the lifetime of a detail view.
type Engine struct {
	mu        sync.Mutex
	overrides map[string]mgl32.Vec3
}

func NewEngine() *Engine {
	return &Engine{overrides: make(map[string]mgl32.Vec3)}
}

// Layout places one panel per anchor. Anchors resolve to telemetry keys
// first; unresolvable anchors fall back to the first key so a panel is
// always shown when any data exists. Placement walks a zig-zag spiral
// from the projected anchor until the box stops overlapping already
// placed ones, up to a fixed iteration cap; a full spiral with no free
// slot places the panel at the last attempted offset. Dragged panels
// keep their world-space override and skip the search.
func (e *Engine) Layout(cam scene.Camera, vp scene.Viewport, anchors []Anchor, keys []string) []Panel {
	if len(keys) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	panels := make([]Panel, 0, len(anchors))
	placed := make([]Box, 0, len(anchors))

	for _, a := range anchors {
		key, ok := resolver.ResolveKey(a.MeshName, keys)
		if !ok {
			key = keys[0]
		}

		base := a.Center.Add(mgl32.Vec3{0, anchorLift * a.Radius, 0})

		if world, ok := e.overrides[key]; ok {
			x, y, ok := cam.ProjectToScreen(world, vp)
			if !ok {
				continue
			}
			box := boxAt(x, y)
			panels = append(panels, Panel{Key: key, World: world, Screen: box, Overridden: true})
			placed = append(placed, box)
			continue
		}

		world, box, visible := spiralPlace(cam, vp, base, placed)
		if !visible {
			continue
		}
		panels = append(panels, Panel{Key: key, World: world, Screen: box})
		placed = append(placed, box)
	}

	return panels
}

func spiralPlace(cam scene.Camera, vp scene.Viewport, base mgl32.Vec3, placed []Box) (mgl32.Vec3, Box, bool) {
	var dx, dy float32
	var world mgl32.Vec3
	var box Box
	visible := false

	for i := 0; i < maxIterations; i++ {
		world = cam.WorldOffset(base, dx, dy, vp)
		x, y, ok := cam.ProjectToScreen(world, vp)
		if !ok {
			return mgl32.Vec3{}, Box{}, false
		}
		box = boxAt(x, y)
		visible = true

		if !overlapsAny(box, placed) {
			return world, box, true
		}

		// Alternate left/right with a growing stride, drop a row every
		// fourth step.
		k := i + 1
		sign := float32(1)
		if k%2 == 0 {
			sign = -1
		}
		dx = sign * float32((k+1)/2) * stepX
		if k%4 == 0 {
			dy += stepY
		}
	}

	// Spiral exhausted: keep the last slot rather than dropping the
	// panel.
	return world, box, visible
}

func overlapsAny(b Box, placed []Box) bool {
	for _, p := range placed {
		if b.Overlaps(p) {
			return true
		}
	}
	return false
}

// Drag moves a panel by a pixel delta and pins it there in world space.
// The new position is derived from the camera's right/up axes so the
// panel follows the pointer regardless of zoom.
func (e *Engine) Drag(cam scene.Camera, vp scene.Viewport, key string, current mgl32.Vec3, dxPx, dyPx float32) mgl32.Vec3 {
	next := cam.WorldOffset(current, dxPx, dyPx, vp)
	e.mu.Lock()
	e.overrides[key] = next
	e.mu.Unlock()
	return next
}

// ClearOverrides forgets every drag override, typically on leaving the
// detail view.
func (e *Engine) ClearOverrides() {
	e.mu.Lock()
	e.overrides = make(map[string]mgl32.Vec3)
	e.mu.Unlock()
}
