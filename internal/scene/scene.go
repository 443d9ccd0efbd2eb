// Package scene provides the camera math for the 3D map: content
// bounds, framing, screen projection, and pixel/world conversions.
package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min, Max mgl32.Vec3
}

// Center returns the box midpoint.
func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Sphere is a bounding sphere in world space.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// BoundsOf computes the AABB of a point set. ok is false for an empty
// set.
func BoundsOf(points []mgl32.Vec3) (AABB, bool) {
	if len(points) == 0 {
		return AABB{}, false
	}
	b := AABB{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < b.Min[i] {
				b.Min[i] = p[i]
			}
			if p[i] > b.Max[i] {
				b.Max[i] = p[i]
			}
		}
	}
	return b, true
}

// BoundingSphere returns the sphere enclosing the box: its center with
// half the diagonal as radius.
func (b AABB) BoundingSphere() Sphere {
	return Sphere{
		Center: b.Center(),
		Radius: b.Max.Sub(b.Min).Len() / 2,
	}
}

// Pose is a camera placement with its clip planes.
type Pose struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Near     float32
	Far      float32
}

// FrameContent places the camera above and behind a bounding sphere so
// the content fills the view: position = center + (0, 0.6r, 2.2r), clip
// planes scaled from the radius with floors for tiny content.
func FrameContent(s Sphere) Pose {
	r := s.Radius
	return Pose{
		Position: s.Center.Add(mgl32.Vec3{0, 0.6 * r, 2.2 * r}),
		Target:   s.Center,
		Near:     max32(0.1, r/100),
		Far:      max32(1000, r*100),
	}
}

// Framer implements the two-phase framing protocol: content mounting
// records the points, the next frame tick measures and frames them.
// Framing off the frame callback keeps measurement after the content's
// transforms have settled.
type Framer struct {
	pending bool
	points  []mgl32.Vec3
}

// ContentMounted arms the framer with freshly mounted content.
func (f *Framer) ContentMounted(points []mgl32.Vec3) {
	f.points = append(f.points[:0], points...)
	f.pending = true
}

// Pending reports whether a framing pass is queued.
func (f *Framer) Pending() bool { return f.pending }

// FrameTick consumes the pending latch and returns the framing pose.
// ok is false when nothing is pending or the content was empty.
func (f *Framer) FrameTick() (Pose, bool) {
	if !f.pending {
		return Pose{}, false
	}
	f.pending = false
	b, ok := BoundsOf(f.points)
	if !ok {
		return Pose{}, false
	}
	return FrameContent(b.BoundingSphere()), true
}

// InitialPose is a saved orbit-camera placement: a position plus the
// orbit radius and angles that locate the target.
type InitialPose struct {
	Position mgl32.Vec3
	Radius   float32
	AlphaDeg float32
	BetaDeg  float32
}

// Pose converts the orbit parameters into a camera pose. The target
// sits radius away from the position along the alpha/beta direction.
func (ip InitialPose) Pose() Pose {
	alpha := float64(mgl32.DegToRad(ip.AlphaDeg))
	beta := float64(mgl32.DegToRad(ip.BetaDeg))
	offset := mgl32.Vec3{
		float32(math.Cos(alpha) * math.Sin(beta)),
		float32(math.Cos(beta)),
		float32(math.Sin(alpha) * math.Sin(beta)),
	}.Mul(ip.Radius)
	return Pose{
		Position: ip.Position,
		Target:   ip.Position.Sub(offset),
		Near:     max32(0.1, ip.Radius/100),
		Far:      max32(1000, ip.Radius*100),
	}
}

// PoseInitializer restores a saved pose exactly once per scene
// lifetime. Later camera movement must not be clobbered by re-applies.
type PoseInitializer struct {
	initial InitialPose
	applied bool
}

func NewPoseInitializer(initial InitialPose) *PoseInitializer {
	return &PoseInitializer{initial: initial}
}

// Apply returns the saved pose on the first call only.
func (pi *PoseInitializer) Apply() (Pose, bool) {
	if pi.applied {
		return Pose{}, false
	}
	pi.applied = true
	return pi.initial.Pose(), true
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
