package scene

import "github.com/go-gl/mathgl/mgl32"

// Viewport is the render target size in pixels.
type Viewport struct {
	Width  float32
	Height float32
}

// Camera is the minimal view/projection state the overlay engine needs.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3
	FOVDeg   float32
	Near     float32
	Far      float32
}

// NewCamera builds a camera from a pose with the default vertical FOV.
func NewCamera(p Pose) Camera {
	return Camera{
		Position: p.Position,
		Target:   p.Target,
		Up:       mgl32.Vec3{0, 1, 0},
		FOVDeg:   45,
		Near:     p.Near,
		Far:      p.Far,
	}
}

func (c Camera) viewProjection(vp Viewport) mgl32.Mat4 {
	aspect := float32(1)
	if vp.Height > 0 {
		aspect = vp.Width / vp.Height
	}
	view := mgl32.LookAtV(c.Position, c.Target, c.Up)
	proj := mgl32.Perspective(mgl32.DegToRad(c.FOVDeg), aspect, c.Near, c.Far)
	return proj.Mul4(view)
}

// ProjectToScreen maps a world point to pixel coordinates with the
// screen origin at the top left. ok is false for points behind or on
// the camera plane.
func (c Camera) ProjectToScreen(p mgl32.Vec3, vp Viewport) (x, y float32, ok bool) {
	clip := c.viewProjection(vp).Mul4x1(p.Vec4(1))
	w := clip.W()
	if w <= 0 {
		return 0, 0, false
	}
	ndcX := clip.X() / w
	ndcY := clip.Y() / w
	return (ndcX*0.5 + 0.5) * vp.Width, (-ndcY*0.5 + 0.5) * vp.Height, true
}

// Basis returns the camera's right and up vectors in world space.
func (c Camera) Basis() (right, up mgl32.Vec3) {
	forward := c.Target.Sub(c.Position).Normalize()
	right = forward.Cross(c.Up).Normalize()
	up = right.Cross(forward).Normalize()
	return right, up
}

// PixelsPerWorldUnit measures, at a world-space base point, how many
// screen pixels one world unit spans along the camera's right and up
// axes. Results are clamped away from zero so callers can divide.
func (c Camera) PixelsPerWorldUnit(base mgl32.Vec3, vp Viewport) (pxX, pxY float32) {
	const floor = 1e-3

	right, up := c.Basis()
	bx, by, ok := c.ProjectToScreen(base, vp)
	if !ok {
		return floor, floor
	}

	pxX, pxY = floor, floor
	if rx, ry, ok := c.ProjectToScreen(base.Add(right), vp); ok {
		d := mgl32.Vec2{rx - bx, ry - by}.Len()
		if d > floor {
			pxX = d
		}
	}
	if ux, uy, ok := c.ProjectToScreen(base.Add(up), vp); ok {
		d := mgl32.Vec2{ux - bx, uy - by}.Len()
		if d > floor {
			pxY = d
		}
	}
	return pxX, pxY
}

// WorldOffset converts a pixel delta at a base point into a world-space
// displacement along the camera's right and up axes. Screen y grows
// downward, so a positive dy moves against the up vector.
func (c Camera) WorldOffset(base mgl32.Vec3, dxPx, dyPx float32, vp Viewport) mgl32.Vec3 {
	right, up := c.Basis()
	pxX, pxY := c.PixelsPerWorldUnit(base, vp)
	return base.
		Add(right.Mul(dxPx / pxX)).
		Add(up.Mul(-dyPx / pxY))
}
