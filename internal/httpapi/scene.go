package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-gl/mathgl/mgl32"

	"gridsight/map-core/internal/geo"
	"gridsight/map-core/internal/overlay"
	"gridsight/map-core/internal/regions"
	"gridsight/map-core/internal/scene"
)

// savedOrbitPose is the dashboard's stored camera placement, restored
// once per detail-scene lifetime.
var savedOrbitPose = scene.InitialPose{
	Position: mgl32.Vec3{33.4, -202.9, 447.9},
	Radius:   494.5,
	AlphaDeg: 1.0,
	BetaDeg:  116.2,
}

type vec3 [3]float32

func (v vec3) vec() mgl32.Vec3 { return mgl32.Vec3{v[0], v[1], v[2]} }

func fromVec3(v mgl32.Vec3) vec3 { return vec3{v.X(), v.Y(), v.Z()} }

type cameraPayload struct {
	Position vec3    `json:"position"`
	Target   vec3    `json:"target"`
	FOVDeg   float32 `json:"fov_deg,omitempty"`
	Near     float32 `json:"near,omitempty"`
	Far      float32 `json:"far,omitempty"`
}

type viewportPayload struct {
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

func (p cameraPayload) camera() scene.Camera {
	cam := scene.Camera{
		Position: p.Position.vec(),
		Target:   p.Target.vec(),
		Up:       mgl32.Vec3{0, 1, 0},
		FOVDeg:   p.FOVDeg,
		Near:     p.Near,
		Far:      p.Far,
	}
	if cam.FOVDeg == 0 {
		cam.FOVDeg = 45
	}
	if cam.Near == 0 {
		cam.Near = 0.1
	}
	if cam.Far == 0 {
		cam.Far = 10000
	}
	return cam
}

func (p viewportPayload) viewport() scene.Viewport {
	return scene.Viewport{Width: p.Width, Height: p.Height}
}

type poseResponse struct {
	Position vec3    `json:"position"`
	Target   vec3    `json:"target"`
	Near     float32 `json:"near"`
	Far      float32 `json:"far"`
}

func toPoseResponse(p scene.Pose) poseResponse {
	return poseResponse{
		Position: fromVec3(p.Position),
		Target:   fromVec3(p.Target),
		Near:     p.Near,
		Far:      p.Far,
	}
}

type featureShapesResponse struct {
	Name     string         `json:"name"`
	Anchor   *[2]float64    `json:"anchor,omitempty"`
	Outlines [][][2]float64 `json:"outlines"`
}

// handleRegionShapes serves the projected extrusion outlines for every
// feature of a region, plus the label anchor per feature.
func (h *Handler) handleRegionShapes(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")

	fc, err := h.registry.Load(r.Context(), region)
	if err != nil {
		h.metrics.IncBoundaryLoadFailure()
		h.log.Error().Err(err).Str("region", region).Msg("boundary load failed")
		h.writeError(w, http.StatusServiceUnavailable, "boundary_unavailable", "failed to load boundary data", nil)
		return
	}

	out := make([]featureShapesResponse, 0, len(fc.Features))
	for _, f := range regions.FilterFeatures(fc, region) {
		shapes := geo.FeatureShapes(f)
		if len(shapes) == 0 {
			continue
		}

		resp := featureShapesResponse{
			Name:     regions.FeatureName(f),
			Outlines: make([][][2]float64, 0, len(shapes)),
		}
		for _, s := range shapes {
			outline := make([][2]float64, 0, len(s.Points))
			for _, p := range s.Points {
				outline = append(outline, [2]float64{p[0], p[1]})
			}
			resp.Outlines = append(resp.Outlines, outline)
		}
		if x, y, ok := geo.LabelAnchor(shapes); ok {
			resp.Anchor = &[2]float64{x, y}
		}
		out = append(out, resp)
	}

	h.writeJSON(w, http.StatusOK, out)
}

type sceneFrameRequest struct {
	Points []vec3 `json:"points"`
}

func (h *Handler) handleSceneFrame(w http.ResponseWriter, r *http.Request) {
	var req sceneFrameRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if len(req.Points) == 0 {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "points are required", nil)
		return
	}

	pts := make([]mgl32.Vec3, 0, len(req.Points))
	for _, p := range req.Points {
		pts = append(pts, p.vec())
	}

	b, _ := scene.BoundsOf(pts)
	h.writeJSON(w, http.StatusOK, toPoseResponse(scene.FrameContent(b.BoundingSphere())))
}

type initialPoseResponse struct {
	Applied bool          `json:"applied"`
	Pose    *poseResponse `json:"pose,omitempty"`
}

// handleSceneInitialPose hands out the saved orbit pose once per scene
// lifetime; navigation changes re-arm it.
func (h *Handler) handleSceneInitialPose(w http.ResponseWriter, r *http.Request) {
	h.sceneMu.Lock()
	pose, ok := h.poseInit.Apply()
	h.sceneMu.Unlock()

	resp := initialPoseResponse{Applied: ok}
	if ok {
		p := toPoseResponse(pose)
		resp.Pose = &p
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type overlayAnchorPayload struct {
	MeshName string  `json:"mesh_name"`
	Center   vec3    `json:"center"`
	Radius   float32 `json:"radius"`
}

type overlayLayoutRequest struct {
	Camera   cameraPayload          `json:"camera"`
	Viewport viewportPayload        `json:"viewport"`
	Anchors  []overlayAnchorPayload `json:"anchors"`
}

type panelResponse struct {
	Key        string  `json:"key"`
	World      vec3    `json:"world"`
	MinX       float32 `json:"min_x"`
	MinY       float32 `json:"min_y"`
	MaxX       float32 `json:"max_x"`
	MaxY       float32 `json:"max_y"`
	Overridden bool    `json:"overridden"`
}

func (h *Handler) handleOverlayLayout(w http.ResponseWriter, r *http.Request) {
	var req overlayLayoutRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	anchors := make([]overlay.Anchor, 0, len(req.Anchors))
	for _, a := range req.Anchors {
		anchors = append(anchors, overlay.Anchor{
			MeshName: a.MeshName,
			Center:   a.Center.vec(),
			Radius:   a.Radius,
		})
	}

	keys := h.gateFor(h.nav.State()).AllowedKeys
	panels := h.overlay.Layout(req.Camera.camera(), req.Viewport.viewport(), anchors, keys)

	out := make([]panelResponse, 0, len(panels))
	for _, p := range panels {
		out = append(out, panelResponse{
			Key:        p.Key,
			World:      fromVec3(p.World),
			MinX:       p.Screen.MinX,
			MinY:       p.Screen.MinY,
			MaxX:       p.Screen.MaxX,
			MaxY:       p.Screen.MaxY,
			Overridden: p.Overridden,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

type overlayDragRequest struct {
	Camera   cameraPayload   `json:"camera"`
	Viewport viewportPayload `json:"viewport"`
	Key      string          `json:"key"`
	Current  vec3            `json:"current"`
	DxPx     float32         `json:"dx_px"`
	DyPx     float32         `json:"dy_px"`
}

func (h *Handler) handleOverlayDrag(w http.ResponseWriter, r *http.Request) {
	var req overlayDragRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Key == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "key is required", nil)
		return
	}

	world := h.overlay.Drag(req.Camera.camera(), req.Viewport.viewport(), req.Key, req.Current.vec(), req.DxPx, req.DyPx)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"key":   req.Key,
		"world": fromVec3(world),
	})
}
