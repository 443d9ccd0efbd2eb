package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"gridsight/map-core/internal/history"
	"gridsight/map-core/internal/metrics"
	"gridsight/map-core/internal/nav"
	"gridsight/map-core/internal/overlay"
	"gridsight/map-core/internal/regions"
	"gridsight/map-core/internal/resolver"
	"gridsight/map-core/internal/scene"
	"gridsight/map-core/internal/spatial"
	"gridsight/map-core/internal/telemetry"
)

// sprayMeshes is the fixed selectable-mesh list of the spray-site
// detail view.
var sprayMeshes = []string{
	"East", "West", "South", "North",
	"Inlet1", "Inlet2", "Inlet3", "Inlet4",
	"Weather", "Elec_Meter",
}

type Handler struct {
	log       zerolog.Logger
	metrics   *metrics.Metrics
	nav       *nav.Machine
	registry  *regions.Registry
	history   *history.Store
	directory *telemetry.Directory
	latest    *telemetry.Latest
	selection *resolver.Selection
	overlay   *overlay.Engine

	sceneMu  sync.Mutex
	poseInit *scene.PoseInitializer

	multiDeviceIDs []string
	onNavChange    func(nav.State)
	readyCheck     func(ctx context.Context) error
}

type Options struct {
	Metrics   *metrics.Metrics
	Nav       *nav.Machine
	Registry  *regions.Registry
	History   *history.Store
	Directory *telemetry.Directory
	Latest    *telemetry.Latest

	// MultiDeviceIDs gate mesh picks in the flat multi-device view.
	MultiDeviceIDs []string
	// OnNavChange fires after every applied navigation transition, so
	// the poll supervisor can retarget.
	OnNavChange func(nav.State)
	// ReadyCheck, when set, backs /readyz (e.g. a session-store ping).
	ReadyCheck func(ctx context.Context) error
}

func NewHandler(log zerolog.Logger, opts Options) *Handler {
	return &Handler{
		log:            log,
		metrics:        opts.Metrics,
		nav:            opts.Nav,
		registry:       opts.Registry,
		history:        opts.History,
		directory:      opts.Directory,
		latest:         opts.Latest,
		selection:      &resolver.Selection{},
		overlay:        overlay.NewEngine(),
		poseInit:       scene.NewPoseInitializer(savedOrbitPose),
		multiDeviceIDs: opts.MultiDeviceIDs,
		onNavChange:    opts.OnNavChange,
		readyCheck:     opts.ReadyCheck,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		// Health
		r.Get("/healthz", h.handleHealthz)
		r.Get("/readyz", h.handleReadyZ)

		// Metrics
		r.Handle("/metrics", h.metrics.Handler())

		// API
		r.Route("/api", func(r chi.Router) {
			r.Route("/v1", func(r chi.Router) {
				r.Route("/map", func(r chi.Router) {
					r.Get("/state", h.handleMapState)
					r.Post("/select", h.handleMapSelect)
					r.Post("/model-loaded", h.handleModelLoaded)
				})

				r.Route("/regions/{region}", func(r chi.Router) {
					r.Get("/boundaries", h.handleRegionBoundaries)
					r.Get("/shapes", h.handleRegionShapes)
					r.Get("/devices", h.handleRegionDevices)
				})

				r.Route("/scene", func(r chi.Router) {
					r.Post("/frame", h.handleSceneFrame)
					r.Post("/initial-pose", h.handleSceneInitialPose)
				})

				r.Route("/overlay", func(r chi.Router) {
					r.Post("/layout", h.handleOverlayLayout)
					r.Post("/drag", h.handleOverlayDrag)
				})

				r.Post("/mesh/select", h.handleMeshSelect)

				r.Route("/history", func(r chi.Router) {
					r.Get("/", h.handleHistory)
					r.Get("/{deviceType}", h.handleHistoryEntry)
				})
			})
		})
	})

	// The live feed holds its connection open, so it stays out of the
	// timeout group.
	r.Get("/api/v1/live", h.handleLive)

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		h.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), duration)
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.readyCheck != nil {
		if err := h.readyCheck(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "not_ready", "dependency not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type navState struct {
	Region         string   `json:"region"`
	Drill          string   `json:"drill"`
	SelectedLabel  *string  `json:"selected_label"`
	MultiSelect    bool     `json:"multi_select"`
	BoundaryFile   string   `json:"boundary_file"`
	ModelFile      string   `json:"model_file,omitempty"`
	ModelLoaded    bool     `json:"model_loaded"`
	SelectedMeshes []string `json:"selected_meshes"`
}

func toNavState(st nav.State) navState {
	var label *string
	if st.SelectedLabel != "" {
		label = &st.SelectedLabel
	}
	meshes := st.SelectedMeshes
	if meshes == nil {
		meshes = []string{}
	}
	return navState{
		Region:         st.Region,
		Drill:          string(st.Drill),
		SelectedLabel:  label,
		MultiSelect:    st.MultiSelect,
		BoundaryFile:   st.BoundaryFile,
		ModelFile:      st.ModelFile,
		ModelLoaded:    st.ModelLoaded,
		SelectedMeshes: meshes,
	}
}

func (h *Handler) handleMapState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toNavState(h.nav.State()))
}

type mapSelectRequest struct {
	Label *string `json:"label"`
}

func (h *Handler) handleMapSelect(w http.ResponseWriter, r *http.Request) {
	var req mapSelectRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	st := h.nav.Select(req.Label)
	h.selection.Clear()
	h.overlay.ClearOverrides()
	h.sceneMu.Lock()
	h.poseInit = scene.NewPoseInitializer(savedOrbitPose)
	h.sceneMu.Unlock()
	if h.onNavChange != nil {
		h.onNavChange(st)
	}

	h.writeJSON(w, http.StatusOK, toNavState(st))
}

func (h *Handler) handleModelLoaded(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toNavState(h.nav.MarkModelLoaded()))
}

func (h *Handler) handleRegionBoundaries(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")

	fc, err := h.registry.Load(r.Context(), region)
	if err != nil {
		h.metrics.IncBoundaryLoadFailure()
		h.log.Error().Err(err).Str("region", region).Msg("boundary load failed")
		h.writeError(w, http.StatusServiceUnavailable, "boundary_unavailable", "failed to load boundary data", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, fc)
}

func (h *Handler) handleRegionDevices(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")

	fc, err := h.registry.Load(r.Context(), region)
	if err != nil {
		h.metrics.IncBoundaryLoadFailure()
		h.log.Error().Err(err).Str("region", region).Msg("boundary load failed")
		h.writeError(w, http.StatusServiceUnavailable, "boundary_unavailable", "failed to load boundary data", nil)
		return
	}

	devices := spatial.FilterDevices(h.log, h.directory.Items(), fc, region)
	if devices == nil {
		devices = []telemetry.DeviceInfo{}
	}
	h.writeJSON(w, http.StatusOK, devices)
}

type meshSelectRequest struct {
	MeshName string `json:"mesh_name"`
	Multi    bool   `json:"multi"`
}

type meshSelectResponse struct {
	Accepted  bool     `json:"accepted"`
	Key       string   `json:"key,omitempty"`
	Selection []string `json:"selection"`
}

func (h *Handler) handleMeshSelect(w http.ResponseWriter, r *http.Request) {
	var req meshSelectRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.MeshName == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "mesh_name is required", nil)
		return
	}

	st := h.nav.State()
	gate := h.gateFor(st)

	// Unknown meshes are dropped silently: the pick is ignored, not an
	// error, so stray clicks on scenery do nothing.
	if !gate.Allows(req.MeshName) {
		h.writeJSON(w, http.StatusOK, meshSelectResponse{
			Accepted:  false,
			Selection: h.selection.Current(),
		})
		return
	}

	key := req.MeshName
	if gate.Mode == resolver.ModeDetail {
		if resolved, ok := resolver.ResolveKey(req.MeshName, gate.AllowedKeys); ok {
			key = resolved
		}
	}

	selected := h.selection.Toggle(key, req.Multi && st.MultiSelect)
	h.nav.SetSelectedMeshes(selected)

	h.writeJSON(w, http.StatusOK, meshSelectResponse{
		Accepted:  true,
		Key:       key,
		Selection: selected,
	})
}

// gateFor builds the mesh gate for the current view: the flat
// multi-device view allows its fixed device-id list, the spray site its
// fixed mesh list, and every other view resolves against the
// grant-filtered telemetry keys.
func (h *Handler) gateFor(st nav.State) resolver.Gate {
	switch st.SelectedLabel {
	case "屯门区":
		return resolver.Gate{Mode: resolver.ModeMultiDevice, AllowedKeys: h.multiDeviceIDs}
	case "南沙区":
		return resolver.Gate{Mode: resolver.ModeFixed, AllowedKeys: sprayMeshes}
	}

	keys := h.latest.Keys()
	grants := h.primaryGrants()
	return resolver.Gate{
		Mode:        resolver.ModeDetail,
		AllowedKeys: resolver.FilterKeysByGrants(keys, grants, st.MultiSelect),
	}
}

// primaryGrants returns the access grants of the primary device, the
// first entry of the directory.
func (h *Handler) primaryGrants() []string {
	items := h.directory.Items()
	if len(items) == 0 {
		return nil
	}
	return h.directory.GrantsFor(items[0].DeviceID)
}

type historyResponse struct {
	Version uint64           `json:"version"`
	Entries history.Snapshot `json:"entries"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, historyResponse{
		Version: h.history.Version(),
		Entries: h.history.Snapshot(),
	})
}

func (h *Handler) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	deviceType := chi.URLParam(r, "deviceType")

	entry, ok := h.history.Entry(deviceType)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "no history for device type", map[string]any{"device_type": deviceType})
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}
