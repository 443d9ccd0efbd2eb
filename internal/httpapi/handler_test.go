package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gridsight/map-core/internal/history"
	"gridsight/map-core/internal/metrics"
	"gridsight/map-core/internal/nav"
	"gridsight/map-core/internal/regions"
	"gridsight/map-core/internal/telemetry"
)

const worldFixture = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Hong Kong SAR"},
     "geometry": {"type": "Polygon", "coordinates": [[[113.8,22.1],[114.5,22.1],[114.5,22.6],[113.8,22.6],[113.8,22.1]]]}}
  ]
}`

type testEnv struct {
	handler   *Handler
	server    *httptest.Server
	nav       *nav.Machine
	history   *history.Store
	directory *telemetry.Directory
	latest    *telemetry.Latest
	navEvents atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "China.json"), []byte(worldFixture), 0o644); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		nav:       nav.NewMachine(zerolog.Nop()),
		history:   history.New(zerolog.Nop(), history.Options{Interval: time.Minute}),
		directory: telemetry.NewDirectory(),
		latest:    telemetry.NewLatest(),
	}

	env.handler = NewHandler(zerolog.Nop(), Options{
		Metrics:        metrics.New(),
		Nav:            env.nav,
		Registry:       regions.NewRegistry(zerolog.Nop(), regions.RegistryOptions{AssetRoot: dir}),
		History:        env.history,
		Directory:      env.directory,
		Latest:         env.latest,
		MultiDeviceIDs: []string{"866597079361000", "863013070187264"},
		OnNavChange:    func(nav.State) { env.navEvents.Add(1) },
	})
	env.server = httptest.NewServer(env.handler.Router())
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthzAndReadyZ(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, "/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz without check: %d", resp.StatusCode)
	}
}

func TestMapStateDefault(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/map/state", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["region"] != "World" || body["drill"] != "world" {
		t.Errorf("default state: %v", body)
	}
	if body["boundary_file"] != "China.json" {
		t.Errorf("boundary_file = %v", body["boundary_file"])
	}
}

func TestMapSelectTransition(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "BOCYH"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["region"] != "Macau" || body["drill"] != "detail" {
		t.Errorf("transition: %v", body)
	}
	if body["model_file"] != "1403.glb" || body["model_loaded"] != false {
		t.Errorf("model state: %v", body)
	}
	if n := env.navEvents.Load(); n != 1 {
		t.Errorf("nav change callback fired %d times", n)
	}

	// Null label resets to world.
	_, body = env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": null}`)
	if body["region"] != "World" || body["drill"] != "world" {
		t.Errorf("reset: %v", body)
	}
}

func TestMapSelectRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "Macau", "extra": 1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	if body["error"] == nil {
		t.Error("missing error envelope")
	}
}

func TestModelLoaded(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "BOCDSS"}`)

	_, body := env.do(t, http.MethodPost, "/api/v1/map/model-loaded", "")
	if body["model_loaded"] != true {
		t.Errorf("model_loaded: %v", body)
	}
}

func TestRegionBoundaries(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/regions/World/boundaries", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	feats, ok := body["features"].([]any)
	if !ok || len(feats) != 1 {
		t.Errorf("features: %v", body["features"])
	}
}

func TestRegionDevices(t *testing.T) {
	env := newTestEnv(t)
	env.directory.Set(telemetry.DeviceList{
		Items: []telemetry.DeviceInfo{
			{DeviceID: "in", Coordinate: [2]float64{22.3, 114.17}},
			{DeviceID: "out", Coordinate: [2]float64{39.9, 116.4}},
		},
	})

	resp, err := env.server.Client().Get(env.server.URL + "/api/v1/regions/Hong%20Kong/devices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var devices []telemetry.DeviceInfo
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].DeviceID != "in" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestMeshSelectDetailMode(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "BOCYH"}`)
	env.latest.Set(map[string]telemetry.Reading{
		"Inlet-1": {"Temp": 1.0},
		"Weather": {"Temp": 2.0},
	})

	// Fuzzy resolution accepts the mesh and records the resolved key.
	resp, body := env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "Mesh_Inlet1_Body", "multi": false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["accepted"] != true || body["key"] != "Inlet-1" {
		t.Errorf("mesh select: %v", body)
	}

	// The selection lands in the navigation state.
	_, state := env.do(t, http.MethodGet, "/api/v1/map/state", "")
	meshes, _ := state["selected_meshes"].([]any)
	if len(meshes) != 1 || meshes[0] != "Inlet-1" {
		t.Errorf("selected_meshes: %v", state["selected_meshes"])
	}

	// Unknown meshes are dropped without an error.
	_, body = env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "Chassis", "multi": false}`)
	if body["accepted"] != false {
		t.Errorf("scenery click: %v", body)
	}
}

func TestMeshSelectSprayFixedList(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "南沙区"}`)

	_, body := env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "East", "multi": true}`)
	if body["accepted"] != true {
		t.Fatalf("East rejected: %v", body)
	}
	_, body = env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "Weather", "multi": true}`)
	sel, _ := body["selection"].([]any)
	if len(sel) != 2 {
		t.Errorf("multi toggle: %v", body)
	}

	// Toggling an existing member removes it.
	_, body = env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "East", "multi": true}`)
	sel, _ = body["selection"].([]any)
	if len(sel) != 1 || sel[0] != "Weather" {
		t.Errorf("toggle off: %v", body)
	}

	// The fixed list matches exactly.
	_, body = env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "east", "multi": true}`)
	if body["accepted"] != false {
		t.Errorf("case-mismatched mesh accepted: %v", body)
	}
}

func TestMeshSelectMultiDeviceMode(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "屯门区"}`)

	_, body := env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "866597079361000", "multi": false}`)
	if body["accepted"] != true {
		t.Fatalf("listed device rejected: %v", body)
	}
	_, body = env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "999", "multi": false}`)
	if body["accepted"] != false {
		t.Errorf("unlisted device accepted: %v", body)
	}
}

func TestNavChangeClearsSelection(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "南沙区"}`)
	env.do(t, http.MethodPost, "/api/v1/mesh/select", `{"mesh_name": "East", "multi": true}`)

	env.do(t, http.MethodPost, "/api/v1/map/select", `{"label": "Macau"}`)
	_, state := env.do(t, http.MethodGet, "/api/v1/map/state", "")
	meshes, _ := state["selected_meshes"].([]any)
	if len(meshes) != 0 {
		t.Errorf("selection survived navigation: %v", meshes)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.history.AppendTick(context.Background(), time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		map[string]map[string]any{"AHU": {"Temp": 21.0}})

	resp, body := env.do(t, http.MethodGet, "/api/v1/history", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["version"].(float64) != 1 {
		t.Errorf("version: %v", body["version"])
	}
	entries, _ := body["entries"].(map[string]any)
	if _, ok := entries["AHU"]; !ok {
		t.Errorf("entries: %v", entries)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/history/AHU", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("entry status %d", resp.StatusCode)
	}
	if _, ok := body["timestamps"]; !ok {
		t.Errorf("entry body: %v", body)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/history/Nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing entry status %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}
