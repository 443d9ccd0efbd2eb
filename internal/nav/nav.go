// Package nav holds the drill-down navigation state of the map: which
// region is shown, how deep the view is, and which meshes are selected.
package nav

import (
	"sync"

	"github.com/rs/zerolog"

	"gridsight/map-core/internal/regions"
)

// Drill is the depth of the current view.
type Drill string

const (
	DrillWorld  Drill = "world"
	DrillRegion Drill = "region"
	DrillDetail Drill = "detail"
)

// Transition is the outcome of selecting a boundary or site label.
type Transition struct {
	Region      string
	Drill       Drill
	MultiSelect bool
}

// transitions is the label transition table. Labels absent from the
// table keep the current region at region depth with multi-select off.
var transitions = map[string]Transition{
	"Hong Kong": {Region: regions.HongKong, Drill: DrillRegion, MultiSelect: false},
	"Macau":     {Region: regions.Macau, Drill: DrillRegion, MultiSelect: false},
	"BOCYH":     {Region: regions.Macau, Drill: DrillDetail, MultiSelect: false},
	"BOCDSS":    {Region: regions.Macau, Drill: DrillDetail, MultiSelect: false},
	"屯门区":       {Region: regions.TuenMun, Drill: DrillDetail, MultiSelect: true},
	"广东省":       {Region: regions.GuangDong, Drill: DrillRegion, MultiSelect: true},
	"广州市":       {Region: regions.GuangZhou, Drill: DrillRegion, MultiSelect: true},
	"南沙区":       {Region: regions.Spray, Drill: DrillDetail, MultiSelect: true},
}

// detailModels maps detail-view labels to their model assets.
var detailModels = map[string]string{
	"BOCYH":  "1403.glb",
	"BOCDSS": "CMA+.glb",
	"屯门区":    "NCCO.glb",
	"南沙区":    "spray.glb",
}

// Resolve computes the transition for a label without touching any
// state. A nil label resets to the world view. Unknown labels keep the
// current region.
func Resolve(label *string, currentRegion string) Transition {
	if label == nil {
		return Transition{Region: regions.World, Drill: DrillWorld, MultiSelect: false}
	}
	if t, ok := transitions[*label]; ok {
		return t
	}
	return Transition{Region: currentRegion, Drill: DrillRegion, MultiSelect: false}
}

// ModelFileFor returns the model asset for a detail label, if any.
func ModelFileFor(label string) (string, bool) {
	f, ok := detailModels[label]
	return f, ok
}

// State is a snapshot of the navigation machine. SelectedMeshes is a
// copy; callers own it.
type State struct {
	Region         string
	Drill          Drill
	SelectedLabel  string
	MultiSelect    bool
	BoundaryFile   string
	ModelFile      string
	ModelLoaded    bool
	SelectedMeshes []string
}

// Machine serializes navigation transitions. Entering a detail view
// clears the model-loaded flag until a ModelLoaded event arrives; the
// flag gates the metrics panel downstream.
type Machine struct {
	log zerolog.Logger

	mu     sync.Mutex
	region string
	drill  Drill
	label  string
	multi  bool
	loaded bool
	meshes []string
}

func NewMachine(log zerolog.Logger) *Machine {
	return &Machine{
		log:    log,
		region: regions.World,
		drill:  DrillWorld,
	}
}

// Select applies a label transition and returns the resulting state.
func (m *Machine) Select(label *string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := Resolve(label, m.region)
	wasDetail := m.drill == DrillDetail

	m.region = t.Region
	m.drill = t.Drill
	m.multi = t.MultiSelect
	if label == nil {
		m.label = ""
	} else {
		m.label = *label
	}

	if t.Drill == DrillDetail {
		if !wasDetail || m.label != "" {
			m.loaded = false
		}
	} else {
		m.loaded = false
	}
	m.meshes = nil

	m.log.Info().
		Str("label", m.label).
		Str("region", m.region).
		Str("drill", string(m.drill)).
		Bool("multi_select", m.multi).
		Msg("nav_transition")

	return m.stateLocked()
}

// Reset returns the machine to the world view.
func (m *Machine) Reset() State {
	return m.Select(nil)
}

// MarkModelLoaded records that the detail model finished loading. It is
// a no-op outside detail views.
func (m *Machine) MarkModelLoaded() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drill == DrillDetail {
		m.loaded = true
	}
	return m.stateLocked()
}

// SetSelectedMeshes replaces the selected-mesh set.
func (m *Machine) SetSelectedMeshes(names []string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meshes = append([]string(nil), names...)
	return m.stateLocked()
}

// State returns a snapshot of the current navigation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() State {
	model := ""
	if m.drill == DrillDetail {
		if f, ok := ModelFileFor(m.label); ok {
			model = f
		}
	}
	return State{
		Region:         m.region,
		Drill:          m.drill,
		SelectedLabel:  m.label,
		MultiSelect:    m.multi,
		BoundaryFile:   regions.BoundaryFileFor(m.region),
		ModelFile:      model,
		ModelLoaded:    m.loaded,
		SelectedMeshes: append([]string(nil), m.meshes...),
	}
}
