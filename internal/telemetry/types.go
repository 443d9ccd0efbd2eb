// Package telemetry talks to the remote device/telemetry API and runs
// the poll loop that feeds the history buffer.
package telemetry

import (
	"math"
	"sort"
	"sync"
)

// Reading is one datapoint: a dynamic field map. Metadata fields
// (Timestamp, DeviceID, DeviceType) ride along with the numeric ones.
type Reading = map[string]any

// DeviceInfo is one entry from the device list. Field names follow the
// remote API's wire format.
type DeviceInfo struct {
	DeviceID   string     `json:"DeviceID"`
	Location   string     `json:"Location"`
	Coordinate [2]float64 `json:"Coordinate"` // [lat, lon]
}

// HasCoordinate reports whether the device carries a usable position.
func (d DeviceInfo) HasCoordinate() bool {
	for _, v := range d.Coordinate {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DeviceList is the device inventory plus per-device access grants,
// aligned by index.
type DeviceList struct {
	Items  []DeviceInfo
	Grants [][]string
}

// Directory is the in-memory view of the device list, refreshed from
// the remote API and read by the HTTP surface.
type Directory struct {
	mu     sync.RWMutex
	items  []DeviceInfo
	grants map[string][]string
}

func NewDirectory() *Directory {
	return &Directory{grants: make(map[string][]string)}
}

// Set replaces the directory contents.
func (d *Directory) Set(list DeviceList) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items = append([]DeviceInfo(nil), list.Items...)
	d.grants = make(map[string][]string, len(list.Items))
	for i, it := range list.Items {
		var g []string
		if i < len(list.Grants) {
			g = append(g, list.Grants[i]...)
		}
		d.grants[it.DeviceID] = g
	}
}

// Items returns a copy of the device list.
func (d *Directory) Items() []DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]DeviceInfo(nil), d.items...)
}

// GrantsFor returns the access grants of one device.
func (d *Directory) GrantsFor(deviceID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.grants[deviceID]...)
}

// Latest holds the most recent poll result, keyed by device type (or
// namespaced "{deviceId}_{deviceType}" in multi-device views).
type Latest struct {
	mu sync.RWMutex
	m  map[string]Reading
}

func NewLatest() *Latest {
	return &Latest{m: make(map[string]Reading)}
}

// Set replaces the latest reading map.
func (l *Latest) Set(readings map[string]Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m = make(map[string]Reading, len(readings))
	for k, v := range readings {
		l.m[k] = v
	}
}

// Keys returns the known reading keys in sorted order.
func (l *Latest) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.m))
	for k := range l.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns one reading.
func (l *Latest) Get(key string) (Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.m[key]
	return r, ok
}
