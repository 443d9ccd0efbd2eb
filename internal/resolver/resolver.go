// Package resolver matches 3D mesh names against telemetry keys and
// gates which meshes are selectable in each view mode.
package resolver

import (
	"strings"
	"sync"
)

// Normalize lowercases a name and strips everything that is not a
// letter or digit, so "Inlet-1" and "inlet_1" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveKey maps a mesh name to a telemetry key. An exact member test
// wins; otherwise the first key whose normalized form is a substring of
// the normalized mesh name, or vice versa, is chosen. Key order decides
// fuzzy ties, so resolution is deterministic for a fixed key list.
func ResolveKey(meshName string, keys []string) (string, bool) {
	for _, k := range keys {
		if k == meshName {
			return k, true
		}
	}

	n := Normalize(meshName)
	if n == "" {
		return "", false
	}
	for _, k := range keys {
		nk := Normalize(k)
		if nk == "" {
			continue
		}
		if strings.Contains(n, nk) || strings.Contains(nk, n) {
			return k, true
		}
	}
	return "", false
}

// KeyMatchesGrant reports whether a telemetry key is covered by an
// access grant. Multi-device keys are namespaced "{deviceId}_{Type}"
// and match a bare type grant by suffix.
func KeyMatchesGrant(key, grant string) bool {
	return key == grant || strings.HasSuffix(key, "_"+grant)
}

// FilterKeysByGrants keeps the keys an access-grant list allows. An
// empty grant list allows everything. In multi-device views the keys
// are namespaced, so grants match by suffix.
func FilterKeysByGrants(keys, grants []string, multiDevice bool) []string {
	if len(grants) == 0 {
		return append([]string(nil), keys...)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, g := range grants {
			if multiDevice && KeyMatchesGrant(k, g) {
				out = append(out, k)
				break
			}
			if !multiDevice && k == g {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// Mode controls which meshes a view treats as selectable.
type Mode int

const (
	// ModeDetail gates meshes by exact-then-fuzzy resolution against
	// the allowed device-type list.
	ModeDetail Mode = iota
	// ModeMultiDevice gates meshes by exact membership in a fixed
	// device-id list.
	ModeMultiDevice
	// ModeFixed gates meshes by exact membership in a fixed mesh-name
	// allow list.
	ModeFixed
)

// Gate decides whether a mesh is selectable.
type Gate struct {
	Mode        Mode
	AllowedKeys []string
}

// Allows reports whether a mesh may be selected. Unknown meshes are
// dropped silently; the caller does not surface an error.
func (g Gate) Allows(meshName string) bool {
	switch g.Mode {
	case ModeMultiDevice, ModeFixed:
		for _, k := range g.AllowedKeys {
			if k == meshName {
				return true
			}
		}
		return false
	default:
		_, ok := ResolveKey(meshName, g.AllowedKeys)
		return ok
	}
}

// Selection is the selected-mesh set. A plain pick replaces the set
// with a single element; a modifier-held pick toggles membership.
type Selection struct {
	mu    sync.Mutex
	items []string
}

// Toggle applies one pick and returns the resulting set.
func (s *Selection) Toggle(name string, multi bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !multi {
		s.items = []string{name}
		return s.currentLocked()
	}

	for i, it := range s.items {
		if it == name {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return s.currentLocked()
		}
	}
	s.items = append(s.items, name)
	return s.currentLocked()
}

// Clear empties the set.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// Current returns a copy of the set.
func (s *Selection) Current() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Selection) currentLocked() []string {
	return append([]string(nil), s.items...)
}
