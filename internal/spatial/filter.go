// Package spatial filters devices by region geometry with a tiered
// fallback so a single bad boundary file never blanks the map.
package spatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"

	"gridsight/map-core/internal/regions"
	"gridsight/map-core/internal/telemetry"
)

// FilterDevices returns the devices inside a region's boundary features.
// Three tiers are tried in order and the first tier that completes wins
// for the whole batch:
//
//  1. exact per-feature point-in-polygon (hole-aware, multi-part aware)
//  2. per-feature bounding-box containment
//  3. union bounding box of the whole feature set
//
// If every tier fails the result is empty and a warning is logged. The
// world view skips filtering entirely.
func FilterDevices(log zerolog.Logger, devices []telemetry.DeviceInfo, fc *geojson.FeatureCollection, region string) []telemetry.DeviceInfo {
	if regions.IsWorld(region) {
		return devices
	}

	feats := regions.FilterFeatures(fc, region)
	if len(feats) == 0 {
		log.Warn().Str("region", region).Msg("no boundary features for region, returning no devices")
		return nil
	}

	if out, err := runTier(func() []telemetry.DeviceInfo { return exactFilter(devices, feats) }); err == nil {
		return out
	} else {
		log.Warn().Err(err).Str("region", region).Msg("exact containment failed, trying coarse")
	}

	if out, err := runTier(func() []telemetry.DeviceInfo { return featureBoundFilter(devices, feats) }); err == nil {
		return out
	} else {
		log.Warn().Err(err).Str("region", region).Msg("coarse containment failed, trying union bbox")
	}

	if out, err := runTier(func() []telemetry.DeviceInfo { return unionBoundFilter(devices, feats) }); err == nil {
		return out
	} else {
		log.Warn().Err(err).Str("region", region).Msg("all containment tiers failed, returning no devices")
	}

	return nil
}

// runTier converts a panic inside a containment tier (malformed
// geometry) into an error so the next tier can take over.
func runTier(f func() []telemetry.DeviceInfo) (out []telemetry.DeviceInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("containment panic: %v", r)
		}
	}()
	return f(), nil
}

func devicePoint(d telemetry.DeviceInfo) (orb.Point, bool) {
	if !d.HasCoordinate() {
		return orb.Point{}, false
	}
	// Coordinate is stored [lat, lon]; orb points are (lon, lat).
	return orb.Point{d.Coordinate[1], d.Coordinate[0]}, true
}

func exactFilter(devices []telemetry.DeviceInfo, feats []*geojson.Feature) []telemetry.DeviceInfo {
	out := make([]telemetry.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		pt, ok := devicePoint(d)
		if !ok {
			continue
		}
		for _, f := range feats {
			if geometryContains(f.Geometry, pt) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func geometryContains(g orb.Geometry, pt orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, pt)
	default:
		return false
	}
}

func featureBoundFilter(devices []telemetry.DeviceInfo, feats []*geojson.Feature) []telemetry.DeviceInfo {
	bounds := make([]orb.Bound, 0, len(feats))
	for _, f := range feats {
		if f.Geometry == nil {
			continue
		}
		bounds = append(bounds, f.Geometry.Bound())
	}

	out := make([]telemetry.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		pt, ok := devicePoint(d)
		if !ok {
			continue
		}
		for _, b := range bounds {
			if b.Contains(pt) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func unionBoundFilter(devices []telemetry.DeviceInfo, feats []*geojson.Feature) []telemetry.DeviceInfo {
	var union orb.Bound
	first := true
	for _, f := range feats {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if first {
			union = b
			first = false
		} else {
			union = union.Union(b)
		}
	}
	if first {
		return nil
	}

	out := make([]telemetry.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		pt, ok := devicePoint(d)
		if !ok {
			continue
		}
		if union.Contains(pt) {
			out = append(out, d)
		}
	}
	return out
}
