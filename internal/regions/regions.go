// Package regions maps drill-down regions to their boundary files and
// loads the GeoJSON feature sets behind them.
package regions

import (
	"strings"

	"github.com/paulmach/orb/geojson"
)

// Region names used by the navigation layer. World is the zoomed-out
// root; the rest correspond to drill targets.
const (
	World     = "World"
	HongKong  = "Hong Kong"
	Macau     = "Macau"
	GuangDong = "GuangDong"
	GuangZhou = "GuangZhou"
	TuenMun   = "TuenMun"
	Spray     = "Spray"
)

const worldFile = "China.json"

var boundaryFiles = map[string]string{
	World:     worldFile,
	HongKong:  "HongKong.json",
	Macau:     "Macau.json",
	GuangDong: "GuangDong.json",
	GuangZhou: "GuangZhouProvince.json",
}

// BoundaryFileFor returns the boundary file for a region. Regions without
// a file of their own (detail-only regions) fall back to the world file.
func BoundaryFileFor(region string) string {
	if f, ok := boundaryFiles[region]; ok {
		return f
	}
	return worldFile
}

// IsWorld reports whether the region is the zoomed-out root view.
func IsWorld(region string) bool {
	return region == "" || region == World
}

// MatchesRegion reports whether a feature name belongs to a region.
// Matching is case-insensitive substring with the aliases boundary
// datasets actually use. The world view matches everything, as do
// regions with no name rule of their own.
func MatchesRegion(featureName, region string) bool {
	n := strings.ToLower(featureName)
	switch region {
	case HongKong:
		return strings.Contains(n, "hong kong") || strings.Contains(n, "hksar") || strings.Contains(n, "hk")
	case Macau:
		return strings.Contains(n, "macau") || strings.Contains(n, "macao")
	default:
		return true
	}
}

// FindFeatureByLabel returns the first feature whose name property equals
// the label, or nil.
func FindFeatureByLabel(fc *geojson.FeatureCollection, label string) *geojson.Feature {
	if fc == nil {
		return nil
	}
	for _, f := range fc.Features {
		if FeatureName(f) == label {
			return f
		}
	}
	return nil
}

// FilterFeatures returns the features matching a region. If nothing
// matches, the whole set is returned so downstream filtering still has
// geometry to test against.
func FilterFeatures(fc *geojson.FeatureCollection, region string) []*geojson.Feature {
	if fc == nil {
		return nil
	}
	matched := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if MatchesRegion(FeatureName(f), region) {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return fc.Features
	}
	return matched
}

// FeatureName extracts the display name of a boundary feature.
func FeatureName(f *geojson.Feature) string {
	if f == nil || f.Properties == nil {
		return ""
	}
	if s, ok := f.Properties["name"].(string); ok {
		return s
	}
	return ""
}
