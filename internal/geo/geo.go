// Package geo turns WGS84 boundary geometry into planar shapes for the
// 3D map plane.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// projectionScale matches the dashboard's fixed map scale. The projection
// is viewport-independent so shape coordinates are stable across sessions.
const projectionScale = 400

// Project maps a lon/lat pair onto the planar map surface using a fixed
// Mercator projection centered on the origin. Y grows downward in the
// projected frame (screen convention); shape building flips it back.
func Project(lon, lat float64) (x, y float64) {
	x = projectionScale * lon * math.Pi / 180
	y = -projectionScale * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// PlanarShape is a projected polygon outline: the first point is the
// move-to, the rest are line-to segments. The outline is not explicitly
// re-closed; consumers treat last->first as implied.
type PlanarShape struct {
	Points []orb.Point
}

// Bound returns the planar bounding box of the shape.
func (s PlanarShape) Bound() orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, p := range s.Points {
		b = b.Extend(p)
	}
	return b
}

// Area returns the absolute planar area of the shape (shoelace formula).
func (s PlanarShape) Area() float64 {
	n := len(s.Points)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a := s.Points[i]
		b := s.Points[(i+1)%n]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return math.Abs(sum / 2)
}

// BuildPlanarShape projects a single ring into a planar outline. Rings
// shorter than one point produce an empty shape.
func BuildPlanarShape(ring orb.Ring) PlanarShape {
	if len(ring) == 0 {
		return PlanarShape{}
	}
	pts := make([]orb.Point, 0, len(ring))
	for _, c := range ring {
		x, y := Project(c[0], c[1])
		pts = append(pts, orb.Point{x, -y})
	}
	return PlanarShape{Points: pts}
}

// FeatureShapes builds the extruded outlines for one boundary feature.
// Polygons contribute their outer ring; each MultiPolygon part contributes
// its own outer ring. Interior rings (holes) are not cut out of the
// extrusion; containment tests elsewhere still honor them.
// Features with missing or non-areal geometry yield no shapes.
func FeatureShapes(f *geojson.Feature) []PlanarShape {
	if f == nil || f.Geometry == nil {
		return nil
	}

	switch g := f.Geometry.(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return nil
		}
		return []PlanarShape{BuildPlanarShape(g[0])}
	case orb.MultiPolygon:
		out := make([]PlanarShape, 0, len(g))
		for _, part := range g {
			if len(part) == 0 || len(part[0]) == 0 {
				continue
			}
			out = append(out, BuildPlanarShape(part[0]))
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

// LabelAnchor picks the label position for a feature's shapes: the center
// of the bounding box of the largest part. Returns false when there is
// nothing to anchor to.
func LabelAnchor(shapes []PlanarShape) (x, y float64, ok bool) {
	best := -1
	bestArea := -1.0
	for i, s := range shapes {
		if len(s.Points) == 0 {
			continue
		}
		if a := s.Area(); a > bestArea {
			bestArea = a
			best = i
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	b := shapes[best].Bound()
	return (b.Min[0] + b.Max[0]) / 2, (b.Min[1] + b.Max[1]) / 2, true
}
