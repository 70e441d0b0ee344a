package geo

import (
	"math"

	"github.com/clanmap/clanmap/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// GEO POINTS
// Game coordinates are flat Unreal engine units (centimetres), there is no SRID.
// Points are kept as XYZ so the elevation of a base survives the round trip through WKB.

// BasePoint converts a finalized base location into an XYZ point.
// Non-finite X or Y is rejected by geom.
func BasePoint(b core.BaseLocation) (geom.Point, error) {
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: b.X, Y: b.Y},
			Z:    b.Z,
			Type: geom.DimXYZ,
		},
	)
}

// BaseFromPoint is the inverse of BasePoint. Count is not part of the geometry.
// An empty point gives a location with NaN coordinates.
func BaseFromPoint(p geom.Point, count int) core.BaseLocation {
	coords, ok := p.Coordinates()
	if !ok {
		nan := math.NaN()
		return core.BaseLocation{X: nan, Y: nan, Z: nan, Count: count}
	}
	return core.BaseLocation{X: coords.X, Y: coords.Y, Z: coords.Z, Count: count}
}
