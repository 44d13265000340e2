package route

import (
	"math"

	"github.com/dhconnelly/rtreego"

	"bus-wait-tracker/internal/model"
)

type indexedStop struct {
	stop model.RouteStop
}

func (s indexedStop) Bounds() rtreego.Rect {
	return rtreego.Point{s.stop.Lon, s.stop.Lat}.ToRect(1e-6)
}

// Index answers "which stop is the bus at" for a location ping.
type Index struct {
	tree *rtreego.Rtree
}

func NewIndex(stops []model.RouteStop) *Index {
	objs := make([]rtreego.Spatial, 0, len(stops))
	for _, s := range stops {
		objs = append(objs, indexedStop{stop: s})
	}
	return &Index{tree: rtreego.NewTree(2, 2, 8, objs...)}
}

// Nearest returns the closest stop within radiusM meters of lat/lon.
func (ix *Index) Nearest(lat, lon, radiusM float64) (model.RouteStop, float64, bool) {
	if radiusM <= 0 || ix.tree.Size() == 0 {
		return model.RouteStop{}, 0, false
	}
	dLat := radiusM / 111320.0
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLon := radiusM / (111320.0 * cos)
	box, err := rtreego.NewRect(rtreego.Point{lon - dLon, lat - dLat}, []float64{2 * dLon, 2 * dLat})
	if err != nil {
		return model.RouteStop{}, 0, false
	}

	var best model.RouteStop
	bestDist := math.MaxFloat64
	for _, obj := range ix.tree.SearchIntersect(box) {
		s := obj.(indexedStop).stop
		d := DistanceMeters(lat, lon, s.Lat, s.Lon)
		if d <= radiusM && d < bestDist {
			best, bestDist = s, d
		}
	}
	if bestDist == math.MaxFloat64 {
		return model.RouteStop{}, 0, false
	}
	return best, bestDist, true
}
