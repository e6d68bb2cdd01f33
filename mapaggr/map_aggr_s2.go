package mapaggr

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"safety-service/models"
)

type aggrUnit struct {
	cnt      int64
	origCell s2.CellID
}

// Aggregator buckets tourist fix points into S2 cells sized for the
// requested viewport, for dashboard heatmaps.
type Aggregator struct {
	level int
	aggrs map[s2.CellID]*aggrUnit
}

const (
	expectedCells = 160
	minLevel      = 6
	maxLevel      = 16
)

func cellBaseLevel(vp *models.ViewPort) int {
	minLL := s2.LatLngFromDegrees(vp.LatMin, vp.LonMin)
	maxLL := s2.LatLngFromDegrees(vp.LatMax, vp.LonMax)

	rect := s2.Rect{
		Lat: r1.Interval{
			Lo: minLL.Lat.Radians(),
			Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{
			Lo: minLL.Lng.Radians(),
			Hi: maxLL.Lng.Radians()},
	}

	vpArea := rect.Area()

	centerLat := (vp.LatMin + vp.LatMax) / 2
	centerLon := (vp.LonMin + vp.LonMax) / 2
	centerCell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(centerLat, centerLon))

	for lv := maxLevel; lv >= minLevel; lv-- {
		cc := s2.CellFromCellID(centerCell.Parent(lv))
		if vpArea/cc.ApproxArea() < expectedCells {
			return lv
		}
	}
	return minLevel // Large enough level
}

func New(vp *models.ViewPort) Aggregator {
	return Aggregator{
		level: cellBaseLevel(vp),
		aggrs: make(map[s2.CellID]*aggrUnit),
	}
}

func (a *Aggregator) AddPoint(lat, lon float64) {
	pc := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon))
	parent := pc.Parent(a.level)
	if _, ok := a.aggrs[parent]; !ok {
		a.aggrs[parent] = &aggrUnit{}
	}
	a.aggrs[parent].cnt += 1
	a.aggrs[parent].origCell = pc
}

// ToArray renders cell centers; a singleton cell keeps the original
// point to avoid snapping lone tourists onto a grid.
func (a *Aggregator) ToArray() []models.MapResult {
	r := make([]models.MapResult, 0, len(a.aggrs))
	for c, unit := range a.aggrs {
		ll := c.LatLng()
		if unit.cnt == 1 {
			ll = unit.origCell.LatLng()
		}
		r = append(r, models.MapResult{
			Latitude:  ll.Lat.Degrees(),
			Longitude: ll.Lng.Degrees(),
			Count:     unit.cnt,
		})
	}
	return r
}
