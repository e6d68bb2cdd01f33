package zoneindex

import (
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"safety-service/geo"
	"safety-service/models"
)

const (
	// cellLevel 12 gives cells of roughly 3-6 km across, a good match
	// for zones of hundreds of meters to a few kilometers.
	cellLevel = 12

	maxCoveringCells = 256

	earthRadiusMeters = 6371000
)

// Snapshot is an immutable spatial index over one generation of the
// active zone set. Queries against an old snapshot stay valid while a
// new one is being published.
type Snapshot struct {
	cells map[s2.CellID][]*models.Zone
	byId  map[uint64]*models.Zone
	zones []*models.Zone
	built time.Time
}

// Store hands out the current snapshot and lets zone CRUD publish a
// replacement without locking the query path.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Publish builds a fresh snapshot from the zone list and swaps it in.
func (s *Store) Publish(zones []*models.Zone) {
	s.current.Store(buildSnapshot(zones))
}

// Snapshot returns the current index generation, or ErrIndexUnavailable
// if no generation has been published yet.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, models.ErrIndexUnavailable
	}
	return snap, nil
}

func buildSnapshot(zones []*models.Zone) *Snapshot {
	snap := &Snapshot{
		cells: make(map[s2.CellID][]*models.Zone),
		byId:  make(map[uint64]*models.Zone, len(zones)),
		zones: zones,
		built: time.Now(),
	}
	for _, zone := range zones {
		snap.byId[zone.Id] = zone
	}
	coverer := &s2.RegionCoverer{
		MinLevel: cellLevel,
		MaxLevel: cellLevel,
		MaxCells: maxCoveringCells,
	}
	for _, zone := range zones {
		region, err := zoneRegion(zone)
		if err != nil {
			log.Errorf("Skipping zone %d in index build: %v", zone.Id, err)
			continue
		}
		for _, cell := range coverer.Covering(region) {
			snap.cells[cell] = append(snap.cells[cell], zone)
		}
	}
	log.Infof("Zone index built: %d zones over %d cells", len(zones), len(snap.cells))
	return snap
}

// zoneRegion maps a zone onto an S2 region: a spherical cap for
// circular zones, the lat/lng bounding rect for polygons.
func zoneRegion(zone *models.Zone) (s2.Region, error) {
	if zone.IsCircular() {
		center := s2.PointFromLatLng(s2.LatLngFromDegrees(zone.CenterLat, zone.CenterLon))
		angle := s1.Angle(zone.RadiusM / earthRadiusMeters)
		return s2.CapFromCenterAngle(center, angle), nil
	}
	rect := s2.EmptyRect()
	rings, err := geo.PolygonVertices(zone)
	if err != nil {
		return nil, err
	}
	for _, pt := range rings {
		rect = rect.AddPoint(s2.LatLngFromDegrees(pt[1], pt[0]))
	}
	return rect, nil
}

// QueryCandidates returns the zones whose covering touches the cell
// around the point or any of its neighbors, filtered by each zone's
// active window at the fix timestamp. Exact containment is the
// geometry engine's job.
func (snap *Snapshot) QueryCandidates(lat, lon, maxRadius float64, now time.Time) []*models.Zone {
	cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(cellLevel)

	lookup := append([]s2.CellID{cell}, cell.AllNeighbors(cellLevel)...)
	seen := make(map[uint64]bool)
	var out []*models.Zone
	for _, c := range lookup {
		for _, zone := range snap.cells[c] {
			if seen[zone.Id] {
				continue
			}
			seen[zone.Id] = true
			if !zone.ActiveAt(now) {
				continue
			}
			if maxRadius > 0 && !withinRadius(zone, lat, lon, maxRadius) {
				continue
			}
			out = append(out, zone)
		}
	}
	return out
}

// Zone looks a zone up by id in this generation, nil when the zone
// was removed before the snapshot was built.
func (snap *Snapshot) Zone(id uint64) *models.Zone {
	return snap.byId[id]
}

// ZoneCount reports how many zones this generation indexes.
func (snap *Snapshot) ZoneCount() int {
	return len(snap.zones)
}

// BuiltAt reports when this generation was published.
func (snap *Snapshot) BuiltAt() time.Time {
	return snap.built
}

func withinRadius(zone *models.Zone, lat, lon, maxRadius float64) bool {
	cLat, cLon, err := geo.Centroid(zone)
	if err != nil {
		return true // let exact containment decide
	}
	slack := zone.RadiusM
	return geo.Haversine(lat, lon, cLat, cLon) <= maxRadius+slack
}
