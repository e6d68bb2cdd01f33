package geo

import (
	"fmt"
	"math"

	"safety-service/models"
)

const earthRadiusMeters = 6371000

// Haversine returns the great-circle distance in meters between two
// points given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Contains reports whether the point lies inside the zone. The zone
// geometry must have passed ValidateGeometry at registration; a zone
// that still turns out degenerate here yields an error the caller
// logs and treats as "not contained".
func Contains(zone *models.Zone, lat, lon float64) (bool, error) {
	if zone.IsCircular() {
		return Haversine(lat, lon, zone.CenterLat, zone.CenterLon) <= zone.RadiusM, nil
	}
	rings, err := polygonRings(zone)
	if err != nil {
		return false, err
	}
	for _, poly := range rings {
		if polygonContains(poly, lat, lon) {
			return true, nil
		}
	}
	return false, nil
}

// NearestZone returns the zone whose boundary reference point is
// closest to the given point, with the distance in meters.
func NearestZone(lat, lon float64, zones []*models.Zone) (*models.Zone, float64, error) {
	if len(zones) == 0 {
		return nil, 0, fmt.Errorf("no zones to search")
	}
	var best *models.Zone
	bestDist := math.MaxFloat64
	for _, z := range zones {
		cLat, cLon, err := Centroid(z)
		if err != nil {
			return nil, 0, err
		}
		d := Haversine(lat, lon, cLat, cLon)
		if z.IsCircular() {
			d = math.Max(0, d-z.RadiusM)
		}
		if d < bestDist {
			bestDist = d
			best = z
		}
	}
	return best, bestDist, nil
}

// Centroid returns a representative point for the zone: the center for
// circular zones, the outer-ring vertex average for polygons.
func Centroid(zone *models.Zone) (float64, float64, error) {
	if zone.IsCircular() {
		return zone.CenterLat, zone.CenterLon, nil
	}
	rings, err := polygonRings(zone)
	if err != nil {
		return 0, 0, err
	}
	var sumLat, sumLon float64
	var n int
	outer := rings[0][0]
	ref := outer[0][0]
	for _, pt := range outer {
		sumLat += pt[1]
		sumLon += normalizeLon(pt[0], ref)
		n++
	}
	return sumLat / float64(n), denormalizeLon(sumLon / float64(n)), nil
}

// ValidateGeometry rejects malformed zone definitions at registration
// time so that query-time containment never has to.
func ValidateGeometry(zone *models.Zone) error {
	if zone.RiskLevel < 1 || zone.RiskLevel > 5 {
		return fmt.Errorf("%w: risk level %d outside 1..5", models.ErrInvalidGeometry, zone.RiskLevel)
	}
	if zone.IsCircular() {
		if zone.Coordinates != nil {
			return fmt.Errorf("%w: zone has both radius and polygon coordinates", models.ErrInvalidGeometry)
		}
		if zone.CenterLat < -90 || zone.CenterLat > 90 || zone.CenterLon < -180 || zone.CenterLon > 180 {
			return fmt.Errorf("%w: center (%g, %g) out of range", models.ErrInvalidGeometry, zone.CenterLat, zone.CenterLon)
		}
		return nil
	}
	if zone.Coordinates == nil || zone.Coordinates.Geometry == nil {
		return fmt.Errorf("%w: zone has neither radius nor polygon coordinates", models.ErrInvalidGeometry)
	}
	rings, err := polygonRings(zone)
	if err != nil {
		return err
	}
	for _, poly := range rings {
		if len(poly) == 0 {
			return fmt.Errorf("%w: polygon with no rings", models.ErrInvalidGeometry)
		}
		for _, ring := range poly {
			if distinctVertices(ring) < 3 {
				return fmt.Errorf("%w: ring with fewer than 3 distinct vertices", models.ErrInvalidGeometry)
			}
		}
	}
	return nil
}

// PolygonVertices flattens a polygon zone's rings into a single
// [lon, lat] vertex list, for callers that only need the extent.
func PolygonVertices(zone *models.Zone) ([][]float64, error) {
	rings, err := polygonRings(zone)
	if err != nil {
		return nil, err
	}
	var out [][]float64
	for _, poly := range rings {
		for _, ring := range poly {
			out = append(out, ring...)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: polygon with no vertices", models.ErrInvalidGeometry)
	}
	return out, nil
}

// polygonRings extracts polygon loops as [lon, lat] vertex lists from
// the zone's GeoJSON feature. MultiPolygon zones yield one entry per
// member polygon.
func polygonRings(zone *models.Zone) ([][][][]float64, error) {
	g := zone.Coordinates
	if g == nil || g.Geometry == nil {
		return nil, fmt.Errorf("%w: missing geometry", models.ErrInvalidGeometry)
	}
	if g.Geometry.IsPolygon() {
		return [][][][]float64{g.Geometry.Polygon}, nil
	}
	if g.Geometry.IsMultiPolygon() {
		return g.Geometry.MultiPolygon, nil
	}
	return nil, fmt.Errorf("%w: unsupported geometry type %s", models.ErrInvalidGeometry, g.Geometry.Type)
}

// polygonContains runs a ray cast over the polygon's rings. The outer
// ring grants membership, holes revoke it. Longitudes are normalized
// against the first vertex so zones spanning the antimeridian test
// correctly.
func polygonContains(poly [][][]float64, lat, lon float64) bool {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return false
	}
	ref := poly[0][0][0]
	x := normalizeLon(lon, ref)
	inside := ringContains(poly[0], lat, x, ref)
	if !inside {
		return false
	}
	for _, hole := range poly[1:] {
		if ringContains(hole, lat, x, ref) {
			return false
		}
	}
	return true
}

func ringContains(ring [][]float64, lat, x, ref float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi := normalizeLon(ring[i][0], ref)
		yi := ring[i][1]
		xj := normalizeLon(ring[j][0], ref)
		yj := ring[j][1]
		if (yi > lat) != (yj > lat) &&
			x < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// normalizeLon shifts a longitude into the ±180° window around ref so
// that edges crossing the antimeridian stay numerically contiguous.
func normalizeLon(lon, ref float64) float64 {
	for lon-ref > 180 {
		lon -= 360
	}
	for lon-ref < -180 {
		lon += 360
	}
	return lon
}

func denormalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func distinctVertices(ring [][]float64) int {
	seen := make(map[[2]float64]bool, len(ring))
	for _, pt := range ring {
		if len(pt) < 2 {
			continue
		}
		seen[[2]float64{pt[0], pt[1]}] = true
	}
	return len(seen)
}
