package models

import (
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// ZoneCategory classifies a geofence by its intended use.
type ZoneCategory string

const (
	CategoryDanger     ZoneCategory = "danger"
	CategoryRestricted ZoneCategory = "restricted"
	CategorySafe       ZoneCategory = "safe"
	CategoryTourist    ZoneCategory = "tourist"
	CategoryWeather    ZoneCategory = "weather"
	CategoryWildlife   ZoneCategory = "wildlife"
)

// AlertType tells the notification collaborator what kind of event produced the alert.
type AlertType string

const (
	AlertTypeGeofence AlertType = "geofence"
	AlertTypeHazard   AlertType = "hazard"
	AlertTypeWeather  AlertType = "weather"
	AlertTypeAnomaly  AlertType = "anomaly"
	AlertTypePanic    AlertType = "panic"
	AlertTypeMedical  AlertType = "medical"
)

// AlertSeverity maps zone risk levels onto notification urgency.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the downstream response workflow state of an alert.
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// TransitionType marks which side of a zone boundary a fix crossed.
type TransitionType string

const (
	TransitionEntered TransitionType = "entered"
	TransitionExited  TransitionType = "exited"
)

// Zone is a geofence or hazard area owned by the authority collaborator.
// Polygon zones carry a GeoJSON feature; circular zones carry center+radius.
type Zone struct {
	Id          uint64           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    ZoneCategory     `json:"category"`
	RiskLevel   int              `json:"risk_level"`
	Coordinates *geojson.Feature `json:"coordinates,omitempty"`
	CenterLat   float64          `json:"center_lat,omitempty"`
	CenterLon   float64          `json:"center_lon,omitempty"`
	RadiusM     float64          `json:"radius_m,omitempty"`
	Active      bool             `json:"active"`
	ActiveStart string           `json:"active_start,omitempty"` // "HH:MM", empty means always
	ActiveEnd   string           `json:"active_end,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

// IsCircular reports whether the zone is defined by center+radius
// rather than a polygon feature.
func (z *Zone) IsCircular() bool {
	return z.RadiusM > 0
}

// ActiveAt applies the zone's active flag and time window to a fix timestamp.
// The window is a wall-clock function, so it is evaluated per query.
func (z *Zone) ActiveAt(t time.Time) bool {
	if !z.Active {
		return false
	}
	if z.ActiveStart == "" || z.ActiveEnd == "" {
		return true
	}
	hhmm := t.UTC().Format("15:04")
	if z.ActiveStart <= z.ActiveEnd {
		return hhmm >= z.ActiveStart && hhmm <= z.ActiveEnd
	}
	// Window wraps past midnight, e.g. 22:00-05:00.
	return hhmm >= z.ActiveStart || hhmm <= z.ActiveEnd
}

// LocationFix is a single timestamped location reading for a tourist.
// Immutable once recorded.
type LocationFix struct {
	Id        uint64    `json:"id,omitempty"`
	TouristId string    `json:"tourist_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Tourist is a registered mobile client. Active turns false on
// deactivation; the flag acts as a tombstone for in-flight fixes.
type Tourist struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// Alert is the record handed to the notification/authority collaborator.
type Alert struct {
	Id        string        `json:"id"`
	TouristId string        `json:"tourist_id"`
	ZoneId    *uint64       `json:"zone_id,omitempty"`
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Status    AlertStatus   `json:"status"`
	Message   string        `json:"message"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	DedupKey  string        `json:"dedup_key"`
	CreatedAt time.Time     `json:"created_at"`
}

// TransitionEvent is produced by the transition detector for each
// zone boundary crossed by a fix.
type TransitionEvent struct {
	TouristId  string         `json:"tourist_id"`
	Zone       *Zone          `json:"zone"`
	Transition TransitionType `json:"transition"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SafetyScore is a bounded integer summarizing a tourist's risk exposure.
type SafetyScore struct {
	TouristId string    `json:"tourist_id"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RiskBand buckets a score for the dashboard/profile collaborator.
func (s *SafetyScore) RiskBand() string {
	switch {
	case s.Score >= 80:
		return "safe"
	case s.Score >= 60:
		return "moderate"
	case s.Score >= 40:
		return "elevated"
	default:
		return "critical"
	}
}
