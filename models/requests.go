package models

// ReportLocationRequest is the ingestion payload from the mobile client.
// Latitude/longitude are decimal degrees with 7-decimal precision. The
// coordinates carry no required binding: 0.0 is a legal value on the
// equator and prime meridian, so range validation lives in the handler.
type ReportLocationRequest struct {
	TouristId string   `json:"tourist_id" binding:"required"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp string   `json:"timestamp" binding:"required"` // ISO-8601
}

// ReportLocationResponse acknowledges every submitted fix; silent drops
// are never acceptable at the client-facing boundary.
type ReportLocationResponse struct {
	Accepted    bool     `json:"accepted"`
	Entered     []uint64 `json:"entered_zones"`
	Exited      []uint64 `json:"exited_zones"`
	SafetyScore int      `json:"safety_score"`
	Message     string   `json:"message,omitempty"`
}

type CreateZoneRequest struct {
	Zone *Zone `json:"zone" binding:"required"`
}

type CreateZoneResponse struct {
	ZoneId  uint64 `json:"zone_id"`
	Message string `json:"message"`
}

type DeleteZoneRequest struct {
	ZoneId uint64 `json:"zone_id" binding:"required"`
}

type ZonesResponse struct {
	Zones []Zone `json:"zones"`
}

type ZonesCountResponse struct {
	Count uint64 `json:"count"`
}

type RegisterTouristRequest struct {
	Tourist *Tourist `json:"tourist" binding:"required"`
}

type DeactivateTouristRequest struct {
	TouristId string `json:"tourist_id" binding:"required"`
}

type SafetyScoreResponse struct {
	TouristId string `json:"tourist_id"`
	Score     int    `json:"score"`
	RiskBand  string `json:"risk_band"`
	UpdatedAt string `json:"updated_at"`
}

type AlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

type AlertActionRequest struct {
	AlertId string `json:"alert_id" binding:"required"`
}

type LocationHistoryResponse struct {
	TouristId string        `json:"tourist_id"`
	Fixes     []LocationFix `json:"fixes"`
}

type ViewPort struct {
	LatMin float64 `json:"latmin"`
	LonMin float64 `json:"lonmin"`
	LatMax float64 `json:"latmax"`
	LonMax float64 `json:"lonmax"`
}

type MapRequest struct {
	ViewPort *ViewPort `json:"vport" binding:"required"`
}

type MapResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int64   `json:"count"`
}

type MapResponse struct {
	Results []MapResult `json:"results"`
}

type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int    `json:"connected_clients,omitempty"`
}

// BroadcastMessage wraps alerts pushed to websocket subscribers.
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}
