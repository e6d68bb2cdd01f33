package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"safety-service/cache"
	"safety-service/database"
	"safety-service/geo"
	"safety-service/models"
	"safety-service/service"
	ws "safety-service/websocket"
)

const (
	// MaxHistoryLimit caps a single location history query.
	MaxHistoryLimit = 10000
	// MaxAlertsLimit caps a single alert listing query.
	MaxAlertsLimit = 1000
)

// Handlers contains all HTTP handlers
type Handlers struct {
	svc    *service.Service
	db     *database.Service
	hub    *ws.Hub
	scores *cache.ScoreCache
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service, db *database.Service, hub *ws.Hub, scores *cache.ScoreCache) *Handlers {
	return &Handlers{
		svc:    svc,
		db:     db,
		hub:    hub,
		scores: scores,
	}
}

// ReportLocation handles POST /api/v3/location, the ingestion entry
// point for mobile clients. Every fix gets an explicit accept or
// reject; a fix is never silently dropped.
func (h *Handlers) ReportLocation(c *gin.Context) {
	args := &models.ReportLocationRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /location call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if args.Latitude < -90 || args.Latitude > 90 || args.Longitude < -180 || args.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	ts, err := time.Parse(time.RFC3339, args.Timestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("parsing timestamp: %v", err)})
		return
	}

	fix := &models.LocationFix{
		TouristId: args.TouristId,
		Latitude:  args.Latitude,
		Longitude: args.Longitude,
		Altitude:  args.Altitude,
		Accuracy:  args.Accuracy,
		Speed:     args.Speed,
		Timestamp: ts,
	}

	result, err := h.svc.SubmitFix(c.Request.Context(), fix)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrStaleFix):
			c.JSON(http.StatusConflict, &models.ReportLocationResponse{
				Accepted: false, Message: err.Error(),
			})
		case errors.Is(err, models.ErrMissingTourist):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrIndexUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			log.Errorf("Error processing fix for tourist %s: %v", args.TouristId, err)
			c.String(http.StatusInternalServerError, fmt.Sprint(err))
		}
		return
	}

	c.JSON(http.StatusOK, &models.ReportLocationResponse{
		Accepted:    true,
		Entered:     result.Entered,
		Exited:      result.Exited,
		SafetyScore: result.Score,
	})
}

// CreateOrUpdateZone handles POST /api/v3/create_or_update_zone. The zone index
// is rebuilt before the response so the next fix already sees the zone.
func (h *Handlers) CreateOrUpdateZone(c *gin.Context) {
	args := &models.CreateZoneRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /create_or_update_zone call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := geo.ValidateGeometry(args.Zone); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	zoneId, err := h.db.CreateOrUpdateZone(c.Request.Context(), args.Zone)
	if err != nil {
		log.Errorf("Error creating or updating zone: %v", err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	if err := h.svc.ReloadZones(c.Request.Context()); err != nil {
		log.Errorf("Error rebuilding zone index after create: %v", err)
	}

	c.JSON(http.StatusOK, &models.CreateZoneResponse{
		ZoneId:  zoneId,
		Message: "zone stored",
	})
}

// GetZones handles GET /api/v3/get_zones.
func (h *Handlers) GetZones(c *gin.Context) {
	activeOnly := c.Query("active") != "false"

	res, err := h.db.GetZones(c.Request.Context(), activeOnly)
	if err != nil {
		log.Errorf("Error getting zones: %v", err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	zones := make([]models.Zone, len(res))
	for i, zone := range res {
		zones[i] = *zone
	}
	c.IndentedJSON(http.StatusOK, &models.ZonesResponse{Zones: zones})
}

// GetZonesCount handles GET /api/v3/get_zones_count.
func (h *Handlers) GetZonesCount(c *gin.Context) {
	cnt, err := h.db.GetZonesCount(c.Request.Context())
	if err != nil {
		log.Errorf("Error getting zones count: %v", err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.JSON(http.StatusOK, &models.ZonesCountResponse{Count: cnt})
}

// DeleteZone handles DELETE /api/v3/delete_zone.
func (h *Handlers) DeleteZone(c *gin.Context) {
	args := &models.DeleteZoneRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /delete_zone call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := h.db.DeleteZone(c.Request.Context(), args.ZoneId); err != nil {
		log.Errorf("Error deleting zone %d: %v", args.ZoneId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	if err := h.svc.ReloadZones(c.Request.Context()); err != nil {
		log.Errorf("Error rebuilding zone index after delete: %v", err)
	}
	c.Status(http.StatusOK)
}

// DeactivateZone handles POST /api/v3/deactivate_zone, a soft delete
// that keeps the row for alert history joins.
func (h *Handlers) DeactivateZone(c *gin.Context) {
	args := &models.DeleteZoneRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /deactivate_zone call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := h.db.DeactivateZone(c.Request.Context(), args.ZoneId); err != nil {
		log.Errorf("Error deactivating zone %d: %v", args.ZoneId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	if err := h.svc.ReloadZones(c.Request.Context()); err != nil {
		log.Errorf("Error rebuilding zone index after deactivate: %v", err)
	}
	c.Status(http.StatusOK)
}

// RegisterTourist handles POST /api/v3/register_tourist.
func (h *Handlers) RegisterTourist(c *gin.Context) {
	args := &models.RegisterTouristRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /register_tourist call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if args.Tourist.Id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tourist id is required"})
		return
	}

	if err := h.db.RegisterTourist(c.Request.Context(), args.Tourist); err != nil {
		log.Errorf("Error registering tourist %s: %v", args.Tourist.Id, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.Status(http.StatusOK)
}

// DeactivateTourist handles POST /api/v3/deactivate_tourist.
func (h *Handlers) DeactivateTourist(c *gin.Context) {
	args := &models.DeactivateTouristRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /deactivate_tourist call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := h.svc.DeactivateTourist(c.Request.Context(), args.TouristId); err != nil {
		log.Errorf("Error deactivating tourist %s: %v", args.TouristId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.Status(http.StatusOK)
}

// GetSafetyScore handles GET /api/v3/safety_score. Reads go through
// the cache; the pipeline invalidates on every score change.
func (h *Handlers) GetSafetyScore(c *gin.Context) {
	touristId := c.Query("tourist_id")
	if touristId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tourist_id is required"})
		return
	}

	if score, ok := h.scores.Get(c.Request.Context(), touristId); ok {
		c.JSON(http.StatusOK, scoreResponse(score))
		return
	}

	if _, err := h.db.GetTourist(c.Request.Context(), touristId); err != nil {
		if errors.Is(err, models.ErrMissingTourist) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("Error looking up tourist %s: %v", touristId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	score, err := h.db.GetScore(c.Request.Context(), touristId)
	if err != nil {
		log.Errorf("Error getting safety score for %s: %v", touristId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	h.scores.Set(c.Request.Context(), score)

	c.JSON(http.StatusOK, scoreResponse(score))
}

func scoreResponse(score *models.SafetyScore) *models.SafetyScoreResponse {
	return &models.SafetyScoreResponse{
		TouristId: score.TouristId,
		Score:     score.Score,
		RiskBand:  score.RiskBand(),
		UpdatedAt: score.UpdatedAt.Format(time.RFC3339),
	}
}

// GetAlerts handles GET /api/v3/get_alerts.
func (h *Handlers) GetAlerts(c *gin.Context) {
	touristId := c.Query("tourist_id")
	if touristId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tourist_id is required"})
		return
	}

	limit := MaxAlertsLimit
	if limitStr, ok := c.GetQuery("n"); ok {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	alerts, err := h.db.GetAlerts(c.Request.Context(), touristId, limit)
	if err != nil {
		log.Errorf("Error getting alerts for %s: %v", touristId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.JSON(http.StatusOK, &models.AlertsResponse{Alerts: alerts})
}

// AcknowledgeAlert handles POST /api/v3/acknowledge_alert.
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	args := &models.AlertActionRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /acknowledge_alert call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := h.db.AcknowledgeAlert(c.Request.Context(), args.AlertId); err != nil {
		log.Errorf("Error acknowledging alert %s: %v", args.AlertId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.Status(http.StatusOK)
}

// ResolveAlert handles POST /api/v3/resolve_alert. Resolution clears
// the dedup suppression, so a renewed entry alerts again.
func (h *Handlers) ResolveAlert(c *gin.Context) {
	args := &models.AlertActionRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /resolve_alert call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := h.db.ResolveAlert(c.Request.Context(), args.AlertId); err != nil {
		log.Errorf("Error resolving alert %s: %v", args.AlertId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.Status(http.StatusOK)
}

// GetLocationHistory handles GET /api/v3/location_history.
func (h *Handlers) GetLocationHistory(c *gin.Context) {
	touristId := c.Query("tourist_id")
	if touristId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tourist_id is required"})
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if sinceStr, ok := c.GetQuery("since"); ok {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("parsing since: %v", err)})
			return
		}
		since = parsed
	}

	limit := MaxHistoryLimit
	if limitStr, ok := c.GetQuery("limit"); ok {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	fixes, err := h.db.GetLocationHistory(c.Request.Context(), touristId, since, limit)
	if err != nil {
		log.Errorf("Error getting location history for %s: %v", touristId, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.JSON(http.StatusOK, &models.LocationHistoryResponse{
		TouristId: touristId,
		Fixes:     fixes,
	})
}

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		return true
	},
}

// ListenAlerts handles websocket connections on GET
// /api/v3/listen_alerts; every dispatched alert is pushed to all
// connected dashboards.
func (h *Handlers) ListenAlerts(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	log.Info("WebSocket alert listener connected")
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	connectedClients, _ := h.hub.GetStats()
	c.JSON(http.StatusOK, &models.HealthResponse{
		Status:           "healthy",
		Service:          "safety-service",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: connectedClients,
	})
}
