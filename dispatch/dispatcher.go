package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"safety-service/models"
)

// AlertStore is the persistence surface the dispatcher needs: dedup
// lookup and insertion of new alert records.
type AlertStore interface {
	HasUnresolvedAlert(ctx context.Context, dedupKey string) (bool, error)
	InsertAlert(ctx context.Context, alert *models.Alert) error
}

// AlertSink receives emitted alerts for delivery to the notification
// collaborator. Delivery transport itself is out of scope here.
type AlertSink interface {
	EmitAlert(ctx context.Context, alert *models.Alert) error
}

// Dispatcher turns transition events into deduplicated, prioritized
// alert records.
type Dispatcher struct {
	store     AlertStore
	sinks     []AlertSink
	threshold int // minimum zone risk level that alerts on entry
}

func New(store AlertStore, threshold int, sinks ...AlertSink) *Dispatcher {
	return &Dispatcher{
		store:     store,
		sinks:     sinks,
		threshold: threshold,
	}
}

// DedupKey is the (tourist, zone, transition-type) tuple that
// suppresses duplicate alerts from GPS jitter at a zone boundary.
func DedupKey(touristId string, zoneId uint64, transition models.TransitionType) string {
	return fmt.Sprintf("%s:%d:%s", touristId, zoneId, transition)
}

// Dispatch evaluates one transition event. It returns the created
// alert, or nil when the event does not warrant one (safe zone, low
// risk, exit, or suppressed duplicate).
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.TransitionEvent) (*models.Alert, error) {
	if !d.shouldAlert(ev) {
		return nil, nil
	}

	key := DedupKey(ev.TouristId, ev.Zone.Id, ev.Transition)
	exists, err := d.store.HasUnresolvedAlert(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup for %s: %w", key, err)
	}
	if exists {
		log.Debugf("Suppressed duplicate alert %s", key)
		return nil, nil
	}

	zoneId := ev.Zone.Id
	alert := &models.Alert{
		Id:        uuid.NewString(),
		TouristId: ev.TouristId,
		ZoneId:    &zoneId,
		Type:      alertType(ev.Zone),
		Severity:  Severity(ev.Zone.RiskLevel),
		Status:    models.StatusActive,
		Message: fmt.Sprintf("Tourist %s entered %s zone %q (risk level %d)",
			ev.TouristId, ev.Zone.Category, ev.Zone.Name, ev.Zone.RiskLevel),
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		DedupKey:  key,
		CreatedAt: time.Now().UTC(),
	}

	if err := d.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persisting alert %s: %w", alert.Id, err)
	}

	for _, sink := range d.sinks {
		if err := sink.EmitAlert(ctx, alert); err != nil {
			// The alert record exists; a sink failure must not fail
			// the pipeline, only get flagged for the operator.
			log.Errorf("Alert %s emission failed: %v", alert.Id, err)
		}
	}

	log.Infof("Dispatched %s alert %s for tourist %s in zone %d",
		alert.Severity, alert.Id, alert.TouristId, zoneId)
	return alert, nil
}

// shouldAlert applies the entry rules: safe zones never alert, exits
// never alert, danger/restricted categories always alert on entry, and
// everything else alerts only at or above the configured risk
// threshold with at least medium severity.
func (d *Dispatcher) shouldAlert(ev *models.TransitionEvent) bool {
	if ev.Transition != models.TransitionEntered {
		return false
	}
	zone := ev.Zone
	if zone.Category == models.CategorySafe {
		return false
	}
	if zone.Category == models.CategoryDanger || zone.Category == models.CategoryRestricted {
		return true
	}
	// Other categories alert only at medium severity and above.
	return zone.RiskLevel >= d.threshold && zone.RiskLevel >= 3
}

// Severity maps a zone risk level onto alert severity: 5 is critical,
// 4 high, 3 medium. Levels 2 and below only reach the dispatcher for
// danger/restricted zones, where they come out low.
func Severity(riskLevel int) models.AlertSeverity {
	switch {
	case riskLevel >= 5:
		return models.SeverityCritical
	case riskLevel == 4:
		return models.SeverityHigh
	case riskLevel == 3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func alertType(zone *models.Zone) models.AlertType {
	switch zone.Category {
	case models.CategoryWeather:
		return models.AlertTypeWeather
	case models.CategoryWildlife, models.CategoryDanger:
		return models.AlertTypeHazard
	default:
		return models.AlertTypeGeofence
	}
}
