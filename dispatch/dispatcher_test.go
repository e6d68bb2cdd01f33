package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-service/models"
)

// fakeStore keeps alerts in memory keyed by dedup key.
type fakeStore struct {
	unresolved map[string]bool
	inserted   []*models.Alert
}

func newFakeStore() *fakeStore {
	return &fakeStore{unresolved: make(map[string]bool)}
}

func (f *fakeStore) HasUnresolvedAlert(_ context.Context, dedupKey string) (bool, error) {
	return f.unresolved[dedupKey], nil
}

func (f *fakeStore) InsertAlert(_ context.Context, alert *models.Alert) error {
	f.unresolved[alert.DedupKey] = true
	f.inserted = append(f.inserted, alert)
	return nil
}

type fakeSink struct {
	emitted []*models.Alert
}

func (f *fakeSink) EmitAlert(_ context.Context, alert *models.Alert) error {
	f.emitted = append(f.emitted, alert)
	return nil
}

func event(zone *models.Zone, transition models.TransitionType) *models.TransitionEvent {
	return &models.TransitionEvent{
		TouristId:  "t1",
		Zone:       zone,
		Transition: transition,
		Latitude:   26.18,
		Longitude:  91.75,
		Timestamp:  time.Now(),
	}
}

func TestDispatchCriticalOnRestrictedEntry(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	d := New(store, 3, sink)

	zone := &models.Zone{Id: 10, Name: "Army cantonment", Category: models.CategoryRestricted, RiskLevel: 5}
	alert, err := d.Dispatch(context.Background(), event(zone, models.TransitionEntered))
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, models.StatusActive, alert.Status)
	assert.Equal(t, models.AlertTypeGeofence, alert.Type)
	assert.Equal(t, DedupKey("t1", 10, models.TransitionEntered), alert.DedupKey)
	assert.Len(t, store.inserted, 1)
	assert.Len(t, sink.emitted, 1)
}

func TestDispatchSuppressesDuplicate(t *testing.T) {
	store := newFakeStore()
	d := New(store, 3)

	zone := &models.Zone{Id: 10, Name: "Landslide area", Category: models.CategoryDanger, RiskLevel: 4}

	first, err := d.Dispatch(context.Background(), event(zone, models.TransitionEntered))
	require.NoError(t, err)
	require.NotNil(t, first)

	// Second consecutive fix inside the same zone: suppressed until the
	// first alert is resolved.
	second, err := d.Dispatch(context.Background(), event(zone, models.TransitionEntered))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, store.inserted, 1)

	// After resolution a fresh entry alerts again.
	delete(store.unresolved, first.DedupKey)
	third, err := d.Dispatch(context.Background(), event(zone, models.TransitionEntered))
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestDispatchRules(t *testing.T) {
	testCases := []struct {
		name       string
		zone       *models.Zone
		transition models.TransitionType
		wantAlert  bool
		severity   models.AlertSeverity
	}{
		{
			name:       "safe zone entry never alerts",
			zone:       &models.Zone{Id: 1, Category: models.CategorySafe, RiskLevel: 5},
			transition: models.TransitionEntered,
		},
		{
			name:       "low-risk tourist zone exit does not alert",
			zone:       &models.Zone{Id: 2, Category: models.CategoryTourist, RiskLevel: 2},
			transition: models.TransitionExited,
		},
		{
			name:       "low-risk tourist zone entry below threshold",
			zone:       &models.Zone{Id: 3, Category: models.CategoryTourist, RiskLevel: 2},
			transition: models.TransitionEntered,
		},
		{
			name:       "restricted entry alerts even at low risk",
			zone:       &models.Zone{Id: 4, Category: models.CategoryRestricted, RiskLevel: 2},
			transition: models.TransitionEntered,
			wantAlert:  true,
			severity:   models.SeverityLow,
		},
		{
			name:       "weather zone at threshold alerts medium",
			zone:       &models.Zone{Id: 5, Category: models.CategoryWeather, RiskLevel: 3},
			transition: models.TransitionEntered,
			wantAlert:  true,
			severity:   models.SeverityMedium,
		},
		{
			name:       "wildlife level 4 alerts high as hazard",
			zone:       &models.Zone{Id: 6, Category: models.CategoryWildlife, RiskLevel: 4},
			transition: models.TransitionEntered,
			wantAlert:  true,
			severity:   models.SeverityHigh,
		},
	}

	for _, tc := range testCases {
		store := newFakeStore()
		d := New(store, 3)
		alert, err := d.Dispatch(context.Background(), event(tc.zone, tc.transition))
		require.NoError(t, err, tc.name)
		if tc.wantAlert {
			require.NotNil(t, alert, tc.name)
			assert.Equal(t, tc.severity, alert.Severity, tc.name)
		} else {
			assert.Nil(t, alert, tc.name)
		}
	}
}

func TestHazardTypeMapping(t *testing.T) {
	store := newFakeStore()
	d := New(store, 3)

	zone := &models.Zone{Id: 7, Category: models.CategoryDanger, RiskLevel: 5}
	alert, err := d.Dispatch(context.Background(), event(zone, models.TransitionEntered))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertTypeHazard, alert.Type)
}
