package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-service/cache"
	"safety-service/config"
	"safety-service/database"
	"safety-service/dispatch"
	"safety-service/models"
	"safety-service/scoring"
	"safety-service/tracker"
	"safety-service/zoneindex"
)

type capturingSink struct {
	alerts []*models.Alert
}

func (s *capturingSink) EmitAlert(_ context.Context, alert *models.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

// newPipeline builds a Service around a mocked database, skipping
// Start so no goroutines run during the test.
func newPipeline(t *testing.T) (*Service, sqlmock.Sqlmock, *capturingSink) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Load()
	scorer, err := scoring.NewScorer(scoring.DefaultWeights(), cfg.MaxScoreStep)
	require.NoError(t, err)

	sink := &capturingSink{}
	dbSvc := database.NewService(db)
	svc := &Service{
		cfg:        cfg,
		db:         dbSvc,
		index:      zoneindex.NewStore(),
		tracker:    tracker.New(),
		scorer:     scorer,
		dispatcher: dispatch.New(dbSvc, cfg.AlertRiskThreshold, sink),
		scores:     (*cache.ScoreCache)(nil),
		stopChan:   make(chan struct{}),
	}
	return svc, mock, sink
}

// restrictedZone is a 2km circular risk-5 restricted area near
// Guwahati used throughout the scenario tests.
func restrictedZone() *models.Zone {
	return &models.Zone{
		Id:        1,
		Name:      "Army cantonment perimeter",
		Category:  models.CategoryRestricted,
		RiskLevel: 5,
		CenterLat: 26.18,
		CenterLon: 91.74,
		RadiusM:   2000,
		Active:    true,
	}
}

func expectActiveTourist(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, active, created_at FROM tourists WHERE id = ?")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at"}).
			AddRow(id, "Asha", true, time.Now()))
}

func expectSaveFix(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT\\s+INTO location_fixes").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func expectMembershipReplace(mock sqlmock.Sqlmock, inserts int) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM memberships WHERE tourist_id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < inserts; i++ {
		mock.ExpectExec("INSERT INTO memberships").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()
}

func expectScore(mock sqlmock.Sqlmock, id string, current int, upserted int) {
	q := mock.ExpectQuery(regexp.QuoteMeta("SELECT score, updated_at FROM safety_scores WHERE tourist_id = ?")).
		WithArgs(id)
	if current < 0 {
		q.WillReturnError(sql.ErrNoRows)
	} else {
		q.WillReturnRows(sqlmock.NewRows([]string{"score", "updated_at"}).
			AddRow(current, time.Now()))
	}
	if upserted >= 0 {
		mock.ExpectExec("INSERT INTO safety_scores").
			WithArgs(id, upserted, upserted).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
}

func TestProcessFixRestrictedZoneEntry(t *testing.T) {
	svc, mock, sink := newPipeline(t)
	svc.index.Publish([]*models.Zone{restrictedZone()})

	const touristId = "tourist-001"
	noon := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// First fix, 26.20/91.70, well outside the 2km circle. No score
	// row exists yet, so the baseline 100 decays toward the calm
	// target of 95.
	expectActiveTourist(mock, touristId)
	expectSaveFix(mock)
	expectMembershipReplace(mock, 0)
	expectScore(mock, touristId, -1, 95)
	expectActiveTourist(mock, touristId)

	result, err := svc.processFix(context.Background(), &models.LocationFix{
		TouristId: touristId, Latitude: 26.20, Longitude: 91.70, Timestamp: noon,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Entered)
	assert.Empty(t, result.Exited)
	assert.Equal(t, 95, result.Score)
	assert.Empty(t, sink.alerts)

	// Second fix, 26.18/91.75, about 1km from the zone center: one
	// entered transition, one critical alert, and a score drop
	// bounded by the configured max step.
	expectActiveTourist(mock, touristId)
	expectSaveFix(mock)
	expectMembershipReplace(mock, 1)
	expectScore(mock, touristId, 95, 85)
	expectActiveTourist(mock, touristId)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM alerts WHERE dedup_key = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT\\s+INTO alerts").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err = svc.processFix(context.Background(), &models.LocationFix{
		TouristId: touristId, Latitude: 26.18, Longitude: 91.75, Timestamp: noon.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, result.Entered)
	assert.Empty(t, result.Exited)
	assert.LessOrEqual(t, 95-result.Score, svc.scorer.MaxStep())

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, models.SeverityCritical, sink.alerts[0].Severity)
	assert.Equal(t, models.AlertTypeGeofence, sink.alerts[0].Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFixStayingInsideEmitsNoNewAlerts(t *testing.T) {
	svc, mock, sink := newPipeline(t)
	svc.index.Publish([]*models.Zone{restrictedZone()})

	const touristId = "tourist-002"
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.tracker.Restore(touristId, base, []uint64{1})

	// Five fixes inside the zone after the entry was already recorded:
	// membership is unchanged every time, so the dispatcher never runs.
	score := 90
	for i := 1; i <= 5; i++ {
		next := svc.scorer.Update(score, scoring.Signals{ZoneRisk: 5, Hour: 12})
		expectActiveTourist(mock, touristId)
		expectSaveFix(mock)
		expectMembershipReplace(mock, 1)
		upserted := next
		if next == score {
			upserted = -1 // unchanged score skips the write
		}
		expectScore(mock, touristId, score, upserted)
		expectActiveTourist(mock, touristId)

		result, err := svc.processFix(context.Background(), &models.LocationFix{
			TouristId: touristId, Latitude: 26.181, Longitude: 91.741,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		assert.Empty(t, result.Entered)
		assert.Empty(t, result.Exited)
		score = next
	}

	assert.Empty(t, sink.alerts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFixExitDoesNotAlert(t *testing.T) {
	svc, mock, sink := newPipeline(t)
	svc.index.Publish([]*models.Zone{restrictedZone()})

	const touristId = "tourist-003"
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.tracker.Restore(touristId, base, []uint64{1})

	expectActiveTourist(mock, touristId)
	expectSaveFix(mock)
	expectMembershipReplace(mock, 0)
	expectScore(mock, touristId, 85, 95)
	expectActiveTourist(mock, touristId)

	result, err := svc.processFix(context.Background(), &models.LocationFix{
		TouristId: touristId, Latitude: 26.30, Longitude: 91.60,
		Timestamp: base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Entered)
	assert.Equal(t, []uint64{1}, result.Exited)
	assert.Empty(t, sink.alerts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFixRejectsStaleTimestamp(t *testing.T) {
	svc, mock, _ := newPipeline(t)
	svc.index.Publish([]*models.Zone{restrictedZone()})

	const touristId = "tourist-004"
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.tracker.Restore(touristId, base, nil)

	// Only the tourist lookup runs; the stale fix is rejected before
	// anything is persisted.
	expectActiveTourist(mock, touristId)

	_, err := svc.processFix(context.Background(), &models.LocationFix{
		TouristId: touristId, Latitude: 26.20, Longitude: 91.70,
		Timestamp: base.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, models.ErrStaleFix)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFixRejectsDeactivatedTourist(t *testing.T) {
	svc, mock, _ := newPipeline(t)
	svc.index.Publish(nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, active, created_at FROM tourists WHERE id = ?")).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at"}).
			AddRow("gone", "Asha", false, time.Now()))

	_, err := svc.processFix(context.Background(), &models.LocationFix{
		TouristId: "gone", Latitude: 26.20, Longitude: 91.70, Timestamp: time.Now(),
	})
	assert.ErrorIs(t, err, models.ErrMissingTourist)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFixIndexUnavailable(t *testing.T) {
	svc, mock, _ := newPipeline(t)
	// No snapshot published; the retry loop gives up quickly because
	// stopChan is closed.
	close(svc.stopChan)

	expectActiveTourist(mock, "tourist-005")

	_, err := svc.processFix(context.Background(), &models.LocationFix{
		TouristId: "tourist-005", Latitude: 26.20, Longitude: 91.70, Timestamp: time.Now(),
	})
	assert.ErrorIs(t, err, models.ErrIndexUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitFixAfterStopIsRejectedNotPanicking(t *testing.T) {
	svc, _, _ := newPipeline(t)
	svc.lanes = make([]chan laneJob, 4)
	for i := range svc.lanes {
		svc.lanes[i] = make(chan laneJob, 8)
	}

	require.NoError(t, svc.Stop())

	// Submissions arriving after shutdown must get a clean rejection;
	// a send on a closed lane would panic the whole process.
	for i := 0; i < 20; i++ {
		_, err := svc.SubmitFix(context.Background(), &models.LocationFix{
			TouristId: fmt.Sprintf("tourist-%d", i),
			Latitude:  26.20, Longitude: 91.70, Timestamp: time.Now(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shutting down")
	}
}

func TestLaneForIsStableAndInRange(t *testing.T) {
	svc, _, _ := newPipeline(t)
	svc.lanes = make([]chan laneJob, 8)

	for _, id := range []string{"a", "tourist-001", "tourist-002", "x-long-identifier"} {
		lane := svc.laneFor(id)
		assert.GreaterOrEqual(t, lane, 0)
		assert.Less(t, lane, len(svc.lanes))
		assert.Equal(t, lane, svc.laneFor(id), "lane assignment must be deterministic")
	}
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "stale", outcomeLabel(models.ErrStaleFix))
	assert.Equal(t, "missing_tourist", outcomeLabel(models.ErrMissingTourist))
	assert.Equal(t, "index_unavailable", outcomeLabel(models.ErrIndexUnavailable))
	assert.Equal(t, "error", outcomeLabel(errors.New("boom")))
}
