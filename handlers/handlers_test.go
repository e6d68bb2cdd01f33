package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-service/config"
	"safety-service/database"
	"safety-service/models"
	"safety-service/service"
	ws "safety-service/websocket"
)

func newTestContext(t *testing.T, method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

func newDBHandlers(t *testing.T) (*Handlers, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewHandlers(nil, database.NewService(db), nil, nil), mock
}

func TestReportLocation_RejectsOutOfRangeCoordinates(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	c, w := newTestContext(t, "POST", "/api/v3/location", &models.ReportLocationRequest{
		TouristId: "t1",
		Latitude:  91.5,
		Longitude: 10.0,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	h.ReportLocation(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportLocation_AcceptsZeroCoordinates(t *testing.T) {
	// A fix on the equator/prime meridian is a legitimate payload and
	// must pass request validation. The pipeline behind the handler is
	// already stopped, so the request fails later with a 5xx rather
	// than a validation 400.
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := service.NewService(config.Load(), database.NewService(db), ws.NewHub(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Stop())

	h := NewHandlers(svc, nil, nil, nil)
	c, w := newTestContext(t, "POST", "/api/v3/location", &models.ReportLocationRequest{
		TouristId: "t1",
		Latitude:  0.0,
		Longitude: 0.0,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	h.ReportLocation(c)
	assert.NotEqual(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestReportLocation_RejectsBadTimestamp(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	c, w := newTestContext(t, "POST", "/api/v3/location", &models.ReportLocationRequest{
		TouristId: "t1",
		Latitude:  26.20,
		Longitude: 91.70,
		Timestamp: "yesterday at noon",
	})

	h.ReportLocation(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateZone_RejectsInvalidGeometry(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	c, w := newTestContext(t, "POST", "/api/v3/create_zone", &models.CreateZoneRequest{
		Zone: &models.Zone{
			Name:      "bad circle",
			Category:  models.CategoryDanger,
			RiskLevel: 3,
			CenterLat: 26.18,
			CenterLon: 91.74,
			RadiusM:   -5, // negative radius
		},
	})

	h.CreateOrUpdateZone(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSafetyScore_MissingTourist(t *testing.T) {
	h, mock := newDBHandlers(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, active, created_at FROM tourists WHERE id = ?")).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	c, w := newTestContext(t, "GET", "/api/v3/safety_score?tourist_id=nobody", nil)
	h.GetSafetyScore(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSafetyScore_DefaultsTo100(t *testing.T) {
	h, mock := newDBHandlers(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, active, created_at FROM tourists WHERE id = ?")).
		WithArgs("t9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at"}).
			AddRow("t9", "Asha", true, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT score, updated_at FROM safety_scores WHERE tourist_id = ?")).
		WithArgs("t9").
		WillReturnError(sql.ErrNoRows)

	c, w := newTestContext(t, "GET", "/api/v3/safety_score?tourist_id=t9", nil)
	h.GetSafetyScore(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SafetyScoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.Score)
	assert.Equal(t, "safe", resp.RiskBand)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSafetyScore_RequiresTouristId(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	c, w := newTestContext(t, "GET", "/api/v3/safety_score", nil)
	h.GetSafetyScore(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAlerts_RejectsBadLimit(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	c, w := newTestContext(t, "GET", "/api/v3/get_alerts?tourist_id=t1&n=-3", nil)
	h.GetAlerts(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMap_RejectsInvertedViewport(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	c, w := newTestContext(t, "POST", "/api/v3/get_map", &models.MapRequest{
		ViewPort: &models.ViewPort{LatMin: 27.0, LonMin: 91.0, LatMax: 26.0, LonMax: 92.0},
	})
	h.GetMap(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
