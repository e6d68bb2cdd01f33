package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apex/log"

	"safety-service/models"
)

// Service is the data access layer shared by the pipeline and the
// HTTP handlers.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// --- tourists ---

func (s *Service) RegisterTourist(ctx context.Context, t *models.Tourist) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tourists (id, name, active) VALUES (?, ?, true)
		 ON DUPLICATE KEY UPDATE name = ?, active = true`,
		t.Id, t.Name, t.Name)
	logResult("registerTourist", result, err, true)
	return err
}

func (s *Service) DeactivateTourist(ctx context.Context, touristId string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tourists SET active = false WHERE id = ?", touristId)
	logResult("deactivateTourist", result, err, true)
	return err
}

// GetTourist returns ErrMissingTourist for ids that were never
// registered, so the ingestion boundary can reject the fix.
func (s *Service) GetTourist(ctx context.Context, touristId string) (*models.Tourist, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, active, created_at FROM tourists WHERE id = ?", touristId)

	t := &models.Tourist{}
	var createdAt time.Time
	if err := row.Scan(&t.Id, &t.Name, &t.Active, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", models.ErrMissingTourist, touristId)
		}
		return nil, err
	}
	t.CreatedAt = createdAt.Format(time.RFC3339)
	return t, nil
}

// --- zones ---

func (s *Service) CreateOrUpdateZone(ctx context.Context, zone *models.Zone) (uint64, error) {
	var geomJSON interface{}
	if zone.Coordinates != nil {
		data, err := json.Marshal(zone.Coordinates)
		if err != nil {
			return 0, err
		}
		geomJSON = string(data)
	}

	if zone.Id != 0 {
		result, err := s.db.ExecContext(ctx, `UPDATE zones
			SET name = ?, description = ?, category = ?, risk_level = ?, geometry_json = ?,
			    center_lat = ?, center_lon = ?, radius_m = ?, active = ?,
			    active_start = ?, active_end = ?, updated_at = NOW()
			WHERE id = ?`,
			zone.Name, zone.Description, zone.Category, zone.RiskLevel, geomJSON,
			zone.CenterLat, zone.CenterLon, zone.RadiusM, zone.Active,
			zone.ActiveStart, zone.ActiveEnd, zone.Id)
		logResult("updateZone", result, err, true)
		return zone.Id, err
	}

	result, err := s.db.ExecContext(ctx, `INSERT
		INTO zones (name, description, category, risk_level, geometry_json,
			center_lat, center_lon, radius_m, active, active_start, active_end,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		zone.Name, zone.Description, zone.Category, zone.RiskLevel, geomJSON,
		zone.CenterLat, zone.CenterLon, zone.RadiusM, zone.Active,
		zone.ActiveStart, zone.ActiveEnd)
	logResult("insertZone", result, err, true)
	if err != nil {
		return 0, err
	}
	newId, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	log.Infof("Inserted zone with id %d", newId)
	return uint64(newId), nil
}

func (s *Service) GetZones(ctx context.Context, activeOnly bool) ([]*models.Zone, error) {
	sqlStr := `SELECT id, name, description, category, risk_level, geometry_json,
		center_lat, center_lon, radius_m, active, active_start, active_end,
		created_at, updated_at FROM zones`
	if activeOnly {
		sqlStr += " WHERE active = true"
	}

	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []*models.Zone{}
	for rows.Next() {
		var (
			zone      models.Zone
			geomJSON  sql.NullString
			centerLat sql.NullFloat64
			centerLon sql.NullFloat64
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&zone.Id, &zone.Name, &zone.Description, &zone.Category,
			&zone.RiskLevel, &geomJSON, &centerLat, &centerLon, &zone.RadiusM,
			&zone.Active, &zone.ActiveStart, &zone.ActiveEnd, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if geomJSON.Valid && geomJSON.String != "" {
			if err := json.Unmarshal([]byte(geomJSON.String), &zone.Coordinates); err != nil {
				log.Errorf("Zone %d carries unparsable geometry, skipping: %v", zone.Id, err)
				continue
			}
		}
		zone.CenterLat = centerLat.Float64
		zone.CenterLon = centerLon.Float64
		zone.CreatedAt = createdAt.Format(time.RFC3339)
		zone.UpdatedAt = updatedAt.Format(time.RFC3339)
		res = append(res, &zone)
	}
	return res, rows.Err()
}

func (s *Service) GetZonesCount(ctx context.Context) (uint64, error) {
	var cnt uint64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM zones").Scan(&cnt)
	return cnt, err
}

func (s *Service) DeleteZone(ctx context.Context, zoneId uint64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM zones WHERE id = ?", zoneId)
	logResult("deleteZone", result, err, true)
	return err
}

func (s *Service) DeactivateZone(ctx context.Context, zoneId uint64) error {
	result, err := s.db.ExecContext(ctx, "UPDATE zones SET active = false WHERE id = ?", zoneId)
	logResult("deactivateZone", result, err, true)
	return err
}

// --- location fixes ---

func (s *Service) SaveFix(ctx context.Context, fix *models.LocationFix) error {
	result, err := s.db.ExecContext(ctx, `INSERT
		INTO location_fixes (tourist_id, latitude, longitude, altitude, accuracy, speed, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fix.TouristId, fix.Latitude, fix.Longitude, fix.Altitude, fix.Accuracy, fix.Speed, fix.Timestamp)
	logResult("saveFix", result, err, true)
	return err
}

func (s *Service) GetLocationHistory(ctx context.Context, touristId string, since time.Time, limit int) ([]models.LocationFix, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, tourist_id, latitude, longitude, altitude, accuracy, speed, recorded_at
		FROM location_fixes
		WHERE tourist_id = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC LIMIT ?`,
		touristId, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []models.LocationFix{}
	for rows.Next() {
		var fix models.LocationFix
		if err := rows.Scan(&fix.Id, &fix.TouristId, &fix.Latitude, &fix.Longitude,
			&fix.Altitude, &fix.Accuracy, &fix.Speed, &fix.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, fix)
	}
	return res, rows.Err()
}

// GetFixPointsInViewport feeds the map aggregation endpoint.
func (s *Service) GetFixPointsInViewport(ctx context.Context, vp *models.ViewPort, since time.Time) ([][2]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT latitude, longitude
		FROM location_fixes
		WHERE recorded_at >= ?
		AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		since, vp.LatMin, vp.LatMax, vp.LonMin, vp.LonMax)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := [][2]float64{}
	for rows.Next() {
		var lat, lon float64
		if err := rows.Scan(&lat, &lon); err != nil {
			return nil, err
		}
		res = append(res, [2]float64{lat, lon})
	}
	return res, rows.Err()
}

// PurgeOldFixes drops fixes past the retention window.
func (s *Service) PurgeOldFixes(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM location_fixes WHERE recorded_at < ?", olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- membership ---

// ReplaceMembership supersedes the tourist's membership set in one
// transaction, so readers never observe a partial set.
func (s *Service) ReplaceMembership(ctx context.Context, touristId string, zoneIds []uint64, fixTime time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memberships WHERE tourist_id = ?", touristId); err != nil {
		return err
	}
	for _, zoneId := range zoneIds {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memberships (tourist_id, zone_id, last_fix_at) VALUES (?, ?, ?)",
			touristId, zoneId, fixTime); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadMemberships returns every persisted membership set, used to seed
// the transition detector at startup.
func (s *Service) LoadMemberships(ctx context.Context) (map[string][]uint64, map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tourist_id, zone_id, last_fix_at FROM memberships")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	sets := map[string][]uint64{}
	times := map[string]time.Time{}
	for rows.Next() {
		var (
			touristId string
			zoneId    uint64
			fixAt     time.Time
		)
		if err := rows.Scan(&touristId, &zoneId, &fixAt); err != nil {
			return nil, nil, err
		}
		sets[touristId] = append(sets[touristId], zoneId)
		if fixAt.After(times[touristId]) {
			times[touristId] = fixAt
		}
	}
	return sets, times, rows.Err()
}

// --- safety scores ---

func (s *Service) GetScore(ctx context.Context, touristId string) (*models.SafetyScore, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT score, updated_at FROM safety_scores WHERE tourist_id = ?", touristId)

	score := &models.SafetyScore{TouristId: touristId}
	if err := row.Scan(&score.Score, &score.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			// A tourist with no score history starts from 100.
			score.Score = 100
			score.UpdatedAt = time.Now().UTC()
			return score, nil
		}
		return nil, err
	}
	return score, nil
}

func (s *Service) UpsertScore(ctx context.Context, touristId string, score int) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO safety_scores (tourist_id, score) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE score = ?`,
		touristId, score, score)
	logResult("upsertScore", result, err, true)
	return err
}

// --- alerts ---

func (s *Service) HasUnresolvedAlert(ctx context.Context, dedupKey string) (bool, error) {
	var cnt int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts WHERE dedup_key = ? AND status != 'resolved'",
		dedupKey).Scan(&cnt)
	if err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (s *Service) InsertAlert(ctx context.Context, alert *models.Alert) error {
	result, err := s.db.ExecContext(ctx, `INSERT
		INTO alerts (id, tourist_id, zone_id, type, severity, status, message, latitude, longitude, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.Id, alert.TouristId, alert.ZoneId, alert.Type, alert.Severity,
		alert.Status, alert.Message, alert.Latitude, alert.Longitude,
		alert.DedupKey, alert.CreatedAt)
	logResult("insertAlert", result, err, true)
	return err
}

func (s *Service) GetAlerts(ctx context.Context, touristId string, limit int) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, tourist_id, zone_id, type, severity, status, message, latitude, longitude, dedup_key, created_at
		FROM alerts WHERE tourist_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		touristId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []models.Alert{}
	for rows.Next() {
		var (
			alert  models.Alert
			zoneId sql.NullInt64
		)
		if err := rows.Scan(&alert.Id, &alert.TouristId, &zoneId, &alert.Type,
			&alert.Severity, &alert.Status, &alert.Message, &alert.Latitude,
			&alert.Longitude, &alert.DedupKey, &alert.CreatedAt); err != nil {
			return nil, err
		}
		if zoneId.Valid {
			id := uint64(zoneId.Int64)
			alert.ZoneId = &id
		}
		res = append(res, alert)
	}
	return res, rows.Err()
}

func (s *Service) AcknowledgeAlert(ctx context.Context, alertId string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET status = 'acknowledged' WHERE id = ? AND status = 'active'", alertId)
	logResult("acknowledgeAlert", result, err, true)
	return err
}

func (s *Service) ResolveAlert(ctx context.Context, alertId string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET status = 'resolved', resolved_at = NOW() WHERE id = ?", alertId)
	logResult("resolveAlert", result, err, true)
	return err
}

// ResolveStaleAlerts auto-resolves non-critical alerts unresolved past
// the configured age.
func (s *Service) ResolveStaleAlerts(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = 'resolved', resolved_at = NOW()
		 WHERE status != 'resolved' AND severity != 'critical' AND created_at < ?`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func logResult(operation string, result sql.Result, err error, isError bool) {
	if err != nil {
		log.Errorf("Error in %s: %v", operation, err)
	} else {
		rowsAffected, _ := result.RowsAffected()
		log.Infof("%s: %d rows affected", operation, rowsAffected)
	}
}
