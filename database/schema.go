package database

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates the necessary database tables if they don't exist
func InitSchema(db *sql.DB) error {
	log.Info("Initializing safety-service database schema...")

	touristsTableSQL := `
	CREATE TABLE IF NOT EXISTS tourists(
		id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		active BOOL NOT NULL DEFAULT true,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX active_index (active)
	)`

	if _, err := db.Exec(touristsTableSQL); err != nil {
		return fmt.Errorf("failed to create tourists table: %w", err)
	}
	log.Info("Tourists table created/verified")

	zonesTableSQL := `
	CREATE TABLE IF NOT EXISTS zones(
		id INT NOT NULL AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		description VARCHAR(255),
		category ENUM('danger', 'restricted', 'safe', 'tourist', 'weather', 'wildlife') NOT NULL DEFAULT 'tourist',
		risk_level TINYINT NOT NULL DEFAULT 1,
		geometry_json JSON,
		center_lat DOUBLE,
		center_lon DOUBLE,
		radius_m DOUBLE NOT NULL DEFAULT 0,
		active BOOL NOT NULL DEFAULT true,
		active_start CHAR(5) NOT NULL DEFAULT '',
		active_end CHAR(5) NOT NULL DEFAULT '',
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		PRIMARY KEY (id),
		INDEX category_index (category),
		INDEX active_index (active)
	)`

	if _, err := db.Exec(zonesTableSQL); err != nil {
		return fmt.Errorf("failed to create zones table: %w", err)
	}
	log.Info("Zones table created/verified")

	fixesTableSQL := `
	CREATE TABLE IF NOT EXISTS location_fixes(
		id BIGINT NOT NULL AUTO_INCREMENT,
		tourist_id VARCHAR(64) NOT NULL,
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		altitude DOUBLE,
		accuracy DOUBLE,
		speed DOUBLE,
		recorded_at TIMESTAMP(3) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX tourist_time_index (tourist_id, recorded_at)
	)`

	if _, err := db.Exec(fixesTableSQL); err != nil {
		return fmt.Errorf("failed to create location_fixes table: %w", err)
	}
	log.Info("Location_fixes table created/verified")

	scoresTableSQL := `
	CREATE TABLE IF NOT EXISTS safety_scores(
		tourist_id VARCHAR(64) NOT NULL,
		score INT NOT NULL DEFAULT 100,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (tourist_id)
	)`

	if _, err := db.Exec(scoresTableSQL); err != nil {
		return fmt.Errorf("failed to create safety_scores table: %w", err)
	}
	log.Info("Safety_scores table created/verified")

	membershipTableSQL := `
	CREATE TABLE IF NOT EXISTS memberships(
		tourist_id VARCHAR(64) NOT NULL,
		zone_id INT NOT NULL,
		last_fix_at TIMESTAMP(3) NOT NULL,
		PRIMARY KEY (tourist_id, zone_id)
	)`

	if _, err := db.Exec(membershipTableSQL); err != nil {
		return fmt.Errorf("failed to create memberships table: %w", err)
	}
	log.Info("Memberships table created/verified")

	alertsTableSQL := `
	CREATE TABLE IF NOT EXISTS alerts(
		id CHAR(36) NOT NULL,
		tourist_id VARCHAR(64) NOT NULL,
		zone_id INT,
		type ENUM('geofence', 'hazard', 'weather', 'anomaly', 'panic', 'medical') NOT NULL,
		severity ENUM('low', 'medium', 'high', 'critical') NOT NULL,
		status ENUM('active', 'acknowledged', 'resolved') NOT NULL DEFAULT 'active',
		message VARCHAR(512),
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		dedup_key VARCHAR(128) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		resolved_at TIMESTAMP NULL,
		PRIMARY KEY (id),
		INDEX tourist_index (tourist_id),
		INDEX dedup_status_index (dedup_key, status),
		INDEX status_created_index (status, created_at)
	)`

	if _, err := db.Exec(alertsTableSQL); err != nil {
		return fmt.Errorf("failed to create alerts table: %w", err)
	}
	log.Info("Alerts table created/verified")

	log.Info("Safety-service database schema initialization completed")
	return nil
}
