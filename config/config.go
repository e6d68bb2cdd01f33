package config

import (
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the safety service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port     string
	LogLevel string

	// Redis cache configuration (empty host disables the cache)
	RedisHost string
	RedisPort string
	RedisPass string
	ScoreTTL  time.Duration

	// RabbitMQ alert output (empty URL disables publishing)
	AMQPURL         string
	AlertExchange   string
	AlertRoutingKey string

	// Pipeline configuration
	WorkerLanes        int
	LaneBuffer         int
	ZoneReloadInterval time.Duration
	FixRetention       time.Duration
	AlertMaxAge        time.Duration
	CandidateRadiusM   float64

	// Risk scoring weights; must sum to 1.0
	WeightLocationRisk   float64
	WeightWeather        float64
	WeightGroupSize      float64
	WeightTimeOfDay      float64
	WeightRouteDeviation float64
	MaxScoreStep         int

	// Minimum zone risk level that alerts on entry
	AlertRiskThreshold int
}

// Load loads configuration from environment variables
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBName:     getEnv("DB_NAME", "safety"),

		// Server defaults
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Cache defaults
		RedisHost: getEnv("REDIS_HOST", ""),
		RedisPort: getEnv("REDIS_PORT", "6379"),
		RedisPass: getEnv("REDIS_PASS", ""),
		ScoreTTL:  getDurationEnv("SCORE_CACHE_TTL", 30*time.Second),

		// Alert output defaults
		AMQPURL:         getEnv("AMQP_URL", ""),
		AlertExchange:   getEnv("ALERT_EXCHANGE", "safety.alerts"),
		AlertRoutingKey: getEnv("ALERT_ROUTING_KEY", "alerts"),

		// Pipeline defaults
		WorkerLanes:        getIntEnv("WORKER_LANES", 8),
		LaneBuffer:         getIntEnv("LANE_BUFFER", 64),
		ZoneReloadInterval: getDurationEnv("ZONE_RELOAD_INTERVAL", time.Minute),
		FixRetention:       getDurationEnv("FIX_RETENTION", 24*time.Hour),
		AlertMaxAge:        getDurationEnv("ALERT_MAX_AGE", 24*time.Hour),
		CandidateRadiusM:   getFloatEnv("CANDIDATE_RADIUS_M", 0),

		// Scoring defaults mirror the documented design weights
		WeightLocationRisk:   getFloatEnv("WEIGHT_LOCATION_RISK", 0.30),
		WeightWeather:        getFloatEnv("WEIGHT_WEATHER", 0.20),
		WeightGroupSize:      getFloatEnv("WEIGHT_GROUP_SIZE", 0.20),
		WeightTimeOfDay:      getFloatEnv("WEIGHT_TIME_OF_DAY", 0.15),
		WeightRouteDeviation: getFloatEnv("WEIGHT_ROUTE_DEVIATION", 0.15),
		MaxScoreStep:         getIntEnv("MAX_SCORE_STEP", 10),

		AlertRiskThreshold: getIntEnv("ALERT_RISK_THRESHOLD", 3),
	}

	return config
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
