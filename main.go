package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"safety-service/cache"
	"safety-service/config"
	"safety-service/database"
	"safety-service/dispatch"
	"safety-service/handlers"
	"safety-service/metrics"
	"safety-service/rabbitmq"
	"safety-service/service"
	"safety-service/version"
	ws "safety-service/websocket"
)

func main() {
	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	metrics.Register()

	dbService := database.NewService(db)
	hub := ws.NewHub()
	scores := cache.Open(cfg.RedisHost, cfg.RedisPort, cfg.RedisPass, cfg.ScoreTTL)
	defer scores.Close()

	var sinks []dispatch.AlertSink
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AlertExchange, cfg.AlertRoutingKey)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	svc, err := service.NewService(cfg, dbService, hub, scores, sinks...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	if err := svc.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}

	h := handlers.NewHandlers(svc, dbService, hub, scores)
	router := setupRouter(h)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain the HTTP server first so no handler submits a fix to a
	// pipeline that is already stopping.
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := svc.Stop(); err != nil {
		log.Errorf("Error stopping service: %v", err)
	}

	log.Info("Server exited")
}

func setupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api/v3")
	{
		// Ingestion
		api.POST("/location", h.ReportLocation)

		// Zone management
		api.POST("/create_or_update_zone", h.CreateOrUpdateZone)
		api.GET("/get_zones", h.GetZones)
		api.GET("/get_zones_count", h.GetZonesCount)
		api.DELETE("/delete_zone", h.DeleteZone)
		api.POST("/deactivate_zone", h.DeactivateZone)

		// Tourists
		api.POST("/register_tourist", h.RegisterTourist)
		api.POST("/deactivate_tourist", h.DeactivateTourist)

		// Read side
		api.GET("/safety_score", h.GetSafetyScore)
		api.GET("/get_alerts", h.GetAlerts)
		api.GET("/location_history", h.GetLocationHistory)
		api.POST("/get_map", h.GetMap)

		// Alert lifecycle
		api.POST("/acknowledge_alert", h.AcknowledgeAlert)
		api.POST("/resolve_alert", h.ResolveAlert)

		// WebSocket endpoint for alert push
		api.GET("/listen_alerts", h.ListenAlerts)
	}

	router.GET("/health", h.HealthCheck)
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Get("safety-service"))
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
