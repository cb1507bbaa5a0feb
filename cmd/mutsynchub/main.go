package main

import (
	"context"
	"strings"
	"time"

	"github.com/victormalit/mutsynchub/internal/analytics"
	"github.com/victormalit/mutsynchub/internal/audit"
	"github.com/victormalit/mutsynchub/internal/handlers"
	"github.com/victormalit/mutsynchub/internal/metrics"
	"github.com/victormalit/mutsynchub/internal/registry"
	"github.com/victormalit/mutsynchub/internal/scheduler"
	"github.com/victormalit/mutsynchub/internal/store"
	"github.com/victormalit/mutsynchub/internal/sweeper"
	"github.com/victormalit/mutsynchub/internal/websocket"
	"github.com/victormalit/mutsynchub/pkg/auth"
	"github.com/victormalit/mutsynchub/pkg/config"
	"github.com/victormalit/mutsynchub/pkg/database"
	"github.com/victormalit/mutsynchub/pkg/kafka"
	"github.com/victormalit/mutsynchub/pkg/logging"
	"github.com/victormalit/mutsynchub/pkg/monitoring"
	"github.com/victormalit/mutsynchub/pkg/server"
	"github.com/victormalit/mutsynchub/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("mutsynchub")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting MutSyncHub (realtime + scheduling)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("mutsynchub", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("mutsynchub", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		Connections:        metricsCollector.NewGauge("websocket_connections_active", "Active WebSocket connections", []string{"scope"}),
		Messages:           metricsCollector.NewCounter("websocket_messages_total", "WebSocket messages", []string{"event", "direction"}),
		EventsPublished:    metricsCollector.NewCounter("realtime_events_published_total", "Real-time events published", []string{"event_type", "scope"}),
		BroadcastsRejected: metricsCollector.NewCounter("broadcasts_rejected_total", "Broadcasts rejected by payload validation", []string{"event"}),
		ScheduleFirings:    metricsCollector.NewCounter("schedule_firings_total", "Analytics schedule timer firings", []string{"frequency"}),
		AnalysisRuns:       metricsCollector.NewCounter("analysis_runs_total", "Scheduled analysis runs", []string{"outcome"}),
	}
	serviceMetrics.KafkaMessages, serviceMetrics.KafkaDuration, serviceMetrics.KafkaLag = metricsCollector.CreateKafkaMetrics()

	// Database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	st := store.NewStore(db)
	auditLog := audit.NewLogger(db, logger)

	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Analytics engine client
	analyticsURL := config.RequireEnv("ANALYTICS_ENGINE_URL")
	analysisClient := analytics.NewClient(analytics.Config{
		BaseURL:      analyticsURL,
		ServiceToken: serviceToken,
		Logger:       logger,
	})

	// Scheduling
	timers := scheduler.NewTimerRegistry(logger)
	defer timers.Stop()
	runner := scheduler.NewRunner(st, analysisClient, auditLog, logger, serviceMetrics)
	scheduleService := scheduler.NewService(st, timers, runner, auditLog, logger)

	// Rehydrate timers for persisted schedules
	if err := scheduleService.ReinstallAll(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to reinstall schedule timers")
	}

	// Realtime gateway
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
	connRegistry := registry.New(logger)
	gateway := websocket.NewGateway(connRegistry, jwtSecret, logger, serviceMetrics)

	// Stale connection sweeper
	sweepInterval := time.Duration(config.GetEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second
	staleThreshold := time.Duration(config.GetEnvInt("STALE_THRESHOLD_SECONDS", 300)) * time.Second
	connSweeper := sweeper.New(connRegistry, gateway, sweepInterval, staleThreshold, logger)
	connSweeper.Start()
	defer connSweeper.Stop()

	// Kafka event bridge
	brokers := strings.Split(config.RequireEnv("KAFKA_BROKERS"), ",")
	groupID := config.GetEnv("KAFKA_GROUP_ID", "mutsynchub-group")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "mutsynchub")
	topic := config.GetEnv("KAFKA_TOPICS", "analytics_events")

	consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Kafka consumer")
	}
	defer consumer.Close()

	bridge := handlers.NewEventBridge(gateway, logger, serviceMetrics)
	for _, t := range strings.Split(topic, ",") {
		consumer.AddHandler(strings.TrimSpace(t), bridge.HandleMessage)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("kafka", monitoring.KafkaConsumerHealthCheck(consumer.GetClient()))
	healthChecker.AddCheck("analytics_engine", monitoring.HTTPServiceHealthCheck("analytics-engine", analyticsURL+"/health"))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"KAFKA_BROKERS": strings.Join(brokers, ","),
		"KAFKA_TOPICS":  topic,
	}))

	// HTTP surface
	h := handlers.NewHandlers(gateway, scheduleService, logger)
	router := server.SetupServiceRouter(logger, "mutsynchub", healthChecker, metricsCollector)

	router.GET("/ws", h.HandleWebSocket)

	api := router.Group("/api/v1")
	api.Use(auth.JWTAuthMiddleware(jwtSecret))
	schedules := api.Group("/orgs/:orgId/schedules")
	schedules.POST("", h.HandleCreateSchedule)
	schedules.GET("", h.HandleListSchedules)
	schedules.PUT("/:scheduleId", h.HandleUpdateSchedule)
	schedules.DELETE("/:scheduleId", h.HandleDeleteSchedule)

	internal := router.Group("/internal")
	internal.Use(auth.ServiceAuthMiddleware(serviceToken))
	internal.POST("/broadcast/org/:orgId", h.HandleBroadcastToOrg)
	internal.POST("/broadcast/stream/:streamId", h.HandleBroadcastToStream)
	internal.GET("/stats", h.HandleStats)

	router.NoRoute(h.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("mutsynchub", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
