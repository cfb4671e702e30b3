package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sre_assistant/internal/assistant_service/api"
	"sre_assistant/internal/assistant_service/consumer"
	"sre_assistant/internal/assistant_service/publisher"
	"sre_assistant/internal/assistant_service/service"
	"sre_assistant/internal/assistant_service/store"
	"sre_assistant/internal/auth"
	"sre_assistant/internal/cache"
	"sre_assistant/internal/config"
	"sre_assistant/internal/database/kafka"
	"sre_assistant/internal/database/redis"
	"sre_assistant/internal/models"
	"sre_assistant/internal/tools"
	"sre_assistant/pkg/httpclient"
	"sre_assistant/pkg/logger"
	"sre_assistant/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	configPath := os.Getenv("SRE_ASSISTANT_CONFIG")
	if configPath == "" {
		configPath = "internal/config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logLevel, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("Invalid logger level: %v", err)
	}
	logger.Init(logLevel)

	// Create a single base logger for the service
	serviceLogger := logger.New("sre-assistant", "")

	// Connect to Redis using the singleton GetClient
	redisClient, err := redis.GetClient(&cfg.Databases.Redis)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to Redis")
	}

	taskStore := store.NewRedisTaskStore(redisClient, cfg.Workflow.TaskRetention())
	queryCache := cache.NewRedisCache(redisClient, serviceLogger)

	// One HTTP client per telemetry backend, each with its own breaker.
	promClient, err := httpclient.New(cfg.Middleware.CircuitBreaker, backendTimeout(cfg.Backends.Prometheus.TimeoutSeconds))
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to build the Prometheus HTTP client")
	}
	lokiClient, err := httpclient.New(cfg.Middleware.CircuitBreaker, backendTimeout(cfg.Backends.Loki.TimeoutSeconds))
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to build the Loki HTTP client")
	}
	platformClient, err := httpclient.New(cfg.Middleware.CircuitBreaker, backendTimeout(cfg.Backends.ControlPlane.TimeoutSeconds))
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to build the control plane HTTP client")
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.Keycloak, serviceLogger)
	cacheTTL := cfg.Workflow.CacheTTL()
	prometheusTool := tools.NewPrometheusTool(cfg.Backends.Prometheus, promClient, queryCache, cacheTTL, serviceLogger)
	lokiTool := tools.NewLokiTool(cfg.Backends.Loki, lokiClient, queryCache, cacheTTL, serviceLogger)
	controlPlaneTool := tools.NewControlPlaneTool(cfg.Backends.ControlPlane, platformClient, tokenManager, queryCache, cacheTTL, serviceLogger)

	runner := &retry.Runner{
		MaxRetries: uint64(cfg.Workflow.MaxRetries),
		BaseDelay:  cfg.Workflow.RetryBaseDelay(),
		Timeout:    cfg.Workflow.DiagnosisTimeout(),
		Retryable: func(err error) bool {
			var te *models.ToolError
			return errors.As(err, &te) && te.Retryable()
		},
		Logger: serviceLogger,
	}
	dispatcher := service.NewDispatcher(runner, cfg.Workflow.DiagnosisTimeout(), serviceLogger)
	aggregator := service.NewAggregator(cfg.Workflow.Thresholds, cfg.Workflow.Confidence)
	orchestrator := service.NewOrchestrator(taskStore, dispatcher, aggregator, prometheusTool, lokiTool, controlPlaneTool, serviceLogger)

	healthChecks := map[string]api.HealthCheck{
		"redis": redis.HealthCheck,
		"loki": func(ctx context.Context) error {
			if !lokiTool.CheckHealth(ctx) {
				return fmt.Errorf("loki is not ready")
			}
			return nil
		},
	}

	// The task pipeline runs over Kafka when enabled, otherwise submissions
	// are dispatched in-process.
	ctx, cancel := context.WithCancel(context.Background())
	var taskPublisher *publisher.TaskPublisher
	var kafkaClient *kafka.KafkaClient
	if cfg.Databases.Kafka.Enabled {
		kafkaClient, err = kafka.GetClient(&cfg.Databases.Kafka)
		if err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to connect to Kafka")
		}
		taskPublisher = publisher.NewTaskPublisher(kafkaClient.Writer, serviceLogger)
		healthChecks["kafka"] = kafkaClient.HealthCheck
	}

	assistantService := service.NewAssistantService(taskStore, taskPublisher, orchestrator, serviceLogger)

	if kafkaClient != nil {
		taskConsumer := consumer.NewTaskConsumer(kafkaClient.Reader, serviceLogger)
		taskConsumer.Start(ctx, assistantService.HandleTask)
		serviceLogger.Info("Kafka task consumer started")
	}

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	apiHandler := api.NewAPI(assistantService, serviceLogger, healthChecks)
	api.RegisterRoutes(router, apiHandler, cfg)

	srv := &http.Server{
		Addr:    cfg.App.ServerAddress,
		Handler: router,
	}

	// Start server
	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("HTTP server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Server forced to shutdown")
	}

	cancel()
	if kafkaClient != nil {
		if err := kafkaClient.Close(); err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Kafka client")
		}
	}
	if err := redis.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Redis client")
	}

	serviceLogger.Info("Server gracefully stopped")
}

func backendTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(seconds) * time.Second
}
