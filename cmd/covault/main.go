package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/covault/covault/internal/custody"
	"github.com/covault/covault/internal/custody/cache"
	"github.com/covault/covault/internal/custody/config"
	"github.com/covault/covault/internal/custody/events"
	"github.com/covault/covault/internal/custody/gateway"
	"github.com/covault/covault/internal/custody/handlers/rest"
	"github.com/covault/covault/internal/custody/repository"
	"github.com/covault/covault/internal/custody/verify"
	"github.com/covault/covault/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("COVAULT_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxConnections)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	repo := repository.NewCustodyRepository(db, zapLogger)
	if err := repo.Migrate(); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	// Connect to redis
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Database,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	custodyCache := cache.NewRedisCache(redisClient, cfg.Custody.CacheTTL, zapLogger)

	// Event sinks
	sinks := []events.Sink{events.NewLogSink(zapLogger)}
	var kafkaSink *events.KafkaSink
	if cfg.Kafka.Enabled {
		kafkaSink = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, kafkaSink)
	}
	if cfg.Events.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.Events.WebhookURL))
	}
	publisher := events.NewPublisher(cfg.Kafka.Topic, sinks, zapLogger)

	// Ledger gateway
	ledger, err := gateway.NewEVMGateway(cfg.Gateway.RPCURL, cfg.Gateway.OperatorKey, cfg.Gateway.Timeout, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create ledger gateway", zap.Error(err))
	}

	service := custody.New(repo, custodyCache, ledger, verify.NewSchemeVerifier(), publisher, zapLogger, cfg.Custody)

	workers := custody.NewWorkers(service, cfg.Custody, zapLogger)
	workers.Start(context.Background())

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zapLogger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zapLogger, true))
	router.Use(otelgin.Middleware("covault"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := rest.NewCustodyHandler(service)
	handler.RegisterRoutes(router.Group("/api/v1"))

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Starting custody API server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}

	workers.Stop()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			zapLogger.Error("Failed to close kafka sink", zap.Error(err))
		}
	}
	if err := redisClient.Close(); err != nil {
		zapLogger.Error("Failed to close redis client", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
