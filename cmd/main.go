package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shenikar/falconwatch/internal/config"
	v1 "github.com/shenikar/falconwatch/internal/handler/http/v1"
	"github.com/shenikar/falconwatch/internal/realtime"
	"github.com/shenikar/falconwatch/internal/repository"
	"github.com/shenikar/falconwatch/internal/service"
	"github.com/shenikar/falconwatch/internal/webhook"
	"github.com/shenikar/falconwatch/pkg/logger"
	"github.com/shenikar/falconwatch/pkg/postgres"
	redisclient "github.com/shenikar/falconwatch/pkg/redis"
	"github.com/shenikar/falconwatch/pkg/supervisor"
	"github.com/sirupsen/logrus"

	_ "github.com/shenikar/falconwatch/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Falconwatch API
// @version 1.0
// @description Live incident awareness: sessions, presence and incident push for field units.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func runMigrations(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
	}

	m, err := migrate.New("file://migrations", migrationURL)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logger.New(cfg.LogLevel)

	// Контекст отменяется по SIGINT/SIGTERM и останавливает дерево сервисов
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, log); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	dbpool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbpool.Close()
	log.Info("Successfully connected to PostgreSQL")

	redisClient, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Info("Successfully connected to Redis")

	// Хаб сессий - единственная точка изменения реестра соединений
	hub := realtime.NewHub(log)

	webhookPublisher := webhook.NewRedisWebhookPublisher(redisClient)
	webhookWorker := webhook.NewWebhookWorker(redisClient, log, cfg)

	incidentRepo := repository.NewIncidentRepository(dbpool, redisClient, cfg.IncidentCacheTTL)
	userRepo := repository.NewUserRepository(dbpool)

	incidentService := service.NewIncidentService(incidentRepo, hub, webhookPublisher, log)
	authService := service.NewAuthService(userRepo, cfg, log)

	relay := realtime.NewRelay(hub, authService, incidentService, cfg.AuthTimeout, log)
	handler := v1.NewHandler(incidentService, authService, hub, relay, log, cfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), v1.MetricsMiddleware(), v1.LoggingMiddleware(log))
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	root := supervisor.New("falconwatch", log)
	root.Add(hub)
	root.Add(webhookWorker)
	root.Add(supervisor.NewHTTPService(srv, 5*time.Second))

	log.Infof("HTTP server starting on port %s", cfg.HTTPPort)
	if err := root.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Supervisor tree stopped with error")
	}
	log.Info("Server gracefully stopped")
}
