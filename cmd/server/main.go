// Package main is the entry point for the Leyline Session Service.
// @title Leyline Session Service API
// @version 1.0
// @description Multi-tenant session service with era-based credential rotation

// @contact.name API Support
// @contact.url https://github.com/leylinehq/session-service

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1/session-service
// @schemes http https
package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/leylinehq/session-service/docs"
	"github.com/leylinehq/session-service/internal/api/handlers"
	"github.com/leylinehq/session-service/internal/api/middleware"
	"github.com/leylinehq/session-service/internal/api/routes"
	"github.com/leylinehq/session-service/internal/config"
	"github.com/leylinehq/session-service/internal/core/cache"
	"github.com/leylinehq/session-service/internal/core/docdb"
	rediscache "github.com/leylinehq/session-service/internal/infrastructure/cache/redis"
	"github.com/leylinehq/session-service/internal/infrastructure/docdb/mongodb"
	celexpr "github.com/leylinehq/session-service/internal/infrastructure/expr/cel"
	"github.com/leylinehq/session-service/internal/pkg/token"
	"github.com/leylinehq/session-service/internal/services/abuse"
	"github.com/leylinehq/session-service/internal/services/realms"
	"github.com/leylinehq/session-service/internal/services/sessions"
	"github.com/leylinehq/session-service/internal/services/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg.Log)

	ctx := context.Background()

	cacheClient, err := createCacheClient(cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize cache client")
	}
	defer cacheClient.Close()

	docDBClient, err := createDocDBClient(ctx, cfg.DocDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize document db client")
	}
	defer docDBClient.Close(ctx)

	if err := docDBClient.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	settingsDoc, err := settings.OpenDocument(ctx, docDBClient.ServiceConfig(), settings.DocumentOptions{
		BasePollInterval: cfg.Tokens.SettingsPollInterval,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open service configuration document")
	}
	defer settingsDoc.Close()

	settingsService, err := settings.NewService(settingsDoc, bootstrapKeys(cfg.Tokens), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize settings service")
	}

	evaluator, err := celexpr.NewEvaluator()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize precondition evaluator")
	}

	realmsService, err := realms.NewService(&realms.Config{
		Collection: docDBClient.Realms(),
		Evaluator:  evaluator,
		Settings:   settingsService,
		Logger:     log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize realms service")
	}

	sessionsService, err := sessions.NewService(&sessions.Config{
		Store:    sessions.NewStore(docDBClient.Sessions()),
		Realms:   realmsService,
		Settings: settingsService,
		Abuse:    abuse.NewRecorder(cacheClient, cfg.Abuse.Window, log.Logger),
		Logger:   log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize sessions service")
	}

	gin.SetMode(cfg.Server.GinMode)
	router := setupRouter(cacheClient, docDBClient, settingsService, realmsService, sessionsService)

	srv := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: router,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address()).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// bootstrapKeys converts the environment signing key configuration into
// keyring keys. The configuration document overrides these once it
// carries its own keys.
func bootstrapKeys(cfg config.TokenConfig) []token.Key {
	keys := make([]token.Key, 0, len(cfg.SigningKeys))
	for id, encoded := range cfg.SigningKeys {
		secret, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			log.Fatal().Str("keyId", id).Msg("signing key secret is not base64url")
		}
		keys = append(keys, token.Key{
			ID:      id,
			Secret:  secret,
			Default: id == cfg.DefaultKeyID,
		})
	}
	return keys
}

// createCacheClient creates a cache client based on the configuration.
func createCacheClient(cfg config.CacheConfig) (cache.Cache, error) {
	cacheType := cache.Type(cfg.Type)

	switch cacheType {
	case cache.TypeRedis:
		return rediscache.NewCache(rediscache.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	default:
		log.Fatal().Str("type", cfg.Type).Msg("unsupported cache type")
		return nil, nil
	}
}

// createDocDBClient creates a document database client based on the configuration.
func createDocDBClient(ctx context.Context, cfg config.DocDBConfig) (docdb.Client, error) {
	docDBType := docdb.Type(cfg.Type)

	switch docDBType {
	case docdb.TypeMongoDB, docdb.TypeCosmosDB:
		// CosmosDB speaks the MongoDB protocol, so the same client serves both.
		return mongodb.NewClient(ctx, &mongodb.ClientConfig{
			URI:          cfg.URI,
			DatabaseName: cfg.Database,
		})
	default:
		log.Fatal().Str("type", cfg.Type).Msg("unsupported docdb type")
		return nil, nil
	}
}

// setupRouter creates and configures the Gin router.
func setupRouter(cacheClient cache.Cache, docDBClient docdb.Client, settingsService *settings.Service, realmsService *realms.Service, sessionsService *sessions.Service) *gin.Engine {
	router := gin.New()

	loggingMw := middleware.NewLoggingMiddleware(log.Logger)
	errorMw := middleware.NewErrorMiddleware()

	routesCfg := &routes.Config{
		HealthHandler:   handlers.NewHealthHandler(cacheClient, docDBClient),
		RealmsHandler:   handlers.NewRealmsHandler(realmsService),
		SessionsHandler: handlers.NewSessionsHandler(sessionsService),
		ConfigHandler:   handlers.NewConfigHandler(settingsService),
	}

	routes.SetupWithMiddleware(router, routesCfg, loggingMw, errorMw)

	return router
}
