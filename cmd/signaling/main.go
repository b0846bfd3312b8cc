package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/mossy-p/webrtc-mesh/internal/auth"
	"github.com/mossy-p/webrtc-mesh/internal/handlers"
	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/metrics"
	"github.com/mossy-p/webrtc-mesh/internal/middleware"
	"github.com/mossy-p/webrtc-mesh/internal/redis"
	"github.com/mossy-p/webrtc-mesh/internal/relay"
	"github.com/mossy-p/webrtc-mesh/internal/store"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logging.Init()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer st.Close()
	slog.Info("room store ready", "backend", cfg.StoreBackend)

	m := metrics.New()
	a := auth.NewAuthenticator(cfg.JWTSecret)
	rl := relay.New(st, relay.Config{LivenessWindow: cfg.LivenessWindow}, m)
	h := handlers.New(rl, a, m, handlers.Options{TURNCredentialsURL: cfg.TURNCredentialsURL})

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	h.Register(router, middleware.Auth(a, cfg.AllowEmailHeaderAuth))

	// Start server
	slog.Info("starting mesh signaling relay", "port", cfg.Port, "environment", cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	opts := store.Options{Retention: cfg.MessageRetention}
	if cfg.StoreBackend != config.StoreBackendRedis {
		return store.NewMemory(opts), nil
	}
	client, err := redis.Connect(context.Background(), cfg.Redis)
	if err != nil {
		return nil, err
	}
	return store.NewRedis(client, opts), nil
}
