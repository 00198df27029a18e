package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/serroba/meet-sync/internal/config"
	"github.com/serroba/meet-sync/internal/relay"
	"github.com/serroba/meet-sync/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// The snapshot store is optional: the relay itself never touches
	// it, but connecting at startup surfaces misconfiguration early for
	// deployments where clients hydrate from the same redis.
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		st, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		cancel()

		if err != nil {
			log.Fatalf("redis error: %v", err)
		}

		defer func() { _ = st.Close() }()

		log.Printf("snapshot store: redis at %s", cfg.Redis.Addr)
	}

	// Initialize the fanout hub
	hub := relay.NewHub()

	// Initialize the relay server
	server := relay.NewServer(relay.ServerConfig{
		Hub:               hub,
		PresencePerSecond: cfg.Server.PresencePerSecond,
	})

	// Configure HTTP server with timeouts
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Starting relay on %s", cfg.Server.Addr)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
