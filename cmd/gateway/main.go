package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/casterbn/PyGPSClient/internal/config"
	"github.com/casterbn/PyGPSClient/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	log.Println("[Gateway] Starting GNSS Gateway...")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Gateway] Failed to load configuration: %v", err)
	}
	log.Printf("[Gateway] Configuration loaded: ID=%s, Receivers=%d", cfg.GatewayID, len(cfg.Receivers))

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Gateway] Failed to connect to Redis: %v", err)
	}
	log.Println("[Gateway] Connected to Redis")
	defer redisClient.Close()

	// Connect to NATS
	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Gateway] Failed to connect to NATS: %v", err)
	}
	log.Println("[Gateway] Connected to NATS")
	defer natsConn.Close()

	// Create and start the gateway server
	srv := server.NewServer(cfg, redisClient, natsConn)
	if err := srv.Start(); err != nil {
		log.Fatalf("[Gateway] Failed to start server: %v", err)
	}

	log.Println("[Gateway] Server started successfully")
	log.Printf("[Gateway] HTTP API on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("[Gateway] Shutting down...")

	srv.Stop()
	log.Println("[Gateway] Server stopped")
}
