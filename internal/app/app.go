package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"sentinel/internal/app/bootstrap"
	"sentinel/internal/app/server"
	"sentinel/internal/config"
	"sentinel/internal/jobs/runtime"
	"sentinel/internal/support"
)

const defaultBackendPort = 8082

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	backendPortFlag := flag.Int("backend-port", defaultBackendPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	if *productionFlag {
		log.SetLevel(log.InfoLevel)
	}

	backendPort := resolvePort("BACKEND_PORT", *backendPortFlag)

	redisClient, err := support.GetRedisClient()
	if err != nil {
		return fmt.Errorf("failed to get redis client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	engine, store := bootstrap.Setup(ctx)
	defer engine.Close()

	return server.NewServer(engine, store).OpenRoutes(backendPort)
}

func resolvePort(envKey string, fallback int) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return fallback
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return fallback
	}
	return port
}
