package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"dm-engine/infrastructure/ws"
	"dm-engine/observability"
	"dm-engine/presence"
	"dm-engine/repositories"
	"dm-engine/runtime"
	"dm-engine/runtime/workers"
	"dm-engine/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the transport and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("config validation error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Engine assembly
	monitoring := observability.NewMonitoringManager()
	registry := presence.NewRegistry()
	bufferRepository := repositories.NewBufferRepository(db, log)
	threadRepository := repositories.NewThreadRepository(db, log)
	router := runtime.NewRouter(log, registry, threadRepository, bufferRepository, monitoring)
	lifecycle := runtime.NewLifecycle(log, registry, threadRepository, bufferRepository, monitoring)
	deliveryService := services.NewDeliveryService(router, lifecycle)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Background workers under supervision
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(
		workers.NewSweeperWorker(log, bufferRepository, config.SweepInterval, config.BufferRetention),
		workers.NewHeartbeatWorker(log, monitoring, config.HeartbeatInterval),
	)
	go supervisor.Run(ctx)

	// 6. WebSocket endpoint
	wsServer := ws.NewServer(log, deliveryService,
		[]byte(config.JWTSecret), config.ConnectionBufferSize, config.WriteTimeout)
	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: mux}

	// Use an error channel to capture ListenAndServe issues
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	supervisor.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
