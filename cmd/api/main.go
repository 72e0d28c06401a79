package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/engramdb/engram/infrastructure/config"
	"github.com/engramdb/engram/infrastructure/di"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load .env if present; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	if err := container.Store.Connect(ctx); err != nil {
		container.Logger.Fatal("Failed to connect storage engine", zap.Error(err))
	}

	if err := container.Store.InitializeSchema(ctx); err != nil {
		container.Logger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	go func() {
		container.Logger.Info("Starting server",
			zap.String("address", container.Server.Addr),
			zap.String("backend", cfg.Backend.Type),
			zap.String("environment", cfg.Environment),
		)

		if err := container.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown error", zap.Error(err))
	}

	if err := container.Store.Close(shutdownCtx); err != nil {
		container.Logger.Error("Store close error", zap.Error(err))
	}

	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}
