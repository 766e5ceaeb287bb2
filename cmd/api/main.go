package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"festtix/internal/api"
	"festtix/internal/config"
	"festtix/internal/logger"
	"festtix/internal/validation"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	// api validate [-url ...] [-admin ...]
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		fs := flag.NewFlagSet("validate", flag.ExitOnError)
		baseURL := fs.String("url", "http://localhost:"+cfg.Port, "Base URL for API validation")
		adminID := fs.String("admin", "admin", "Profile id with the admin role")
		_ = fs.Parse(os.Args[2:])

		if err := validation.RunValidation(*baseURL, *adminID); err != nil {
			logger.Fatal("Validation failed", "error", err)
		}
		return
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to start server", "error", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.GetRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting server", "port", cfg.Port, "backend", cfg.Backend, "server_guard", cfg.Booking.ServerGuard)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := server.Cleanup(); err != nil {
		log.Error("Error during cleanup", "error", err)
	}

	log.Info("Server stopped")
}
