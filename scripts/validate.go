package main

import (
	"flag"
	"log/slog"
	"os"

	"festtix/internal/logger"
	"festtix/internal/validation"
)

func main() {
	var baseURL, adminID string
	flag.StringVar(&baseURL, "url", "http://localhost:8081", "Base URL for API validation")
	flag.StringVar(&adminID, "admin", "admin", "Profile id with the admin role")
	flag.Parse()

	logger.Init("info", "text")

	if err := validation.RunValidation(baseURL, adminID); err != nil {
		slog.Error("Validation failed", "error", err)
		os.Exit(1)
	}
}
