package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"festtix/internal/backend"
	"festtix/internal/backend/memory"
	"festtix/internal/backend/postgres"
	"festtix/internal/cache"
	"festtix/internal/config"
	"festtix/internal/database"
	"festtix/internal/handlers"
	"festtix/internal/messaging"
	"festtix/internal/middleware"
	"festtix/internal/repository"
	"festtix/internal/search"
	"festtix/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP API process: router, services and the connections they use
type Server struct {
	router   *gin.Engine
	config   *config.Config
	backend  backend.DataService
	db       *database.DB
	nats     *messaging.NATSClient
	valkey   *cache.ValkeyClient
	services *service.Services
	repos    *repository.Repositories
	cancel   context.CancelFunc
}

// NewServer connects the configured backend and optional infrastructure.
// Valkey and Elasticsearch are optional: a failure to reach them is logged
// and the server runs without them.
func NewServer(cfg *config.Config) (*Server, error) {
	gin.SetMode(cfg.GinMode)

	s := &Server{config: cfg}

	switch cfg.Backend {
	case config.BackendMemory:
		slog.Warn("Using in-memory backend, data is lost on restart")
		s.backend = memory.New()
	case config.BackendPostgres:
		pg, db, err := postgres.Open(cfg.Database, postgres.ListenerConfig{
			MinReconnect: cfg.Realtime.MinReconnect,
			MaxReconnect: cfg.Realtime.MaxReconnect,
		})
		if err != nil {
			return nil, err
		}
		s.backend, s.db = pg, db
	default:
		return nil, fmt.Errorf("unknown BACKEND %q", cfg.Backend)
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		s.Cleanup()
		return nil, err
	}
	s.nats = natsClient

	opts := service.Options{
		Booking: service.BookingOptions{ServerGuard: cfg.Booking.ServerGuard},
		Counters: service.CounterQueueConfig{
			Size:       cfg.Booking.CounterQueueSize,
			MaxRetries: cfg.Booking.CounterRetries,
			RetryBase:  cfg.Booking.CounterRetryBase,
		},
		Realtime: service.RealtimeConfig{
			MinBackoff: cfg.Realtime.MinReconnect,
			MaxBackoff: cfg.Realtime.MaxReconnect,
		},
	}

	if cfg.Valkey.Addr != "" {
		valkey, err := cache.NewValkeyClient(cache.Config{
			Addr:     cfg.Valkey.Addr,
			Password: cfg.Valkey.Password,
			TTL:      cfg.Valkey.TTL,
		})
		if err != nil {
			slog.Error("Catalog cache disabled", "error", err)
		} else {
			s.valkey = valkey
			opts.Catalog = valkey
		}
	}

	if cfg.Elasticsearch.Enabled() {
		es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			slog.Error("Catalog search disabled", "error", err)
		} else {
			opts.Search = es
		}
	}

	s.repos = repository.NewRepositories(s.backend)
	s.services = service.NewServices(s.backend, s.repos, natsClient, opts)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.services.Start(ctx)

	s.router = gin.New()
	s.router.Use(middleware.Recovery(), middleware.RequestID(), middleware.Logger(), middleware.CORS())
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services)
	h.Register(s.router.Group("/api"), s.repos.Profiles, s.config.RequestTimeout)

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "ok",
		"service": "festtix-api",
		"backend": s.config.Backend,
	}

	select {
	case <-s.services.Realtime.Ready():
		body["realtime"] = "subscribed"
	default:
		body["realtime"] = "connecting"
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		check := s.db.HealthCheck(ctx)
		body["database"] = check
		if check.Status != "healthy" {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	c.JSON(status, body)
}

func (s *Server) Run() error {
	return s.router.Run(":" + s.config.Port)
}

// GetRouter returns the router for http.Server and tests
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup stops background work, drains the counter queue and closes
// connections
func (s *Server) Cleanup() error {
	if s.services != nil {
		s.services.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	if s.valkey != nil {
		if err := s.valkey.Close(); err != nil {
			slog.Error("Error closing Valkey client", "error", err)
		}
	}

	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			slog.Error("Error closing backend", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
