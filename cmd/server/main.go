package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jake1318/sui-rpc-proxy/internal/config"
	"github.com/jake1318/sui-rpc-proxy/internal/handlers"
	"github.com/jake1318/sui-rpc-proxy/internal/middleware"
	"github.com/jake1318/sui-rpc-proxy/internal/services"
	"github.com/jake1318/sui-rpc-proxy/pkg/cache"
	"github.com/jake1318/sui-rpc-proxy/pkg/logger"
	"github.com/jake1318/sui-rpc-proxy/pkg/metrics"
	"github.com/jake1318/sui-rpc-proxy/pkg/queue"
	"github.com/jake1318/sui-rpc-proxy/pkg/ratelimiter"
	"github.com/jake1318/sui-rpc-proxy/pkg/throttle"
)

// Server represents the main application server
type Server struct {
	httpServer    *http.Server
	config        *config.Config
	responseCache *cache.Cache
	metadataCache *cache.Cache
	scheduler     *throttle.Scheduler
	rateLimiter   *ratelimiter.RateLimiter
	admission     *queue.AdmissionQueue
	store         *services.MetadataStore
	router        *handlers.Router
}

func main() {
	cfg := config.LoadConfig()

	loggerConfig := &logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Logging.Environment,
		OutputPaths: cfg.Logging.OutputPaths,
	}
	if err := logger.Initialize(loggerConfig); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()

	log.Info("Starting Sui RPC proxy",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("primary_rpc", cfg.RPC.PrimaryEndpoint),
		zap.String("fallback_rpc", cfg.RPC.FallbackEndpoint),
		zap.Bool("birdeye_configured", cfg.Birdeye.HasAPIKey()),
		zap.Bool("mongodb_enabled", cfg.MongoDB.Enabled()),
		zap.Duration("response_ttl", cfg.Cache.ResponseTTL),
		zap.Duration("metadata_ttl", cfg.Cache.MetadataTTL),
		zap.Int("rate_limit_rpm", cfg.RateLimit.RequestsPerMinute),
	)

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	if err := server.Start(); err != nil {
		log.Fatal("Server failed to start", zap.Error(err))
	}
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.GetLogger()

	log.Info("Initializing server components")

	responseCache := cache.New(cfg.Cache.ResponseTTL, cfg.Cache.CleanupInterval)
	metadataCache := cache.New(cfg.Cache.MetadataTTL, cfg.Cache.CleanupInterval)
	scheduler := throttle.New(cfg.Birdeye.MaxPerSecond)
	rateLimiter := ratelimiter.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowSize)
	collector := metrics.NewCollector()

	admission := queue.New(
		cfg.RPC.MaxConcurrent,
		cfg.Queue.QueueLimit,
		cfg.Queue.SettleDelay,
		cfg.Queue.StepDelay,
		cfg.Queue.MaxDelay,
	)

	var store *services.MetadataStore
	if cfg.MongoDB.Enabled() {
		log.Debug("Connecting metadata store")
		var err error
		store, err = services.NewMetadataStore(&cfg.MongoDB)
		if err != nil {
			// Persistence is best effort; run without it.
			log.Warn("Metadata store unavailable, continuing without persistence", zap.Error(err))
			store = nil
		}
	}

	metadataService := services.NewMetadataService(&cfg.Birdeye, metadataCache, scheduler, store, collector)
	metadataService.WarmLoad()

	forwarder := services.NewProxyForwarder(&cfg.RPC)
	direct := services.NewDirectClient(&cfg.RPC)

	rpcHandler := handlers.NewRPCHandler(responseCache, metadataService, forwarder, direct, admission, collector)
	healthHandler := handlers.NewHealthHandler(responseCache, metadataCache, metadataService, admission, rateLimiter, collector, store)
	router := handlers.NewRouter(rpcHandler, healthHandler, rateLimiter)

	log.Info("Server components initialized")

	return &Server{
		config:        cfg,
		responseCache: responseCache,
		metadataCache: metadataCache,
		scheduler:     scheduler,
		rateLimiter:   rateLimiter,
		admission:     admission,
		store:         store,
		router:        router,
	}, nil
}

// Start starts the HTTP server with graceful shutdown handling
func (s *Server) Start() error {
	log := logger.GetLogger()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(logger.RecoveryMiddleware())
	engine.Use(logger.LoggingMiddleware())
	engine.Use(middleware.RequestSizeMiddleware())
	engine.Use(middleware.CORSMiddleware())

	s.router.SetupRoutes(engine)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:           engine,
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	log.Info("HTTP server configured",
		zap.String("address", s.httpServer.Addr),
		zap.Duration("read_timeout", s.config.Server.ReadTimeout),
		zap.Duration("write_timeout", s.config.Server.WriteTimeout),
	)

	go func() {
		log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	return s.waitForShutdown()
}

// waitForShutdown waits for interrupt signal and performs graceful shutdown
func (s *Server) waitForShutdown() error {
	log := logger.GetLogger()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.cleanup()

	log.Info("Server gracefully stopped")
	return nil
}

// cleanup stops background workers and closes connections
func (s *Server) cleanup() {
	log := logger.GetLogger()

	log.Info("Cleaning up services...")

	s.responseCache.Stop()
	s.metadataCache.Stop()
	s.scheduler.Stop()
	s.rateLimiter.Stop()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Error("Error closing metadata store", zap.Error(err))
		}
	}

	if err := logger.GetLogger().Sync(); err != nil {
		// Logger might already be closed.
		fmt.Printf("Error syncing logger: %v\n", err)
	}

	log.Info("Cleanup completed")
}
