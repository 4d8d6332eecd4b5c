package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/leadwire/rtb-core/internal/auction"
	"github.com/leadwire/rtb-core/internal/bidcache"
	"github.com/leadwire/rtb-core/internal/endpoints"
	"github.com/leadwire/rtb-core/internal/metrics"
	"github.com/leadwire/rtb-core/internal/partner"
	"github.com/leadwire/rtb-core/internal/storage"
	"github.com/leadwire/rtb-core/internal/tracking"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// Server represents the RTB auction server
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	metrics    *metrics.Metrics
	engine     *auction.Engine
	client     *partner.Client
	pipeline   *tracking.Pipeline
	cache      bidcache.Store
	redisCache *bidcache.Redis
	partners   *storage.PartnerStore
}

// NewServer creates a new RTB auction server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	return s, nil
}

// initialize sets up all server components
func (s *Server) initialize() error {
	log := logger.Log

	log.Info().
		Str("port", s.config.Port).
		Str("partner_url", s.config.PartnerURL).
		Str("collector_url", s.config.CollectorURL).
		Dur("bid_timeout", s.config.BidTimeout).
		Bool("fraud_detection", s.config.FraudDetection).
		Msg("Initializing RTB auction server")

	// Initialize Prometheus metrics
	s.metrics = metrics.NewMetrics("rtb")
	log.Info().Msg("Prometheus metrics enabled")

	// Initialize database if configured
	if err := s.initDatabase(); err != nil {
		// Database failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Database initialization failed, continuing with reduced functionality")
	}

	// Initialize bid cache (Redis if configured, in-memory otherwise)
	s.initCache()

	// Initialize partner client and tracking pipeline. The breaker
	// feeds the circuit state gauge on every transition.
	partnerCfg := s.config.ToPartnerConfig()
	partnerCfg.Breaker.OnStateChange = s.metrics.SetPartnerCircuitState
	s.client = partner.NewClient(partnerCfg)
	s.pipeline = tracking.New(s.config.ToTrackingConfig(), nil, s.metrics)

	// Initialize auction engine
	engine, err := auction.New(s.config.ToEngineConfig(), auction.Dependencies{
		Cache:   s.cache,
		Partner: s.client,
		Tracker: s.pipeline,
		Metrics: s.metrics,
	})
	if err != nil {
		return err
	}
	s.engine = engine
	log.Info().Msg("Auction engine initialized")

	// Initialize handlers and build HTTP server
	s.initHandlers()

	return nil
}

// initDatabase initializes the partner configuration store
func (s *Server) initDatabase() error {
	log := logger.Log

	if s.config.DatabaseConfig == nil {
		log.Info().Msg("DB_HOST not set, partner configuration store disabled")
		return nil
	}

	dbCfg := s.config.DatabaseConfig
	dbConn, err := storage.NewDBConnection(
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.User,
		dbCfg.Password,
		dbCfg.Name,
		dbCfg.SSLMode,
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, partner configuration store disabled")
		return err
	}

	s.partners = storage.NewPartnerStore(dbConn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	partners, err := s.partners.ListEnabled(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load partners from database")
		return nil
	}

	log.Info().Int("count", len(partners)).Msg("Partners loaded from PostgreSQL")

	// The highest-priority stored partner overrides the static endpoint
	if len(partners) > 0 {
		p := partners[0]
		s.config.PartnerURL = p.EndpointURL
		if p.APIKey != "" {
			s.config.PartnerAPIKey = p.APIKey
		}
		if p.TimeoutMs > 0 {
			s.config.BidTimeout = partner.ClampTimeout(time.Duration(p.TimeoutMs) * time.Millisecond)
		}
		if p.MinBidAmount > 0 && p.MaxBidAmount > p.MinBidAmount {
			s.config.MinBidAmount = p.MinBidAmount
			s.config.MaxBidAmount = p.MaxBidAmount
		}
		if len(p.VerticalMultipliers) > 0 {
			s.config.VerticalMultipliers = p.VerticalMultipliers
		}
		log.Info().
			Str("partner", p.Code).
			Str("endpoint", p.EndpointURL).
			Int("priority", p.Priority).
			Msg("Partner configuration applied from store")
	}

	return nil
}

// initCache selects the bid cache backend
func (s *Server) initCache() {
	log := logger.Log

	if s.config.RedisURL == "" {
		s.cache = bidcache.NewMemory()
		log.Info().Msg("REDIS_URL not set, using in-memory bid cache")
		return
	}

	redisCache, err := bidcache.NewRedis(s.config.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis, using in-memory bid cache")
		s.cache = bidcache.NewMemory()
		return
	}

	s.redisCache = redisCache
	s.cache = redisCache
	log.Info().Msg("Redis bid cache initialized")
}

// initHandlers initializes HTTP handlers and builds the handler chain
func (s *Server) initHandlers() {
	auctionHandler := endpoints.NewAuctionHandler(s.engine)
	clickHandler := endpoints.NewClickHandler(s.engine)
	statusHandler := endpoints.NewStatusHandler()

	mux := http.NewServeMux()
	mux.Handle("/auction", auctionHandler)
	mux.Handle("/events/click", clickHandler)
	mux.Handle("/status", statusHandler)
	mux.Handle("/health", healthHandler())
	mux.Handle("/health/ready", readyHandler(s.redisCache))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Circuit breaker stats for operators
	mux.HandleFunc("/admin/circuit-breaker", s.circuitBreakerHandler)

	// Build chain: Logging -> Metrics -> Handler
	handler := http.Handler(mux)
	handler = s.metrics.Middleware(handler)
	handler = loggingMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// circuitBreakerHandler returns partner circuit breaker stats
func (s *Server) circuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.client.BreakerStats()
	s.metrics.SetPartnerCircuitState(stats.State)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"partner":  stats,
		"tracking": s.pipeline.Stats(),
	}); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode circuit breaker stats")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log := logger.Log
	log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown performs graceful shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	log.Info().Msg("Starting graceful shutdown")

	// Stop the engine's rate limiter
	if s.engine != nil {
		s.engine.Close()
	}

	// Drain pending tracking events
	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			log.Warn().Err(err).Msg("Error flushing tracking pipeline")
		} else {
			log.Info().Msg("Tracking pipeline flushed")
		}
	}

	// Close the Redis cache connection
	if s.redisCache != nil {
		if err := s.redisCache.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing Redis connection")
		}
	}

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		event := logger.Log.Info()
		if wrapped.statusCode >= 400 {
			event = logger.Log.Warn()
		}
		if wrapped.statusCode >= 500 {
			event = logger.Log.Error()
		}

		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", duration).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// healthHandler returns a simple liveness check
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode health response")
		}
	})
}

// readyHandler returns a readiness check with dependency verification
func readyHandler(redisCache *bidcache.Redis) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]interface{})
		allHealthy := true

		if redisCache != nil {
			if err := redisCache.Ping(ctx); err != nil {
				checks["redis"] = map[string]interface{}{
					"status": "unhealthy",
					"error":  err.Error(),
				}
				allHealthy = false
			} else {
				checks["redis"] = map[string]interface{}{
					"status": "healthy",
				}
			}
		} else {
			checks["redis"] = map[string]interface{}{
				"status": "disabled",
			}
		}

		status := http.StatusOK
		if !allHealthy {
			status = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"ready":     allHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode readiness response")
		}
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}
