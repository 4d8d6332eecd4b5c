package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/leadwire/rtb-core/internal/auction"
	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/internal/partner"
	"github.com/leadwire/rtb-core/internal/ratelimit"
	"github.com/leadwire/rtb-core/internal/tracking"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port string

	// RTB partner
	PartnerURL    string
	PartnerAPIKey string
	BidTimeout    time.Duration
	RetryAttempts uint64

	// Tracking
	CollectorURL string

	// Auction
	FraudDetection      bool
	MaxWinners          int
	MinBidAmount        float64
	MaxBidAmount        float64
	CacheTTL            time.Duration
	VerticalMultipliers map[string]float64

	// Rate limiting
	RequestsPerSecond float64
	BurstSize         int

	// Redis
	RedisURL string

	// Database
	DatabaseConfig *DatabaseConfig
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ParseConfig parses configuration from flags and environment variables
func ParseConfig() *ServerConfig {
	// Parse flags with environment variable fallbacks
	port := flag.String("port", getEnvOrDefault("RTB_PORT", "8080"), "Server port")
	partnerURL := flag.String("partner-url", getEnvOrDefault("PARTNER_URL", "http://localhost:9100"), "RTB partner endpoint")
	collectorURL := flag.String("collector-url", getEnvOrDefault("COLLECTOR_URL", "http://localhost:9200"), "Analytics collector endpoint")
	bidTimeout := flag.Duration("bid-timeout", 500*time.Millisecond, "Partner bid request timeout")
	fraudDetection := flag.Bool("fraud-detection", getEnvBoolOrDefault("FRAUD_DETECTION", true), "Enable bid fraud checks")
	maxWinners := flag.Int("max-winners", 3, "Maximum ranked bids per auction")
	flag.Parse()

	cfg := &ServerConfig{
		Port:              *port,
		PartnerURL:        *partnerURL,
		PartnerAPIKey:     os.Getenv("PARTNER_API_KEY"),
		BidTimeout:        *bidTimeout,
		RetryAttempts:     2,
		CollectorURL:      *collectorURL,
		FraudDetection:    *fraudDetection,
		MaxWinners:        *maxWinners,
		MinBidAmount:      getEnvFloatOrDefault("MIN_BID_AMOUNT", 0.01),
		MaxBidAmount:      getEnvFloatOrDefault("MAX_BID_AMOUNT", 100.0),
		CacheTTL:          30 * time.Second,
		RequestsPerSecond: getEnvFloatOrDefault("RATE_LIMIT_RPS", 100),
		BurstSize:         50,
		RedisURL:          os.Getenv("REDIS_URL"),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:     dbHost,
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "rtb"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "rtb"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		}
	}

	return cfg
}

// Validate checks configuration invariants before any component starts
func (c *ServerConfig) Validate() error {
	if c.PartnerURL == "" {
		return fmt.Errorf("partner URL is required")
	}
	if c.BidTimeout < partner.MinTimeout || c.BidTimeout > partner.MaxTimeout {
		return fmt.Errorf("bid timeout must be within [%v,%v], got %v", partner.MinTimeout, partner.MaxTimeout, c.BidTimeout)
	}
	if c.MinBidAmount <= 0 || c.MaxBidAmount <= c.MinBidAmount {
		return fmt.Errorf("invalid bid amount range: min=%v, max=%v", c.MinBidAmount, c.MaxBidAmount)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	return nil
}

// ToEngineConfig converts ServerConfig to auction.Config
func (c *ServerConfig) ToEngineConfig() *auction.Config {
	opt := bid.DefaultOptimizationConfig()
	opt.MinBidAmount = c.MinBidAmount
	opt.MaxBidAmount = c.MaxBidAmount
	opt.CacheDuration = c.CacheTTL

	return &auction.Config{
		Optimization:         opt,
		EnableFraudDetection: c.FraudDetection,
		MaxWinners:           c.MaxWinners,
		AdvertiserDiversity:  true,
		VerticalMultipliers:  c.VerticalMultipliers,
		RequestTimeout:       c.BidTimeout,
		RateLimit: &ratelimit.Config{
			RequestsPerSecond: int(c.RequestsPerSecond),
			BurstSize:         c.BurstSize,
			CleanupInterval:   time.Minute,
		},
	}
}

// ToPartnerConfig converts ServerConfig to partner.ClientConfig
func (c *ServerConfig) ToPartnerConfig() *partner.ClientConfig {
	return &partner.ClientConfig{
		Endpoint:      c.PartnerURL,
		APIKey:        c.PartnerAPIKey,
		Timeout:       c.BidTimeout,
		RetryAttempts: c.RetryAttempts,
		Breaker:       partner.DefaultBreakerConfig(),
	}
}

// ToTrackingConfig converts ServerConfig to tracking.Config
func (c *ServerConfig) ToTrackingConfig() *tracking.Config {
	return tracking.DefaultConfig(c.CollectorURL)
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvFloatOrDefault returns the environment variable as float or a default
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var f float64
	if _, err := fmt.Sscanf(value, "%g", &f); err != nil {
		return defaultValue
	}
	return f
}
