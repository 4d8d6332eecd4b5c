package main

import (
	"flag"
	"os"
	"testing"
	"time"
)

var configEnvVars = []string{
	"RTB_PORT", "PARTNER_URL", "PARTNER_API_KEY", "COLLECTOR_URL",
	"FRAUD_DETECTION", "MIN_BID_AMOUNT", "MAX_BID_AMOUNT", "RATE_LIMIT_RPS",
	"REDIS_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
}

func TestParseConfig_Defaults(t *testing.T) {
	clearEnvVars(t)
	resetFlags()

	cfg := ParseConfig()

	if cfg.Port != "8080" {
		t.Errorf("Expected default port '8080', got '%s'", cfg.Port)
	}
	if cfg.PartnerURL != "http://localhost:9100" {
		t.Errorf("Expected default partner URL, got '%s'", cfg.PartnerURL)
	}
	if cfg.CollectorURL != "http://localhost:9200" {
		t.Errorf("Expected default collector URL, got '%s'", cfg.CollectorURL)
	}
	if cfg.BidTimeout != 500*time.Millisecond {
		t.Errorf("Expected default bid timeout 500ms, got %v", cfg.BidTimeout)
	}
	if !cfg.FraudDetection {
		t.Error("Expected fraud detection enabled by default")
	}
	if cfg.MaxWinners != 3 {
		t.Errorf("Expected default max winners 3, got %d", cfg.MaxWinners)
	}
	if cfg.MinBidAmount != 0.01 || cfg.MaxBidAmount != 100.0 {
		t.Errorf("Expected default bid range [0.01,100], got [%v,%v]", cfg.MinBidAmount, cfg.MaxBidAmount)
	}
	if cfg.DatabaseConfig != nil {
		t.Error("Expected no database config when DB_HOST is not set")
	}
	if cfg.RedisURL != "" {
		t.Error("Expected empty Redis URL when REDIS_URL is not set")
	}
}

func TestParseConfig_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(*testing.T, *ServerConfig)
	}{
		{
			name:    "Custom port",
			envVars: map[string]string{"RTB_PORT": "9000"},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.Port != "9000" {
					t.Errorf("Expected port '9000', got '%s'", cfg.Port)
				}
			},
		},
		{
			name:    "Custom partner URL",
			envVars: map[string]string{"PARTNER_URL": "http://rtb.example.com:8080"},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.PartnerURL != "http://rtb.example.com:8080" {
					t.Errorf("Expected partner URL 'http://rtb.example.com:8080', got '%s'", cfg.PartnerURL)
				}
			},
		},
		{
			name:    "Partner API key",
			envVars: map[string]string{"PARTNER_API_KEY": "secret-key-123"},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.PartnerAPIKey != "secret-key-123" {
					t.Errorf("Expected API key 'secret-key-123', got '%s'", cfg.PartnerAPIKey)
				}
			},
		},
		{
			name:    "Fraud detection disabled",
			envVars: map[string]string{"FRAUD_DETECTION": "false"},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.FraudDetection {
					t.Error("Expected fraud detection to be disabled")
				}
			},
		},
		{
			name:    "Redis URL",
			envVars: map[string]string{"REDIS_URL": "redis://localhost:6379/0"},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.RedisURL != "redis://localhost:6379/0" {
					t.Errorf("Expected Redis URL 'redis://localhost:6379/0', got '%s'", cfg.RedisURL)
				}
			},
		},
		{
			name:    "Bid amount range",
			envVars: map[string]string{"MIN_BID_AMOUNT": "5", "MAX_BID_AMOUNT": "250"},
			validate: func(t *testing.T, cfg *ServerConfig) {
				if cfg.MinBidAmount != 5 || cfg.MaxBidAmount != 250 {
					t.Errorf("Expected bid range [5,250], got [%v,%v]", cfg.MinBidAmount, cfg.MaxBidAmount)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}
			resetFlags()

			cfg := ParseConfig()
			tt.validate(t, cfg)
		})
	}
}

func TestParseConfig_DatabaseConfig(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("DB_HOST", "postgres.example.com")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_USER", "testuser")
	t.Setenv("DB_PASSWORD", "testpass")
	t.Setenv("DB_NAME", "testdb")
	t.Setenv("DB_SSL_MODE", "require")

	resetFlags()

	cfg := ParseConfig()

	if cfg.DatabaseConfig == nil {
		t.Fatal("Expected database config to be set")
	}

	dbCfg := cfg.DatabaseConfig
	if dbCfg.Host != "postgres.example.com" {
		t.Errorf("Expected DB host 'postgres.example.com', got '%s'", dbCfg.Host)
	}
	if dbCfg.Port != "5433" {
		t.Errorf("Expected DB port '5433', got '%s'", dbCfg.Port)
	}
	if dbCfg.User != "testuser" {
		t.Errorf("Expected DB user 'testuser', got '%s'", dbCfg.User)
	}
	if dbCfg.SSLMode != "require" {
		t.Errorf("Expected DB SSL mode 'require', got '%s'", dbCfg.SSLMode)
	}
}

func TestParseConfig_DatabaseDefaults(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("DB_HOST", "localhost")
	resetFlags()

	cfg := ParseConfig()

	if cfg.DatabaseConfig == nil {
		t.Fatal("Expected database config to be set")
	}
	if cfg.DatabaseConfig.Port != "5432" {
		t.Errorf("Expected default DB port '5432', got '%s'", cfg.DatabaseConfig.Port)
	}
	if cfg.DatabaseConfig.User != "rtb" {
		t.Errorf("Expected default DB user 'rtb', got '%s'", cfg.DatabaseConfig.User)
	}
	if cfg.DatabaseConfig.SSLMode != "disable" {
		t.Errorf("Expected default SSL mode 'disable', got '%s'", cfg.DatabaseConfig.SSLMode)
	}
}

func TestServerConfig_Validate(t *testing.T) {
	valid := func() *ServerConfig {
		return &ServerConfig{
			PartnerURL:        "http://localhost:9100",
			BidTimeout:        500 * time.Millisecond,
			MinBidAmount:      0.01,
			MaxBidAmount:      100,
			RequestsPerSecond: 100,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"missing partner URL", func(c *ServerConfig) { c.PartnerURL = "" }},
		{"bid timeout too low", func(c *ServerConfig) { c.BidTimeout = 50 * time.Millisecond }},
		{"bid timeout too high", func(c *ServerConfig) { c.BidTimeout = 2 * time.Second }},
		{"min above max", func(c *ServerConfig) { c.MinBidAmount = 200 }},
		{"zero min bid", func(c *ServerConfig) { c.MinBidAmount = 0 }},
		{"zero rate limit", func(c *ServerConfig) { c.RequestsPerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestToEngineConfig(t *testing.T) {
	cfg := &ServerConfig{
		PartnerURL:          "http://localhost:9100",
		BidTimeout:          300 * time.Millisecond,
		FraudDetection:      true,
		MaxWinners:          5,
		MinBidAmount:        1,
		MaxBidAmount:        500,
		CacheTTL:            45 * time.Second,
		RequestsPerSecond:   10,
		BurstSize:           20,
		VerticalMultipliers: map[string]float64{"auto": 1.5},
	}

	engineCfg := cfg.ToEngineConfig()

	if engineCfg.Optimization.MinBidAmount != 1 || engineCfg.Optimization.MaxBidAmount != 500 {
		t.Errorf("Expected bid range [1,500], got [%v,%v]",
			engineCfg.Optimization.MinBidAmount, engineCfg.Optimization.MaxBidAmount)
	}
	if engineCfg.Optimization.CacheDuration != 45*time.Second {
		t.Errorf("Expected cache duration 45s, got %v", engineCfg.Optimization.CacheDuration)
	}
	if !engineCfg.EnableFraudDetection {
		t.Error("Expected fraud detection enabled")
	}
	if engineCfg.MaxWinners != 5 {
		t.Errorf("Expected max winners 5, got %d", engineCfg.MaxWinners)
	}
	if engineCfg.RequestTimeout != 300*time.Millisecond {
		t.Errorf("Expected request timeout 300ms, got %v", engineCfg.RequestTimeout)
	}
	if engineCfg.RateLimit.RequestsPerSecond != 10 || engineCfg.RateLimit.BurstSize != 20 {
		t.Errorf("Expected rate limit 10rps/20 burst, got %v/%d",
			engineCfg.RateLimit.RequestsPerSecond, engineCfg.RateLimit.BurstSize)
	}
	if engineCfg.VerticalMultipliers["auto"] != 1.5 {
		t.Errorf("Expected vertical multipliers to pass through, got %v", engineCfg.VerticalMultipliers)
	}
}

func TestToPartnerConfig(t *testing.T) {
	cfg := &ServerConfig{
		PartnerURL:    "http://rtb.example.com",
		PartnerAPIKey: "key-1",
		BidTimeout:    400 * time.Millisecond,
		RetryAttempts: 3,
	}

	pc := cfg.ToPartnerConfig()

	if pc.Endpoint != "http://rtb.example.com" {
		t.Errorf("Expected endpoint 'http://rtb.example.com', got '%s'", pc.Endpoint)
	}
	if pc.APIKey != "key-1" {
		t.Errorf("Expected API key 'key-1', got '%s'", pc.APIKey)
	}
	if pc.Timeout != 400*time.Millisecond {
		t.Errorf("Expected timeout 400ms, got %v", pc.Timeout)
	}
	if pc.RetryAttempts != 3 {
		t.Errorf("Expected 3 retries, got %d", pc.RetryAttempts)
	}
	if pc.Breaker == nil || pc.Breaker.FailureThreshold != 5 {
		t.Error("Expected default breaker config with threshold 5")
	}
}
