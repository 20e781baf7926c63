package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// SSOT: every environment variable is read here and nowhere else
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (optional: bar ingestion only, pipeline state stays in memory)
	Database DatabaseConfig

	// Redis (optional: external fetch response cache)
	Redis RedisConfig

	// External data gateways
	JQData    JQDataConfig
	USDA      USDAConfig
	OpenMeteo OpenMeteoConfig
	SpotWeb   SpotWebConfig

	// Pipeline tunables
	Pipeline PipelineConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// JQDataConfig holds the futures price gateway configuration
type JQDataConfig struct {
	BaseURL  string
	Username string
	Password string
}

// USDAConfig holds the USDA QuickStats API configuration
type USDAConfig struct {
	APIKey    string
	BaseURL   string
	Commodity string
}

// OpenMeteoConfig holds the weather archive API configuration. The
// coordinate anchors the growing-region weather layer.
type OpenMeteoConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
}

// SpotWebConfig holds the spot/basis quote page configuration
type SpotWebConfig struct {
	URL string
}

// PipelineConfig holds the engine tunables.
// The gap threshold and regime boost are untuned heuristics carried over
// from research; they are configurable on purpose.
type PipelineConfig struct {
	Symbol           string  // default master contract, e.g. A9999.XDCE
	GapThresholdMult float64 // roll detection: |step| > mult * baseline of other steps
	RegimeBoost      float64 // adaptive weight multiplier for regime-matched factors
	ICMinSamples     int     // minimum valid pairs before IC is reported
	QuantileBuckets  int     // bucket count for quantile-return analysis
}

// Load reads configuration from environment variables
// SSOT: this is the only function that calls os.Getenv()
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		JQData: JQDataConfig{
			BaseURL:  getEnv("JQDATA_BASE_URL", "http://localhost:8000"),
			Username: getEnv("JQDATA_USERNAME", ""),
			Password: getEnv("JQDATA_PASSWORD", ""),
		},

		USDA: USDAConfig{
			APIKey:    getEnv("USDA_API_KEY", ""),
			BaseURL:   getEnv("USDA_BASE_URL", "https://quickstats.nass.usda.gov/api"),
			Commodity: getEnv("USDA_COMMODITY", "SOYBEANS"),
		},

		OpenMeteo: OpenMeteoConfig{
			BaseURL: getEnv("OPENMETEO_BASE_URL", "https://archive-api.open-meteo.com"),
			// Central Iowa, the benchmark soybean growing region.
			Latitude:  getEnvAsFloat("OPENMETEO_LAT", 41.878),
			Longitude: getEnvAsFloat("OPENMETEO_LON", -93.098),
		},

		SpotWeb: SpotWebConfig{
			URL: getEnv("SPOTWEB_URL", ""),
		},

		Pipeline: PipelineConfig{
			Symbol:           getEnv("PIPELINE_SYMBOL", "A9999.XDCE"),
			GapThresholdMult: getEnvAsFloat("GAP_THRESHOLD_MULT", 4.0),
			RegimeBoost:      getEnvAsFloat("REGIME_BOOST", 1.5),
			ICMinSamples:     getEnvAsInt("IC_MIN_SAMPLES", 10),
			QuantileBuckets:  getEnvAsInt("QUANTILE_BUCKETS", 5),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Pipeline.GapThresholdMult <= 0 {
		return fmt.Errorf("GAP_THRESHOLD_MULT must be positive")
	}
	if c.Pipeline.RegimeBoost < 1 {
		return fmt.Errorf("REGIME_BOOST must be >= 1")
	}
	if c.Pipeline.QuantileBuckets < 2 {
		return fmt.Errorf("QUANTILE_BUCKETS must be >= 2")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
