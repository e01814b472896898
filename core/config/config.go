// Package config loads the agent's runtime configuration from the
// environment (optionally seeded by a .env file in cmd/* entrypoints via
// github.com/joho/godotenv), following the same getEnv/getEnvInt shape used
// throughout this codebase.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Env  string // development, staging, production
	Port string

	LLM     LLMConfig
	Loop    LoopConfig
	LogLevel string // minimal, moderate, verbose

	Arango    ArangoConfig
	Typesense TypesenseConfig
	Redis     RedisConfig

	OTel OTelConfig
}

// LLMConfig holds chat-completion credentials and model parameters.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// LoopConfig holds the reasoning loop's tunables.
type LoopConfig struct {
	MaxIterations int
	ParallelTools bool
	ToolTimeout   time.Duration
	WorkerCap     int
	EnableCache   bool // gates the optional Redis tool-result cache (also needs Redis.Addr)
}

// ArangoConfig holds the primary graph store connection.
type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

// TypesenseConfig holds the optional lexical search collaborator's
// connection. Disabled when APIKey is empty.
type TypesenseConfig struct {
	URL    string
	APIKey string
}

func (c TypesenseConfig) Enabled() bool { return c.APIKey != "" }

// RedisConfig holds the optional tool-result cache's connection. Disabled
// when Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	enabled        bool
}

func (c OTelConfig) Enabled() bool { return c.enabled && c.Endpoint != "" }

// Load loads configuration from environment variables, with sensible
// defaults for local development.
func Load() Config {
	return Config{
		Env:  getEnv("AGENT_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		LLM: LLMConfig{
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		},
		Loop: LoopConfig{
			MaxIterations: getEnvInt("MAX_ITERATIONS", 10),
			ParallelTools: getEnvBool("PARALLEL_TOOLS", true),
			ToolTimeout:   time.Duration(getEnvInt("TOOL_TIMEOUT_SECONDS", 30)) * time.Second,
			WorkerCap:     getEnvInt("TOOL_WORKER_CAP", 5),
			EnableCache:   getEnvBool("ENABLE_CACHE", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "moderate"),
		Arango: ArangoConfig{
			URL:      getEnv("ARANGO_URL", "http://localhost:8529"),
			Username: getEnv("ARANGO_USERNAME", "root"),
			Password: getEnv("ARANGO_PASSWORD", ""),
			Database: getEnv("ARANGO_DATABASE", "memory_graph"),
		},
		Typesense: TypesenseConfig{
			URL:    getEnv("TYPESENSE_URL", ""),
			APIKey: getEnv("TYPESENSE_API_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      time.Duration(getEnvInt("CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "temporal-memory-agent"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			enabled:        getEnvBool("OTEL_ENABLED", false),
		},
	}
}

// IsProduction reports whether the environment is production.
func (c Config) IsProduction() bool { return c.Env == "production" }

// IsDevelopment reports whether the environment is development.
func (c Config) IsDevelopment() bool { return c.Env == "development" }

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
