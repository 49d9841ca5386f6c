// Package config loads PromptMCP's environment-driven configuration into a
// single immutable record: no package-level state, one Load() call at
// process start.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved process configuration.
type Config struct {
	// Context7
	Context7Enabled bool
	Context7BaseURL string
	Context7APIKey  string

	// LLM
	LLMProvider     string
	LLMAPIKey       string
	LLMModel        string
	LLMMaxTokens    int
	LLMTemperature  float64
	LLMProviderURL  string

	// Ambient
	LogLevel      string
	WorkspacePath string
	CacheDir      string

	// Cache
	CacheTTL             time.Duration
	CacheSoftRefreshTTL  time.Duration
	CacheHotCapacity     int
	CacheHotMaxBytes     int64
	CacheQualityFloor    float64

	// Concurrency / deadlines
	MaxConcurrentOutbound int
	OutboundQueueTimeout  time.Duration
	CallDeadline          time.Duration
	Context7FanOut        int

	// Task breakdown
	MaxTasksDefault int

	// Framework detection override
	FrameworkKeywordsPath string
}

// Load reads a .env file if present (best-effort, never fatal if
// missing) then resolves every documented environment variable,
// applying defaults for anything unset.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Context7Enabled: envBool("CONTEXT7_ENABLED", true),
		Context7BaseURL: envString("CONTEXT7_BASE_URL", "https://context7.example.com"),
		Context7APIKey:  os.Getenv("CONTEXT7_API_KEY"),

		LLMProvider:    envString("LLM_PROVIDER", "openai"),
		LLMAPIKey:      firstNonEmpty(os.Getenv("OPENAI_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("LLM_API_KEY")),
		LLMModel:       envString("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   envInt("LLM_MAX_TOKENS", 2000),
		LLMTemperature: envFloat("LLM_TEMPERATURE", 0.2),
		LLMProviderURL: os.Getenv("LLM_PROVIDER_URL"),

		LogLevel:      envString("LOG_LEVEL", "info"),
		WorkspacePath: envString("WORKSPACE_PATH", "."),
		CacheDir:      envString("PROMPTMCP_CACHE_DIR", ".promptmcp"),

		CacheTTL:            envDuration("CACHE_TTL", 24*time.Hour),
		CacheSoftRefreshTTL: envDuration("CACHE_SOFT_REFRESH_TTL", 1*time.Hour),
		CacheHotCapacity:    envInt("CACHE_HOT_CAPACITY", 1000),
		CacheHotMaxBytes:    envInt64("CACHE_HOT_MAX_BYTES", 64*1024*1024),
		CacheQualityFloor:   envFloat("CACHE_QUALITY_FLOOR", 0),

		MaxConcurrentOutbound: envInt("MAX_CONCURRENT_OUTBOUND", 8),
		OutboundQueueTimeout:  envDuration("OUTBOUND_QUEUE_TIMEOUT", 2*time.Second),
		CallDeadline:          envDuration("CALL_DEADLINE", 30*time.Second),
		Context7FanOut:        envInt("CONTEXT7_FANOUT", 4),

		MaxTasksDefault: envInt("TASKBREAKDOWN_MAX_TASKS", 10),

		FrameworkKeywordsPath: os.Getenv("FRAMEWORK_KEYWORDS_PATH"),
	}

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
