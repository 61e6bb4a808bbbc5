package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	LogMode       string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	CORSOrigin    string
	// Draft sessions
	RedisURL   string
	SessionTTL time.Duration
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Upload hand-off bucket
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	// Draft history
	DraftsDir string
	// Generation
	GenerationProvider   string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	GeminiAPIKey         string
	GeminiModel          string
	GenerationTimeout    time.Duration
	GenerationMaxRetries int
	GenerationRPS        float64
	GenerationBurst      int
	ExpansionSearchLimit int
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8788"),
		LogMode:       getenv("LOG_MODE", "dev"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:     getenv("GROUNDWRITE_JWT_SECRET", "groundwrite-dev-secret"),
		CORSOrigin:    getenv("CORS_ORIGIN", "*"),

		// Redis is optional; sessions live in memory without it.
		RedisURL:   getenv("REDIS_URL", ""),
		SessionTTL: time.Duration(getenvInt("SESSION_TTL_SECONDS", 86400)) * time.Second,

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		S3Endpoint:  getenv("S3_ENDPOINT", ""),
		S3AccessKey: getenv("S3_ACCESS_KEY", ""),
		S3SecretKey: getenv("S3_SECRET_KEY", ""),
		S3Bucket:    getenv("S3_BUCKET", "groundwrite-uploads"),
		S3UseSSL:    getenvBool("S3_USE_SSL", false),

		DraftsDir: getenv("DRAFTS_DIR", "./data/drafts"),

		GenerationProvider:   strings.ToLower(getenv("GENERATION_PROVIDER", "openai")),
		OpenAIAPIKey:         getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getenv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:          getenv("OPENAI_MODEL", "gpt-4.1-mini"),
		GeminiAPIKey:         getenv("GEMINI_API_KEY", ""),
		GeminiModel:          getenv("GEMINI_MODEL", "gemini-2.5-flash"),
		GenerationTimeout:    time.Duration(getenvInt("GENERATION_TIMEOUT_SECONDS", 90)) * time.Second,
		GenerationMaxRetries: getenvInt("GENERATION_MAX_RETRIES", 2),
		GenerationRPS:        getenvFloat("GENERATION_RPS", 2),
		GenerationBurst:      getenvInt("GENERATION_BURST", 4),
		ExpansionSearchLimit: getenvInt("EXPANSION_SEARCH_LIMIT", 3),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
