package extraction

import (
	"os"
	"strconv"
)

// Config is the process-wide configuration surface (§6.5), loaded once at
// cmd/ startup and threaded into the Pipeline and its collaborators.
type Config struct {
	CacheEnabled   bool
	CacheBackend   string // "file", "postgres", or "firestore"
	CacheTTLDays   int
	LLMModel       string
	LLMPriceInputM  float64
	LLMPriceOutputM float64
	FxUSDToKRW     float64
	PDFMaxPages    int
	BatchConcurrency  int
	ChunkTargetChars  int
	GeminiAPIKey      string
	ObjectStoreBucket string
	JanitorCron       string
	Port              string
}

// LoadConfig reads the configuration surface from the environment,
// applying the defaults named throughout SPEC_FULL.md §6.5.
func LoadConfig() Config {
	return Config{
		CacheEnabled:      getEnvAsBoolOrDefault("CACHE_ENABLED", true),
		CacheBackend:      getEnvOrDefault("CACHE_BACKEND", "file"),
		CacheTTLDays:      getEnvAsIntOrDefault("CACHE_TTL_DAYS", 30),
		LLMModel:          getEnvOrDefault("LLM_MODEL", "gemini-1.5-flash"),
		LLMPriceInputM:    getEnvAsFloatOrDefault("LLM_PRICE_INPUT_PER_M", 0.075),
		LLMPriceOutputM:   getEnvAsFloatOrDefault("LLM_PRICE_OUTPUT_PER_M", 0.30),
		FxUSDToKRW:        getEnvAsFloatOrDefault("FX_USD_TO_KRW", 1380.0),
		PDFMaxPages:       getEnvAsIntOrDefault("PDF_MAX_PAGES", 50),
		BatchConcurrency:  getEnvAsIntOrDefault("BATCH_CONCURRENCY", 10),
		ChunkTargetChars:  getEnvAsIntOrDefault("CHUNK_TARGET_CHARS", 2000),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		ObjectStoreBucket: os.Getenv("OBJECT_STORE_BUCKET"),
		JanitorCron:       getEnvOrDefault("JANITOR_CRON", "17 3 * * *"),
		Port:              getEnvOrDefault("PORT", "8080"),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
