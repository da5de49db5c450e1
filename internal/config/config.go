package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	DataDir     string
	DBPath      string
	LocalesDir  string
	ModelsPath  string

	TelegramToken string
	TelegramAPI   string
	TelegramPoll  int

	LLMBaseURL       string
	LLMChatKeysCSV   string
	LLMVisionKeysCSV string
	LLMClassifyModel string
	LLMDefaultModel  string
	LLMTimeoutSec    int
	LLMTemperature   float64
	LLMMaxTokens     int

	SearchEndpoint   string
	SearchKeysCSV    string
	SearchMaxResults int
	SearchTimeoutSec int
	FetchTimeoutSec  int

	DailyChatLimit     int
	HistoryLimit       int
	ChunkPaceMillis    int
	DebounceSeconds    int
	CacheMaxEntries    int
	CacheTTLSeconds    int
	CacheSweepSchedule string
}

func FromEnv() Config {
	dataDir := stringOrDefault("COURIER_DATA_DIR", "/data")
	dbPath := stringOrDefault("COURIER_DB_PATH", filepath.Join(dataDir, "courier.sqlite"))

	return Config{
		Environment: stringOrDefault("COURIER_ENV", "development"),
		DataDir:     dataDir,
		DBPath:      dbPath,
		LocalesDir:  stringOrDefault("COURIER_LOCALES_DIR", "locales"),
		ModelsPath:  stringOrDefault("COURIER_MODELS_PATH", "models.json"),

		TelegramToken: os.Getenv("COURIER_TELEGRAM_TOKEN"),
		TelegramAPI:   stringOrDefault("COURIER_TELEGRAM_API_BASE", "https://api.telegram.org"),
		TelegramPoll:  intOrDefault("COURIER_TELEGRAM_POLL_SECONDS", 50),

		LLMBaseURL:       stringOrDefault("COURIER_LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMChatKeysCSV:   os.Getenv("COURIER_LLM_CHAT_KEYS"),
		LLMVisionKeysCSV: os.Getenv("COURIER_LLM_VISION_KEYS"),
		LLMClassifyModel: stringOrDefault("COURIER_LLM_CLASSIFY_MODEL", "llama-3.1-8b-instant"),
		LLMDefaultModel:  stringOrDefault("COURIER_LLM_DEFAULT_MODEL", "llama-3.3-70b-versatile"),
		LLMTimeoutSec:    intOrDefault("COURIER_LLM_TIMEOUT_SECONDS", 60),
		LLMTemperature:   floatOrDefault("COURIER_LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:     intOrDefault("COURIER_LLM_MAX_TOKENS", 4096),

		SearchEndpoint:   os.Getenv("COURIER_SEARCH_ENDPOINT"),
		SearchKeysCSV:    os.Getenv("COURIER_SEARCH_KEYS"),
		SearchMaxResults: intOrDefault("COURIER_SEARCH_MAX_RESULTS", 5),
		SearchTimeoutSec: intOrDefault("COURIER_SEARCH_TIMEOUT_SECONDS", 15),
		FetchTimeoutSec:  intOrDefault("COURIER_FETCH_TIMEOUT_SECONDS", 20),

		DailyChatLimit:     intOrDefault("COURIER_DAILY_CHAT_LIMIT", 20),
		HistoryLimit:       intOrDefault("COURIER_HISTORY_LIMIT", 20),
		ChunkPaceMillis:    intOrDefault("COURIER_CHUNK_PACE_MILLIS", 500),
		DebounceSeconds:    intOrDefault("COURIER_DEBOUNCE_SECONDS", 5),
		CacheMaxEntries:    intOrDefault("COURIER_CACHE_MAX_ENTRIES", 100),
		CacheTTLSeconds:    intOrDefault("COURIER_CACHE_TTL_SECONDS", 600),
		CacheSweepSchedule: stringOrDefault("COURIER_CACHE_SWEEP_SCHEDULE", "@every 5m"),
	}
}

// SplitCSV parses a comma-separated value list, dropping empty entries.
func SplitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
