package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port     string
	Env      string
	LogLevel string
	AppURL   string

	DatabaseURL string
	QueueURL    string
	AWSRegion   string
	RedisURL    string
	NATSURL     string

	APIKey           string
	CORSAllowOrigins []string

	RegistryURL    string
	RegistryAPIKey string
	RegistryWait   time.Duration

	TempDir        string
	GhostscriptBin string
	ChromeBin      string
	RenderTimeout  time.Duration

	LocalStoreDir string
	YandexRoot    string
	YandexAPIURL  string

	ObjectRoot      string
	ObjectAccessKey string
	ObjectSecretKey string
	ObjectBucket    string
	ObjectEndpoint  string
	ObjectRegion    string

	GenerationLock string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:     getEnv("PORT", "8080"),
		Env:      env,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		AppURL:   strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/"),

		DatabaseURL: dbURL,
		QueueURL:    getEnv("QUEUE_URL", ""),
		AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		RedisURL:    getEnv("REDIS_URL", ""),
		NATSURL:     getEnv("NATS_URL", ""),

		APIKey:           getEnv("MEETING_APPLICATION_API_KEY", ""),
		CORSAllowOrigins: splitList(getEnv("CORS_ALLOW_ORIGIN", "")),

		RegistryURL:    strings.TrimRight(getEnv("EFRSB_DEBTOR_MESSAGE_URL", ""), "/"),
		RegistryAPIKey: getEnv("EFRSB_DEBTOR_MESSAGE_API_KEY", ""),
		RegistryWait:   time.Duration(getEnvInt("EFRSB_TIMEOUT_MINUTES", 5)) * time.Minute,

		TempDir:        getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "meeting-applications")),
		GhostscriptBin: getEnv("GS_PATH", ""),
		ChromeBin:      getEnv("CHROME_PATH", ""),
		RenderTimeout:  getEnvDuration("RENDER_TIMEOUT", 60*time.Second),

		LocalStoreDir: getEnv("STORAGE_LOCAL_DIR", "./data"),
		YandexRoot:    getEnv("YANDEX_DISK_ROOT", "/onb"),
		YandexAPIURL:  getEnv("YANDEX_DISK_API_URL", "https://cloud-api.yandex.net/v1/disk"),

		ObjectRoot:      getEnv("ONB_STORAGE_ROOT", "/onb"),
		ObjectAccessKey: getEnv("ONB_STORAGE_ACCESS_KEY", ""),
		ObjectSecretKey: getEnv("ONB_STORAGE_SECRET_KEY", ""),
		ObjectBucket:    getEnv("ONB_STORAGE_BUCKET", ""),
		ObjectEndpoint:  getEnv("ONB_STORAGE_ENDPOINT", ""),
		ObjectRegion:    getEnv("ONB_STORAGE_REGION", "ru-central1"),

		GenerationLock: normalizeLock(getEnv("GENERATION_LOCK", "none")),
	}
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func getEnv(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeLock(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	default:
		return "none"
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
