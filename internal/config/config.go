package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	JWTSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MigrationsDir string
	StudyReposDir string
	CORSOrigin    string
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Redis — refresh token storage and study-room pub/sub
	RedisURL string
	// Object storage for upload blocks
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP delivery for verification and reset links. When unset, tokens
	// are returned in API responses instead.
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	AppBaseURL   string
}

// Load reads configuration from the environment. DATABASE_URL and
// AFKAR_JWT_SECRET have no fallback; missing values are a startup error.
func Load() (Config, error) {
	cfg := Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("AFKAR_JWT_SECRET"),
		AccessTTL:      time.Duration(getenvInt("AFKAR_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:     time.Duration(getenvInt("AFKAR_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		MigrationsDir:  getenv("AFKAR_MIGRATIONS_DIR", "./db/migrations"),
		StudyReposDir:  getenv("AFKAR_STUDY_REPOS_DIR", "./data/studies"),
		CORSOrigin:     getenv("AFKAR_CORS_ORIGIN", "*"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "afkar-uploads"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		SMTPHost:       getenv("SMTP_HOST", ""),
		SMTPPort:       getenv("SMTP_PORT", "587"),
		SMTPUsername:   getenv("SMTP_USERNAME", ""),
		SMTPPassword:   getenv("SMTP_PASSWORD", ""),
		SMTPFrom:       getenv("SMTP_FROM", ""),
		SMTPFromName:   getenv("SMTP_FROM_NAME", "Afkar"),
		AppBaseURL:     getenv("AFKAR_APP_BASE_URL", "http://localhost:3000"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("AFKAR_JWT_SECRET is required")
	}
	return cfg, nil
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
