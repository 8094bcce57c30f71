// Package config loads the runtime configuration of the mediapod binaries from
// the environment, optionally seeded by a .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	VideoDBBaseURL string
	VideoDBAPIKey  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	ImageModel    string

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	KlingAccessKey    string
	KlingSecretKey    string
	KlingBaseURL      string
	// DownloadsPath holds generated media until it is uploaded.
	DownloadsPath string

	// DBType is "sqlite" or "postgres".
	DBType       string
	SQLiteDBPath string
	PostgresDSN  string

	ListenAddr          string
	LogLevel            slog.Level
	StrictTransitions   bool
	ToolMaxAttempts     int
	MaintenanceSchedule string
	SessionIdleTimeout  time.Duration
}

// Load reads the .env file in the working directory, when present, and then
// the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, falling back to environment variables", "error", err)
	}

	return &Config{
		VideoDBBaseURL:      getEnv("VIDEO_DB_BASE_URL", "https://api.videodb.io"),
		VideoDBAPIKey:       getEnv("VIDEO_DB_API_KEY", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		ImageModel:          getEnv("IMAGE_MODEL", "dall-e-3"),
		ElevenLabsAPIKey:    getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL:   getEnv("ELEVENLABS_BASE_URL", ""),
		KlingAccessKey:      getEnv("KLING_AI_ACCESS_API_KEY", ""),
		KlingSecretKey:      getEnv("KLING_AI_SECRET_API_KEY", ""),
		KlingBaseURL:        getEnv("KLING_BASE_URL", ""),
		DownloadsPath:       getEnv("DOWNLOADS_PATH", "director/downloads"),
		DBType:              strings.ToLower(getEnv("DB_TYPE", "sqlite")),
		SQLiteDBPath:        getEnv("SQLITE_DB_PATH", "director.db"),
		PostgresDSN:         getEnv("POSTGRES_DSN", ""),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8000"),
		LogLevel:            parseLevel(getEnv("LOG_LEVEL", "info")),
		StrictTransitions:   getBool("STRICT_TRANSITIONS", false),
		ToolMaxAttempts:     getInt("TOOL_MAX_ATTEMPTS", 3),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "@every 5m"),
		SessionIdleTimeout:  getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
