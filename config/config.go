package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// Library
	LibraryDir string // root directory scanned for audio files

	// Audio engine
	AudioSampleRate     int
	AudioBufferMillis   int
	AudioRequireGesture bool // hold playback until an explicit user action

	// Catalog database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Session store
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Blob storage (optional; empty endpoint disables blob sources)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Remote control surface (optional; empty addr disables it)
	ControlAddr    string
	ControlPINHash string // bcrypt hash of the pairing PIN
	ControlSecret  string // JWT signing secret

	// Logging
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() does not override variables already set in the env.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	home, _ := os.UserHomeDir()

	return &Config{
		LibraryDir: getEnv("LIBRARY_DIR", home+"/Music"),

		AudioSampleRate:     getEnvInt("AUDIO_SAMPLE_RATE", 44100),
		AudioBufferMillis:   getEnvInt("AUDIO_BUFFER_MILLIS", 100),
		AudioRequireGesture: getEnvBool("AUDIO_REQUIRE_GESTURE", false),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "resona"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "resona"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		ControlAddr:    getEnv("CONTROL_ADDR", ""),
		ControlPINHash: getEnv("CONTROL_PIN_HASH", ""),
		ControlSecret:  getEnv("CONTROL_SECRET", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
