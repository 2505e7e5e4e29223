package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverPebble   = "pebble"
)

type Config struct {
	ServerPort string
	Env        string
	PublicDir  string

	StoreDriver  string
	StoreTimeout time.Duration
	PebbleDir    string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPass       string
	DBName       string

	MaxMessages   int
	MaxTextLength int

	RedisURL string
	RedisTTL time.Duration

	MinioURL          string
	MinioPublicURL    string
	MinioUser         string
	MinioPassword     string
	MinioBucket       string
	MaxFileSize       int64
	MaxFilesPerUpload int

	FrontendURL string

	WSSendQueue  int
	WSRateEvents int
	WSRateBurst  int
}

func LoadConfig() Config {
	return Config{
		ServerPort: getEnv("SERVER_PORT", "3000"),
		Env:        getEnv("ENV", "dev"),
		PublicDir:  getEnv("PUBLIC_DIR", "public"),

		StoreDriver:  getEnv("STORE_DRIVER", StoreDriverPebble),
		StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		PebbleDir:    getEnv("PEBBLE_DIR", "data/messages"),
		DBHost:       getEnv("DB_HOST", "postgres"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "postgres"),
		DBPass:       getEnv("DB_PASSWORD", "password"),
		DBName:       getEnv("DB_NAME", "relay"),

		MaxMessages:   getEnvAsInt("MAX_MESSAGES", 500),
		MaxTextLength: getEnvAsInt("MAX_TEXT_LENGTH", 20000),

		// Empty REDIS_URL disables the history cache.
		RedisURL: getEnv("REDIS_URL", ""),
		RedisTTL: getEnvAsDuration("REDIS_TTL", 5*time.Minute),

		MinioURL:          getEnv("MINIO_URL", ""),
		MinioPublicURL:    getEnv("MINIO_PUBLIC_URL", ""),
		MinioUser:         getEnv("MINIO_USER", "minioadmin"),
		MinioPassword:     getEnv("MINIO_PASSWORD", "minioadmin"),
		MinioBucket:       getEnv("MINIO_BUCKET", "relay-uploads"),
		MaxFileSize:       getEnvAsInt64("MAX_FILE_SIZE", 10*1024*1024), // 10MB default
		MaxFilesPerUpload: getEnvAsInt("MAX_FILES_PER_UPLOAD", 5),

		FrontendURL: getEnv("FRONTEND_URL", ""),

		WSSendQueue:  getEnvAsInt("WS_SEND_QUEUE", 256),
		WSRateEvents: getEnvAsInt("WS_RATE_EVENTS", 20),
		WSRateBurst:  getEnvAsInt("WS_RATE_BURST", 40),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return fallback
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort,
	)
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}
