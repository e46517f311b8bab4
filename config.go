// this file loads configuration from the environment
package main

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	DBURL      string
	RedisURL   string

	JWTSecret     string
	YoutubeAPIKey string

	LogLevel string
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:    getEnvWithDefault("LISTEN_ADDR", ":3000"),
		DBURL:         getEnvWithDefault("DB_URL", "memory://"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		YoutubeAPIKey: os.Getenv("YOUTUBE_API_KEY"),
		LogLevel:      getEnvWithDefault("LOG_LEVEL", "info"),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}
