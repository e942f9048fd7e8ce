// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig selects and addresses the database. Driver is "postgres"
// or "sqlite"; the sqlite driver only reads SQLitePath.
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
	Debug      bool
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev            bool
	Migrations     bool
	MediaRoot      string
	PageSize       int
	MaxUploadBytes int64
	SessionSecret  string
	SessionTTL     time.Duration
	LogFormat      string
	// TrustProxy honors X-Forwarded-For. Enable only behind a proxy that sets it.
	TrustProxy bool
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Masked describes the target database without credentials, for logs.
func (d DatabaseConfig) Masked() string {
	if d.Driver == "sqlite" {
		return "sqlite:" + d.SQLitePath
	}
	return fmt.Sprintf("postgres host=%s port=%d dbname=%s user=%s", d.Host, d.Port, d.DBName, d.User)
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "blog"),
			Password:   getEnv("DB_PASSWORD", "blog123"),
			DBName:     getEnv("DB_NAME", "blog"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "blog.db"),
			Debug:      getEnvBool("DB_DEBUG", false),
		},
		App: AppConfig{
			Dev:            getEnvBool("DEV", true),
			Migrations:     getEnvBool("MIGRATIONS", false),
			MediaRoot:      getEnv("MEDIA_ROOT", "media"),
			PageSize:       positive(getEnvInt("PAGE_SIZE", 5), 5),
			MaxUploadBytes: int64(positive(getEnvInt("MAX_UPLOAD_MB", 5), 5)) << 20,
			SessionSecret:  getEnv("SESSION_SECRET", ""),
			SessionTTL:     time.Duration(positive(getEnvInt("SESSION_TTL_HOURS", 24*14), 24*14)) * time.Hour,
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
		},
	}
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	value = strings.ToLower(value)
	return value == "1" || value == "true" || value == "yes"
}
