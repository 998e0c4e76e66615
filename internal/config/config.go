// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Durations are parsed with time.ParseDuration so
// operators can write "15m" or "168h".
type Config struct {
	Env         string // application environment (development, test, production)
	Port        string // HTTP port to listen on
	ServiceName string // service name attached to every log line
	LogLevel    string // debug, info, warn or error
	Store       string // "mysql" or "memory"
	FrontendURL string // base URL used in reset and verification links

	DB DBConfig

	JWTSecret      string        // secret used to sign JWTs
	JWTIssuer      string        // iss claim of issued tokens
	AccessTTL      time.Duration // access token lifetime
	RefreshTTL     time.Duration // refresh token lifetime
	ResetTTL       time.Duration // password reset link lifetime
	VerifyTTL      time.Duration // email verification link lifetime
	BcryptCost     int           // bcrypt cost for password hashing
	RequestTimeout time.Duration // upper bound for store work inside a handler
}

// DBConfig groups the MySQL connection and pool settings.
type DBConfig struct {
	User            string
	Pass            string
	Host            string
	Port            string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool { return c.Env == "production" }

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when present.
// In production, secrets and database coordinates are enforced by must() and
// missing values cause the program to exit with a fatal log message; other
// environments fall back to development defaults.
func Load() Config {
	_ = godotenv.Load() // a missing .env file is not an error

	env := envStr("APP_ENV", "development")
	req := envStr
	if env == "production" {
		req = func(key, _ string) string { return must(key) }
	}

	return Config{
		Env:         env,
		Port:        envStr("APP_PORT", "3001"),
		ServiceName: envStr("SERVICE_NAME", "auth-service"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		Store:       strings.ToLower(envStr("APP_STORE", "mysql")),
		FrontendURL: strings.TrimRight(envStr("FRONTEND_URL", "http://localhost:3000"), "/"),
		DB: DBConfig{
			User:            req("DB_USER", "root"),
			Pass:            os.Getenv("DB_PASS"), // empty allowed
			Host:            req("DB_HOST", "localhost"),
			Port:            req("DB_PORT", "3306"),
			Name:            req("DB_NAME", "auth_service_dev"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxIdleTime: envDur("DB_CONN_MAX_IDLE_TIME", 10*time.Second),
			ConnMaxLifetime: envDur("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     envBool("DB_AUTO_MIGRATE", true),
		},
		JWTSecret:      req("JWT_SECRET", "dev-secret-key"),
		JWTIssuer:      envStr("JWT_ISSUER", "auth-service"),
		AccessTTL:      envDur("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:     envDur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ResetTTL:       envDur("RESET_TOKEN_TTL", time.Hour),
		VerifyTTL:      envDur("VERIFY_TOKEN_TTL", 24*time.Hour),
		BcryptCost:     envInt("BCRYPT_COST", 10),
		RequestTimeout: envDur("REQUEST_TIMEOUT", 5*time.Second),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
