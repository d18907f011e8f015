package config // package config loads application configuration from environment variables

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  The lease TTL and sweep interval are
// product constants with sensible defaults rather than hard invariants,
// so every value falls back to a default instead of aborting startup.
type Config struct {
	Env           string        // application environment (e.g. "dev", "prod")
	Port          string        // HTTP port to listen on
	LeaseTTL      time.Duration // how long a seat lease lives without renewal
	SweepInterval time.Duration // background expiry sweep period
	DBUser        string        // database username (archive; optional)
	DBPass        string        // database password (optional)
	DBHost        string        // database host; empty disables the archive
	DBPort        string        // database port number
	DBName        string        // database name
}

// Load reads configuration values from environment variables and returns
// a Config.  The service runs with defaults when nothing is set: port
// 8080, a 7 minute lease TTL and a 30 second sweep interval, memory-only
// with no booking archive.
func Load() Config {
	return Config{
		Env:           getenv("APP_ENV", "dev"),
		Port:          getenv("APP_PORT", "8080"),
		LeaseTTL:      envDur("LEASE_TTL", 7*time.Minute),
		SweepInterval: envDur("SWEEP_INTERVAL", 30*time.Second),
		DBUser:        getenv("DB_USER", "seatlease"),
		DBPass:        os.Getenv("DB_PASS"),
		DBHost:        os.Getenv("DB_HOST"), // empty means memory-only
		DBPort:        getenv("DB_PORT", "3306"),
		DBName:        getenv("DB_NAME", "seatlease"),
	}
}

// Shared env helpers used by the rate-limit and cache loaders as well.

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
