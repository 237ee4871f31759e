// Package config loads service configuration from SSOHUB_* environment
// variables once at startup. The loaded struct is treated as immutable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Addr string

	// Tokens
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration

	// Login throttle
	ThrottleDelay time.Duration

	// Cookies
	CookieDomain string
	CookieSecure bool

	// Roles catalog; empty means built-in roles only.
	RolesFile string

	// Backends. Empty PGDSN selects the in-memory provider; empty
	// RedisAddr selects the in-memory rotation store.
	PGDSN         string
	RedisAddr     string
	MigrationsDir string

	// Per-IP request rate limit (requests per second, burst = 2x).
	RateLimit int

	// Bootstrap admin seeded into the in-memory provider on startup.
	// Ignored when a Postgres DSN is configured.
	AdminEmail    string
	AdminPassword string
}

// Load reads configuration from the environment. Signing secrets are the
// only hard requirements; everything else has a sensible default.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	cfg.AccessSecret = os.Getenv("SSOHUB_ACCESS_SECRET")
	if cfg.AccessSecret == "" {
		missing = append(missing, "SSOHUB_ACCESS_SECRET")
	}
	cfg.RefreshSecret = os.Getenv("SSOHUB_REFRESH_SECRET")
	if cfg.RefreshSecret == "" {
		missing = append(missing, "SSOHUB_REFRESH_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("SSOHUB_ACCESS_SECRET and SSOHUB_REFRESH_SECRET must differ")
	}

	cfg.Addr = getEnvString("SSOHUB_ADDR", ":8080")
	cfg.Issuer = getEnvString("SSOHUB_ISSUER", "ssohub")
	cfg.AccessTTL = getEnvDuration("SSOHUB_ACCESS_TTL", 15*time.Minute)
	cfg.RefreshTTL = getEnvDuration("SSOHUB_REFRESH_TTL", 14*24*time.Hour)
	cfg.Leeway = getEnvDuration("SSOHUB_LEEWAY", 0)
	cfg.ThrottleDelay = getEnvDuration("SSOHUB_THROTTLE_DELAY", 5*time.Second)
	cfg.CookieDomain = getEnvString("SSOHUB_COOKIE_DOMAIN", "")
	cfg.CookieSecure = getEnvBool("SSOHUB_COOKIE_SECURE", true)
	cfg.RolesFile = getEnvString("SSOHUB_ROLES_FILE", "")
	cfg.PGDSN = getEnvString("SSOHUB_PG_DSN", "")
	cfg.RedisAddr = getEnvString("SSOHUB_REDIS_ADDR", "")
	cfg.MigrationsDir = getEnvString("SSOHUB_MIGRATIONS_DIR", "migrations")
	cfg.RateLimit = getEnvInt("SSOHUB_RATE_LIMIT", 50)
	cfg.AdminEmail = getEnvString("SSOHUB_ADMIN_EMAIL", "")
	cfg.AdminPassword = getEnvString("SSOHUB_ADMIN_PASSWORD", "")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
