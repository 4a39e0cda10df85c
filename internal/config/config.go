// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPoolCapacity = 20
	maxQueueDepth   = 4096
	maxTaskTimeout  = 10 * time.Minute
	maxSessionUses  = 10000
	maxRateLimitRPM = 10000
	minSpawnTimeout = 5 * time.Second
	maxSpawnTimeout = 2 * time.Minute
	defaultPort     = 8137
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless    bool
	BrowserPath string

	// Pool settings
	PoolCapacity int
	PoolPrewarm  int // Sessions spawned eagerly at startup (0 = fully lazy)
	SpawnTimeout time.Duration

	// Session recycling ceilings
	SessionMaxAge  time.Duration
	SessionMaxUses int

	// Queue settings
	QueueMaxDepth int

	// Task deadlines
	DefaultTaskTimeout time.Duration
	MaxTaskTimeout     time.Duration

	// Extraction rules
	RulesPath      string
	RulesHotReload bool

	// Logging
	LogLevel string

	// Security
	RateLimitEnabled    bool
	RateLimitRPM        int // Requests per minute per IP
	TrustProxy          bool
	CORSAllowedOrigins  []string
	AllowPrivateTargets bool // Allow rendering loopback/private-network URLs

	// Metrics
	MetricsEnabled bool
	MetricsPort    int
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost for security (prevents accidental exposure)
		// Set HOST=0.0.0.0 explicitly to bind to all interfaces
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", defaultPort),

		// Browser
		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		// Pool
		PoolCapacity: getEnvInt("POOL_CAPACITY", 3),
		PoolPrewarm:  getEnvInt("POOL_PREWARM", 0),
		SpawnTimeout: getEnvDuration("SPAWN_TIMEOUT", 30*time.Second),

		// Recycling
		SessionMaxAge:  getEnvDuration("SESSION_MAX_AGE", 30*time.Minute),
		SessionMaxUses: getEnvInt("SESSION_MAX_USES", 50),

		// Queue
		QueueMaxDepth: getEnvInt("QUEUE_MAX_DEPTH", 64),

		// Deadlines
		DefaultTaskTimeout: getEnvDuration("DEFAULT_TASK_TIMEOUT", 60*time.Second),
		MaxTaskTimeout:     getEnvDuration("MAX_TASK_TIMEOUT", 300*time.Second),

		// Rules
		RulesPath:      getEnvString("RULES_PATH", ""),
		RulesHotReload: getEnvBool("RULES_HOT_RELOAD", false),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),

		// Security
		RateLimitEnabled:    getEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:          getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		AllowPrivateTargets: getEnvBool("ALLOW_PRIVATE_TARGETS", false),

		// Metrics
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("METRICS_PORT", 9137),
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msgf("Invalid port, using default %d", defaultPort)
		c.Port = defaultPort
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BROWSER_PATH contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BROWSER_PATH should be an absolute path")
		}
	}

	// Pool capacity with upper bound
	if c.PoolCapacity < 1 {
		log.Warn().Int("capacity", c.PoolCapacity).Msg("Invalid pool capacity, using default 3")
		c.PoolCapacity = 3
	} else if c.PoolCapacity > maxPoolCapacity {
		log.Warn().
			Int("capacity", c.PoolCapacity).
			Int("max", maxPoolCapacity).
			Msg("Pool capacity too large, capping to maximum")
		c.PoolCapacity = maxPoolCapacity
	}

	if c.PoolPrewarm < 0 {
		log.Warn().Int("prewarm", c.PoolPrewarm).Msg("Invalid prewarm count, using 0")
		c.PoolPrewarm = 0
	} else if c.PoolPrewarm > c.PoolCapacity {
		log.Warn().
			Int("prewarm", c.PoolPrewarm).
			Int("capacity", c.PoolCapacity).
			Msg("Prewarm count exceeds pool capacity, capping to capacity")
		c.PoolPrewarm = c.PoolCapacity
	}

	// Spawn timeout bounds
	if c.SpawnTimeout < minSpawnTimeout {
		log.Warn().
			Dur("timeout", c.SpawnTimeout).
			Dur("min", minSpawnTimeout).
			Msg("Spawn timeout too short, using minimum")
		c.SpawnTimeout = minSpawnTimeout
	} else if c.SpawnTimeout > maxSpawnTimeout {
		log.Warn().
			Dur("timeout", c.SpawnTimeout).
			Dur("max", maxSpawnTimeout).
			Msg("Spawn timeout too long, using maximum")
		c.SpawnTimeout = maxSpawnTimeout
	}

	// Session recycling ceilings
	const minSessionMaxAge = 1 * time.Minute
	const maxSessionMaxAge = 24 * time.Hour
	if c.SessionMaxAge < minSessionMaxAge {
		log.Warn().
			Dur("max_age", c.SessionMaxAge).
			Dur("min", minSessionMaxAge).
			Msg("Session max age too short, using minimum")
		c.SessionMaxAge = minSessionMaxAge
	} else if c.SessionMaxAge > maxSessionMaxAge {
		log.Warn().
			Dur("max_age", c.SessionMaxAge).
			Dur("max", maxSessionMaxAge).
			Msg("Session max age too long, using maximum")
		c.SessionMaxAge = maxSessionMaxAge
	}

	if c.SessionMaxUses < 1 {
		log.Warn().Int("max_uses", c.SessionMaxUses).Msg("Invalid session max uses, using 50")
		c.SessionMaxUses = 50
	} else if c.SessionMaxUses > maxSessionUses {
		log.Warn().
			Int("max_uses", c.SessionMaxUses).
			Int("max", maxSessionUses).
			Msg("Session max uses too high, capping to maximum")
		c.SessionMaxUses = maxSessionUses
	}

	// Queue depth bounds
	if c.QueueMaxDepth < 1 {
		log.Warn().Int("depth", c.QueueMaxDepth).Msg("Invalid queue depth, using default 64")
		c.QueueMaxDepth = 64
	} else if c.QueueMaxDepth > maxQueueDepth {
		log.Warn().
			Int("depth", c.QueueMaxDepth).
			Int("max", maxQueueDepth).
			Msg("Queue depth too large, capping to maximum")
		c.QueueMaxDepth = maxQueueDepth
	}

	// Deadline bounds. MaxTaskTimeout is validated first so DefaultTaskTimeout
	// can be clamped against the final value.
	if c.MaxTaskTimeout < time.Second {
		log.Warn().Dur("timeout", c.MaxTaskTimeout).Msg("Max task timeout too short, using 300s")
		c.MaxTaskTimeout = 300 * time.Second
	}
	if c.MaxTaskTimeout > maxTaskTimeout {
		log.Warn().
			Dur("timeout", c.MaxTaskTimeout).
			Dur("max", maxTaskTimeout).
			Msg("Max task timeout too high, capping to maximum")
		c.MaxTaskTimeout = maxTaskTimeout
	}
	if c.DefaultTaskTimeout < time.Second {
		log.Warn().Dur("timeout", c.DefaultTaskTimeout).Msg("Default task timeout too short, using 60s")
		c.DefaultTaskTimeout = 60 * time.Second
	}
	if c.DefaultTaskTimeout > c.MaxTaskTimeout {
		log.Warn().
			Dur("default", c.DefaultTaskTimeout).
			Dur("max", c.MaxTaskTimeout).
			Msg("Default task timeout exceeds max, adjusting to max")
		c.DefaultTaskTimeout = c.MaxTaskTimeout
	}

	// Rate limit bounds
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 60 RPM")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// Rules path validation
	if c.RulesPath != "" {
		if strings.Contains(c.RulesPath, "..") {
			log.Error().
				Str("path", c.RulesPath).
				Msg("RULES_PATH contains path traversal sequence (..), ignoring")
			c.RulesPath = ""
		} else if _, err := os.Stat(c.RulesPath); os.IsNotExist(err) && c.RulesHotReload {
			log.Warn().
				Str("path", c.RulesPath).
				Msg("RULES_PATH does not exist - hot-reload will watch for file creation")
		}
	}
	if c.RulesHotReload && c.RulesPath == "" {
		log.Warn().Msg("RULES_HOT_RELOAD enabled but RULES_PATH not set - hot-reload disabled")
		c.RulesHotReload = false
	}

	// Metrics port conflict
	if c.MetricsEnabled && c.MetricsPort == c.Port {
		log.Error().
			Int("port", c.MetricsPort).
			Msg("METRICS_PORT conflicts with PORT, disabling metrics server")
		c.MetricsEnabled = false
	}

	// CORS warning
	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - cross-origin requests will be rejected")
	}

	if c.AllowPrivateTargets {
		log.Warn().Msg("ALLOW_PRIVATE_TARGETS enabled - the service will render internal network URLs")
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
