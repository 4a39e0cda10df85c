package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"HOST", "PORT", "HEADLESS", "BROWSER_PATH",
		"POOL_CAPACITY", "POOL_PREWARM", "SPAWN_TIMEOUT",
		"SESSION_MAX_AGE", "SESSION_MAX_USES",
		"QUEUE_MAX_DEPTH", "DEFAULT_TASK_TIMEOUT", "MAX_TASK_TIMEOUT",
		"RULES_PATH", "RULES_HOT_RELOAD", "LOG_LEVEL",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_RPM", "TRUST_PROXY",
		"CORS_ALLOWED_ORIGINS", "ALLOW_PRIVATE_TARGETS",
		"METRICS_ENABLED", "METRICS_PORT",
	}
	for _, env := range envVars {
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host '127.0.0.1', got %q", cfg.Host)
	}
	if cfg.Port != 8137 {
		t.Errorf("Expected default port 8137, got %d", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected Headless true by default")
	}
	if cfg.PoolCapacity != 3 {
		t.Errorf("Expected default pool capacity 3, got %d", cfg.PoolCapacity)
	}
	if cfg.PoolPrewarm != 0 {
		t.Errorf("Expected default prewarm 0, got %d", cfg.PoolPrewarm)
	}
	if cfg.SpawnTimeout != 30*time.Second {
		t.Errorf("Expected default spawn timeout 30s, got %v", cfg.SpawnTimeout)
	}
	if cfg.SessionMaxAge != 30*time.Minute {
		t.Errorf("Expected default session max age 30m, got %v", cfg.SessionMaxAge)
	}
	if cfg.SessionMaxUses != 50 {
		t.Errorf("Expected default session max uses 50, got %d", cfg.SessionMaxUses)
	}
	if cfg.QueueMaxDepth != 64 {
		t.Errorf("Expected default queue depth 64, got %d", cfg.QueueMaxDepth)
	}
	if cfg.DefaultTaskTimeout != 60*time.Second {
		t.Errorf("Expected default task timeout 60s, got %v", cfg.DefaultTaskTimeout)
	}
	if cfg.MaxTaskTimeout != 300*time.Second {
		t.Errorf("Expected max task timeout 300s, got %v", cfg.MaxTaskTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.RateLimitEnabled {
		t.Error("Expected rate limiting disabled by default")
	}
	if cfg.MetricsEnabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.MetricsPort != 9137 {
		t.Errorf("Expected default metrics port 9137, got %d", cfg.MetricsPort)
	}
	if cfg.AllowPrivateTargets {
		t.Error("Expected private targets disallowed by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9000")
	t.Setenv("POOL_CAPACITY", "5")
	t.Setenv("QUEUE_MAX_DEPTH", "128")
	t.Setenv("DEFAULT_TASK_TIMEOUT", "90s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg := Load()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got %q", cfg.Host)
	}
	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if cfg.PoolCapacity != 5 {
		t.Errorf("Expected pool capacity 5, got %d", cfg.PoolCapacity)
	}
	if cfg.QueueMaxDepth != 128 {
		t.Errorf("Expected queue depth 128, got %d", cfg.QueueMaxDepth)
	}
	if cfg.DefaultTaskTimeout != 90*time.Second {
		t.Errorf("Expected default timeout 90s, got %v", cfg.DefaultTaskTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example.com" {
		t.Errorf("CORS origins parsed wrong: %v", cfg.CORSAllowedOrigins)
	}
}

func TestValidateClampsBounds(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	cfg.Port = 99999
	cfg.PoolCapacity = 100
	cfg.PoolPrewarm = 50
	cfg.SpawnTimeout = time.Millisecond
	cfg.SessionMaxAge = time.Second
	cfg.SessionMaxUses = 0
	cfg.QueueMaxDepth = 100000
	cfg.MaxTaskTimeout = time.Hour
	cfg.DefaultTaskTimeout = 30 * time.Minute
	cfg.LogLevel = "loud"

	cfg.Validate()

	if cfg.Port != 8137 {
		t.Errorf("Invalid port not reset: %d", cfg.Port)
	}
	if cfg.PoolCapacity != 20 {
		t.Errorf("Pool capacity not capped: %d", cfg.PoolCapacity)
	}
	if cfg.PoolPrewarm != cfg.PoolCapacity {
		t.Errorf("Prewarm not capped to capacity: %d", cfg.PoolPrewarm)
	}
	if cfg.SpawnTimeout != 5*time.Second {
		t.Errorf("Spawn timeout not raised to minimum: %v", cfg.SpawnTimeout)
	}
	if cfg.SessionMaxAge != time.Minute {
		t.Errorf("Session max age not raised to minimum: %v", cfg.SessionMaxAge)
	}
	if cfg.SessionMaxUses != 50 {
		t.Errorf("Session max uses not reset: %d", cfg.SessionMaxUses)
	}
	if cfg.QueueMaxDepth != 4096 {
		t.Errorf("Queue depth not capped: %d", cfg.QueueMaxDepth)
	}
	if cfg.MaxTaskTimeout != 10*time.Minute {
		t.Errorf("Max task timeout not capped: %v", cfg.MaxTaskTimeout)
	}
	if cfg.DefaultTaskTimeout != cfg.MaxTaskTimeout {
		t.Errorf("Default timeout not clamped to max: %v", cfg.DefaultTaskTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Invalid log level not reset: %q", cfg.LogLevel)
	}
}

func TestValidatePathTraversal(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	cfg.BrowserPath = "/usr/../etc/passwd"
	cfg.RulesPath = "../../secrets.yaml"
	cfg.RulesHotReload = true

	cfg.Validate()

	if cfg.BrowserPath != "" {
		t.Errorf("BrowserPath with traversal not cleared: %q", cfg.BrowserPath)
	}
	if cfg.RulesPath != "" {
		t.Errorf("RulesPath with traversal not cleared: %q", cfg.RulesPath)
	}
	if cfg.RulesHotReload {
		t.Error("Hot reload still enabled with no rules path")
	}
}

func TestValidateMetricsPortConflict(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	cfg.MetricsEnabled = true
	cfg.MetricsPort = cfg.Port

	cfg.Validate()

	if cfg.MetricsEnabled {
		t.Error("Metrics left enabled despite port conflict")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	if got := getEnvString("TEST_STR", "default"); got != "value" {
		t.Errorf("getEnvString = %q", got)
	}
	if got := getEnvString("TEST_STR_MISSING", "default"); got != "default" {
		t.Errorf("getEnvString default = %q", got)
	}

	t.Setenv("TEST_INT", "42")
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	t.Setenv("TEST_INT_BAD", "not-a-number")
	if got := getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt with garbage = %d, want default", got)
	}

	t.Setenv("TEST_BOOL", "true")
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool did not parse true")
	}

	t.Setenv("TEST_DUR", "45s")
	if got := getEnvDuration("TEST_DUR", time.Second); got != 45*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
	t.Setenv("TEST_DUR_NEG", "-5s")
	if got := getEnvDuration("TEST_DUR_NEG", time.Second); got != time.Second {
		t.Errorf("getEnvDuration negative = %v, want default", got)
	}
}
