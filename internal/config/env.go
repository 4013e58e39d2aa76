// Package config handles environment-based configuration loading and
// validation. All settings are immutable after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// API
	APIPort int
	BaseURL string

	// Zone
	Timezone string

	// Cadence
	BaseTick            time.Duration
	TickJitter          time.Duration
	InterGroupJitterMax time.Duration
	CooldownMin         time.Duration
	CooldownMax         time.Duration

	// Browser
	SessionCap       int
	SessionUseBound  int
	NavTimeout       time.Duration
	ElementTimeout   time.Duration
	SettleDelay      time.Duration
	NewSessionSettle time.Duration

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	// Links
	LinkSecret   string
	LinkTTL      time.Duration
	SoftDebounce time.Duration

	// Identity rotation. Strategy "auto" picks "tunnel" when TunnelAPI is
	// set and "none" otherwise; "exit" terminates the process on a block so
	// the supervisor restarts it with a fresh tunnel binding.
	RotateStrategy string
	TunnelAPI      string
	GeoIPDB        string

	// Maintenance
	RetentionSchedule string
	CheckLogRetention time.Duration

	// Targets seed override (empty uses the embedded set)
	TargetsFile string
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error listing every invalid or missing value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.StateDir = envStr("LOTWATCH_STATE_DIR", "/var/lib/lotwatch")

	cfg.APIPort = envInt("LOTWATCH_API_PORT", 8080, &errs)
	cfg.BaseURL = strings.TrimRight(envStr("LOTWATCH_BASE_URL", "http://localhost:8080"), "/")

	cfg.Timezone = envStr("LOTWATCH_TIMEZONE", "America/Denver")

	cfg.BaseTick = envDuration("LOTWATCH_BASE_TICK", time.Minute, &errs)
	cfg.TickJitter = envDuration("LOTWATCH_TICK_JITTER", 15*time.Second, &errs)
	cfg.InterGroupJitterMax = envDuration("LOTWATCH_INTER_GROUP_JITTER_MAX", 8*time.Second, &errs)
	cfg.CooldownMin = envDuration("LOTWATCH_COOLDOWN_MIN", 10*time.Minute, &errs)
	cfg.CooldownMax = envDuration("LOTWATCH_COOLDOWN_MAX", 30*time.Minute, &errs)

	cfg.SessionCap = envInt("LOTWATCH_SESSION_CAP", 1, &errs)
	cfg.SessionUseBound = envInt("LOTWATCH_SESSION_USE_BOUND", 3, &errs)
	cfg.NavTimeout = envDuration("LOTWATCH_NAV_TIMEOUT", 30*time.Second, &errs)
	cfg.ElementTimeout = envDuration("LOTWATCH_ELEMENT_TIMEOUT", 10*time.Second, &errs)
	cfg.SettleDelay = envDuration("LOTWATCH_SETTLE_DELAY", 8*time.Second, &errs)
	cfg.NewSessionSettle = envDuration("LOTWATCH_NEW_SESSION_SETTLE", 12*time.Second, &errs)

	cfg.SMTPHost = envStr("LOTWATCH_SMTP_HOST", "")
	cfg.SMTPPort = envInt("LOTWATCH_SMTP_PORT", 587, &errs)
	cfg.SMTPUser = envStr("LOTWATCH_SMTP_USER", "")
	cfg.SMTPPassword = envStr("LOTWATCH_SMTP_PASSWORD", "")
	cfg.SMTPFrom = envStr("LOTWATCH_SMTP_FROM", "")

	cfg.LinkSecret = envStr("LOTWATCH_LINK_SECRET", "")
	cfg.LinkTTL = envDuration("LOTWATCH_LINK_TTL", 7*24*time.Hour, &errs)
	cfg.SoftDebounce = envDuration("LOTWATCH_SOFT_DEBOUNCE", 30*time.Minute, &errs)

	cfg.RotateStrategy = envStr("LOTWATCH_ROTATE_STRATEGY", "auto")
	cfg.TunnelAPI = strings.TrimSpace(envStr("LOTWATCH_TUNNEL_API", ""))
	cfg.GeoIPDB = envStr("LOTWATCH_GEOIP_DB", "")

	cfg.RetentionSchedule = envStr("LOTWATCH_RETENTION_SCHEDULE", "30 4 * * *")
	cfg.CheckLogRetention = envDuration("LOTWATCH_CHECKLOG_RETENTION", 30*24*time.Hour, &errs)

	cfg.TargetsFile = envStr("LOTWATCH_TARGETS_FILE", "")

	// --- Validation ---
	validatePort("LOTWATCH_API_PORT", cfg.APIPort, &errs)
	if cfg.BaseURL == "" {
		errs = append(errs, "LOTWATCH_BASE_URL must not be empty")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("LOTWATCH_TIMEZONE: unknown zone %q", cfg.Timezone))
	}

	validatePositiveDuration("LOTWATCH_BASE_TICK", cfg.BaseTick, &errs)
	validatePositiveDuration("LOTWATCH_COOLDOWN_MIN", cfg.CooldownMin, &errs)
	validatePositiveDuration("LOTWATCH_COOLDOWN_MAX", cfg.CooldownMax, &errs)
	if cfg.CooldownMax <= cfg.CooldownMin {
		errs = append(errs, "LOTWATCH_COOLDOWN_MAX must be greater than LOTWATCH_COOLDOWN_MIN")
	}

	if cfg.SessionCap < 1 || cfg.SessionCap > 2 {
		errs = append(errs, fmt.Sprintf("LOTWATCH_SESSION_CAP: must be 1 or 2, got %d", cfg.SessionCap))
	}
	validatePositive("LOTWATCH_SESSION_USE_BOUND", cfg.SessionUseBound, &errs)
	validatePositiveDuration("LOTWATCH_NAV_TIMEOUT", cfg.NavTimeout, &errs)
	validatePositiveDuration("LOTWATCH_ELEMENT_TIMEOUT", cfg.ElementTimeout, &errs)
	validatePositiveDuration("LOTWATCH_SETTLE_DELAY", cfg.SettleDelay, &errs)

	if cfg.SMTPHost == "" {
		errs = append(errs, "LOTWATCH_SMTP_HOST must be set")
	}
	validatePort("LOTWATCH_SMTP_PORT", cfg.SMTPPort, &errs)
	if cfg.SMTPFrom == "" {
		errs = append(errs, "LOTWATCH_SMTP_FROM must be set")
	}

	if cfg.LinkSecret == "" {
		errs = append(errs, "LOTWATCH_LINK_SECRET must be set")
	} else if IsWeakSecret(cfg.LinkSecret) {
		errs = append(errs, "LOTWATCH_LINK_SECRET is too weak; use a long random value")
	}
	validatePositiveDuration("LOTWATCH_LINK_TTL", cfg.LinkTTL, &errs)

	switch cfg.RotateStrategy {
	case "auto", "none", "tunnel", "exit":
	default:
		errs = append(errs, fmt.Sprintf("LOTWATCH_ROTATE_STRATEGY: must be auto, none, tunnel, or exit, got %q", cfg.RotateStrategy))
	}
	if cfg.RotateStrategy == "tunnel" && cfg.TunnelAPI == "" {
		errs = append(errs, "LOTWATCH_ROTATE_STRATEGY=tunnel requires LOTWATCH_TUNNEL_API")
	}

	if _, err := cron.ParseStandard(cfg.RetentionSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("LOTWATCH_RETENTION_SCHEDULE: invalid cron expression %q: %v", cfg.RetentionSchedule, err))
	}
	validatePositiveDuration("LOTWATCH_CHECKLOG_RETENTION", cfg.CheckLogRetention, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveDuration(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %s", name, value))
	}
}
