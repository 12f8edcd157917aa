package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultSiteKey     = "6LdsFiUsAAAAAIjVDZcuLhaHiDn5nnHVXVRQGeMV"
	defaultURLTemplate = "https://labs.google/fx/tools/flow/project/%s"
)

// Config holds everything the service reads from the environment.
// Durations configured in milliseconds are converted on load.
type Config struct {
	Port string

	// Browser
	Headless           bool
	LocalSolverEnabled bool

	// Issuance
	MaxConcurrency int
	RequestTimeout time.Duration
	SolverTimeout  time.Duration

	// Challenge target
	SiteKey           string
	TargetURLTemplate string

	// Fallback provider
	FallbackEnabled bool
	FallbackURL     string
	FallbackAPIKey  string

	// Crash detection and restart policy
	CrashThreshold     int
	CrashWindow        time.Duration
	RestartMaxAttempts int
	RestartBackoff     time.Duration

	// API rate limiting
	RateLimitPerHour int
	RateLimitBurst   int
}

// Load reads configuration from environment variables, applying defaults
// for anything unset
func Load() (*Config, error) {
	cfg := &Config{
		Port:               envString("PORT", "8001"),
		Headless:           envBool("HEADLESS", true),
		LocalSolverEnabled: envBool("LOCAL_SOLVER_ENABLED", true),
		MaxConcurrency:     envInt("MAX_CONCURRENCY", 5),
		RequestTimeout:     envMillis("REQUEST_TIMEOUT_MS", 30000),
		SolverTimeout:      envMillis("SOLVER_TIMEOUT_MS", 25000),
		SiteKey:            envString("RECAPTCHA_SITE_KEY", defaultSiteKey),
		TargetURLTemplate:  envString("TARGET_URL_TEMPLATE", defaultURLTemplate),
		FallbackEnabled:    envBool("FALLBACK_ENABLED", false),
		FallbackURL:        os.Getenv("FALLBACK_URL"),
		FallbackAPIKey:     os.Getenv("FALLBACK_API_KEY"),
		CrashThreshold:     envInt("CRASH_REPORT_THRESHOLD", 3),
		CrashWindow:        envMillis("CRASH_REPORT_WINDOW_MS", 30000),
		RestartMaxAttempts: envInt("RESTART_MAX_ATTEMPTS", 3),
		RestartBackoff:     envMillis("RESTART_BACKOFF_MS", 500),
		RateLimitPerHour:   envInt("RATE_LIMIT_PER_HOUR", 100),
		RateLimitBurst:     envInt("RATE_LIMIT_BURST", 10),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be positive")
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("SOLVER_TIMEOUT_MS must be positive")
	}
	if c.SolverTimeout > c.RequestTimeout {
		return fmt.Errorf("SOLVER_TIMEOUT_MS (%v) must not exceed REQUEST_TIMEOUT_MS (%v)", c.SolverTimeout, c.RequestTimeout)
	}
	if c.FallbackEnabled && (c.FallbackURL == "" || c.FallbackAPIKey == "") {
		return fmt.Errorf("FALLBACK_ENABLED requires FALLBACK_URL and FALLBACK_API_KEY")
	}
	if !c.LocalSolverEnabled && !c.FallbackEnabled {
		return fmt.Errorf("at least one of LOCAL_SOLVER_ENABLED and FALLBACK_ENABLED must be set")
	}
	if c.CrashThreshold < 1 {
		return fmt.Errorf("CRASH_REPORT_THRESHOLD must be at least 1, got %d", c.CrashThreshold)
	}
	if c.RestartMaxAttempts < 1 {
		return fmt.Errorf("RESTART_MAX_ATTEMPTS must be at least 1, got %d", c.RestartMaxAttempts)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(envInt(key, fallbackMs)) * time.Millisecond
}
