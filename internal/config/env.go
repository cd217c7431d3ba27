package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables that override declared evaluation settings.
const (
	EnvThreads         = "MICROPERF_THREADS"
	EnvDurationMs      = "MICROPERF_DURATION_MS"
	EnvWarmUpMs        = "MICROPERF_WARMUP_MS"
	EnvRateLimit       = "MICROPERF_RATE_LIMIT"
	EnvRampUpMs        = "MICROPERF_RAMPUP_MS"
	EnvTotalExecutions = "MICROPERF_TOTAL_EXECUTIONS"
	EnvLogLevel        = "MICROPERF_LOG_LEVEL"
	EnvLogFormat       = "MICROPERF_LOG_FORMAT"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadFromEnv applies overrides from the process environment.
func LoadFromEnv(cfg *Evaluation) error {
	return ApplyEnv(cfg, os.LookupEnv)
}

// ApplyEnv overrides numeric settings with any values present in lookup.
// Overrides take precedence over the declared configuration; an unparsable
// value is a configuration error.
func ApplyEnv(cfg *Evaluation, lookup LookupFunc) error {
	if v, ok, err := envInt(lookup, EnvThreads); err != nil {
		return err
	} else if ok {
		cfg.Threads = int(v)
	}

	if v, ok, err := envInt(lookup, EnvDurationMs); err != nil {
		return err
	} else if ok {
		cfg.Duration = time.Duration(v) * time.Millisecond
	}

	if v, ok, err := envInt(lookup, EnvWarmUpMs); err != nil {
		return err
	} else if ok {
		cfg.WarmUp = time.Duration(v) * time.Millisecond
	}

	if v, ok, err := envInt(lookup, EnvRateLimit); err != nil {
		return err
	} else if ok {
		cfg.RateLimit = int(v)
	}

	if v, ok, err := envInt(lookup, EnvRampUpMs); err != nil {
		return err
	} else if ok {
		cfg.RampUp = time.Duration(v) * time.Millisecond
	}

	if v, ok, err := envInt(lookup, EnvTotalExecutions); err != nil {
		return err
	} else if ok {
		cfg.TotalExecutions = v
	}

	return nil
}

func envInt(lookup LookupFunc, key string) (int64, bool, error) {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, raw)
	}
	return v, true, nil
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
