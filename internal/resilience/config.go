package resilience

import (
	"time"
)

// FromRetryConfig builds a RetryConfig from flat config values,
// keeping defaults for anything non-positive.
func FromRetryConfig(maxAttempts, initialBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromBreakerConfig builds a BreakerConfig from flat config values.
func FromBreakerConfig(service string, failureThreshold, cooldownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig(service)
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
