package config

import "time"

// ResilienceConfig configures the timeout/retry/circuit-breaker wrapper
// applied to every external call.
type ResilienceConfig struct {
	// CallTimeout caps wall-clock time for a single attempt.
	CallTimeout string `yaml:"call_timeout"`

	// MaxAttempts is the total number of attempts (first call + retries).
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the initial retry delay; doubles per attempt.
	BaseDelay string `yaml:"base_delay"`

	// MaxDelay caps the backoff growth.
	MaxDelay string `yaml:"max_delay"`

	// Jitter adds up to this fraction of the delay as random jitter,
	// in [0,1].
	Jitter float64 `yaml:"jitter"`

	// FailureThreshold is the consecutive-failure count that opens a
	// dependency's circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// CooldownWindow is how long an open circuit rejects calls before
	// allowing a half-open trial.
	CooldownWindow string `yaml:"cooldown_window"`
}

// DefaultResilienceConfig returns resilience defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		CallTimeout:      "30s",
		MaxAttempts:      3,
		BaseDelay:        "250ms",
		MaxDelay:         "4s",
		Jitter:           0.2,
		FailureThreshold: 5,
		CooldownWindow:   "30s",
	}
}

// GetCallTimeout returns the per-attempt timeout as a duration.
func (c ResilienceConfig) GetCallTimeout() time.Duration {
	return parseDuration(c.CallTimeout, 30*time.Second)
}

// GetBaseDelay returns the initial retry delay as a duration.
func (c ResilienceConfig) GetBaseDelay() time.Duration {
	return parseDuration(c.BaseDelay, 250*time.Millisecond)
}

// GetMaxDelay returns the backoff cap as a duration.
func (c ResilienceConfig) GetMaxDelay() time.Duration {
	return parseDuration(c.MaxDelay, 4*time.Second)
}

// GetCooldownWindow returns the open-circuit cooldown as a duration.
func (c ResilienceConfig) GetCooldownWindow() time.Duration {
	return parseDuration(c.CooldownWindow, 30*time.Second)
}
