package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy controls how many times a failed upstream call is re-attempted and
// how long to wait between attempts.
type Policy struct {
	MaxRetries uint          `json:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultPolicy returns 3 retries, 1s base delay doubling up to 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// Validate checks BaseDelay <= MaxDelay and Multiplier >= 1.
func (p Policy) Validate() error {
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("base delay %s exceeds max delay %s", p.BaseDelay, p.MaxDelay)
	}
	if math.IsNaN(p.Multiplier) || math.IsInf(p.Multiplier, 0) || p.Multiplier < 1.0 {
		return fmt.Errorf("backoff multiplier must be >= 1.0, got %v", p.Multiplier)
	}
	return nil
}

// Delay returns the wait before the retry that follows the given attempt:
// min(BaseDelay * Multiplier^attempt, MaxDelay). No jitter is applied.
func (p Policy) Delay(attempt uint) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsNaN(d) || math.IsInf(d, 0) || d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
