package config

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/pario-ai/google-proxy/pkg/errs"
	"github.com/pario-ai/google-proxy/pkg/retry"
)

// Defaults applied by Resolve.
const (
	DefaultModel        = "gemini-2.0-flash"
	DefaultMaxCacheSize = 100
	DefaultTimeoutMS    = 30000
	DefaultAPIKeyEnv    = "GOOGLE_API_KEY"
	FallbackAPIKeyEnv   = "GEMINI_API_KEY"
)

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// InitPayload is the JSON body an actor is initialized with. Every field is
// optional.
type InitPayload struct {
	StoreID *string    `json:"store_id,omitempty"`
	Config  *RawConfig `json:"config,omitempty"`
}

// RawConfig is caller-supplied configuration before defaults are applied.
// Nil pointers mean "not set".
type RawConfig struct {
	DefaultModel  *string         `json:"default_model,omitempty" yaml:"default_model"`
	MaxCacheSize  *int            `json:"max_cache_size,omitempty" yaml:"max_cache_size"`
	MaxSessions   *int            `json:"max_sessions,omitempty" yaml:"max_sessions"`
	TimeoutMS     *int64          `json:"timeout_ms,omitempty" yaml:"timeout_ms"`
	RetryConfig   *RawRetryConfig `json:"retry_config,omitempty" yaml:"retry_config"`
	StreamHistory *bool           `json:"stream_history,omitempty" yaml:"stream_history"`
	APIKeyEnv     *string         `json:"api_key_env,omitempty" yaml:"api_key_env"`
}

// RawRetryConfig is the caller-supplied retry policy.
type RawRetryConfig struct {
	MaxRetries        *int64   `json:"max_retries,omitempty" yaml:"max_retries"`
	BaseDelayMS       *int64   `json:"base_delay_ms,omitempty" yaml:"base_delay_ms"`
	MaxDelayMS        *int64   `json:"max_delay_ms,omitempty" yaml:"max_delay_ms"`
	BackoffMultiplier *float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier"`
}

// Effective is the resolved, immutable configuration of one actor.
type Effective struct {
	DefaultModel string
	// MaxCacheSize of zero disables response caching.
	MaxCacheSize int
	// MaxSessions of zero leaves the conversation store unbounded.
	MaxSessions   int
	Timeout       time.Duration
	Retry         retry.Policy
	StreamHistory bool
	APIKey        string `json:"-"`
}

// ParseInit decodes an init payload. Empty input yields an empty payload.
// Unknown fields are ignored; values of the wrong type are a ConfigError.
func ParseInit(data []byte) (*InitPayload, error) {
	p := &InitPayload{}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errs.Configf("field %q: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return nil, errs.New(errs.KindConfig, "malformed init payload", err)
	}
	return p, nil
}

// Resolve merges raw with the defaults and reads the API key through getenv.
// raw may be nil.
func Resolve(raw *RawConfig, getenv func(string) string) (Effective, error) {
	if raw == nil {
		raw = &RawConfig{}
	}

	eff := Effective{
		DefaultModel:  DefaultModel,
		MaxCacheSize:  DefaultMaxCacheSize,
		Timeout:       DefaultTimeoutMS * time.Millisecond,
		Retry:         retry.DefaultPolicy(),
		StreamHistory: true,
	}

	if raw.DefaultModel != nil {
		if *raw.DefaultModel == "" {
			return Effective{}, errs.Configf("default_model must not be empty")
		}
		eff.DefaultModel = *raw.DefaultModel
	}
	if raw.MaxCacheSize != nil {
		if *raw.MaxCacheSize < 0 {
			return Effective{}, errs.Configf("max_cache_size must not be negative, got %d", *raw.MaxCacheSize)
		}
		eff.MaxCacheSize = *raw.MaxCacheSize
	}
	if raw.MaxSessions != nil {
		if *raw.MaxSessions < 0 {
			return Effective{}, errs.Configf("max_sessions must not be negative, got %d", *raw.MaxSessions)
		}
		eff.MaxSessions = *raw.MaxSessions
	}
	if raw.TimeoutMS != nil {
		if *raw.TimeoutMS <= 0 {
			return Effective{}, errs.Configf("timeout_ms must be positive, got %d", *raw.TimeoutMS)
		}
		if *raw.TimeoutMS > maxMillis {
			return Effective{}, errs.Configf("timeout_ms must be at most %d, got %d", maxMillis, *raw.TimeoutMS)
		}
		eff.Timeout = time.Duration(*raw.TimeoutMS) * time.Millisecond
	}
	if raw.StreamHistory != nil {
		eff.StreamHistory = *raw.StreamHistory
	}

	if rc := raw.RetryConfig; rc != nil {
		if rc.MaxRetries != nil {
			if *rc.MaxRetries < 0 {
				return Effective{}, errs.Configf("retry_config.max_retries must not be negative, got %d", *rc.MaxRetries)
			}
			eff.Retry.MaxRetries = uint(*rc.MaxRetries)
		}
		if rc.BaseDelayMS != nil {
			if *rc.BaseDelayMS < 0 {
				return Effective{}, errs.Configf("retry_config.base_delay_ms must not be negative, got %d", *rc.BaseDelayMS)
			}
			if *rc.BaseDelayMS > maxMillis {
				return Effective{}, errs.Configf("retry_config.base_delay_ms must be at most %d, got %d", maxMillis, *rc.BaseDelayMS)
			}
			eff.Retry.BaseDelay = time.Duration(*rc.BaseDelayMS) * time.Millisecond
		}
		if rc.MaxDelayMS != nil {
			if *rc.MaxDelayMS < 0 {
				return Effective{}, errs.Configf("retry_config.max_delay_ms must not be negative, got %d", *rc.MaxDelayMS)
			}
			if *rc.MaxDelayMS > maxMillis {
				return Effective{}, errs.Configf("retry_config.max_delay_ms must be at most %d, got %d", maxMillis, *rc.MaxDelayMS)
			}
			eff.Retry.MaxDelay = time.Duration(*rc.MaxDelayMS) * time.Millisecond
		}
		if rc.BackoffMultiplier != nil {
			eff.Retry.Multiplier = *rc.BackoffMultiplier
		}
	}
	if err := eff.Retry.Validate(); err != nil {
		return Effective{}, errs.New(errs.KindConfig, "invalid retry_config", err)
	}

	key, err := lookupAPIKey(raw.APIKeyEnv, getenv)
	if err != nil {
		return Effective{}, err
	}
	eff.APIKey = key

	return eff, nil
}

func lookupAPIKey(envName *string, getenv func(string) string) (string, error) {
	if envName != nil && *envName != "" {
		if key := getenv(*envName); key != "" {
			return key, nil
		}
		return "", errs.Configf("API key not found: environment variable %s is not set", *envName)
	}
	if key := getenv(DefaultAPIKeyEnv); key != "" {
		return key, nil
	}
	if key := getenv(FallbackAPIKeyEnv); key != "" {
		return key, nil
	}
	return "", errs.Configf("API key not found: set %s or %s", DefaultAPIKeyEnv, FallbackAPIKeyEnv)
}
