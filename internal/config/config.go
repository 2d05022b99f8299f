// Package config provides the layered configuration registry for the SDK.
// Precedence: defaults < environment < YAML file < host CLI < user values.
// Every field remembers the layer that produced its current value.
package config

import "time"

// EnvPrefix is prepended to every environment variable the loader reads,
// following the <PREFIX>_<GROUP>_<OPTION> convention.
const EnvPrefix = "STKAI"

// Config holds all SDK configuration groups.
type Config struct {
	SDK       SDK       `yaml:"sdk"`
	Auth      Auth      `yaml:"auth"`
	RQC       RQC       `yaml:"rqc"`
	Agent     Agent     `yaml:"agent"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Breaker   Breaker   `yaml:"breaker"`
	Events    Events    `yaml:"events"`
	Audit     Audit     `yaml:"audit"`
}

// SDK holds cross-cutting settings: logging and telemetry. LogAsync moves
// log writes off the request path, dropping records under sustained pressure.
type SDK struct {
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	LogAsync          bool   `yaml:"log_async"`
	LogBuffer         int    `yaml:"log_buffer"`
	Service           string `yaml:"service"`
	TelemetryEndpoint string `yaml:"telemetry_endpoint"`
}

// Auth holds client-credentials settings for the standalone transport.
type Auth struct {
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	TokenURL      string        `yaml:"token_url"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

// RQC holds Remote Quick Command protocol settings.
type RQC struct {
	BaseURL             string        `yaml:"base_url"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	RetryMaxRetries     int           `yaml:"retry_max_retries"`
	RetryInitialDelay   time.Duration `yaml:"retry_initial_delay"`
	PollRetryMaxRetries int           `yaml:"poll_retry_max_retries"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	PollMaxDuration     time.Duration `yaml:"poll_max_duration"`
	OverloadTimeout     time.Duration `yaml:"overload_timeout"`
	MaxWorkers          int           `yaml:"max_workers"`
	ResultCacheMB       int64         `yaml:"result_cache_mb"`
}

// Agent holds Agent chat protocol settings.
type Agent struct {
	BaseURL           string        `yaml:"base_url"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RetryMaxRetries   int           `yaml:"retry_max_retries"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	MaxWorkers        int           `yaml:"max_workers"`
}

// RateLimit holds client-side throttling settings. MaxWaitTime nil means
// callers wait for a token indefinitely.
type RateLimit struct {
	Enabled        bool           `yaml:"enabled"`
	Strategy       string         `yaml:"strategy"`
	MaxRequests    int            `yaml:"max_requests"`
	TimeWindow     time.Duration  `yaml:"time_window"`
	MaxWaitTime    *time.Duration `yaml:"max_wait_time"`
	MinRateFloor   float64        `yaml:"min_rate_floor"`
	PenaltyFactor  float64        `yaml:"penalty_factor"`
	RecoveryFactor float64        `yaml:"recovery_factor"`
}

// Breaker holds circuit breaker settings for the transport stack.
type Breaker struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Events holds lifecycle event publishing settings.
type Events struct {
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Audit holds the optional Postgres execution journal settings.
type Audit struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// Rate limiting strategies.
const (
	StrategyTokenBucket = "token_bucket"
	StrategyAdaptive    = "adaptive"
)

// Defaults returns a Config with the platform default values.
func Defaults() Config {
	return Config{
		SDK: SDK{
			LogLevel:  "info",
			LogFormat: "json",
			LogBuffer: 1024,
			Service:   "stkai-sdk",
		},
		Auth: Auth{
			TokenURL:      "https://idm.stackspot.com/stackspot/oidc/oauth/token",
			RefreshMargin: time.Minute,
		},
		RQC: RQC{
			BaseURL:             "https://genai-code-buddy-api.stackspot.com",
			RequestTimeout:      30 * time.Second,
			RetryMaxRetries:     3,
			RetryInitialDelay:   500 * time.Millisecond,
			PollRetryMaxRetries: 1,
			PollInterval:        10 * time.Second,
			PollMaxDuration:     10 * time.Minute,
			OverloadTimeout:     time.Minute,
			MaxWorkers:          8,
			ResultCacheMB:       16,
		},
		Agent: Agent{
			BaseURL:           "https://genai-inference-app.stackspot.com",
			RequestTimeout:    time.Minute,
			RetryMaxRetries:   3,
			RetryInitialDelay: 500 * time.Millisecond,
			MaxWorkers:        8,
		},
		RateLimit: RateLimit{
			Enabled:        false,
			Strategy:       StrategyTokenBucket,
			MaxRequests:    100,
			TimeWindow:     time.Minute,
			MaxWaitTime:    durationPtr(45 * time.Second),
			MinRateFloor:   0.1,
			PenaltyFactor:  0.3,
			RecoveryFactor: 0.05,
		},
		Breaker: Breaker{
			Enabled:     false,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Events: Events{
			SubjectPrefix: "stkai",
		},
		Audit: Audit{
			MaxConns: 4,
		},
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }
