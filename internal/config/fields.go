package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field binds a dotted option path to its accessors so every layer of the
// loader (env, YAML, host CLI, user) flows through one parsing code path and
// the registry can attribute the winning source per field.
type field struct {
	path   string
	secret bool
	get    func(*Config) string
	set    func(*Config, string) error
}

// nullTokens are accepted for nullable durations and mean "no limit".
var nullTokens = map[string]bool{"unlimited": true, "none": true, "null": true}

func fields() []field {
	return []field{
		{path: "sdk.log_level",
			get: func(c *Config) string { return c.SDK.LogLevel },
			set: func(c *Config, v string) error { c.SDK.LogLevel = v; return nil }},
		{path: "sdk.log_format",
			get: func(c *Config) string { return c.SDK.LogFormat },
			set: func(c *Config, v string) error { c.SDK.LogFormat = v; return nil }},
		{path: "sdk.log_async",
			get: func(c *Config) string { return strconv.FormatBool(c.SDK.LogAsync) },
			set: setBool(func(c *Config) *bool { return &c.SDK.LogAsync })},
		{path: "sdk.log_buffer",
			get: func(c *Config) string { return strconv.Itoa(c.SDK.LogBuffer) },
			set: setInt(func(c *Config) *int { return &c.SDK.LogBuffer })},
		{path: "sdk.service",
			get: func(c *Config) string { return c.SDK.Service },
			set: func(c *Config, v string) error { c.SDK.Service = v; return nil }},
		{path: "sdk.telemetry_endpoint",
			get: func(c *Config) string { return c.SDK.TelemetryEndpoint },
			set: func(c *Config, v string) error { c.SDK.TelemetryEndpoint = v; return nil }},

		{path: "auth.client_id",
			get: func(c *Config) string { return c.Auth.ClientID },
			set: func(c *Config, v string) error { c.Auth.ClientID = v; return nil }},
		{path: "auth.client_secret", secret: true,
			get: func(c *Config) string { return c.Auth.ClientSecret },
			set: func(c *Config, v string) error { c.Auth.ClientSecret = v; return nil }},
		{path: "auth.token_url",
			get: func(c *Config) string { return c.Auth.TokenURL },
			set: func(c *Config, v string) error { c.Auth.TokenURL = v; return nil }},
		{path: "auth.refresh_margin",
			get: func(c *Config) string { return c.Auth.RefreshMargin.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.Auth.RefreshMargin })},

		{path: "rqc.base_url",
			get: func(c *Config) string { return c.RQC.BaseURL },
			set: func(c *Config, v string) error { c.RQC.BaseURL = v; return nil }},
		{path: "rqc.request_timeout",
			get: func(c *Config) string { return c.RQC.RequestTimeout.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.RQC.RequestTimeout })},
		{path: "rqc.retry_max_retries",
			get: func(c *Config) string { return strconv.Itoa(c.RQC.RetryMaxRetries) },
			set: setInt(func(c *Config) *int { return &c.RQC.RetryMaxRetries })},
		{path: "rqc.retry_initial_delay",
			get: func(c *Config) string { return c.RQC.RetryInitialDelay.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.RQC.RetryInitialDelay })},
		{path: "rqc.poll_retry_max_retries",
			get: func(c *Config) string { return strconv.Itoa(c.RQC.PollRetryMaxRetries) },
			set: setInt(func(c *Config) *int { return &c.RQC.PollRetryMaxRetries })},
		{path: "rqc.poll_interval",
			get: func(c *Config) string { return c.RQC.PollInterval.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.RQC.PollInterval })},
		{path: "rqc.poll_max_duration",
			get: func(c *Config) string { return c.RQC.PollMaxDuration.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.RQC.PollMaxDuration })},
		{path: "rqc.overload_timeout",
			get: func(c *Config) string { return c.RQC.OverloadTimeout.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.RQC.OverloadTimeout })},
		{path: "rqc.max_workers",
			get: func(c *Config) string { return strconv.Itoa(c.RQC.MaxWorkers) },
			set: setInt(func(c *Config) *int { return &c.RQC.MaxWorkers })},
		{path: "rqc.result_cache_mb",
			get: func(c *Config) string { return strconv.FormatInt(c.RQC.ResultCacheMB, 10) },
			set: setInt64(func(c *Config) *int64 { return &c.RQC.ResultCacheMB })},

		{path: "agent.base_url",
			get: func(c *Config) string { return c.Agent.BaseURL },
			set: func(c *Config, v string) error { c.Agent.BaseURL = v; return nil }},
		{path: "agent.request_timeout",
			get: func(c *Config) string { return c.Agent.RequestTimeout.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.Agent.RequestTimeout })},
		{path: "agent.retry_max_retries",
			get: func(c *Config) string { return strconv.Itoa(c.Agent.RetryMaxRetries) },
			set: setInt(func(c *Config) *int { return &c.Agent.RetryMaxRetries })},
		{path: "agent.retry_initial_delay",
			get: func(c *Config) string { return c.Agent.RetryInitialDelay.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.Agent.RetryInitialDelay })},
		{path: "agent.max_workers",
			get: func(c *Config) string { return strconv.Itoa(c.Agent.MaxWorkers) },
			set: setInt(func(c *Config) *int { return &c.Agent.MaxWorkers })},

		{path: "rate_limit.enabled",
			get: func(c *Config) string { return strconv.FormatBool(c.RateLimit.Enabled) },
			set: setBool(func(c *Config) *bool { return &c.RateLimit.Enabled })},
		{path: "rate_limit.strategy",
			get: func(c *Config) string { return c.RateLimit.Strategy },
			set: func(c *Config, v string) error {
				if v != StrategyTokenBucket && v != StrategyAdaptive {
					return fmt.Errorf("unknown strategy %q", v)
				}
				c.RateLimit.Strategy = v
				return nil
			}},
		{path: "rate_limit.max_requests",
			get: func(c *Config) string { return strconv.Itoa(c.RateLimit.MaxRequests) },
			set: setInt(func(c *Config) *int { return &c.RateLimit.MaxRequests })},
		{path: "rate_limit.time_window",
			get: func(c *Config) string { return c.RateLimit.TimeWindow.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.RateLimit.TimeWindow })},
		{path: "rate_limit.max_wait_time",
			get: func(c *Config) string {
				if c.RateLimit.MaxWaitTime == nil {
					return "unlimited"
				}
				return c.RateLimit.MaxWaitTime.String()
			},
			set: func(c *Config, v string) error {
				if nullTokens[strings.ToLower(strings.TrimSpace(v))] {
					c.RateLimit.MaxWaitTime = nil
					return nil
				}
				d, err := parseDuration(v)
				if err != nil {
					return err
				}
				c.RateLimit.MaxWaitTime = &d
				return nil
			}},
		{path: "rate_limit.min_rate_floor",
			get: func(c *Config) string { return formatFloat(c.RateLimit.MinRateFloor) },
			set: setFloat64(func(c *Config) *float64 { return &c.RateLimit.MinRateFloor })},
		{path: "rate_limit.penalty_factor",
			get: func(c *Config) string { return formatFloat(c.RateLimit.PenaltyFactor) },
			set: setFloat64(func(c *Config) *float64 { return &c.RateLimit.PenaltyFactor })},
		{path: "rate_limit.recovery_factor",
			get: func(c *Config) string { return formatFloat(c.RateLimit.RecoveryFactor) },
			set: setFloat64(func(c *Config) *float64 { return &c.RateLimit.RecoveryFactor })},

		{path: "breaker.enabled",
			get: func(c *Config) string { return strconv.FormatBool(c.Breaker.Enabled) },
			set: setBool(func(c *Config) *bool { return &c.Breaker.Enabled })},
		{path: "breaker.max_failures",
			get: func(c *Config) string { return strconv.Itoa(c.Breaker.MaxFailures) },
			set: setInt(func(c *Config) *int { return &c.Breaker.MaxFailures })},
		{path: "breaker.timeout",
			get: func(c *Config) string { return c.Breaker.Timeout.String() },
			set: setDuration(func(c *Config) *time.Duration { return &c.Breaker.Timeout })},

		{path: "events.nats_url",
			get: func(c *Config) string { return c.Events.NatsURL },
			set: func(c *Config, v string) error { c.Events.NatsURL = v; return nil }},
		{path: "events.subject_prefix",
			get: func(c *Config) string { return c.Events.SubjectPrefix },
			set: func(c *Config, v string) error { c.Events.SubjectPrefix = v; return nil }},

		{path: "audit.dsn", secret: true,
			get: func(c *Config) string { return c.Audit.DSN },
			set: func(c *Config, v string) error { c.Audit.DSN = v; return nil }},
		{path: "audit.max_conns",
			get: func(c *Config) string { return strconv.Itoa(int(c.Audit.MaxConns)) },
			set: func(c *Config, v string) error {
				n, err := strconv.ParseInt(v, 10, 32)
				if err != nil {
					return fmt.Errorf("audit.max_conns: %w", err)
				}
				c.Audit.MaxConns = int32(n)
				return nil
			}},
	}
}

// EnvVar returns the environment variable name for a dotted option path,
// e.g. "rqc.poll_interval" -> "STKAI_RQC_POLL_INTERVAL".
func EnvVar(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// parseDuration accepts Go duration strings and bare numbers (seconds), the
// latter matching how the platform documents these options.
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func setInt(sel func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*sel(c) = n
		return nil
	}
}

func setInt64(sel func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*sel(c) = n
		return nil
	}
}

func setFloat64(sel func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", v)
		}
		*sel(c) = f
		return nil
	}
}

func setBool(sel func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*sel(c) = b
		return nil
	}
}

func setDuration(sel func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*sel(c) = d
		return nil
	}
}
