// Package stkai assembles the platform SDK: layered configuration, an
// authenticated and throttled transport stack, and the RQC and Agent
// clients built on top of it.
//
// Minimal use:
//
//	sdk, err := stkai.New(ctx)
//	if err != nil { ... }
//	defer sdk.Close(ctx)
//	resp := sdk.RQC().Execute(ctx, "my-command", rqc.NewRequest(payload))
package stkai

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/stackspot/stkai-go/agent"
	"github.com/stackspot/stkai-go/internal/auth"
	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/internal/hostcli"
	"github.com/stackspot/stkai-go/internal/httpx"
	"github.com/stackspot/stkai-go/internal/logger"
	"github.com/stackspot/stkai-go/internal/rate"
	"github.com/stackspot/stkai-go/internal/resilience"
	"github.com/stackspot/stkai-go/internal/telemetry"
	"github.com/stackspot/stkai-go/rqc"
	"github.com/stackspot/stkai-go/transport"
)

// Adaptive rate limiting presets, re-exported for callers.
const (
	PresetConservative = config.PresetConservative
	PresetBalanced     = config.PresetBalanced
	PresetOptimistic   = config.PresetOptimistic
)

type options struct {
	yamlPath    string
	allowEnv    bool
	preset      string
	values      map[string]string
	listeners   []rqc.EventListener
	handler     rqc.ResultHandler
	skipHostCLI bool
	transport   transport.Transport
}

// Option configures SDK construction.
type Option func(*options)

// WithConfigFile overlays options from a YAML file.
func WithConfigFile(path string) Option {
	return func(o *options) { o.yamlPath = path }
}

// WithoutEnv disables the STKAI_* environment layer.
func WithoutEnv() Option {
	return func(o *options) { o.allowEnv = false }
}

// WithPreset enables adaptive rate limiting with a curated preset.
func WithPreset(name string) Option {
	return func(o *options) { o.preset = name }
}

// WithValues applies user option values, the highest-precedence layer.
func WithValues(values map[string]string) Option {
	return func(o *options) { o.values = values }
}

// WithListeners registers lifecycle listeners on the RQC client.
func WithListeners(listeners ...rqc.EventListener) Option {
	return func(o *options) { o.listeners = append(o.listeners, listeners...) }
}

// WithResultHandler sets the RQC result pipeline.
func WithResultHandler(h rqc.ResultHandler) Option {
	return func(o *options) { o.handler = h }
}

// WithoutHostCLI skips host CLI detection, forcing client-credentials
// authentication even when the CLI is installed.
func WithoutHostCLI() Option {
	return func(o *options) { o.skipHostCLI = true }
}

// WithTransport replaces the entire transport stack. Intended for tests and
// embedding; the configured auth, breaker and rate limit layers are skipped.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// SDK is the assembled client handle. Construct with New; a zero SDK is not
// usable. Safe for concurrent use.
type SDK struct {
	registry *config.Registry
	logger   *slog.Logger
	closeLog logger.Closer

	rqcClient   *rqc.Client
	agentClient *agent.Client
	metrics     *telemetry.Metrics

	shutdownTelemetry telemetry.ShutdownFunc
}

// New resolves configuration, probes the host CLI, and builds the transport
// stack and both protocol clients.
func New(ctx context.Context, opts ...Option) (*SDK, error) {
	o := &options{allowEnv: true}
	for _, opt := range opts {
		opt(o)
	}

	var host config.HostValues
	var probe *hostcli.Probe
	if !o.skipHostCLI {
		probe = hostcli.New(quietProbeLogger())
		if probe.Available() {
			values, err := probe.Values(ctx)
			if err != nil {
				// A present but unusable CLI falls back to standalone auth.
				probe = nil
			} else {
				host = values
			}
		} else {
			probe = nil
		}
	}

	registry, err := config.NewRegistry(config.Options{
		YAMLPath: o.yamlPath,
		AllowEnv: o.allowEnv,
		Host:     host,
	})
	if err != nil {
		return nil, err
	}
	if o.preset != "" {
		if err := registry.ApplyPreset(o.preset); err != nil {
			return nil, err
		}
	}
	if len(o.values) > 0 {
		if err := registry.SetAll(o.values); err != nil {
			return nil, err
		}
	}

	cfg := registry.Snapshot()
	log, closeLog := logger.New(cfg.SDK)
	sdk := &SDK{registry: registry, logger: log, closeLog: closeLog}

	if cfg.SDK.TelemetryEndpoint != "" {
		shutdown, err := telemetry.Setup(ctx, cfg.SDK.Service, cfg.SDK.TelemetryEndpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry setup: %w", err)
		}
		sdk.shutdownTelemetry = shutdown
		metrics, err := telemetry.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("telemetry instruments: %w", err)
		}
		sdk.metrics = metrics
	}

	stack := o.transport
	if stack == nil {
		stack = buildTransport(cfg, probe, sdk.metrics, log)
	}

	rqcOpts := []rqc.Option{rqc.WithListeners(o.listeners...)}
	if o.handler != nil {
		rqcOpts = append(rqcOpts, rqc.WithHandler(o.handler))
	}
	sdk.rqcClient = rqc.New(cfg.RQC, stack, log, rqcOpts...)

	agentOpts := []agent.Option{}
	if sdk.metrics != nil {
		m := sdk.metrics
		agentOpts = append(agentOpts, agent.WithObserver(func(resp *agent.ChatResponse) {
			m.ChatsSent.Add(ctx, 1)
			m.ChatTokens.Add(ctx, int64(resp.Tokens.Total()))
		}))
	}
	sdk.agentClient = agent.New(cfg.Agent, stack, log, agentOpts...)

	if probe != nil {
		log.Info("authenticated via host cli session")
	}
	return sdk, nil
}

// buildTransport assembles the decorator stack, outermost first: rate
// limiter, circuit breaker, authentication, base HTTP client.
func buildTransport(cfg config.Config, probe *hostcli.Probe, metrics *telemetry.Metrics, log *slog.Logger) transport.Transport {
	var stack transport.Transport = httpx.NewClient(log)

	if probe != nil {
		stack = httpx.NewHostCLI(stack, probe, log)
	} else {
		provider := auth.NewClientCredentials(cfg.Auth, log)
		stack = httpx.NewStandalone(stack, provider, log)
	}

	if cfg.Breaker.Enabled {
		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, log)
		stack = resilience.NewBreakerTransport(stack, breaker)
	}

	if cfg.RateLimit.Enabled {
		switch cfg.RateLimit.Strategy {
		case config.StrategyAdaptive:
			adaptiveCfg := rate.AdaptiveConfig{
				MaxRequests:    cfg.RateLimit.MaxRequests,
				TimeWindow:     cfg.RateLimit.TimeWindow,
				MaxWaitTime:    cfg.RateLimit.MaxWaitTime,
				MinRateFloor:   cfg.RateLimit.MinRateFloor,
				PenaltyFactor:  cfg.RateLimit.PenaltyFactor,
				RecoveryFactor: cfg.RateLimit.RecoveryFactor,
				Logger:         log,
			}
			if metrics != nil {
				gauge := metrics.RateLimitRate
				adaptiveCfg.OnRateChange = func(r float64) {
					gauge.Record(context.Background(), r)
				}
			}
			stack = rate.NewAdaptive(stack, adaptiveCfg)
		default:
			stack = rate.NewTokenBucket(stack, rate.TokenBucketConfig{
				MaxRequests: cfg.RateLimit.MaxRequests,
				TimeWindow:  cfg.RateLimit.TimeWindow,
				MaxWaitTime: cfg.RateLimit.MaxWaitTime,
				Logger:      log,
			})
		}
	}

	return stack
}

// RQC returns the Remote Quick Command client.
func (s *SDK) RQC() *rqc.Client { return s.rqcClient }

// Agent returns the Agent chat client.
func (s *SDK) Agent() *agent.Client { return s.agentClient }

// Config returns the live configuration registry.
func (s *SDK) Config() *config.Registry { return s.registry }

// Explain reports every option with its resolved value and originating
// layer. Secrets are masked.
func (s *SDK) Explain() []config.Field { return s.registry.Explain() }

// Logger returns the SDK's structured logger.
func (s *SDK) Logger() *slog.Logger { return s.logger }

// Close flushes telemetry and any buffered log records. Idempotent.
func (s *SDK) Close(ctx context.Context) error {
	var err error
	if s.shutdownTelemetry != nil {
		shutdown := s.shutdownTelemetry
		s.shutdownTelemetry = nil
		err = shutdown(ctx)
	}
	if s.closeLog != nil {
		s.closeLog.Close()
		s.closeLog = nil
	}
	return err
}

// quietProbeLogger keeps CLI detection silent: the real log level is not
// known until after the probe contributed its config values.
func quietProbeLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
