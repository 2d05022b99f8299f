package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source identifies the configuration layer that produced a field's value.
// Environment-derived fields use the form "env:<VAR>".
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceHostCLI Source = "host_cli"
	SourceUser    Source = "user"
)

// Field is one resolved option as reported by Explain. Secret values are
// masked in Value but the source attribution is still accurate.
type Field struct {
	Path   string
	Value  string
	Source Source
}

// HostValues carries the option values a host CLI contributes when present.
type HostValues map[string]string

// Options controls how the registry resolves its initial snapshot.
type Options struct {
	YAMLPath string
	AllowEnv bool
	Host     HostValues
}

// Registry resolves and owns the SDK configuration. Reads are snapshot reads;
// Configure and Reset publish a new snapshot under an exclusive lock.
type Registry struct {
	mu      sync.RWMutex
	cfg     Config
	sources map[string]Source
	opts    Options
}

// NewRegistry builds a registry resolved from defaults, environment, the
// optional YAML file and host CLI values, in ascending precedence.
func NewRegistry(opts Options) (*Registry, error) {
	r := &Registry{opts: opts}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	cfg := Defaults()
	sources := make(map[string]Source, len(fields()))
	for _, f := range fields() {
		sources[f.path] = SourceDefault
	}

	if r.opts.AllowEnv {
		if err := overlayEnv(&cfg, sources); err != nil {
			return err
		}
	}
	if r.opts.YAMLPath != "" {
		if err := overlayYAML(&cfg, sources, r.opts.YAMLPath); err != nil {
			return err
		}
	}
	for path, value := range r.opts.Host {
		if err := apply(&cfg, sources, path, value, SourceHostCLI); err != nil {
			return err
		}
	}

	if err := validate(&cfg); err != nil {
		return fmt.Errorf("config validate: %w", err)
	}

	r.mu.Lock()
	r.cfg = cfg
	r.sources = sources
	r.mu.Unlock()
	return nil
}

// Set applies a single user-supplied option value, e.g. Set("rqc.poll_interval", "5s").
func (r *Registry) Set(path, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.cfg
	sources := cloneSources(r.sources)
	if err := apply(&cfg, sources, path, value, SourceUser); err != nil {
		return err
	}
	if err := validate(&cfg); err != nil {
		return fmt.Errorf("config validate: %w", err)
	}
	r.cfg = cfg
	r.sources = sources
	return nil
}

// SetAll applies a batch of user options atomically; either every option is
// accepted or none is.
func (r *Registry) SetAll(values map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.cfg
	sources := cloneSources(r.sources)
	for path, value := range values {
		if err := apply(&cfg, sources, path, value, SourceUser); err != nil {
			return err
		}
	}
	if err := validate(&cfg); err != nil {
		return fmt.Errorf("config validate: %w", err)
	}
	r.cfg = cfg
	r.sources = sources
	return nil
}

// Reset discards all user values and re-resolves from the non-user layers.
func (r *Registry) Reset() error {
	return r.load()
}

// Snapshot returns a copy of the current configuration.
func (r *Registry) Snapshot() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg := r.cfg
	if cfg.RateLimit.MaxWaitTime != nil {
		d := *cfg.RateLimit.MaxWaitTime
		cfg.RateLimit.MaxWaitTime = &d
	}
	return cfg
}

// Explain reports every known option with its resolved value and the layer
// that produced it, sorted by path. Secret values are masked.
func (r *Registry) Explain() []Field {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Field, 0, len(fields()))
	for _, f := range fields() {
		value := f.get(&r.cfg)
		if f.secret && value != "" {
			value = "********"
		}
		out = append(out, Field{Path: f.path, Value: value, Source: r.sources[f.path]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func apply(cfg *Config, sources map[string]Source, path, value string, src Source) error {
	for _, f := range fields() {
		if f.path != path {
			continue
		}
		if err := f.set(cfg, value); err != nil {
			return fmt.Errorf("option %s: %w", path, err)
		}
		sources[path] = src
		return nil
	}
	return fmt.Errorf("unknown option %q", path)
}

func overlayEnv(cfg *Config, sources map[string]Source) error {
	for _, f := range fields() {
		key := EnvVar(f.path)
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		if err := f.set(cfg, v); err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		sources[f.path] = Source("env:" + key)
	}
	return nil
}

// overlayYAML reads the file as group -> option -> scalar and applies only
// the keys that are present, so source attribution stays per-field. A missing
// file is not an error.
func overlayYAML(cfg *Config, sources map[string]Source, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for group, options := range raw {
		for option, value := range options {
			fieldPath := group + "." + option
			if err := apply(cfg, sources, fieldPath, fmt.Sprintf("%v", value), SourceFile); err != nil {
				return fmt.Errorf("file %s: %w", path, err)
			}
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.SDK.LogFormat != "json" && cfg.SDK.LogFormat != "text" {
		return errors.New(`sdk.log_format must be "json" or "text"`)
	}
	if cfg.SDK.LogBuffer < 1 {
		return errors.New("sdk.log_buffer must be >= 1")
	}
	if cfg.RQC.RequestTimeout <= 0 {
		return errors.New("rqc.request_timeout must be > 0")
	}
	if cfg.RQC.RetryMaxRetries < 0 {
		return errors.New("rqc.retry_max_retries must be >= 0")
	}
	if cfg.RQC.PollInterval <= 0 {
		return errors.New("rqc.poll_interval must be > 0")
	}
	if cfg.RQC.PollMaxDuration <= 0 {
		return errors.New("rqc.poll_max_duration must be > 0")
	}
	if cfg.RQC.OverloadTimeout <= 0 {
		return errors.New("rqc.overload_timeout must be > 0")
	}
	if cfg.RQC.MaxWorkers < 1 {
		return errors.New("rqc.max_workers must be >= 1")
	}
	if cfg.Agent.MaxWorkers < 1 {
		return errors.New("agent.max_workers must be >= 1")
	}
	if cfg.Agent.RequestTimeout <= 0 {
		return errors.New("agent.request_timeout must be > 0")
	}
	if cfg.RateLimit.MaxRequests < 1 {
		return errors.New("rate_limit.max_requests must be >= 1")
	}
	if cfg.RateLimit.TimeWindow <= 0 {
		return errors.New("rate_limit.time_window must be > 0")
	}
	if cfg.RateLimit.MinRateFloor <= 0 || cfg.RateLimit.MinRateFloor > 1 {
		return errors.New("rate_limit.min_rate_floor must be in (0, 1]")
	}
	if cfg.RateLimit.PenaltyFactor <= 0 || cfg.RateLimit.PenaltyFactor >= 1 {
		return errors.New("rate_limit.penalty_factor must be in (0, 1)")
	}
	if cfg.RateLimit.RecoveryFactor <= 0 || cfg.RateLimit.RecoveryFactor > 1 {
		return errors.New("rate_limit.recovery_factor must be in (0, 1]")
	}
	if cfg.Breaker.Enabled && cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func cloneSources(src map[string]Source) map[string]Source {
	out := make(map[string]Source, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
