// Package hostcli probes for the platform CLI on the host machine. When the
// CLI is installed and logged in, the SDK borrows its session instead of
// requiring standalone client credentials: the probe supplies config
// overrides (the API base URLs) and a pre-signed bearer header per call.
package hostcli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/stackspot/stkai-go/transport"
)

// Binary is the host CLI executable name looked up on PATH.
const Binary = "stk"

// tokenTTL bounds how long a CLI-issued token is reused before asking the
// CLI again. The CLI owns the real expiry; this only caps staleness.
const tokenTTL = 60 * time.Second

// Probe discovers and drives the host CLI. The zero value is not usable;
// call New.
type Probe struct {
	bin    string
	logger *slog.Logger

	lookPath func(file string) (string, error)
	run      func(ctx context.Context, bin string, args ...string) (string, error)
	now      func() time.Time

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// New creates a probe for the platform CLI.
func New(logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		bin:      Binary,
		logger:   logger.With("component", "hostcli"),
		lookPath: exec.LookPath,
		run:      runCLI,
		now:      time.Now,
	}
}

// Available reports whether the host CLI is installed on PATH.
func (p *Probe) Available() bool {
	_, err := p.lookPath(p.bin)
	return err == nil
}

// Values returns config overrides derived from the CLI's current context:
// the RQC and agent API base URLs, keyed by config path. The realm is only
// logged, not returned. Returns an empty map when the CLI has no overrides
// to offer.
func (p *Probe) Values(ctx context.Context) (map[string]string, error) {
	out, err := p.run(ctx, p.bin, "config", "current", "--output", "json")
	if err != nil {
		return nil, fmt.Errorf("reading host cli config: %w", err)
	}

	var current struct {
		Realm       string `json:"realm"`
		CodeBuddyAPI string `json:"code_buddy_api"`
		InferenceAPI string `json:"inference_api"`
	}
	if err := json.Unmarshal([]byte(out), &current); err != nil {
		return nil, fmt.Errorf("decoding host cli config: %w", err)
	}

	values := make(map[string]string)
	if current.CodeBuddyAPI != "" {
		values["rqc.base_url"] = current.CodeBuddyAPI
	}
	if current.InferenceAPI != "" {
		values["agent.base_url"] = current.InferenceAPI
	}
	p.logger.Debug("host cli config probed", "realm", current.Realm, "overrides", len(values))
	return values, nil
}

// Sign attaches a bearer header issued by the CLI to req. Tokens are cached
// briefly so batch workloads do not fork the CLI once per call.
func (p *Probe) Sign(ctx context.Context, req *transport.Request) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Headers.Set("Authorization", "Bearer "+token)
	return nil
}

// Invalidate discards the cached CLI token, forcing a fresh issue on the
// next Sign.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
}

func (p *Probe) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Sub(p.fetchedAt) < tokenTTL {
		return p.token, nil
	}

	out, err := p.run(ctx, p.bin, "auth", "print-access-token")
	if err != nil {
		return "", &transport.AuthError{Reason: "host cli token issue failed", Err: err}
	}
	token := strings.TrimSpace(out)
	if token == "" {
		return "", &transport.AuthError{Reason: "host cli returned empty token"}
	}
	p.token = token
	p.fetchedAt = p.now()
	return token, nil
}

// runCLI executes the host CLI and returns its stdout.
func runCLI(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
