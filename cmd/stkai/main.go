// Command stkai is a thin CLI over the SDK: run quick commands, chat with
// agents, and inspect the resolved configuration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/stackspot/stkai-go"
	"github.com/stackspot/stkai-go/agent"
	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/rqc"
)

const usage = `usage: stkai <command> [flags] [args]

commands:
  explain                   show every option with its value and source
  run <slug> [payload]      execute a quick command (payload is JSON, "-" reads stdin)
  result <execution-id>     fetch the state of a submitted execution
  chat <agent-id> <prompt>  send one prompt to an agent

common flags:
  -config FILE              overlay options from a YAML file
  -preset NAME              enable an adaptive rate limiting preset
  -set key=value            set an option (repeatable)
`

// setFlags collects repeated -set key=value flags.
type setFlags map[string]string

func (s setFlags) String() string { return fmt.Sprint(map[string]string(s)) }

func (s setFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	s[key] = value
	return nil
}

type globals struct {
	configFile string
	preset     string
	values     setFlags
}

func (g *globals) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configFile, "config", "", "path to a YAML config file")
	fs.StringVar(&g.preset, "preset", "", "adaptive rate limiting preset")
	fs.Var(g.values, "set", "set an option, key=value (repeatable)")
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "stkai:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}
	command, rest := args[0], args[1:]

	g := &globals{values: setFlags{}}
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	g.register(fs)
	if err := fs.Parse(rest); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "explain":
		return cmdExplain(ctx, g)
	case "run":
		return cmdRun(ctx, g, fs.Args())
	case "result":
		return cmdResult(ctx, g, fs.Args())
	case "chat":
		return cmdChat(ctx, g, fs.Args())
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func newSDK(ctx context.Context, g *globals) (*stkai.SDK, error) {
	if err := promptSecret(g.values); err != nil {
		return nil, err
	}
	var opts []stkai.Option
	if g.configFile != "" {
		opts = append(opts, stkai.WithConfigFile(g.configFile))
	}
	if g.preset != "" {
		opts = append(opts, stkai.WithPreset(g.preset))
	}
	if len(g.values) > 0 {
		opts = append(opts, stkai.WithValues(g.values))
	}
	return stkai.New(ctx, opts...)
}

// promptSecret asks for the client secret on an interactive terminal when a
// client id is configured without one. Non-interactive runs are left alone.
func promptSecret(values setFlags) error {
	if values["auth.client_secret"] != "" || os.Getenv(config.EnvVar("auth.client_secret")) != "" {
		return nil
	}
	if values["auth.client_id"] == "" && os.Getenv(config.EnvVar("auth.client_id")) == "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	fmt.Fprint(os.Stderr, "client secret: ")
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading client secret: %w", err)
	}
	if len(secret) > 0 {
		values["auth.client_secret"] = string(secret)
	}
	return nil
}

func cmdExplain(ctx context.Context, g *globals) error {
	sdk, err := newSDK(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = sdk.Close(context.Background()) }()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tVALUE\tSOURCE")
	for _, f := range sdk.Explain() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, f.Value, f.Source)
	}
	return w.Flush()
}

func cmdRun(ctx context.Context, g *globals, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("run: missing quick command slug")
	}
	slug := args[0]
	raw := ""
	if len(args) > 1 {
		raw = args[1]
	}
	payload, err := readPayload(raw)
	if err != nil {
		return err
	}

	sdk, err := newSDK(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = sdk.Close(context.Background()) }()

	resp := sdk.RQC().Execute(ctx, slug, rqc.NewRequest(payload))
	return printExecution(resp)
}

func cmdResult(ctx context.Context, g *globals, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("result: missing execution id")
	}
	sdk, err := newSDK(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = sdk.Close(context.Background()) }()

	return printExecution(sdk.RQC().Result(ctx, args[0]))
}

func cmdChat(ctx context.Context, g *globals, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("chat: need an agent id and a prompt")
	}
	agentID, prompt := args[0], strings.Join(args[1:], " ")

	sdk, err := newSDK(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = sdk.Close(context.Background()) }()

	resp := sdk.Agent().Chat(ctx, agentID, agent.NewChatRequest(prompt))
	if !resp.IsSuccess() {
		return fmt.Errorf("chat %s: %s", resp.Status, resp.Error)
	}
	fmt.Println(resp.Message)
	if resp.ConversationID != "" {
		slog.Info("conversation", "id", resp.ConversationID)
	}
	return nil
}

// readPayload decodes the quick command input. An empty argument means no
// payload; "-" reads a JSON document from stdin.
func readPayload(arg string) (any, error) {
	var data []byte
	switch arg {
	case "":
		return nil, nil
	case "-":
		stdin, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		data = stdin
	default:
		data = []byte(arg)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return payload, nil
}

func printExecution(resp *rqc.Response) error {
	out, err := json.MarshalIndent(map[string]any{
		"execution_id": resp.ExecutionID(),
		"status":       resp.Status,
		"result":       resp.Result,
		"error":        resp.Error,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !resp.IsCompleted() {
		return fmt.Errorf("execution finished with status %s", resp.Status)
	}
	return nil
}
