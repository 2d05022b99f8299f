// Command stkai-mcp serves the SDK's operations over the Model Context
// Protocol so MCP-capable agents can run quick commands and chat with
// platform agents.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stackspot/stkai-go"
	"github.com/stackspot/stkai-go/internal/mcp"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":3001", "listen address")
	configFile := flag.String("config", "", "path to a YAML config file")
	apiKey := flag.String("api-key", os.Getenv("STKAI_MCP_API_KEY"), "require this bearer token on every request")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []stkai.Option
	if *configFile != "" {
		opts = append(opts, stkai.WithConfigFile(*configFile))
	}
	sdk, err := stkai.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("sdk: %w", err)
	}
	defer func() { _ = sdk.Close(context.Background()) }()

	srv := mcp.NewServer(mcp.ServerConfig{
		Addr:    *addr,
		Name:    "stkai-mcp",
		Version: version,
		APIKey:  *apiKey,
	}, mcp.ServerDeps{
		Executor: sdk.RQC(),
		Chatter:  sdk.Agent(),
		Config:   sdk,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	slog.Info("mcp server listening", "addr", srv.Addr(), "auth", *apiKey != "")

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
