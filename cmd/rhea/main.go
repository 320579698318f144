// Command rhea runs the tool execution fabric and its file transfer
// helpers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/rhea-ai/rhea"
	"github.com/rhea-ai/rhea/pkg/config"
	"github.com/rhea-ai/rhea/pkg/embedder"
	"github.com/rhea-ai/rhea/pkg/index"
	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/scheduler"
	"github.com/rhea-ai/rhea/pkg/server"
	"github.com/rhea-ai/rhea/pkg/session"
	"github.com/rhea-ai/rhea/pkg/toolspec"
)

type cli struct {
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (default: stderr)." default:""`
	LogFormat string `help:"Log format (simple, verbose)." default:""`

	Serve    serveCmd    `cmd:"" default:"withargs" help:"Run the Rhea server."`
	Upload   uploadCmd   `cmd:"" help:"Upload a file to the object store through a running server."`
	Download downloadCmd `cmd:"" help:"Download a stored file through a running server."`
	Version  versionCmd  `cmd:"" help:"Print version information."`
}

type serveCmd struct {
	Transport string `help:"Transport protocol (stdio, sse, streamable-http)." enum:"stdio,sse,streamable-http" default:"stdio"`
}

func (c *serveCmd) Run() error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := server.InitTracing(settings.DebugPort != 0)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	catalog, err := toolspec.LoadCatalog(settings.CatalogPath)
	if err != nil {
		return err
	}
	slog.Info("catalog loaded", "path", settings.CatalogPath, "tools", catalog.Len())

	store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:          settings.Store.Bucket,
		Region:          settings.Store.Region,
		Endpoint:        settings.Store.Endpoint,
		AccessKeyID:     settings.Store.AccessKey,
		SecretAccessKey: settings.Store.SecretKey,
		Secure:          settings.Store.Secure,
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	registry := scheduler.NewRedisRegistry(settings.Registry.Addr(), runID)
	defer registry.Close()

	provider, err := scheduler.NewProvider(settings.Scheduler)
	if err != nil {
		return err
	}
	sched := scheduler.New(settings.Scheduler, provider, store, registry, runID)
	defer sched.Shutdown()

	semantic, err := index.NewQdrant(settings.Index, embedder.New(settings.Embedding))
	if err != nil {
		return err
	}
	defer semantic.Close()

	controller := session.NewController(catalog, semantic, sched, settings.ClientTTL)
	defer controller.Shutdown()

	srv := server.New(settings, controller, store, server.NewMetrics(registry))

	slog.Info("starting server", "version", rhea.Version, "transport", c.Transport, "run_id", runID)
	switch c.Transport {
	case "stdio":
		return srv.ServeStdio(ctx)
	case "sse":
		return srv.ServeSSE(ctx)
	case "streamable-http":
		return srv.ServeStreamableHTTP(ctx)
	}
	return fmt.Errorf("unsupported transport %q", c.Transport)
}

type versionCmd struct{}

func (c *versionCmd) Run() error {
	fmt.Println(rhea.GetVersion().String())
	return nil
}

func main() {
	var flags cli
	parsed := kong.Parse(&flags,
		kong.Name("rhea"),
		kong.Description("Request-driven execution fabric for declarative command-line tools."),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(flags.LogLevel, flags.LogFile, flags.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	if err := parsed.Run(); err != nil {
		slog.Error("command failed", "error", err)
		cleanup()
		os.Exit(1)
	}
}
