// Command personaset builds persona-specific conversational fine-tuning
// datasets from multi-speaker transcripts.
//
// Usage:
//
//	personaset [--config personaset.yaml] <pair|clean|build|publish|speakers>
//
// A .env file in the working directory is loaded before the config so API
// keys can be kept out of the YAML file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	buildcmder "github.com/MrWong99/personaset/cmd/personaset/build"
	cleancmder "github.com/MrWong99/personaset/cmd/personaset/clean"
	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	paircmder "github.com/MrWong99/personaset/cmd/personaset/pair"
	publishcmder "github.com/MrWong99/personaset/cmd/personaset/publish"
	speakerscmder "github.com/MrWong99/personaset/cmd/personaset/speakers"
	"github.com/MrWong99/personaset/internal/config"
	"github.com/MrWong99/personaset/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

const rootLongDesc string = `personaset turns multi-speaker transcripts into ShareGPT-style
fine-tuning datasets for one persona.

Each record pairs a line spoken to the persona with the persona's
reply, under a fixed system prompt. Records can be cleaned of stage
directions by a regex or an LLM and published to a JSON lines file,
the Hugging Face Hub or PostgreSQL.`

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "personaset: .env: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &rootCommander{}
	defer root.shutdown()

	if err := root.command().ExecuteContext(ctx); err != nil {
		slog.Error("personaset failed", "err", err)
		return 1
	}
	return 0
}

// rootCommander owns the process-wide telemetry started before any
// subcommand runs.
type rootCommander struct {
	cancelServer context.CancelFunc
	serverDone   chan error
	otelShutdown func(context.Context) error
}

func (r *rootCommander) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "personaset",
		Short:         "Build persona fine-tuning datasets from transcripts",
		Long:          rootLongDesc,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return r.setup(cmd)
		},
	}

	cliutil.AddConfigFlag(cmd)

	cmd.AddCommand(paircmder.NewPairCmd())
	cmd.AddCommand(cleancmder.NewCleanCmd())
	cmd.AddCommand(buildcmder.NewBuildCmd())
	cmd.AddCommand(publishcmder.NewPublishCmd())
	cmd.AddCommand(speakerscmder.NewSpeakersCmd())

	return cmd
}

// setup configures logging and telemetry from the loaded config.
func (r *rootCommander) setup(cmd *cobra.Command) error {
	cfg, err := cliutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Debug("personaset starting", "version", version, "command", cmd.Name())

	ctx := cmd.Context()
	r.otelShutdown, err = observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "personaset",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	if cfg.Telemetry.MetricsAddr == "" {
		return nil
	}
	srv, err := observe.NewServer(cfg.Telemetry.MetricsAddr, observe.DefaultMetrics(), nil)
	if err != nil {
		return err
	}
	slog.Info("metrics server listening", "addr", srv.Addr())

	srvCtx, cancel := context.WithCancel(context.Background())
	r.cancelServer = cancel
	r.serverDone = make(chan error, 1)
	go func() { r.serverDone <- srv.Serve(srvCtx) }()
	return nil
}

func (r *rootCommander) shutdown() {
	if r.cancelServer != nil {
		r.cancelServer()
		if err := <-r.serverDone; err != nil {
			slog.Warn("metrics server", "err", err)
		}
	}
	if r.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}
}

// newLogger returns a text logger on stderr at the given level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
