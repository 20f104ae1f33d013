package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"selectattr/internal/app"
	"selectattr/internal/config"
	"selectattr/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("selectattr failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet("selectattr", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	config.DefineFlags(flags)

	flags.Bool("version", false, "Print version and exit")
	flags.Int64Slice("ids", nil, "Owning ids (comma separated)")
	flags.Bool("used-only", false, "List only options referenced by at least one owner")
	flags.Bool("counts", false, "Include per-option usage counts")
	flags.String("direction", "ASC", "Sort direction (ASC or DESC)")

	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: selectattr [flags] <command> [args]\n\n%s\nFlags:\n", commandUsage)
		flags.PrintDefaults()
	}
	return flags
}

func run(args []string, stdout, stderr io.Writer) error {
	flags := newFlagSet(stderr)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if showVersion, _ := flags.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "selectattr %s (%s)\n", Version, Commit)
		return nil
	}

	cmd, err := parseCommand(flags)
	if err != nil {
		flags.Usage()
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, loggerProvider, err := app.InitLogger(ctx, cfg, stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	a.AttachLoggerProvider(loggerProvider)
	defer func() { _ = a.Shutdown(context.Background()) }()

	if err := a.Init(ctx); err != nil {
		return err
	}

	requestID := uuid.NewString()
	ctx = logging.WithRequestIDContext(a.Context(ctx), requestID)
	ctx = logging.WithLogger(ctx, logger.WithRequestID(requestID))

	return cmd.execute(ctx, a, stdout)
}

func validateConfig(cfg *config.Config) error {
	result := cfg.Validate()
	for _, warn := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if !result.HasErrors() {
		return nil
	}
	for _, err := range result.Errors {
		slog.Error("configuration error",
			slog.String("field", err.Field),
			slog.String("message", err.Message),
			slog.String("hint", err.Hint),
		)
	}
	return fmt.Errorf("configuration validation failed: %s", result.Error())
}
