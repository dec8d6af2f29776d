// Command timer-job runs one standalone timer. It serves TimerService on
// GRPC_PORT while the timer counts down and reports completion to the
// control plane at CONTROL_PLANE_ENDPOINT.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ctrlsys/ctrlsys/internal/config"
	"github.com/ctrlsys/ctrlsys/internal/telemetry"
	"github.com/ctrlsys/ctrlsys/internal/timerjob"
)

// version is set at build time via -ldflags.
var version = "dev"

const usage = `Usage: timer-job [command]

Runs a single timer configured from the environment.

Commands:
  (none)          run the timer
  health          validate configuration and exit (alias: --health-check)
  version         print the version
  help            show this message

Environment:
  TIMER_ID                     timer identifier (default: random UUID)
  TIMER_NAME                   display name (default: default-timer)
  TIMER_DURATION_SECONDS       duration, 1-86400 (required)
  TIMER_LABELS                 JSON object of string labels
  TIMER_CREATED_BY             creator (default: system)
  CONTROL_PLANE_ENDPOINT       http:// or https:// URL (required)
  GRPC_PORT                    status server port (default: 50051)
  UPDATE_INTERVAL_MS           tick interval, 100-60000 (default: 1000)
  LOG_LEVEL                    debug, info, warn or error (default: info)
`

func main() {
	os.Exit(run0(os.Args[1:], os.Stdout, os.Stderr))
}

func run0(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()

	if len(args) > 0 {
		switch args[0] {
		case "health", "--health-check":
			if _, err := config.LoadJob(); err != nil {
				_, _ = fmt.Fprintf(stderr, "unhealthy: %v\n", err)
				return 1
			}
			_, _ = fmt.Fprintln(stdout, "ok")
			return 0
		case "version", "--version":
			_, _ = fmt.Fprintf(stdout, "timer-job %s\n", version)
			return 0
		case "help", "--help", "-h":
			_, _ = fmt.Fprint(stdout, usage)
			return 0
		default:
			_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
			return 1
		}
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadJob()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logger.With("timer_id", cfg.TimerID)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: "timer-job",
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	target, useTLS, err := cfg.ControlPlaneTarget()
	if err != nil {
		return err
	}
	reporter := timerjob.NewGRPCReporter(target, useTLS, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	logger.Info("timer job starting",
		"version", version,
		"name", cfg.Name,
		"duration_seconds", cfg.DurationSeconds,
		"control_plane", target,
		"tls", useTLS,
		"addr", lis.Addr().String())

	return timerjob.New(cfg, reporter, logger).Run(ctx, lis)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
