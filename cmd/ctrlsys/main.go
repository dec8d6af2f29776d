package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ctrlsys/ctrlsys/api"
	"github.com/ctrlsys/ctrlsys/internal/auth"
	"github.com/ctrlsys/ctrlsys/internal/config"
	"github.com/ctrlsys/ctrlsys/internal/controlplane"
	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/mcp"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/ratelimit"
	"github.com/ctrlsys/ctrlsys/internal/rpc"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
	"github.com/ctrlsys/ctrlsys/internal/server"
	"github.com/ctrlsys/ctrlsys/internal/service/timers"
	"github.com/ctrlsys/ctrlsys/internal/storage"
	"github.com/ctrlsys/ctrlsys/internal/telemetry"
	"github.com/ctrlsys/ctrlsys/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("CTRLSYS_LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
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
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("ctrlsys starting", "version", version, "port", cfg.Port, "grpc_port", cfg.GRPCPort, "storage", cfg.Storage)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	timerHub := hub.New[model.TimerEvent](cfg.HubBuffer)
	store, svcOpts, relay, err := openStore(ctx, cfg, timerHub, logger)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	timerSvc := timers.New(store, timerHub, logger, svcOpts...)
	sweeper := timers.NewSweeper(timerSvc, cfg.SweepInterval, logger)
	reports := controlplane.New(store, hub.New[model.JobReport](cfg.HubBuffer), logger)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	keys, err := auth.NewKeyChecker(cfg.APIKeyHash, cfg.APIKey)
	switch {
	case errors.Is(err, auth.ErrNoAPIKey):
		logger.Warn("no API key configured; POST /auth/token is disabled")
		keys = nil
	case err != nil:
		return fmt.Errorf("auth: %w", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}
	defer func() { _ = limiter.Close() }()

	// MCP tools share the timer service with the HTTP handlers.
	mcpSrv := mcp.New(timerSvc, reports, logger, version)

	srv := server.New(server.ServerConfig{
		Timers:              timerSvc,
		Reports:             reports,
		JWTMgr:              jwtMgr,
		Keys:                keys,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		Operator:            cfg.Operator,
		Backend:             cfg.Storage,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		WSPushInterval:      cfg.WSPushInterval,
		WSWriteDeadline:     cfg.WSWriteDeadline,
		OpenAPISpec:         api.OpenAPISpec,
	})

	grpcSrv, healthSrv := rpc.NewServer(logger)
	timerv1.RegisterControlPlaneServiceServer(grpcSrv, reports)
	healthSrv.SetServingStatus(timerv1.ControlPlaneServiceName, healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("ctrlsys shutting down")

		// Stop taking new work on both surfaces before the store closes.
		healthSrv.Shutdown()
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		if err := srv.Shutdown(httpCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		rpc.GracefulStop(grpcSrv, 10*time.Second)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("ctrlsys stopped")
	return nil
}

// openStore selects the storage backend. For Postgres with a notify
// connection it also returns the notifier option and the relay that feeds
// other replicas' events into the local hub.
func openStore(ctx context.Context, cfg config.Config, h *hub.Hub[model.TimerEvent], logger *slog.Logger) (storage.TimerStore, []timers.Option, *timers.Relay, error) {
	opts := storage.Options{ListRetention: cfg.ListRetention}

	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, opts, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.Postgres()); err != nil {
			db.Close(ctx)
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		if !db.HasNotifyConn() {
			logger.Info("cross-replica events: disabled (no NOTIFY_URL)")
			return db, nil, nil, nil
		}
		logger.Info("cross-replica events: postgres LISTEN/NOTIFY")
		return db, []timers.Option{timers.WithNotifier(db)}, timers.NewRelay(db, h, logger), nil

	case config.StorageSQLite:
		s, err := storage.OpenSQLite(ctx, cfg.SQLitePath, opts, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := s.RunMigrations(ctx, migrations.SQLite()); err != nil {
			s.Close(ctx)
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		return s, nil, nil, nil

	default:
		logger.Warn("storage: in-memory; timers are lost on restart")
		return storage.NewMemoryStore(opts), nil, nil, nil
	}
}
