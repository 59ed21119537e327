package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/command-relay/config"
	"github.com/cwrk-planet/command-relay/internal/domain"
	"github.com/cwrk-planet/command-relay/internal/postgres"
	"github.com/cwrk-planet/command-relay/internal/ratelimit"
	"github.com/cwrk-planet/command-relay/internal/relay"
	httpserver "github.com/cwrk-planet/command-relay/internal/server/http"
	"github.com/cwrk-planet/command-relay/internal/service"
	grpcx "github.com/cwrk-planet/command-relay/internal/transport/grpc"
	httpx "github.com/cwrk-planet/command-relay/internal/transport/http"
	"github.com/cwrk-planet/command-relay/internal/transport/ws"
	"github.com/cwrk-planet/command-relay/pkg/logger"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logging.level: %v", err)
	}
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting command-relay",
		slog.String("env", cfg.Logging.Env), slog.String("version", cfg.Logging.Version))

	// trace_id/span_id в логах; экспортёр не настроен
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("command-relay stopped with error", logger.Err(err))
		os.Exit(1)
	}
	slog.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- postgres (опционально, только аудит) ---
	var auditRepo *postgres.AuditRepository
	if cfg.Postgres.DSN != "" {
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			return err
		}
		defer db.Close()

		auditRepo = postgres.NewAuditRepository(db.Pool)
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			return err
		}
		slog.Info("room audit enabled")
	}

	// --- relay ---
	gen, err := relay.NewCodeGenerator(cfg.Relay.CodeLength)
	if err != nil {
		return err
	}
	svcCfg := service.Config{MaxCommandBytes: cfg.Relay.MaxCommandBytes}
	if auditRepo != nil {
		svcCfg.Audit = auditRepo
	}
	svc, err := service.NewRelayService(svcCfg,
		relay.WithCodeGenerator(gen),
		relay.WithIdleTimeout(cfg.Relay.IdleTimeout),
		relay.WithQueueLimit(cfg.Relay.MaxQueueLength, domain.OverflowPolicy(cfg.Relay.Overflow)),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// --- rate limit ---
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		if addr := cfg.RateLimit.Redis.Addr; addr != "" {
			rdb, err := ratelimit.NewRedisClient(ctx, addr, cfg.RateLimit.Redis.Password, cfg.RateLimit.Redis.DB)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()
			limiter = ratelimit.NewRedisLimiter(rdb, "relay:rl:", cfg.RateLimit.Requests, cfg.RateLimit.Window)
			slog.Info("rate limit: redis", slog.String("addr", addr))
		} else {
			mem := ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
			limiter = mem
			g.Go(func() error {
				t := time.NewTicker(cfg.RateLimit.Window)
				defer t.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-t.C:
						mem.Prune()
					}
				}
			})
			slog.Info("rate limit: in-memory")
		}
	}

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, svc, ws.Config{
		PingEvery: cfg.Relay.WSPingInterval,
		PollEvery: cfg.Relay.WSPollInterval,
	})

	// --- HTTP ---
	handler := httpx.NewHandler(svc, cfg.Relay.MaxCommandBytes)
	if auditRepo != nil {
		handler = handler.WithAudit(auditRepo)
	}
	router := httpx.NewRouter(httpx.Deps{
		Handler: handler,
		WS:      wsServer,
		Limiter: limiter,
		CORS:    cfg.HTTP.CORSOrigins,
		Timeout: cfg.HTTP.RequestTimeout,
		Metrics: cfg.HTTP.Metrics,
	})
	httpSrv := httpserver.New(httpserver.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)
	httpSrv.OnShutdown(hub.CloseAll)

	g.Go(func() error { return httpSrv.Run(gctx) })

	// --- gRPC ---
	if cfg.GRPC.Addr != "" {
		grpcSrv := grpcx.NewServer(cfg.GRPC.Addr, grpcx.NewHandler(svc))
		g.Go(func() error { return grpcSrv.Run(gctx) })
	}

	// --- sweeper + audit writer ---
	g.Go(func() error { return svc.Run(gctx, cfg.Relay.SweepInterval) })

	return g.Wait()
}
