package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/vidcon/config"
	"github.com/cwrk-planet/vidcon/internal/postgres"
	"github.com/cwrk-planet/vidcon/internal/realtime"
	"github.com/cwrk-planet/vidcon/internal/service"
	"github.com/cwrk-planet/vidcon/internal/sqlite"
	grpcx "github.com/cwrk-planet/vidcon/internal/transport/grpc"
	httpx "github.com/cwrk-planet/vidcon/internal/transport/http"
	httpmw "github.com/cwrk-planet/vidcon/internal/transport/http/middleware"
	"github.com/cwrk-planet/vidcon/internal/transport/ws"
	"github.com/cwrk-planet/vidcon/pkg/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// gatewayStore: postgres.Store или sqlite.Store.
type gatewayStore interface {
	service.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	shutdownTracing := logger.InitTracing(cfg.Logging.Service, cfg.Logging.Version)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracer shutdown", "err", err)
		}
	}()
	slog.Info("starting vidcon gateway",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version,
		"store", cfg.Store.Driver, "bus", cfg.Bus.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- store ---
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	// --- bus ---
	rawBus, closeBus := openBus(cfg)
	defer closeBus()
	bus := realtime.NewRetryBus(rawBus, 3, 100*time.Millisecond)

	// --- services ---
	memberSvc := service.NewMemberService(store, bus)
	chatSvc := service.NewChatService(store, bus, cfg.Chat.MaxLength)
	breakoutSvc := service.NewBreakoutService(store, bus)

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub)

	// --- HTTP ---
	router := httpx.NewRouter(httpx.RouterDeps{
		Handler:        httpx.NewHandler(memberSvc, chatSvc, breakoutSvc),
		Feed:           wsServer.HandleFeed,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		ChatLimiter:    httpmw.NewRateLimit(cfg.Chat.RatePerSec, cfg.Chat.Burst),
		Ready:          store.Ping,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.Auth.JWTSecret == "" {
		slog.Warn("auth.jwtSecret is empty, bearer tokens are not verified")
	}

	// --- gRPC (health + reflection) ---
	grpcSrv := grpcx.NewServer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx, bus)
	})

	g.Go(func() error {
		grpcSrv.WatchHealth(gctx, store.Ping, 15*time.Second)
		return nil
	})

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		return grpcSrv.Serve(lis)
	})

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeoutOr(10*time.Second))
		defer cancel()

		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (gatewayStore, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		lifetime, idle, health := cfg.Postgres.Lifetimes()
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:               cfg.Postgres.DSN,
			MaxConns:          cfg.Postgres.MaxConns,
			MinConns:          cfg.Postgres.MinConns,
			MaxConnLifetime:   lifetime,
			MaxConnIdleTime:   idle,
			HealthCheckPeriod: health,
			ApplicationName:   cfg.Postgres.ApplicationName,
		})
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
}

func openBus(cfg *config.Config) (realtime.Bus, func()) {
	if cfg.Bus.Driver != config.BusRedis {
		return realtime.NewLocalBus(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return realtime.NewRedisBus(client, cfg.Redis.Channel), func() {
		if err := client.Close(); err != nil {
			slog.Warn("redis close", "err", err)
		}
	}
}
