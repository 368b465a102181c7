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
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	ca "github.com/panyam/creatorauth"
	"github.com/panyam/creatorauth/api"
	authgrpc "github.com/panyam/creatorauth/grpc"
	"github.com/panyam/creatorauth/oauth2"
	"github.com/panyam/creatorauth/stores/fs"
	"github.com/panyam/creatorauth/stores/gae"
	gormstore "github.com/panyam/creatorauth/stores/gorm"
	"github.com/panyam/creatorauth/stores/redislock"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *ca.Config
	logger *slog.Logger

	store    ca.AccountStore
	locker   ca.Locker
	registry *ca.ProviderRegistry
	server   *api.Server

	// closers release backing connections on shutdown
	closers []func() error
}

func loadConfig(envFiles []string) (*ca.Config, error) {
	return ca.LoadConfigFromEnv(envFiles...)
}

func NewApp(ctx context.Context, cfg *ca.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	app := &App{config: cfg, logger: logger}

	store, err := app.openStore(ctx)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("store init error: %w", err)
	}
	app.store = store
	app.locker = app.openLocker()
	app.registry = buildProviders(cfg)

	machine := ca.NewIdentityMachine(cfg, store, &ca.ConsoleMailer{Logger: logger})
	machine.Logger = logger
	vault := ca.NewTokenVault(store, app.registry, app.locker)
	vault.Logger = logger
	aggregator := ca.NewAggregator(cfg, vault, app.registry)
	aggregator.Logger = logger

	app.server = api.NewServer(machine, vault, aggregator, app.registry)
	app.server.FrontendURL = cfg.FrontendURL
	app.server.Logger = logger
	return app, nil
}

func (app *App) openStore(ctx context.Context) (ca.AccountStore, error) {
	switch app.config.StoreKind {
	case "postgres":
		db, err := gormstore.OpenPostgres(ctx, app.config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, sqlDB.Close)
		return gormstore.NewAccountStore(db), nil
	case "datastore":
		client, err := datastore.NewClient(ctx, app.config.DatastoreProject)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		return gae.NewAccountStore(client, app.config.DatastoreNamespace), nil
	case "fs":
		if err := os.MkdirAll(app.config.StoragePath, 0o755); err != nil {
			return nil, err
		}
		return fs.NewAccountStore(app.config.StoragePath), nil
	}
	return nil, fmt.Errorf("unknown store kind %q", app.config.StoreKind)
}

// openLocker uses Redis when configured so refreshes are serialized across instances.
func (app *App) openLocker() ca.Locker {
	if app.config.RedisAddr == "" {
		return ca.NewLocalLocker()
	}
	client := redis.NewClient(&redis.Options{Addr: app.config.RedisAddr})
	app.closers = append(app.closers, client.Close)
	app.logger.Info("using redis refresh lock", "addr", app.config.RedisAddr)
	return redislock.New(client)
}

// buildProviders registers every provider that has client credentials.
func buildProviders(cfg *ca.Config) *ca.ProviderRegistry {
	registry := ca.NewProviderRegistry()
	if pc, ok := cfg.Providers["google"]; ok && pc.Enabled() {
		registry.RegisterIdentity(oauth2.NewGoogleOAuth2(pc))
	}
	if pc, ok := cfg.Providers["youtube"]; ok && pc.Enabled() {
		yt := oauth2.NewYouTubeOAuth2(pc)
		registry.Register(yt).RegisterIdentity(yt)
	}
	if pc, ok := cfg.Providers["instagram"]; ok && pc.Enabled() {
		registry.Register(oauth2.NewInstagramOAuth2(pc))
	}
	if pc, ok := cfg.Providers["twitter"]; ok && pc.Enabled() {
		registry.Register(oauth2.NewTwitterOAuth2(pc))
	}
	return registry
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/", app.server.Handler())
	return mux
}

func (app *App) runHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		app.logger.Info("stopping http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info("starting http server", "address", srv.Addr, "providers", app.registry.IDs())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (app *App) runGRPC(ctx context.Context) error {
	listen, err := net.Listen("tcp", app.config.GRPCAddr)
	if err != nil {
		return err
	}

	auth := authgrpc.NewInterceptorConfig(app.server.Machine.Sessions,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authgrpc.UnaryAuthInterceptor(auth), authgrpc.UnaryErrorInterceptor()),
		grpc.ChainStreamInterceptor(authgrpc.StreamAuthInterceptor(auth)),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		app.logger.Info("stopping grpc server")
		healthSrv.Shutdown()
		srv.GracefulStop()
	}()

	app.logger.Info("starting grpc server", "address", app.config.GRPCAddr)
	return srv.Serve(listen)
}

// Run serves until SIGINT/SIGTERM or until a server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info("starting app", "app", app.config.AppName, "store", app.config.StoreKind)
	app.initSignalHandler(cancelFunc)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				app.logger.Error("server failed", "server", name, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancelFunc()
			}
		}()
	}

	start("http", app.runHTTP)
	if app.config.GRPCAddr != "" {
		start("grpc", app.runGRPC)
	}
	wg.Wait()
	return firstErr
}

func (app *App) close() {
	for _, c := range app.closers {
		if err := c(); err != nil {
			app.logger.Warn("close failed", "error", err)
		}
	}
}
