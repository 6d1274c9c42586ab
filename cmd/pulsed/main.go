package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	dbfiles "github.com/pulseapp/pulse/db"
	"github.com/pulseapp/pulse/internal/channels"
	"github.com/pulseapp/pulse/internal/chat"
	"github.com/pulseapp/pulse/internal/config"
	"github.com/pulseapp/pulse/internal/db"
	"github.com/pulseapp/pulse/internal/friends"
	"github.com/pulseapp/pulse/internal/handlers"
	"github.com/pulseapp/pulse/internal/identity"
	"github.com/pulseapp/pulse/internal/logger"
	"github.com/pulseapp/pulse/internal/notifications"
	"github.com/pulseapp/pulse/internal/presence"
	"github.com/pulseapp/pulse/internal/server"
	"github.com/pulseapp/pulse/internal/settings"
	"github.com/pulseapp/pulse/internal/storage"
	"github.com/pulseapp/pulse/internal/storage/s3"
	"github.com/pulseapp/pulse/internal/version"
	"github.com/pulseapp/pulse/internal/ws"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStorage,

			identity.NewPgStore,
			provideIdentityService,
			settings.NewService,
			friends.NewService,
			chat.NewPgStore,
			presence.NewRegistry,
			provideRouter,
			provideChatService,
			provideNotificationsService,
			provideGateway,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(handlers.NewPresenceHandler),
			provideServerHandler(handlers.NewSettingsHandler),
			provideServerHandler(handlers.NewNotificationsHandler),
			provideServerHandler(func(g *ws.Gateway) *ws.Gateway { return g }),

			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

// provideStorage picks the configured S3-compatible bucket, falling back to
// an in-process store when no bucket is configured (single-node dev setups).
func provideStorage(log *slog.Logger, cfg config.Config) (storage.Provider, error) {
	if cfg.Storage.Bucket == "" {
		log.Warn("no storage bucket configured, attachments are held in memory")
		return storage.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	provider, err := s3.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage connect: %w", err)
	}
	return provider, nil
}

func provideIdentityService(log *slog.Logger, store *identity.PgStore, objects storage.Provider, cfg config.Config) *identity.Service {
	return identity.NewService(log, store, objects, cfg.Auth.JWTSecret, cfg.Storage.SignedURLLifetime())
}

func provideRouter(log *slog.Logger, store *chat.PgStore) *channels.Router {
	return channels.NewRouter(log, store)
}

func provideChatService(log *slog.Logger, store *chat.PgStore, objects storage.Provider, router *channels.Router, policies *settings.Service, friendSvc *friends.Service, cfg config.Config) *chat.Service {
	return chat.NewService(log, store, objects, router, policies, friendSvc, cfg.Storage.SignedURLLifetime())
}

func provideNotificationsService(log *slog.Logger, pool *pgxpool.Pool, router *channels.Router) *notifications.Service {
	return notifications.NewService(log, notifications.NewPgStore(pool), router)
}

func provideGateway(log *slog.Logger, cfg config.Config, identities *identity.Service, registry *presence.Registry, router *channels.Router, chats *chat.Service, friendSvc *friends.Service) *ws.Gateway {
	return ws.NewGateway(log, ws.Options{
		ProbeInterval: cfg.Gateway.HeartbeatInterval(),
		ProbeTimeout:  cfg.Gateway.HeartbeatTimeout(),
		SendBuffer:    cfg.Gateway.SendBuffer,
	}, identities, registry, router, chats, friendSvc)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func startServer(
	lc fx.Lifecycle,
	log *slog.Logger,
	srv *server.Server,
	gateway *ws.Gateway,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting pulsed %s\n", version.Info())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Close live websocket sessions first so their cleanup runs
			// before the listener goes away.
			gateway.Shutdown()
			return srv.Stop(ctx)
		},
	})
}

func runMigrate(args []string) {
	cfg, err := provideConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := provideLogger(cfg)

	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	migrations, err := fs.Sub(dbfiles.MigrationsFS, "migrations")
	if err != nil {
		log.Error("load migrations", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.RunMigrate(logger.Named("migrate"), cfg.Postgres, migrations, command, args); err != nil {
		log.Error("migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
}
