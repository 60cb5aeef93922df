package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Ussu1112/back-officener/internal/account"
	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/cache"
	"github.com/Ussu1112/back-officener/internal/chat"
	"github.com/Ussu1112/back-officener/internal/config"
	"github.com/Ussu1112/back-officener/internal/directory"
	"github.com/Ussu1112/back-officener/internal/httpapi"
	"github.com/Ussu1112/back-officener/internal/notify"
	"github.com/Ussu1112/back-officener/internal/obs"
	"github.com/Ussu1112/back-officener/internal/server"
	"github.com/Ussu1112/back-officener/internal/telemetry"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newDB,
			newRedisClient,
			newDirectory,
			newVerificationCache,
			newTokens,
			newAccountService,
			newRegistry,
			newHub,
			newRegistrar,
			newAPI,
			newServer,
		),
		fx.Invoke(startServer),
	)
	app.Run()
}

func newConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := obs.NewLogger(cfg.Environment)
	if err != nil {
		return nil, err
	}
	obs.Init()
	obs.InitBuildInfo(cfg.Version, commit)
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})
	return provider, nil
}

func newSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func newDB(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	db, err := directory.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client, nil
}

func newDirectory(db *sql.DB, node *snowflake.Node) directory.Store {
	return directory.NewPGStore(db, node)
}

func newVerificationCache(client redis.UniversalClient) *cache.RedisStore {
	return cache.NewRedisStore(client)
}

func newTokens(cfg config.Config) (*auth.Tokens, error) {
	return auth.NewTokens(cfg.JWTSecret,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithTTL(cfg.AccessTokenTTL),
	)
}

func newAccountService(store directory.Store, c *cache.RedisStore, tokens *auth.Tokens, cfg config.Config, logger *zap.Logger) *account.Service {
	return account.NewService(store, c, tokens,
		account.WithCodeTTL(cfg.PhoneCodeTTL),
		account.WithLogger(logger.Named("account")),
	)
}

func newRegistry(cfg config.Config) *chat.Registry {
	if cfg.ChatSingleSession {
		return chat.NewRegistry(chat.WithSingleSessionPerUser())
	}
	return chat.NewRegistry()
}

func newHub(lc fx.Lifecycle, reg *chat.Registry, cfg config.Config, logger *zap.Logger) *chat.Hub {
	hub := chat.NewHub(reg,
		chat.WithHubLogger(logger.Named("chat")),
		chat.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)
	// Stops after the server hook; http.Server.Shutdown leaves hijacked sockets open.
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return hub.Close(stopCtx)
		},
	})
	return hub
}

func newRegistrar(db *sql.DB) *notify.Registrar {
	return notify.NewRegistrar(notify.NewPGTokenStore(db))
}

func newAPI(cfg config.Config, db *sql.DB, c *cache.RedisStore, svc *account.Service, hub *chat.Hub, reg *notify.Registrar, tp *telemetry.Provider, logger *zap.Logger) *httpapi.API {
	opts := []httpapi.Option{
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitPerSecond),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithCORSOrigins(cfg.CORSAllowedOrigins),
	}
	if tp.Enabled() {
		opts = append(opts, httpapi.WithTracing())
	}
	return httpapi.New(httpapi.ReadyProbe{DB: db, Cache: c}, cfg.Version, svc, hub, reg, opts...)
}

func newServer(cfg config.Config, api *httpapi.API, db *sql.DB, c *cache.RedisStore, logger *zap.Logger) *server.Server {
	grpcSrv, health := httpapi.NewGRPCServer(httpapi.ReadyProbe{DB: db, Cache: c}, logger.Named("grpc"))
	return server.New(
		net.JoinHostPort("", cfg.HTTPPort), api.Handler(),
		net.JoinHostPort("", cfg.GRPCPort), grpcSrv, health,
		logger,
	)
}

func startServer(lc fx.Lifecycle, srv *server.Server, cfg config.Config, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})
			logger.Info("starting back-officener",
				zap.String("version", cfg.Version),
				zap.String("env", cfg.Environment))
			go func() {
				defer close(done)
				if err := srv.Run(runCtx); err != nil {
					logger.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
