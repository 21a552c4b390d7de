package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/shop-backoffice/internal/cache"
	"github.com/pribylovaa/shop-backoffice/internal/config"
	"github.com/pribylovaa/shop-backoffice/internal/events"
	httpapi "github.com/pribylovaa/shop-backoffice/internal/http"
	"github.com/pribylovaa/shop-backoffice/internal/metrics"
	"github.com/pribylovaa/shop-backoffice/internal/oauth/google"
	"github.com/pribylovaa/shop-backoffice/internal/service"
	"github.com/pribylovaa/shop-backoffice/internal/session"
	"github.com/pribylovaa/shop-backoffice/internal/storage"
	"github.com/pribylovaa/shop-backoffice/internal/storage/memory"
	"github.com/pribylovaa/shop-backoffice/internal/storage/postgres"
	"github.com/pribylovaa/shop-backoffice/internal/token"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env, "db_driver", cfg.DB.Driver)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Секрет подписи декодируется один раз и дальше не меняется.
	secret, err := token.DecodeSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("decode jwt secret: %w", err)
	}
	codec, err := token.NewCodec(secret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer, token.WithLeeway(cfg.Auth.Leeway))
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	str, err := openStorage(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer str.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	sessions := session.New(str, session.Config{
		TTL:        cfg.Auth.RefreshTokenTTL,
		TokenBytes: cfg.Auth.RefreshTokenBytes,
	})

	srvc := service.New(str, sessions, codec, cfg.Auth)
	srvc.SetMetrics(rec)

	// Redis опционален: кэш отзыва refresh-токенов и канал событий.
	if cfg.Redis.RedisURL != "" {
		rdb, err := dialRedis(ctx, cfg.Redis.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		sessions.SetCache(cache.NewRedisCache(rdb, cfg.Redis.CachePrefix))
		srvc.SetPublisher(events.NewRedisPublisher(rdb, cfg.Redis.EventsChannel))
		log.Info("redis_connected")
	} else {
		log.Warn("redis_disabled", slog.String("reason", "REDIS_URL is empty"))
	}

	// Вход через Google включается только при заданном client_id.
	if cfg.Google.ClientID != "" {
		gctx, gcancel := context.WithTimeout(ctx, 10*time.Second)
		verifier, err := google.New(gctx, cfg.Google.Issuer, cfg.Google.ClientID)
		gcancel()
		if err != nil {
			return fmt.Errorf("google verifier: %w", err)
		}
		srvc.SetIdentityVerifier(verifier)
		log.Info("google_login_enabled")
	} else {
		log.Warn("google_login_disabled", slog.String("reason", "GOOGLE_CLIENT_ID is empty"))
	}

	log.Info("service_initialized")

	var ready atomic.Bool

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: httpapi.NewRouter(srvc, httpapi.Options{
			Logger:   log,
			Timeout:  cfg.Timeouts.Service,
			Metrics:  rec,
			Gatherer: reg,
			Ready:    ready.Load,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Фоновая очистка просроченных refresh-токенов.
	startRefreshJanitor(ctx, str, log, cfg.Janitor.Period)

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		if serveErr != nil {
			log.Error("http_serve_failed", slog.String("err", serveErr.Error()))
		}
	}

	ready.Store(false)

	// Graceful stop с таймаутом.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
		_ = httpSrv.Close()
	}

	return serveErr
}

// openStorage подключает хранилище по cfg.Driver и при необходимости применяет миграции.
func openStorage(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("memory_storage_in_use", slog.String("reason", "data is lost on restart"))
		return memory.New(), nil

	case config.DriverPostgres:
		if !cfg.SkipMigrate {
			if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
			log.Info("postgres_migrated")
		}

		// Подключение к БД c таймаутом.
		dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
		defer dbCancel()

		str, err := postgres.New(dbCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		log.Info("postgres_connected")
		return str, nil

	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

func dialRedis(ctx context.Context, url string) (*redis.Client, error) {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rdb, err := cache.Dial(rctx, url)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return rdb, nil
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// startRefreshJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные refresh-токены из хранилища.
func startRefreshJanitor(ctx context.Context, str storage.RefreshTokenStorage, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := str.DeleteExpiredTokens(ctx, time.Now().UTC())
				if err != nil {
					log.Error("refresh_janitor_failed", slog.String("err", err.Error()))
					continue
				}
				if n > 0 {
					log.Info("refresh_janitor_deleted", slog.Int64("count", n))
				}
			}
		}
	}()
}
