package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/pribylovaa/go-auth-service/internal/config"
	"github.com/pribylovaa/go-auth-service/internal/mail"
	"github.com/pribylovaa/go-auth-service/internal/metrics"
	"github.com/pribylovaa/go-auth-service/internal/ratelimit"
	"github.com/pribylovaa/go-auth-service/internal/security"
	"github.com/pribylovaa/go-auth-service/internal/service"
	"github.com/pribylovaa/go-auth-service/internal/storage/postgres"
	grpctransport "github.com/pribylovaa/go-auth-service/internal/transport/grpc"
	httptransport "github.com/pribylovaa/go-auth-service/internal/transport/http"
)

// Период опроса зависимостей для health/readiness.
const healthPeriod = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

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
	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	str, err := postgres.New(dbCtx, cfg.DB)
	dbCancel()
	if err != nil {
		log.Error("postgres_connect_failed", slog.String("err", err.Error()))
		return err
	}
	defer str.Close()
	log.Info("postgres_connected")

	if cfg.DB.Migrate {
		if err := str.Migrate(ctx); err != nil {
			log.Error("postgres_migrate_failed", slog.String("err", err.Error()))
			return err
		}
		log.Info("postgres_migrated")
	}

	m := metrics.New(nil)

	checks := []grpctransport.Check{str.Ping}

	// Счётчики rate-limit: общий Redis для нескольких инстансов, иначе память процесса.
	var (
		rlStore  ratelimit.Store
		memStore *ratelimit.MemoryStore
	)
	if cfg.Redis.RedisURL != "" {
		rs, err := ratelimit.NewRedisStore(ctx, cfg.Redis.RedisURL, cfg.Redis.Prefix)
		if err != nil {
			log.Error("redis_connect_failed", slog.String("err", err.Error()))
			return err
		}
		defer func() { _ = rs.Close() }()

		rlStore = rs
		checks = append(checks, rs.Ping)
		log.Info("redis_connected")
	} else {
		memStore = ratelimit.NewMemoryStore()
		rlStore = memStore
		log.Info("rate_limit_in_memory")
	}

	limiter := ratelimit.New(rlStore, ratelimit.WithDeniedCounter(m.RateLimited))

	mailer := mail.New(cfg.SMTP)
	if cfg.SMTP.Host == "" {
		log.Warn("smtp_not_configured", slog.String("hint", "emails are logged, not sent"))
	}

	// Сервис.
	srvc := service.New(str,
		security.NewBcryptHasher(cfg.Auth.BcryptCost),
		limiter,
		mailer,
		cfg.Auth,
		cfg.Features,
		service.WithEmailFailureCounter(m.EmailFailed),
	)
	log.Info("service_initialized",
		slog.Bool("registration", cfg.Features.EnableRegistration),
		slog.Bool("password_recovery", cfg.Features.EnablePasswordRecovery),
	)

	// gRPC: health + метрики; рефлексия: только в local/dev.
	grpcSrv := grpctransport.New(grpctransport.Options{
		Logger:     log,
		Timeout:    cfg.Timeouts.Service,
		Reflection: !cfg.IsProd(),
		Metrics:    true,
	})

	ops := map[string]http.Handler{
		"/livez": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}),
		"/healthz": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if grpcSrv.Ready() {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
				return
			}
			http.Error(w, "not ready", http.StatusServiceUnavailable)
		}),
		"/metrics": promhttp.Handler(),
	}

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr: httpAddr,
		Handler: httptransport.NewRouter(srvc, httptransport.Options{
			Logger:       log,
			Timeout:      cfg.Timeouts.Service,
			Metrics:      m,
			BasePath:     "/api",
			SecureCookie: cfg.IsProd(),
			SessionTTL:   cfg.Auth.SessionTTL,
			Ops:          ops,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcAddr := cfg.GRPC.Addr()
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("grpc_listen_failed",
			slog.String("addr", grpcAddr),
			slog.String("err", err.Error()),
		)
		return err
	}

	serveErrCh := make(chan error, 2)

	go func() {
		log.Info("http_listen_start", slog.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()

	go func() {
		log.Info("grpc_listen_start", slog.String("addr", grpcAddr))
		if err := grpcSrv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErrCh <- err
		}
	}()

	// Фоновые задачи.
	go grpcSrv.Watch(ctx, healthPeriod, checks...)
	startJanitor(ctx, srvc, memStore, log, cfg.Timeouts.JanitorPeriod)

	// Сервис готов: health -> SERVING и readiness.
	grpcSrv.SetServing(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		log.Error("serve_failed", slog.String("err", serveErr.Error()))
	}

	// Graceful stop с таймаутом.
	grpcSrv.Stop(10 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", slog.String("err", err.Error()))
	}

	return serveErr
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvProd:
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

// janitor: то, что умеет чистить просроченные токены.
type janitor interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// startJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные сессии и отработавшие одноразовые токены, а также истёкшие
// окна rate-limit в памяти (mem может быть nil, если счётчики в Redis).
func startJanitor(ctx context.Context, j janitor, mem *ratelimit.MemoryStore, log *slog.Logger, period time.Duration) {
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
				n, err := j.CleanupExpiredTokens(ctx)
				if err != nil {
					log.Error("token_janitor_failed", slog.String("err", err.Error()))
				} else if n > 0 {
					log.Info("token_janitor_deleted", slog.Int64("rows", n))
				}

				if mem != nil {
					if swept := mem.Sweep(time.Now().UTC()); swept > 0 {
						log.Debug("rate_limit_windows_swept", slog.Int("windows", swept))
					}
				}
			}
		}
	}()
}
