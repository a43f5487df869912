package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/tptracker/tptracker/cmd/tptracker/internal/config"
	"github.com/tptracker/tptracker/gw2"
	"github.com/tptracker/tptracker/internal/api"
	"github.com/tptracker/tptracker/internal/origin"
	"github.com/tptracker/tptracker/lifecycle"
	rlog "github.com/tptracker/tptracker/log"
	"github.com/tptracker/tptracker/pkg/sqllogger"
	"github.com/tptracker/tptracker/poller"
	"github.com/tptracker/tptracker/ratelimit"
	"github.com/tptracker/tptracker/reconcile"
	"github.com/tptracker/tptracker/storage"
	"github.com/tptracker/tptracker/tptracker"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	cfg := config.DefaultConfig()
	fs := config.NewConfigFlagSet(&cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fatal("parsing flags failed", err)
	}

	if err := config.LoadEnvFile(fs, &cfg); err != nil {
		fatal("loading env file failed", err)
	}

	if err := config.ApplyEnvDefaults(fs, &cfg); err != nil {
		fatal("invalid parameters", err)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid configuration", err)
	}

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleHandler := config.GetLogHandler(cfg, os.Stderr)
	logger := slog.New(consoleHandler)
	slog.SetDefault(logger)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer())

	store, err := storage.New(cfg.StoragePath, storage.WithLogger(logger))
	if err != nil {
		fatal("storage init failed", err)
	}
	defer store.Close()

	if cfg.PersistLogs {
		sinkLogger := logger.WithGroup("sqllogger")
		sink, err := sqllogger.NewHandler(
			sqllogger.WithInsertFunc(store.LogInsertFunc()),
			sqllogger.WithErrorFunc(func(err error) {
				sinkLogger.Warn("persist log record", slog.String("error", err.Error()))
			}),
		)
		if err != nil {
			fatal("log sink init failed", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sink.Close(closeCtx); err != nil {
				sinkLogger.Warn("log sink close", slog.String("error", err.Error()))
			}
			if stats := sink.Stats(); stats.Dropped > 0 || stats.Failed > 0 {
				sinkLogger.Warn("log records not persisted",
					slog.Uint64("dropped", stats.Dropped),
					slog.Uint64("failed", stats.Failed),
				)
			}
		}()
		logger = slog.New(rlog.NewMultiHandler(consoleHandler, rlog.NewGroupFilterHandler(sink, cfg.LogGroups)))
		slog.SetDefault(logger)
	}

	appCtx = rlog.ContextWithLogger(appCtx, logger)

	if err := run(appCtx, cfg, store, logger); err != nil {
		logger.Error("tptracker stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("drained; fully shutdown")
}

func run(ctx context.Context, cfg config.AppConfig, store *storage.Storage, logger *slog.Logger) error {
	specs, err := config.TenantSpecs(cfg)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		tenant, err := store.EnsureTenant(ctx, spec.Name, spec.APIKey)
		if err != nil {
			return err
		}
		logger.Info("tenant registered",
			slog.Int64("tenant", int64(tenant.ID)),
			slog.String("tenant_name", tenant.Name),
			slog.String("key_fingerprint", tptracker.KeyFingerprint(tenant.APIKey)),
		)
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit,
		Logger:            logger,
	})
	market := gw2.NewClient(
		gw2.WithBaseURL(cfg.APIBaseURL),
		gw2.WithTimeout(cfg.RequestTimeout),
		gw2.WithLogger(logger),
		gw2.WithRequestHook(ratelimit.RequestHook(limiter)),
	)

	reconciler := reconcile.New(store, logger)
	deriver := lifecycle.New(store, &poller.History{Market: market, Tenants: store}, logger)
	p := poller.New(market, reconciler, deriver, store, poller.WithLogger(logger))

	scheduler := poller.NewScheduler(p.PollTenant, store,
		poller.WithSchedule(cfg.Schedule),
		poller.WithWorkers(cfg.Workers),
		poller.WithPollTimeout(cfg.PollTimeout),
		poller.WithSchedulerLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if cfg.HTTPListen != "" {
		srv := newAPIServer(cfg, store, market, logger)
		g.Go(func() error {
			logger.Info("HTTP API listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("HTTP API shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	logger.Info("service ready", slog.Int("tenants", len(specs)))

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newAPIServer(cfg config.AppConfig, store *storage.Storage, delivery api.DeliverySource, logger *slog.Logger) *http.Server {
	handler := api.NewHandler(store,
		api.WithLogger(logger),
		api.WithDeliverySource(delivery),
	)

	apiMux := http.NewServeMux()
	handler.Register(apiMux)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: origin.AllowedOrigins(cfg.HTTPListen, cfg.PublicOrigin),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:              cfg.HTTPListen,
		Handler:           corsMiddleware.Handler(apiMux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
