package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"TenderSync/internal/config"
	"TenderSync/internal/domain"
	"TenderSync/internal/infrastructure/base"
	"TenderSync/internal/infrastructure/hubspot"
	"TenderSync/internal/infrastructure/lock"
	"TenderSync/internal/infrastructure/metrics"
	"TenderSync/internal/infrastructure/scheduler"
	"TenderSync/internal/infrastructure/telegram"
	"TenderSync/internal/logging"
	"TenderSync/internal/ports"
	"TenderSync/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	state    *State
	pipeline *usecase.Pipeline
	locker   ports.RunLocker
	redis    *redis.Client
	registry *prometheus.Registry
	pusher   *metrics.Pusher
}

// New opens the state store and builds the pipeline with every configured adapter.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	state, err := OpenState(ctx, cfg, baseLogger)
	if err != nil {
		return nil, err
	}

	a := &Application{cfg: cfg, logger: baseLogger, state: state}
	if err := a.wireLock(); err != nil {
		_ = state.Close(ctx, false)
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.pusher = metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, a.registry)

	loc := cfg.Scheduler.Location()
	source := base.NewClient(base.Options{
		BaseURL:    cfg.Source.BaseURL,
		Token:      cfg.Source.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.Source.Timeout},
		CacheTTL:   cfg.Source.CacheTTL,
		Location:   loc,
	})
	deals := hubspot.NewClient(hubspot.Options{
		BaseURL:    cfg.CRM.BaseURL,
		Token:      cfg.CRM.Token,
		HTTPClient: &http.Client{Timeout: cfg.CRM.Timeout},
		DealStage:  cfg.CRM.DealStage,
		Pipeline:   cfg.CRM.Pipeline,
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(telegram.Options{
			BaseURL:  cfg.Notifications.Telegram.BaseURL,
			BotToken: cfg.Notifications.Telegram.BotToken,
			ChatID:   cfg.Notifications.Telegram.ChatID,
		})
	}

	store := state.Store
	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:         source,
		Announcements:  store,
		Processing:     store,
		Runs:           store,
		Searches:       store,
		Deals:          deals,
		Notifier:       notifier,
		Metrics:        metrics.NewPrometheusSink(a.registry, baseLogger.With("component", "metrics")),
		Logger:         baseLogger.With("component", "pipeline"),
		Location:       loc,
		Retry:          cfg.Retry.Policy(),
		MaxRejections:  cfg.Sync.MaxPermanentAttempts,
		ClaimLease:     cfg.Sync.ClaimLease,
		ReconcileLimit: cfg.Sync.ReconcileLimit,
		BacklogDays:    cfg.Sync.BacklogDays,
		BacklogLimit:   cfg.Sync.BacklogLimit,
	})
	return a, nil
}

func (a *Application) wireLock() error {
	switch a.cfg.Lock.Backend {
	case "", "none":
		a.locker = lock.Noop{}
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Lock.RedisAddr,
			Password: a.cfg.Lock.RedisPassword,
			DB:       a.cfg.Lock.RedisDB,
		})
		a.locker = lock.NewRedis(a.redis, a.cfg.Lock.Name, a.cfg.Lock.TTL)
	case "postgres":
		a.locker = lock.NewPostgres(a.state.Store.DB(), a.cfg.Lock.Name)
	default:
		return fmt.Errorf("unknown lock backend %q", a.cfg.Lock.Backend)
	}
	return nil
}

// DefaultParams derives run parameters from configuration.
func (a *Application) DefaultParams() usecase.RunParams {
	return usecase.RunParams{
		SearchName:   a.cfg.Sync.SearchName,
		LookbackDays: a.cfg.Sync.LookbackDays,
	}
}

// Run executes one pipeline invocation under the run lock. When another
// invocation holds the lock it returns a zero entry and no error.
func (a *Application) Run(ctx context.Context, params usecase.RunParams) (domain.RunLogEntry, error) {
	release, acquired, err := a.locker.TryLock(ctx)
	if err != nil {
		return domain.RunLogEntry{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		a.logger.Warn("another run holds the lock, skipping", "lock", a.cfg.Lock.Name)
		return domain.RunLogEntry{}, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			a.logger.Warn("failed to release run lock", "error", err)
		}
	}()

	entry, runErr := a.pipeline.Run(ctx, params)

	// State is uploaded after every run so an ephemeral host can disappear safely.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := a.state.Persist(persistCtx); err != nil {
		a.logger.Error("failed to persist state snapshot", "error", err)
		runErr = errors.Join(runErr, err)
	}
	if err := a.pusher.Push(persistCtx); err != nil {
		a.logger.Warn("failed to push metrics", "error", err)
	}
	return entry, runErr
}

// Serve runs the pipeline on the configured cron expression until ctx ends.
// Metrics are exposed on Metrics.ListenAddr when set.
func (a *Application) Serve(ctx context.Context) error {
	var srv *http.Server
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", "error", err)
			}
		}()
		a.logger.Info("metrics listening", "addr", addr)
	}

	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location(), a.logger)
	sched := usecase.NewScheduler(driver, a, a.DefaultParams(), a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression, "timezone", a.cfg.Scheduler.Timezone)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := sched.Stop(stopCtx)
	if srv != nil {
		err = errors.Join(err, srv.Shutdown(stopCtx))
	}
	return err
}

// Close releases the store and the redis client.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.state.Close(ctx, false))
	return errors.Join(errs...)
}
