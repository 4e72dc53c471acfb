package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"HeadlineBot/internal/config"
	"HeadlineBot/internal/filter"
	"HeadlineBot/internal/formatter"
	"HeadlineBot/internal/infrastructure/cache"
	"HeadlineBot/internal/infrastructure/dryrun"
	"HeadlineBot/internal/infrastructure/llm"
	"HeadlineBot/internal/infrastructure/ml"
	"HeadlineBot/internal/infrastructure/parser"
	"HeadlineBot/internal/infrastructure/scheduler"
	"HeadlineBot/internal/infrastructure/storage"
	"HeadlineBot/internal/infrastructure/telegram"
	"HeadlineBot/internal/logging"
	"HeadlineBot/internal/metrics"
	"HeadlineBot/internal/ports"
	"HeadlineBot/internal/scanner"
	"HeadlineBot/internal/scoring"
	"HeadlineBot/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Options overrides the pieces of the application tests need to control.
type Options struct {
	Clock  clockwork.Clock
	Sender ports.Sender
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	service   *usecase.Service
	scheduler *usecase.Scheduler
	closers   []func() error
}

// New builds every adapter and use case from cfg. Call Close when done.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	a := &Application{cfg: cfg, logger: baseLogger}
	warnIfIngestsNothing(cfg, baseLogger)

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	seen, err := a.openSeenCache(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		sender = newSender(cfg.Notifications, baseLogger.With("component", "sender"))
	}

	httpClient := &http.Client{Timeout: cfg.Sources.FetchTimeout}
	registry := scanner.NewRegistry(
		parser.NewRSSScanner(httpClient, cfg.Sources.UserAgent),
		parser.NewHTMLScanner(httpClient, cfg.Sources.UserAgent),
	)
	source := parser.NewStrategySource(
		registry,
		cfg.Sites,
		parser.NewLimiter(cfg.Sources.RequestsPerSecond, cfg.Sources.Burst),
		baseLogger.With("component", "source"),
	)

	scorer := scoring.NewScorer(
		newSentiment(cfg, baseLogger.With("component", "sentiment")),
		cfg.Filter.BoostKeywords,
		baseLogger.With("component", "scorer"),
	)
	contentFilter := filter.New(scorer, filter.Options{
		SubjectKeywords: cfg.Filter.SubjectKeywords,
		TrustedSources:  cfg.Filter.TrustedSources,
		Threshold:       cfg.Filter.Threshold,
	}, clock, baseLogger.With("component", "filter"))
	renderer := formatter.New(nil, formatter.Options{IncludeHashtags: cfg.Formatter.IncludeHashtags})

	gate := usecase.NewGate(usecase.GateDeps{
		Store:  store,
		Sender: sender,
		Clock:  clock,
		Logger: baseLogger.With("component", "gate"),
		Config: usecase.GateConfig{
			MaxPostsPerDay: cfg.Gate.MaxPostsPerDay,
			MinSpacing:     cfg.Gate.MinSpacing,
			SendTimeout:    cfg.Gate.SendTimeout,
		},
	})

	planner := usecase.NewPlanner(usecase.PlannerDeps{
		Store:    store,
		Renderer: renderer,
		Clock:    clock,
		Logger:   baseLogger.With("component", "planner"),
		Config: usecase.PlannerConfig{
			PostsPerDay: cfg.Scheduler.PostsPerDay,
			Threshold:   cfg.Filter.Threshold,
			PeakWindows: cfg.Scheduler.PeakWindows,
			Location:    cfg.Location(),
		},
	})

	executor := usecase.NewExecutor(usecase.ExecutorDeps{
		Store:    store,
		Gate:     gate,
		Renderer: renderer,
		Clock:    clock,
		Logger:   baseLogger.With("component", "executor"),
		Config: usecase.ExecutorConfig{
			ClaimLease: cfg.Scheduler.ClaimLease,
			BatchSize:  cfg.Scheduler.BatchSize,
		},
	})

	ingestion := usecase.NewIngestion(usecase.IngestionDeps{
		Source: source,
		Store:  store,
		Filter: contentFilter,
		Seen:   seen,
		Health: scorer,
		Clock:  clock,
		Logger: baseLogger.With("component", "ingestion"),
		Config: usecase.IngestionConfig{
			FetchTimeout:    cfg.Sources.FetchTimeout,
			RequireNegative: cfg.Filter.RequireNegative,
		},
	})

	a.service = usecase.NewService(usecase.ServiceDeps{
		Ingestion: ingestion,
		Planner:   planner,
		Executor:  executor,
		Store:     store,
		Items:     store,
		Clock:     clock,
		Logger:    baseLogger.With("component", "service"),
	})

	triggers, err := newTriggers(cfg, clock)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.scheduler = usecase.NewScheduler(triggers, a.service, baseLogger.With("component", "scheduler"))

	return a, nil
}

// Service exposes the manual operations to the CLI.
func (a *Application) Service() *usecase.Service {
	return a.service
}

// Run starts the periodic sweeps and the metrics endpoint and blocks until ctx is cancelled.
// In-flight sweeps are waited for before it returns.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			a.logger.Info("metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := a.scheduler.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.logger.Info("scheduler started",
			"ingest_every", a.cfg.Scheduler.IngestInterval,
			"execute_every", a.cfg.Scheduler.ExecuteInterval,
			"plan_at", a.cfg.Scheduler.PlanAt,
			"timezone", a.cfg.Location().String(),
		)

		<-gctx.Done()
		a.logger.Info("shutdown signal received, waiting for running sweeps")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.scheduler.Stop(stopCtx)
	})

	return g.Wait()
}

// Close releases database and cache connections.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Migrate applies the schema for a SQL-backed configuration without building the rest of the app.
func Migrate(ctx context.Context, cfg config.DatabaseConfig) error {
	if isMemory(cfg.Driver) {
		return errors.New("the in-memory store has no schema to migrate")
	}
	db, dialect, err := storage.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	return storage.NewSQLStore(db, dialect).Migrate(ctx)
}

func (a *Application) openStore(ctx context.Context) (ports.Store, error) {
	if isMemory(a.cfg.Database.Driver) {
		a.logger.Warn("using in-memory store, state is lost on exit")
		return storage.NewMemoryStore(), nil
	}

	db, dialect, err := storage.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	store := storage.NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// openSeenCache returns an untyped nil when Redis is not configured.
func (a *Application) openSeenCache(ctx context.Context) (ports.SeenCache, error) {
	if a.cfg.Redis.URL == "" {
		return nil, nil
	}

	client, err := cache.Connect(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return cache.NewRedisSeenCache(client, a.cfg.Redis.SeenTTL), nil
}

func newSentiment(cfg config.Config, logger *slog.Logger) ports.SentimentFunc {
	var inner ports.SentimentFunc
	switch cfg.Sentiment.Provider {
	case "http":
		inner = ml.NewClient(cfg.Sentiment.Endpoint, cfg.Sentiment.APIKey, cfg.Sentiment.Timeout)
	case "chatgpt":
		inner = llm.NewChatGPTClient(cfg.ChatGPT, cfg.Sentiment.Timeout)
	default:
		logger.Warn("no sentiment provider configured, every item scores neutral")
		return nil
	}

	return ml.NewBreaker(inner, ml.BreakerSettings{
		Component: "sentiment",
		Failures:  cfg.Sentiment.BreakerFailures,
		Cooldown:  cfg.Sentiment.BreakerCooldown,
	}, logger)
}

// warnIfIngestsNothing flags the default setup where every item scores neutral
// and the negativity requirement then drops all of them.
func warnIfIngestsNothing(cfg config.Config, logger *slog.Logger) {
	provider := strings.TrimSpace(cfg.Sentiment.Provider)
	if (provider == "" || provider == "none") && cfg.Filter.RequireNegative {
		logger.Warn("NOTHING WILL BE INGESTED: no sentiment provider is configured and filter.requireNegative is on; "+
			"set sentiment.provider to http or chatgpt, or turn off filter.requireNegative",
			"provider", cfg.Sentiment.Provider,
			"require_negative", cfg.Filter.RequireNegative,
		)
	}
}

func newSender(cfg config.NotificationConfig, logger *slog.Logger) ports.Sender {
	if cfg.Sender == "telegram" {
		return telegram.NewSender(cfg.Telegram, nil)
	}
	return dryrun.NewSender(logger)
}

func newTriggers(cfg config.Config, clock clockwork.Clock) (usecase.Triggers, error) {
	hour, minute, err := cfg.PlanTime()
	if err != nil {
		return usecase.Triggers{}, err
	}
	return usecase.Triggers{
		Ingest:  scheduler.NewIntervalTrigger(clock, cfg.Scheduler.IngestInterval, cfg.Scheduler.RunOnStart),
		Plan:    scheduler.NewDailyTrigger(clock, hour, minute, cfg.Location()),
		Execute: scheduler.NewIntervalTrigger(clock, cfg.Scheduler.ExecuteInterval, cfg.Scheduler.RunOnStart),
	}, nil
}

func isMemory(driver string) bool {
	d := strings.ToLower(strings.TrimSpace(driver))
	return d == "" || d == "memory"
}
