package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fx-alerts/internal/config"
	"fx-alerts/internal/indicators"
	"fx-alerts/internal/news"
	"fx-alerts/internal/push"
	"fx-alerts/internal/scheduler"
	"fx-alerts/internal/service"
	"fx-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newIndicatorClient() *indicators.Client {
	return indicators.NewClient(indicators.ClientOptions{
		BaseURL:   a.Config.Indicators.BaseURL,
		USDCode:   a.Config.Indicators.USDCode,
		EURCode:   a.Config.Indicators.EURCode,
		UFCode:    a.Config.Indicators.UFCode,
		Timeout:   a.Config.Indicators.RequestTimeout,
		UserAgent: a.Config.Indicators.UserAgent,
	}, a.Logger)
}

func (a *App) newFeed() *news.Feed {
	return news.NewFeed(news.FeedOptions{
		FeedURL:     a.Config.News.FeedURL,
		SourceLabel: a.Config.News.SourceLabel,
		MaxItems:    a.Config.News.MaxItems,
		Timeout:     a.Config.News.RequestTimeout,
		UserAgent:   a.Config.News.UserAgent,
	}, a.Logger)
}

func (a *App) newDispatcher(store *storage.Store) *push.Dispatcher {
	gateway := push.NewExpoClient(push.ExpoOptions{
		BaseURL:     a.Config.Push.BaseURL,
		AccessToken: a.Config.Push.AccessToken,
		Timeout:     a.Config.Push.RequestTimeout,
	}, a.Logger)

	return push.NewDispatcher(gateway, store, push.DispatcherOptions{
		BatchSize:    a.Config.Push.BatchSize,
		ReceiptDelay: a.Config.Push.ReceiptDelay,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store) *service.Service {
	stores := service.Stores{
		Quotes:      store,
		State:       store,
		Seen:        store,
		Preferences: store,
		Tokens:      store,
	}
	return service.New(a.Config, a.newIndicatorClient(), a.newFeed(), stores, a.newDispatcher(store), a.Logger)
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the poller")
	}
	defer closeStore()

	if key := a.Config.Scheduler.AdvisoryLockKey; key != 0 {
		var locker storage.AdvisoryLocker = store
		unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
		if err != nil {
			return err
		}
		if !acquired {
			return errors.New("advisory lock held elsewhere; another instance is running")
		}
		defer unlock()
	}

	svc := a.newService(store)

	sched := scheduler.New(scheduler.Options{
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	sched.Add(scheduler.Job{
		Name:       "rates",
		Interval:   a.Config.Scheduler.RatesInterval,
		RunAtStart: true,
		Run:        svc.RunRatesCycle,
	})
	sched.Add(scheduler.Job{
		Name:       "news",
		Interval:   a.Config.Scheduler.NewsInterval,
		RunAtStart: true,
		Run:        svc.RunNewsCycle,
	})

	a.Logger.Info().
		Dur("rates_interval", a.Config.Scheduler.RatesInterval).
		Dur("news_interval", a.Config.Scheduler.NewsInterval).
		Msg("starting polling service")

	err = sched.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("polling service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Articles bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
