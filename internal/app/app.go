package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jialangli/emotion-companion/assets"
	"github.com/jialangli/emotion-companion/internal/config"
	"github.com/jialangli/emotion-companion/internal/content"
	"github.com/jialangli/emotion-companion/internal/delivery"
	"github.com/jialangli/emotion-companion/internal/httpapi"
	"github.com/jialangli/emotion-companion/internal/presence"
	"github.com/jialangli/emotion-companion/internal/reconcile"
	"github.com/jialangli/emotion-companion/internal/scheduler"
	"github.com/jialangli/emotion-companion/internal/store"
	"github.com/jialangli/emotion-companion/internal/telegram"
	"github.com/jialangli/emotion-companion/internal/ws"
)

const httpShutdownTimeout = 5 * time.Second

// App owns every long-lived component. It is built once in main.
type App struct {
	cfg config.Config
	log *zap.Logger

	repo     *store.SQLiteRepo
	presence *presence.Registry
	hub      *ws.Hub
	sched    *scheduler.Scheduler
	rec      *reconcile.Reconciler
	bot      *tgbotapi.BotAPI
	router   *telegram.Router
	httpSrv  *http.Server
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	repo, err := store.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	log.Info("sqlite ready", zap.String("path", cfg.DBPath))

	a := &App{cfg: cfg, log: log, repo: repo, presence: presence.NewRegistry()}
	a.hub = ws.NewHub(a.presence, repo, log, ws.Options{AllowedOrigins: cfg.WSAllowedOrigins})

	if cfg.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		bot.Debug = false
		a.bot = bot
	}

	// The telegram router needs the reconciler, which needs the scheduler,
	// so it joins the resolver list after the channel is built.
	resolvers := delivery.MultiResolver{a.hub}
	channel := delivery.NewChannel(a.presence, &resolvers, log, 0)
	a.sched = scheduler.New(repo, newGenerator(cfg), channel, log, scheduler.Options{
		Location:          cfg.Location(),
		Workers:           cfg.SchedulerWorkers,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	a.rec = reconcile.New(repo, a.sched, log)

	if a.bot != nil {
		a.router = telegram.NewRouter(a.bot, log, repo, a.rec, a.presence)
		resolvers = append(resolvers, a.router)
	}

	api := httpapi.New(httpapi.Deps{
		Scheduler: a.sched,
		Presence:  a.presence,
		Configs:   repo,
		Prefs:     a.rec,
		Sockets:   a.hub,
		Static:    assets.WebFS,
		Log:       log,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

func newGenerator(cfg config.Config) content.Generator {
	if strings.EqualFold(cfg.AIProvider, "static") {
		return content.NewStaticGenerator()
	}
	return content.NewOpenAIGenerator(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
}

// Handler is the HTTP surface, including the WebSocket endpoint.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Run serves until ctx is cancelled or a signal arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log.Info("starting emotion-companion",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Bool("telegram", a.bot != nil),
		zap.Bool("scheduler", !a.cfg.NoScheduler),
	)

	if a.router != nil {
		if _, err := a.router.RestoreLinks(ctx); err != nil {
			a.log.Warn("restore telegram links failed", zap.Error(err))
		}
	}

	if a.cfg.NoScheduler {
		a.log.Info("scheduler disabled by config")
	} else {
		if _, err := a.rec.SyncAll(ctx); err != nil {
			a.log.Error("initial job load failed", zap.Error(err))
		}
		if err := a.sched.Start(); err != nil {
			return err
		}
		a.log.Info("triggers use the service clock, per-user timezones are stored only",
			zap.String("scheduler_tz", a.cfg.SchedulerTZ))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.router != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates := a.bot.GetUpdatesChan(u)
		g.Go(func() error { return a.router.Run(gctx, updates) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received")
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) shutdown() error {
	var errs error

	// Create a short-lived shutdown context and cancel it immediately after use.
	shCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := a.httpSrv.Shutdown(shCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	cancel()

	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.SchedulerDrainTimeout)
	if err := a.sched.Shutdown(drainCtx); err != nil {
		a.log.Warn("scheduler drain incomplete", zap.Error(err))
	}
	cancel()

	a.hub.Close()
	errs = multierr.Append(errs, a.repo.Close())

	if errs != nil {
		a.log.Warn("shutdown finished with errors", zap.Error(errs))
	} else {
		a.log.Info("shutdown complete")
	}
	return errs
}
