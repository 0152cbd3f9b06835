package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"signal-relay/internal/alerting"
	"signal-relay/internal/classify"
	"signal-relay/internal/config"
	"signal-relay/internal/dialect"
	"signal-relay/internal/execution"
	"signal-relay/internal/queue"
	"signal-relay/internal/server"
	"signal-relay/internal/service"
	"signal-relay/internal/signal"
	"signal-relay/internal/storage"
	"signal-relay/internal/stream"
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

func (a *App) newClassifier() (*classify.Classifier, error) {
	routes, err := a.Config.Routes()
	if err != nil {
		return nil, err
	}
	reg, err := dialect.NewRegistry(routes)
	if err != nil {
		return nil, err
	}
	return classify.New(reg), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, alerting.TelegramOptions{
		BaseURL:       cfg.APIBase,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		MaxRetries:    cfg.MaxRetries,
	}, a.Logger)
}

func (a *App) newTrigger() *execution.Trigger {
	if !a.Config.Execution.Enabled {
		return nil
	}
	cfg := a.Config.Execution
	return execution.NewTrigger(execution.Options{
		WebhookURL: cfg.WebhookURL,
		Channels:   cfg.Channels,
		Domains:    cfg.Domains,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Persistent() {
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

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	if !a.Config.Persistent() {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	applied, err := storage.Migrate(ctx, a.Config.Database.DSN, a.Logger)
	if err != nil {
		return err
	}
	if !applied {
		a.Logger.Info().Msg("schema already up to date")
	}
	return nil
}

func (a *App) queueOptions() queue.Options {
	q := a.Config.Queue
	return queue.Options{
		PollInterval:   q.PollInterval,
		BatchSize:      q.BatchSize,
		Workers:        q.Workers,
		LeaseDuration:  q.LeaseDuration,
		MaxAttempts:    q.MaxAttempts,
		BackoffInitial: q.BackoffInitial,
		BackoffMax:     q.BackoffMax,
		Retention:      q.Retention,
		PurgeLockKey:   q.PurgeLockKey,
	}
}

// Run executes the long-running relay service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := ossignal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	classifier, err := a.newClassifier()
	if err != nil {
		return err
	}
	a.Logger.Info().Int("channels", classifier.Registry().Len()).Msg("routing table loaded")

	if a.Config.Persistent() && a.Config.Database.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	deps := service.Deps{Classifier: classifier}
	if store != nil {
		deps.Messages, deps.Orders = store, store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled, ingest runs synchronously")
		memory := storage.NewMemoryStore()
		deps.Messages, deps.Orders = memory, memory
	}

	deps.Notifier = a.newNotifier()
	trigger := a.newTrigger()
	if trigger != nil {
		deps.Executor = trigger
	}
	hub := stream.NewHub(a.Config.Server.StreamBuffer, a.Logger)
	deps.Stream = hub

	svc := service.New(a.Config, deps, a.Logger)

	opts := server.Options{
		MaxBodyBytes: a.Config.Server.MaxBodyBytes,
		Stream:       hub,
	}
	var consumer *queue.Consumer
	if store != nil {
		opts.Queue = store
		opts.Health = store
		consumer = queue.NewConsumer(store, store, func(ctx context.Context, msg signal.RawMessage) error {
			_, _, err := svc.Process(ctx, msg)
			return err
		}, a.queueOptions(), a.Logger)
	} else {
		opts.Processor = svc
	}

	srv := server.New(a.Config.Server.Addr, a.Config.Server.ReadHeaderTimeout, server.NewHandler(opts, a.Logger))

	errCh := make(chan error, 2)
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			cancel()
		}
	})
	if consumer != nil {
		lifecycle.Go(func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("queue consumer: %w", err)
				cancel()
			}
		})
	}

	a.Logger.Info().Bool("queued", consumer != nil).Msg("starting relay service")
	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout(a.Config.Server.ShutdownTimeout))
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}
	lifecycle.Wait()
	if trigger != nil {
		trigger.Close(shutdownCtx)
	}

	close(errCh)
	for err := range errCh {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("relay service stopped")
	return nil
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// ExportOptions hold parameters for exporting orders.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxRows int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit       int
	DeadLetters bool
}

// ReplayOptions configure the replay job.
type ReplayOptions struct {
	Path   string
	DryRun bool
	Notify bool
}
