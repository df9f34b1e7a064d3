package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"oracle-feeder/internal/aggregate"
	"oracle-feeder/internal/alerting"
	"oracle-feeder/internal/chain"
	"oracle-feeder/internal/config"
	"oracle-feeder/internal/metrics"
	"oracle-feeder/internal/preflight"
	"oracle-feeder/internal/pricing"
	"oracle-feeder/internal/scheduler"
	"oracle-feeder/internal/service"
	"oracle-feeder/internal/storage"
	"oracle-feeder/internal/vote"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newLCD(observer chain.RequestObserver) *chain.LCD {
	return chain.NewLCD(chain.LCDOptions{
		BaseURL:     a.Config.Chain.LCDURL,
		ModuleRoute: a.Config.Chain.ModuleRoute,
		Validator:   a.Config.Signer.Validator,
		Timeout:     a.Config.Chain.RequestTimeout,
		BlockPoll:   a.Config.Voting.BlockPoll,
		UserAgent:   a.Config.Sources.UserAgent,
	}, observer, a.Logger)
}

func (a *App) newSigner() *chain.CLISigner {
	cfg := a.Config.Signer
	return chain.NewCLISigner(chain.CLISignerOptions{
		Binary:         cfg.Binary,
		ChainID:        a.Config.Chain.ChainID,
		Node:           cfg.Node,
		KeyringBackend: cfg.KeyringBackend,
		KeyPassword:    cfg.KeyPassword,
		Fees:           cfg.Fees,
		GasPrices:      cfg.GasPrices,
		GasAdjustment:  cfg.GasAdjustment,
		Gas:            cfg.Gas,
		ExtraFlags:     cfg.ExtraFlags,
		Timeout:        cfg.Timeout,
	}, a.Logger)
}

func (a *App) newAggregator(observer aggregate.Observer) *aggregate.Aggregator {
	return aggregate.New(aggregate.Options{
		PerSourceTimeout: a.Config.Pricing.SourceTimeout,
		FetchTimeout:     a.Config.Pricing.FetchTimeout,
		MaxConcurrency:   a.Config.Pricing.MaxConcurrency,
		MarketKey:        a.Config.Pricing.MarketSymbol,
	}, observer, a.Logger)
}

func (a *App) pricingOptions() pricing.Options {
	return pricing.Options{
		BaseDenom: a.Config.Pricing.BaseDenom,
		FXMap:     a.Config.Pricing.FXMap,
		Precision: a.Config.Pricing.Precision,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	var notifiers alerting.Multi
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger))
	}
	if a.Config.Alerting.Slack.Enabled {
		notifiers = append(notifiers, alerting.NewSlackNotifier(a.Config.Alerting.Slack.WebhookURL, a.Config.Alerting.Timeout, a.Logger))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}

func (a *App) alertChannels() []string {
	var channels []string
	if a.Config.Alerting.Telegram.Enabled {
		channels = append(channels, "telegram")
	}
	if a.Config.Alerting.Slack.Enabled {
		channels = append(channels, "slack")
	}
	return channels
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

// Run executes the long-running feeder.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.New()
	lcd := a.newLCD(collector)

	if a.Config.Preflight.Enabled {
		checker := preflight.New(a.Config, lcd, nil, nil, a.Logger)
		if _, err := checker.WaitForReady(ctx, a.Config.Preflight.MaxAttempts, a.Config.Preflight.RetryDelay); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var roundStore storage.RoundStore
	var alertStore storage.AlertStore
	if store != nil {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		if retention := a.Config.Alerting.Retention; retention > 0 {
			if err := store.DeleteAlertsBefore(ctx, time.Now().UTC().Add(-retention)); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to prune old alert records")
			}
		}
		roundStore = store
		alertStore = store
	}

	sources, err := a.newSources()
	if err != nil {
		return err
	}

	controller, err := vote.NewController(chain.NewComposite(lcd, a.newSigner()), vote.Options{
		Sender:        a.Config.Signer.Sender(),
		Validator:     a.Config.Signer.Validator,
		MaxRetries:    a.Config.Voting.MaxRetries,
		BlockWait:     a.Config.Voting.BlockWait,
		IndexAttempts: a.Config.Voting.IndexAttempts,
		IndexDelay:    a.Config.Voting.IndexDelay,
	}, collector, a.Logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.PollInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var notifier alerting.Notifier
	if a.Config.Alerting.Enabled {
		notifier = a.newNotifier()
	}

	svc := service.New(service.Options{
		EpochIdentifier:         a.Config.Chain.EpochIdentifier,
		MinBlocksBeforeRoundEnd: a.Config.Chain.MinBlocksBeforeRoundEnd,
		LockKey:                 a.Config.Scheduler.AdvisoryLockKey,
		Pricing:                 a.pricingOptions(),
		AlertsEnabled:           a.Config.Alerting.Enabled,
		MissAlerts:              a.Config.Alerting.MissAlerts,
		Channels:                a.alertChannels(),
	}, service.Deps{
		Scheduler:  sched,
		Chain:      lcd,
		Collector:  a.newAggregator(collector),
		Sources:    sources,
		Voter:      controller,
		Store:      roundStore,
		AlertStore: alertStore,
		Notifier:   notifier,
		Recorder:   collector,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Metrics.Enabled {
		g.Go(func() error {
			return collector.Serve(gctx, a.Config.Metrics.Listen, a.Logger)
		})
	}
	g.Go(func() error {
		return svc.Run(gctx)
	})

	a.Logger.Info().Str("chain_id", a.Config.Chain.ChainID).Str("validator", a.Config.Signer.Validator).Msg("starting oracle feeder")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("feeder terminated with error")
		return err
	}

	a.Logger.Info().Msg("oracle feeder stopped")
	return nil
}

// ExportOptions hold parameters for exporting submitted prices.
type ExportOptions struct {
	FromRound uint64
	ToRound   uint64
	PNGPath   string
	CSVPath   string
	MaxRounds int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// Since lists every round recorded within the window instead of the
	// most recent Limit rounds.
	Since  time.Duration
	Alerts bool
}

// VerifyOptions configure the verify command.
type VerifyOptions struct {
	Limit int
}
