// Package app initializes and holds the long-lived services of the bot,
// acting as a dependency injection container. Services are wired once at
// startup and shut down together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/api"
	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/clock/system"
	"github.com/barcrawlhq/crawlbot/internal/config"
	"github.com/barcrawlhq/crawlbot/internal/dispatch"
	"github.com/barcrawlhq/crawlbot/internal/guard"
	"github.com/barcrawlhq/crawlbot/internal/hash/sha256"
	"github.com/barcrawlhq/crawlbot/internal/id/uuid"
	"github.com/barcrawlhq/crawlbot/internal/logging"
	"github.com/barcrawlhq/crawlbot/internal/matching"
	"github.com/barcrawlhq/crawlbot/internal/metrics"
	"github.com/barcrawlhq/crawlbot/internal/process"
	"github.com/barcrawlhq/crawlbot/internal/progression"
	memorypublisher "github.com/barcrawlhq/crawlbot/internal/publisher/memory"
	pubsubpublisher "github.com/barcrawlhq/crawlbot/internal/publisher/pubsub"
	"github.com/barcrawlhq/crawlbot/internal/responses"
	"github.com/barcrawlhq/crawlbot/internal/sender/cloudapi"
	"github.com/barcrawlhq/crawlbot/internal/sender/greenapi"
	"github.com/barcrawlhq/crawlbot/internal/settings"
	"github.com/barcrawlhq/crawlbot/internal/signup"
	"github.com/barcrawlhq/crawlbot/internal/storage/memory"
	"github.com/barcrawlhq/crawlbot/internal/storage/postgres"
	"github.com/barcrawlhq/crawlbot/internal/tasks"
)

const (
	kvJanitorInterval = time.Minute
	sweepHour         = 6
)

// App holds every long-lived service of the bot.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	kv       *memory.KV
	pool     *pgxpool.Pool
	psClient *gcppubsub.Client
	exec     *tasks.Executor
	clock    bot.Clock
	server   *http.Server
}

// Build wires all services from configuration. It fails fast if any critical
// service cannot be initialized.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	clock := system.New()
	ids := uuid.New()
	hasher := sha256.New()

	a := &App{cfg: cfg, logger: logger, clock: clock}

	// Stores. An empty DSN selects the in-memory backend, which is enough
	// for development and a single-process deployment.
	var (
		profiles      bot.ProfileStore
		groups        bot.GroupStore
		venues        bot.VenueStore
		settingsStore bot.SettingsStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.DB.DSN, cfg.DB.MaxConns, cfg.DB.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pool = pool
		profiles = postgres.NewProfileStore(pool)
		groups = postgres.NewGroupStore(pool)
		venues = postgres.NewVenueStore(pool)
		settingsStore = postgres.NewSettingsStore(pool)
		logger.Info("using postgres stores")
	} else {
		profiles = memory.NewProfileStore()
		groups = memory.NewGroupStore()
		venues = memory.NewVenueStore()
		settingsStore = memory.NewSettingsStore()
		logger.Info("using in-memory stores")
		if err := seedVenues(ctx, venues, ids, clock); err != nil {
			return nil, fmt.Errorf("seeding venues: %w", err)
		}
	}

	a.kv = memory.NewKV(clock)

	svcSettings := settings.New(cfg.Bot, settingsStore)
	if err := svcSettings.Reload(ctx); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	catalog := responses.NewCatalog(settingsStore)
	if err := catalog.Reload(ctx); err != nil {
		return nil, fmt.Errorf("loading response templates: %w", err)
	}

	// Lifecycle event publisher. An empty project ID selects the in-memory
	// recorder.
	var publisher bot.Publisher
	if cfg.PubSub.ProjectID != "" {
		pub, client, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("connecting to pubsub: %w", err)
		}
		a.psClient = client
		publisher = pub
		logger.Info("publishing events to pubsub", zap.String("topic", cfg.PubSub.TopicName))
	} else {
		publisher = memorypublisher.New()
		logger.Info("using in-memory event publisher")
	}

	// Outbound channels. Green API is the primary; the Cloud API is an
	// optional fallback.
	if cfg.Sender.GreenAPI.InstanceID == "" || cfg.Sender.GreenAPI.Token == "" {
		return nil, errors.New("sender.greenapi.instance_id and token are required")
	}
	primary := greenapi.New(
		cfg.Sender.GreenAPI.BaseURL,
		cfg.Sender.GreenAPI.InstanceID,
		cfg.Sender.GreenAPI.Token,
		cfg.SenderTimeout(),
	)
	var fallback bot.Sender
	if cfg.Sender.CloudAPI.PhoneID != "" && cfg.Sender.CloudAPI.Token != "" {
		fallback = cloudapi.New(
			cfg.Sender.CloudAPI.BaseURL,
			cfg.Sender.CloudAPI.APIVersion,
			cfg.Sender.CloudAPI.PhoneID,
			cfg.Sender.CloudAPI.Token,
			cfg.SenderTimeout(),
		)
		logger.Info("cloud api fallback sender enabled")
	}
	dispatcher := dispatch.New(primary, fallback, cfg.Sender.RatePerSecond, cfg.Sender.Burst, logger)

	a.exec = tasks.New(cfg.Tasks.Workers, cfg.Tasks.QueueDepth, bot.NewExponentialRetryPolicy(), logger)

	inboundGuard := guard.New(a.kv, hasher, logger)
	signupEngine := signup.New(a.kv, profiles, catalog, clock, ids, logger)
	matcher := matching.New(groups, profiles, a.kv, svcSettings, catalog, clock, ids, a.exec, publisher, logger)
	scheduler := progression.New(groups, venues, svcSettings, catalog, clock, ids, a.exec, publisher, logger)

	processor := process.New(
		inboundGuard, signupEngine, matcher, scheduler,
		dispatcher, svcSettings, catalog, a.exec, logger,
	)
	processor.Register(a.exec)

	apiServer := api.NewServer(
		a.exec, groups, venues, svcSettings, catalog,
		clock, ids, cfg.Webhook.VerifyToken, logger,
	)
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("application services initialized")
	return a, nil
}

// Run starts the executor, the sweep timer and the HTTP server, then blocks
// until the context is cancelled and shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.kv.StartJanitor(kvJanitorInterval)
	a.exec.Start(ctx)
	go a.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

// sweepLoop submits the daily cleanup task every morning at the sweep hour.
// The sweep itself is idempotent, so a restart close to the hour is harmless.
func (a *App) sweepLoop(ctx context.Context) {
	for {
		next := nextSweep(a.clock.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		task, err := bot.NewTask(bot.TaskDailySweep, nil)
		if err != nil {
			a.logger.Error("building sweep task", zap.Error(err))
			continue
		}
		if err := a.exec.Submit(ctx, task); err != nil {
			a.logger.Error("submitting sweep task", zap.Error(err))
		}
	}
}

// seedVenues fills an empty venue store with the Manchester starter set so a
// fresh in-memory deployment can run crawls immediately.
func seedVenues(ctx context.Context, venues bot.VenueStore, ids bot.IDGenerator, clock bot.Clock) error {
	existing, err := venues.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	seeds := []bot.Venue{
		{Name: "The Crown Pub", Address: "123 High St, Manchester", Area: "northern quarter", Latitude: 53.4839, Longitude: -2.2374},
		{Name: "Craft Beer Co", Address: "456 Market St, Manchester", Area: "northern quarter", Latitude: 53.4848, Longitude: -2.2426},
		{Name: "The Local Tavern", Address: "789 King St, Manchester", Area: "city centre", Latitude: 53.4794, Longitude: -2.2453},
		{Name: "Brewery Tap", Address: "321 Oxford Rd, Manchester", Area: "city centre", Latitude: 53.4722, Longitude: -2.2324},
		{Name: "Sports Bar & Grill", Address: "654 Deansgate, Manchester", Area: "deansgate", Latitude: 53.4755, Longitude: -2.2507},
	}
	for _, v := range seeds {
		id, err := ids.NewID()
		if err != nil {
			return err
		}
		v.ID = id
		v.Active = true
		v.CreatedAt = clock.Now()
		if _, err := venues.Create(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// nextSweep returns the next occurrence of the sweep hour in local time.
func nextSweep(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), sweepHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Close releases all held resources.
func (a *App) Close() {
	a.logger.Info("closing application services")
	if a.exec != nil {
		a.exec.Close()
	}
	if a.kv != nil {
		a.kv.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			a.logger.Warn("closing pubsub client", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
