// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/follower-tracker/internal/api"
	"github.com/JakeFAU/follower-tracker/internal/clock/system"
	"github.com/JakeFAU/follower-tracker/internal/config"
	"github.com/JakeFAU/follower-tracker/internal/extract"
	collyfetcher "github.com/JakeFAU/follower-tracker/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/follower-tracker/internal/fetcher/headless"
	"github.com/JakeFAU/follower-tracker/internal/hash/sha256"
	"github.com/JakeFAU/follower-tracker/internal/id/uuid"
	lockmemory "github.com/JakeFAU/follower-tracker/internal/lock/memory"
	lockredis "github.com/JakeFAU/follower-tracker/internal/lock/redis"
	"github.com/JakeFAU/follower-tracker/internal/logging"
	"github.com/JakeFAU/follower-tracker/internal/metrics"
	"github.com/JakeFAU/follower-tracker/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/follower-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/follower-tracker/internal/push"
	"github.com/JakeFAU/follower-tracker/internal/scheduler"
	"github.com/JakeFAU/follower-tracker/internal/scraper"
	gcsstorage "github.com/JakeFAU/follower-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/follower-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/follower-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/follower-tracker/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/follower-tracker/internal/storage/sqlite"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// pinger is implemented by backends that can report their own health.
type pinger interface {
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     tracker.Store
	scraper   *scraper.Service
	batch     *scheduler.Guarded
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	checks    map[string]api.Check

	headless     *headlessfetcher.Fetcher
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	redis        *goredis.Client
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, checks: map[string]api.Check{}}
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("storage", a.cfg.Storage.Backend),
		zap.String("archive", a.cfg.Archive.Backend),
		zap.String("lock", a.cfg.Refresh.LockBackend),
	)
	clock := system.New()
	ids := uuid.New()

	if err := a.setupStore(ctx); err != nil {
		return err
	}
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	locker, err := a.setupLocker(ctx)
	if err != nil {
		return err
	}
	pushSvc, err := a.setupPush(clock)
	if err != nil {
		return err
	}
	static, headless, err := a.setupFetchers()
	if err != nil {
		return err
	}

	deps := scraper.Deps{
		Store:     a.store,
		Fetcher:   static,
		Extractor: extract.New(),
		Archive:   archive,
		Hasher:    sha256.New(),
		Clock:     clock,
		IDs:       ids,
		Logger:    a.logger,
	}
	// Interface fields stay nil when a backend is disabled.
	if headless != nil {
		deps.Headless = headless
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	if pushSvc != nil {
		deps.Notifier = pushSvc
	}
	a.scraper, err = scraper.New(deps, scraper.Config{
		Concurrency:   a.cfg.Refresh.Concurrency,
		NotifyGoal:    a.cfg.Notify.GoalEnabled,
		NotifyChange:  a.cfg.Notify.ChangeEnabled,
		ArchivePrefix: a.cfg.Archive.Prefix,
		EventTopic:    a.cfg.PubSub.Topic,
		Retry: scraper.RetryPolicy{
			MaxRetries: a.cfg.Fetch.MaxRetries,
			BaseDelay:  time.Duration(a.cfg.Fetch.BackoffInitialMs) * time.Millisecond,
			MaxDelay:   time.Duration(a.cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		},
	})
	if err != nil {
		return fmt.Errorf("scraper init failed: %w", err)
	}
	a.batch = scheduler.NewGuarded(a.scraper, locker)

	if a.cfg.Refresh.SchedulerEnabled {
		a.scheduler, err = scheduler.New(a.cfg.Refresh.Schedule, a.batch, a.cfg.RefreshRunTimeout(), a.logger)
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	apiDeps := api.Deps{
		Store:   a.store,
		Scraper: a.scraper,
		Batch:   a.batch,
		IDs:     ids,
		Clock:   clock,
		Checks:  a.checks,
		Logger:  a.logger,
	}
	if pushSvc != nil {
		apiDeps.Push = pushSvc
	}
	a.apiServer = api.NewServer(apiDeps, *a.cfg)
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Storage.DSN,
			MaxConns:        a.cfg.Storage.MaxConns,
			MinConns:        a.cfg.Storage.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.Storage.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("using postgres storage backend")
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using sqlite storage backend", zap.String("path", a.cfg.Storage.SQLitePath))
	default:
		a.store = memorystorage.NewStore()
		a.logger.Warn("using in-memory storage backend, data is lost on restart")
	}
	if p, ok := a.store.(pinger); ok {
		a.checks["store"] = p.Ping
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (tracker.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving missed pages to gcs", zap.String("bucket", a.cfg.Archive.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving missed pages locally", zap.String("path", a.cfg.Archive.BaseDir))
		return store, nil
	case config.BackendMemory:
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("page archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (*gcppublisher.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Info("no Pub/Sub topic configured, snapshot events are not published")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher, err = gcppublisher.New(a.pubsubClient, map[string]string{"source": "follower-tracker"})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.publisher, nil
}

func (a *App) setupLocker(ctx context.Context) (tracker.Locker, error) {
	if a.cfg.Refresh.LockBackend != config.BackendRedis {
		return lockmemory.New(), nil
	}
	locker, client, err := lockredis.Dial(ctx, a.cfg.Refresh.RedisURL, lockredis.Config{
		TTL: time.Duration(a.cfg.Refresh.LockTTLSeconds) * time.Second,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("redis lock init failed: %w", err)
	}
	a.redis = client
	a.checks["redis"] = locker.Ping
	a.logger.Info("using redis refresh lock")
	return locker, nil
}

func (a *App) setupPush(clock tracker.Clock) (*push.Dispatcher, error) {
	if !a.cfg.PushEnabled() {
		a.logger.Warn("no VAPID keys configured, push notifications disabled")
		return nil, nil
	}
	signer, err := push.NewSigner(a.cfg.Push.VAPIDPrivateKey, a.cfg.Push.VAPIDPublicKey, a.cfg.Push.Subject, clock)
	if err != nil {
		return nil, fmt.Errorf("vapid signer init failed: %w", err)
	}
	dispatcher, err := push.NewDispatcher(a.store, signer,
		&http.Client{Timeout: time.Duration(a.cfg.Push.TimeoutSeconds) * time.Second},
		a.logger.Named("push"),
		push.Config{
			TTL:         time.Duration(a.cfg.Push.TTLSeconds) * time.Second,
			Encrypt:     a.cfg.Push.Encrypt,
			Concurrency: a.cfg.Push.Concurrency,
		})
	if err != nil {
		return nil, fmt.Errorf("push dispatcher init failed: %w", err)
	}
	return dispatcher, nil
}

func (a *App) setupFetchers() (*collyfetcher.Fetcher, *headlessfetcher.Fetcher, error) {
	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS: a.cfg.Fetch.RatePerHost,
		Burst:      a.cfg.Fetch.Burst,
	}, metrics.ObserveRateLimitDelay)
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Fetch.UserAgent,
		AcceptLanguage: a.cfg.Fetch.AcceptLanguage,
		Timeout:        a.cfg.FetchTimeout(),
		MinBodyBytes:   a.cfg.Fetch.MinBodyBytes,
		MaxBodyBytes:   a.cfg.Fetch.MaxBodyBytes,
	}, limiter)
	a.logger.Info("using colly fetcher",
		zap.Float64("rate_per_host", a.cfg.Fetch.RatePerHost),
		zap.Int("burst", a.cfg.Fetch.Burst),
	)
	if !a.cfg.Headless.Enabled {
		return static, nil, nil
	}
	var err error
	a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Fetch.UserAgent,
		AcceptLanguage:    a.cfg.Fetch.AcceptLanguage,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(a.cfg.Headless.SettleDelayMs) * time.Millisecond,
		MinBodyBytes:      a.cfg.Fetch.MinBodyBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.logger.Info("headless fallback enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	return static, a.headless, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RefreshAll runs one lock-guarded batch refresh.
func (a *App) RefreshAll(ctx context.Context) ([]tracker.RefreshResult, error) {
	return a.batch.RefreshAll(ctx)
}

// Run serves HTTP and the refresh schedule until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close releases every backend opened by Build.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis client: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
