// Package app builds and holds the long-lived services for the process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/api"
	"github.com/JakeFAU/ratemystay/internal/cache"
	"github.com/JakeFAU/ratemystay/internal/catalog"
	"github.com/JakeFAU/ratemystay/internal/clock/system"
	"github.com/JakeFAU/ratemystay/internal/config"
	"github.com/JakeFAU/ratemystay/internal/dispatcher"
	"github.com/JakeFAU/ratemystay/internal/hash/sha256"
	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/id/uuid"
	"github.com/JakeFAU/ratemystay/internal/ingest"
	"github.com/JakeFAU/ratemystay/internal/metrics"
	"github.com/JakeFAU/ratemystay/internal/places"
	memorypublisher "github.com/JakeFAU/ratemystay/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/ratemystay/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/ratemystay/internal/queue/memory"
	"github.com/JakeFAU/ratemystay/internal/ratelimit"
	"github.com/JakeFAU/ratemystay/internal/search"
	gcsstorage "github.com/JakeFAU/ratemystay/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ratemystay/internal/storage/local"
	memoryStorage "github.com/JakeFAU/ratemystay/internal/storage/memory"
	pgstore "github.com/JakeFAU/ratemystay/internal/storage/postgres"
	"github.com/JakeFAU/ratemystay/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock  housing.Clock
	ids    housing.IDGenerator
	hasher housing.Hasher

	pg       *pgstore.Store
	listings housing.ListingStore
	campuses housing.CampusStore
	unis     housing.UniversityStore
	jobs     housing.JobStore

	redis        *cache.Redis
	gcs          *storage.Client
	archive      housing.BlobStore
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	publisher    housing.Publisher

	places   *places.Client
	ingestor *ingest.Ingestor
	search   *search.Service
	catalog  *catalog.Service

	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// Build creates the application's dependencies. Postgres, Redis, GCS and
// Pub/Sub are only dialled when configured; otherwise in-memory stand-ins are used.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		hasher: sha256.New(),
	}
	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("paging", cfg.Query.Paging),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("cache", cfg.Cache.Addr != ""),
	)

	steps := []func(context.Context) error{
		a.setupDatabase,
		a.setupCache,
		a.setupArchive,
		a.setupPublisher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.setupServices()
	a.setupDispatcher()
	a.setupAPI()
	return a, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		listings := memoryStorage.NewListingStore()
		cat := memoryStorage.NewCatalogStore()
		a.listings, a.campuses, a.unis = listings, cat, cat
		a.jobs = memoryStorage.NewJobStore(a.clock)
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pg, err = pgstore.New(pool, a.clock)
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	if a.cfg.DB.AutoMigrate {
		if err := a.pg.Migrate(ctx); err != nil {
			return err
		}
		a.logger.Info("database schema applied")
	}
	a.listings, a.campuses, a.unis, a.jobs = a.pg, a.pg, a.pg, a.pg
	a.logger.Info("postgres stores initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupCache(ctx context.Context) error {
	if a.cfg.Cache.Addr == "" {
		a.logger.Info("search cache disabled")
		return nil
	}
	a.redis = cache.New(cache.Options{
		Addr:     a.cfg.Cache.Addr,
		Password: a.cfg.Cache.Password,
		DB:       a.cfg.Cache.DB,
	})
	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	a.logger.Info("search cache enabled", zap.String("addr", a.cfg.Cache.Addr), zap.Duration("ttl", a.cfg.Cache.TTL))
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.archive, err = gcsstorage.New(a.gcs, gcsstorage.Config{
			Bucket:       a.cfg.Storage.GCSBucket,
			CacheControl: a.cfg.Storage.CacheControl,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving place details to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.StorageLocal:
		a.archive, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving place details locally", zap.String("path", a.cfg.Storage.LocalDir))
	default:
		a.logger.Info("place detail archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(a.pubsubClient, map[string]string{"service": "ratemystay"})
	a.publisher = a.gcpPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupServices() {
	pc := a.cfg.Places
	if pc.APIKey == "" {
		a.logger.Warn("places.api_key is empty; ingestion and campus creation will be rejected upstream")
	}
	limiter := ratelimit.New(ratelimit.Config{RPS: pc.RPS, Burst: pc.Burst})
	a.places = places.New(places.Config{
		BaseURL:        pc.BaseURL,
		APIKey:         pc.APIKey,
		Timeout:        pc.Timeout,
		PageTokenDelay: pc.PageTokenDelay,
		MaxRetries:     pc.MaxRetries,
		BackoffInitial: pc.BackoffInitial,
		BackoffMax:     pc.BackoffMax,
		PhotoMaxWidth:  pc.PhotoMaxWidth,
	}, limiter, a.logger)

	var searchOpts []search.Option
	if a.redis != nil {
		searchOpts = append(searchOpts, search.WithCache(a.redis))
	}
	a.search = search.New(search.Config{
		PageSize:    a.cfg.Query.PageSize,
		Paging:      a.cfg.PagingMode(),
		CachePrefix: a.cfg.Cache.Prefix,
		CacheTTL:    a.cfg.Cache.TTL,
	}, a.listings, a.logger, searchOpts...)

	var ingestOpts []ingest.Option
	if a.archive != nil {
		ingestOpts = append(ingestOpts, ingest.WithArchive(a.archive, a.hasher))
	}
	if a.redis != nil {
		ingestOpts = append(ingestOpts, ingest.WithCacheInvalidation(a.search))
	}
	a.ingestor = ingest.New(ingest.Config{
		Searches:         a.searches(),
		MaxPages:         a.cfg.Ingest.MaxPages,
		PlaceConcurrency: a.cfg.Ingest.PlaceConcurrency,
		ArchivePrefix:    a.cfg.Storage.Prefix,
	}, a.places, a.campuses, a.listings, a.ids, a.logger, ingestOpts...)

	a.catalog = catalog.New(a.unis, a.campuses, a.places, a.ids, a.logger)
}

// searches applies the configured radii to the default category searches.
func (a *App) searches() []ingest.CategorySearch {
	radius := map[housing.Category]int{
		housing.CategoryDormitory: a.cfg.Ingest.DormitoryRadius,
		housing.CategoryApartment: a.cfg.Ingest.ApartmentRadius,
		housing.CategoryTownhome:  a.cfg.Ingest.TownhomeRadius,
	}
	out := make([]ingest.CategorySearch, len(ingest.DefaultSearches))
	copy(out, ingest.DefaultSearches)
	for i := range out {
		if r := radius[out[i].Category]; r > 0 {
			out[i].RadiusMeters = r
		}
	}
	return out
}

func (a *App) setupDispatcher() {
	a.queue = queueMemory.NewQueue(a.cfg.Ingest.QueueDepth)
	workerCfg := worker.Config{
		Topic:      a.cfg.PubSub.TopicName,
		RunTimeout: a.cfg.Ingest.RunTimeout,
	}
	workers := make([]*worker.Worker, 0, a.cfg.Ingest.Workers)
	for i := 0; i < a.cfg.Ingest.Workers; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.jobs,
			a.ingestor,
			a.publisher,
			a.clock,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)
	a.logger.Info("worker pool configured",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", a.cfg.Ingest.QueueDepth),
		zap.String("topic", workerCfg.Topic),
	)
}

func (a *App) setupAPI() {
	checks := map[string]api.ReadinessCheck{}
	if a.pg != nil {
		checks["postgres"] = a.pg.Ping
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	a.apiServer = api.NewServer(api.Deps{
		Search:   a.search,
		Catalog:  a.catalog,
		Campuses: a.campuses,
		Jobs:     a.jobs,
		Queue:    a.dispatch,
		IDs:      a.ids,
		Clock:    a.clock,
		Checks:   checks,
	}, api.Config{
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}, a.logger)
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Ingestor exposes the ingestion service for one-shot runs.
func (a *App) Ingestor() *ingest.Ingestor { return a.ingestor }

// Catalog exposes the catalog service.
func (a *App) Catalog() *catalog.Service { return a.catalog }

// Migrate applies the Postgres schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return errors.New("db.dsn is required to migrate")
	}
	return a.pg.Migrate(ctx)
}

// Run listens on the configured port and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the worker pool and HTTP server on ln until ctx is cancelled,
// then drains both.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown timeout")
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// Close releases every client the App opened.
func (a *App) Close() {
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	a.logger.Info("shutdown complete")
}
