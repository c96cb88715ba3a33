// Package app wires configuration into the crawler's long-lived services:
// stores, publisher, progress sinks, the fetch gate and the orchestrator.
// Commands run against the resulting App and close it once on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcsapi "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/quarrydata/marketplace-crawler/internal/api"
	"github.com/quarrydata/marketplace-crawler/internal/checkpoint"
	"github.com/quarrydata/marketplace-crawler/internal/clock/system"
	"github.com/quarrydata/marketplace-crawler/internal/config"
	"github.com/quarrydata/marketplace-crawler/internal/crawl"
	"github.com/quarrydata/marketplace-crawler/internal/detector"
	"github.com/quarrydata/marketplace-crawler/internal/extract"
	"github.com/quarrydata/marketplace-crawler/internal/fetch"
	"github.com/quarrydata/marketplace-crawler/internal/fetch/headless"
	"github.com/quarrydata/marketplace-crawler/internal/hash/sha256"
	"github.com/quarrydata/marketplace-crawler/internal/id/uuid"
	"github.com/quarrydata/marketplace-crawler/internal/orchestrator"
	"github.com/quarrydata/marketplace-crawler/internal/progress"
	progresssinks "github.com/quarrydata/marketplace-crawler/internal/progress/sinks"
	memorypublisher "github.com/quarrydata/marketplace-crawler/internal/publisher/memory"
	gcppublisher "github.com/quarrydata/marketplace-crawler/internal/publisher/pubsub"
	"github.com/quarrydata/marketplace-crawler/internal/ratelimit"
	"github.com/quarrydata/marketplace-crawler/internal/retry"
	"github.com/quarrydata/marketplace-crawler/internal/sitemap"
	"github.com/quarrydata/marketplace-crawler/internal/storage"
	gcsstorage "github.com/quarrydata/marketplace-crawler/internal/storage/gcs"
	localstorage "github.com/quarrydata/marketplace-crawler/internal/storage/local"
	memorystorage "github.com/quarrydata/marketplace-crawler/internal/storage/memory"
	pgstore "github.com/quarrydata/marketplace-crawler/internal/storage/postgres"
	"github.com/quarrydata/marketplace-crawler/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// App holds the wired services for one process lifetime.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawl.Clock

	registry *prometheus.Registry
	hub      *progress.Hub

	indexer  *sitemap.Indexer
	orch     *orchestrator.Orchestrator
	server   *api.Server
	renderer crawl.Renderer

	records   crawl.RecordStore
	runRepo   store.RunRepository
	runStore  *pgstore.RunStore
	gcsClient *gcsapi.Client
	pub       *gcppublisher.Publisher
}

// Build wires configuration into a runnable App. It fails fast: any service
// that cannot be initialized aborts startup.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.setupDatabase(ctx); err != nil {
		return nil, err
	}

	hasher := sha256.New()
	archiver, err := a.setupArchiver(ctx, hasher)
	if err != nil {
		return nil, err
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	emitter, err := a.setupProgress()
	if err != nil {
		return nil, err
	}

	if err := a.setupRenderer(); err != nil {
		return nil, err
	}

	gate := a.buildGate()
	extractor := extract.New(extract.Config{}, hasher, a.clock, logger.Named("extract"))
	det := detector.NewHeuristic(cfg.Detector.MinHTMLBytes, cfg.Detector.Selectors, cfg.Detector.Keywords)

	var checkpoints orchestrator.Checkpointer = checkpoint.Disabled{}
	if cfg.Checkpoint.Enabled {
		checkpoints = checkpoint.New(cfg.Checkpoint.Path, a.clock, logger.Named("checkpoint"))
	} else {
		logger.Info("checkpointing disabled, runs will not be resumable")
	}

	a.orch = orchestrator.New(
		orchestrator.Config{
			Workers:      cfg.Crawler.MaxConcurrentRequests,
			MaxPages:     cfg.Crawler.MaxPages,
			RetryFailed:  cfg.Crawler.RetryFailed,
			Headless:     cfg.Headless.Enabled,
			PublishTopic: cfg.PubSub.Topic,
		},
		gate,
		a.renderer,
		det,
		extractor,
		a.records,
		archiver,
		publisher,
		checkpoints,
		emitter,
		uuid.New(),
		a.clock,
		logger.Named("orchestrator"),
	)

	classifier, err := sitemap.NewClassifier(sitemap.ClassifierConfig{
		ProfilePattern:  cfg.Sitemap.ProfilePattern,
		CategoryPattern: cfg.Sitemap.CategoryPattern,
		ListingPattern:  cfg.Sitemap.ListingPattern,
		HelpPattern:     cfg.Sitemap.HelpPattern,
	})
	if err != nil {
		return nil, fmt.Errorf("init classifier: %w", err)
	}
	a.indexer = sitemap.NewIndexer(gate, classifier, cfg.Sitemap.URL, cfg.Sitemap.FallbackURL, logger.Named("sitemap"))

	a.server, err = api.NewServer(a.runRepo, a.registry, logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("init api server: %w", err)
	}

	return a, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("no database configured, keeping records and run history in memory")
		a.records = memorystorage.NewRecordStore()
		a.runRepo = memorystorage.NewRunStore()
		return nil
	}

	records, err := pgstore.NewRecordStore(ctx, pgstore.RecordStoreConfig{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.RecordsTable,
		MaxConns:        int32(a.cfg.Database.MaxConns),
		MinConns:        int32(a.cfg.Database.MinConns),
		MaxConnLifetime: a.cfg.Database.ConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	a.records = records

	runStore, err := pgstore.NewRunStore(ctx, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.runStore = runStore
	a.runRepo = runStore
	a.logger.Info("postgres stores initialized", zap.String("records_table", a.cfg.Database.RecordsTable))
	return nil
}

func (a *App) setupArchiver(ctx context.Context, hasher crawl.Hasher) (*storage.Archiver, error) {
	mode, err := storage.ParseMode(a.cfg.Storage.ArchiveMode)
	if err != nil {
		return nil, fmt.Errorf("parse archive mode: %w", err)
	}
	if mode == storage.ModeOff {
		a.logger.Info("page archival disabled")
		return nil, nil
	}

	var blobs crawl.BlobStore
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		blobs, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		a.logger.Info("archiving pages to gcs",
			zap.String("bucket", a.cfg.Storage.GCSBucket),
			zap.String("mode", string(mode)),
		)
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		blobs = local
		a.logger.Info("archiving pages locally",
			zap.String("dir", a.cfg.Storage.LocalDir),
			zap.String("mode", string(mode)),
		)
	default:
		blobs = memorystorage.NewBlobStore()
		a.logger.Info("archiving pages in memory", zap.String("mode", string(mode)))
	}

	return storage.NewArchiver(blobs, hasher, mode, a.logger.Named("archive")), nil
}

func (a *App) setupPublisher(ctx context.Context) (crawl.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Info("no pub/sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}

	client, err := gcppubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.pub = gcppublisher.New(client)
	a.logger.Info("pub/sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.pub, nil
}

// setupProgress builds the sink fan-out. The hub gets no base context:
// run cancellation stops the crawl, not the telemetry recording how the
// run ended. Close bounds the final drain.
func (a *App) setupProgress() (progress.Emitter, error) {
	var sinkList []progress.Sink
	if a.cfg.Progress.LogSink {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress")))
	}
	if a.cfg.Progress.PrometheusSink {
		promSink, err := progresssinks.NewPrometheusSink(a.registry)
		if err != nil {
			return nil, fmt.Errorf("init prometheus sink: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if a.cfg.Progress.StoreSink && a.runRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runRepo, a.logger.Named("progress_store")))
	}
	if len(sinkList) == 0 {
		a.logger.Info("no progress sinks configured")
		return progress.Nop{}, nil
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchEvents,
		MaxBatchWait:   a.cfg.Progress.BatchWait(),
		SinkTimeout:    a.cfg.Progress.SinkTimeout(),
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
	return a.hub, nil
}

func (a *App) setupRenderer() error {
	if !a.cfg.Headless.Enabled {
		return nil
	}

	renderer, err := headless.New(headless.Config{
		MaxParallel: a.cfg.Headless.MaxParallel,
		UserAgent:   a.cfg.Crawler.UserAgent,
		Timeout:     a.cfg.Headless.NavTimeout(),
		DomainQPS:   a.cfg.Headless.DomainQPS,
	}, a.logger.Named("headless"))
	if err != nil {
		if errors.Is(err, headless.ErrDisabled) {
			a.logger.Warn("headless renderer disabled by config, continuing without promotion")
			return nil
		}
		return fmt.Errorf("init renderer: %w", err)
	}
	a.renderer = renderer
	a.logger.Info("headless renderer initialized", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	return nil
}

func (a *App) buildGate() *fetch.Gate {
	transport := fetch.NewColly(fetch.CollyConfig{
		UserAgent:    a.cfg.Crawler.UserAgent,
		Timeout:      a.cfg.HTTPTimeout(),
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	})
	limiter := ratelimit.New(a.cfg.Crawler.RequestsPerSecond, a.clock)
	robots := fetch.NewRobotsEnforcer(a.cfg.Crawler.RespectRobots, a.cfg.Crawler.UserAgent, a.logger.Named("robots"))
	policy := retry.Policy{
		MaxAttempts: a.cfg.MaxAttempts(),
		InitialWait: a.cfg.RetryInitialWait(),
		MaxWait:     a.cfg.RetryMaxWait(),
		Jitter:      a.cfg.Crawler.RetryJitter,
		OnRetry: func(attempt int, err error) {
			a.logger.Debug("retrying fetch", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	return fetch.NewGate(transport, limiter, robots, policy, a.logger.Named("fetch"))
}

// Crawl discovers work from the sitemap and executes one run to completion.
// When the run API server is enabled it serves alongside the run and stops
// with it.
func (a *App) Crawl(ctx context.Context) (crawl.RunSummary, error) {
	if a.cfg.Server.Enabled {
		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()
		go func() {
			if err := a.Serve(serveCtx); err != nil {
				a.logger.Error("run api server failed", zap.Error(err))
			}
		}()
	}

	index, err := a.indexer.Index(ctx)
	if err != nil {
		return crawl.RunSummary{}, fmt.Errorf("index sitemap: %w", err)
	}
	return a.orch.Run(ctx, index.WorkItems())
}

// Index fetches and classifies the sitemap without starting a crawl,
// writing the bucket contents to w.
func (a *App) Index(ctx context.Context, w io.Writer) error {
	index, err := a.indexer.Index(ctx)
	if err != nil {
		return fmt.Errorf("index sitemap: %w", err)
	}

	if index.Source != "" {
		fmt.Fprintf(w, "source: %s\n", index.Source)
	}
	for _, kind := range []crawl.EntityKind{crawl.KindListing, crawl.KindProfile, crawl.KindCategory} {
		urls := index.ByKind[kind]
		fmt.Fprintf(w, "%s (%d):\n", kind, len(urls))
		for _, u := range urls {
			fmt.Fprintf(w, "  %s\n", u)
		}
	}
	fmt.Fprintf(w, "help: %d, discarded: %d, crawlable: %d\n", index.HelpCount, index.Discarded, index.Total())
	return nil
}

// Serve runs the operational HTTP server until the context is canceled,
// then drains it within the shutdown timeout.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	a.logger.Info("http server stopped")
	return nil
}

// Handler exposes the API routes for embedding and tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Close flushes progress, stops the renderer and releases clients. It is
// called once after the command finishes.
func (a *App) Close(ctx context.Context) error {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		if err := a.renderer.Close(ctx); err != nil {
			a.logger.Warn("renderer close failed", zap.Error(err))
		}
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			a.logger.Warn("record store close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	return nil
}
