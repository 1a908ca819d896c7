// Package app initializes and holds the long-lived services of the crawl
// engine, acting as the composition root the CLI runs against.
package app

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mehdiyevf/turbocrawl/internal/checkpoint"
	"github.com/mehdiyevf/turbocrawl/internal/config"
	"github.com/mehdiyevf/turbocrawl/internal/crawler"
	"github.com/mehdiyevf/turbocrawl/internal/fetch"
	"github.com/mehdiyevf/turbocrawl/internal/publish"
	"github.com/mehdiyevf/turbocrawl/internal/sink"
	"github.com/mehdiyevf/turbocrawl/internal/site/turbo"
)

// App wires configuration into the fetcher, checkpoint store, sink,
// publisher, and scheduler. It is built once at startup and closed on exit.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	scheduler *crawler.Scheduler
	sink      crawler.Sink
	publisher crawler.Publisher

	headless  *fetch.HeadlessFetcher
	gcsClient *gcstorage.Client
}

// New builds the full service graph from a validated Config. It fails fast
// on any backend that cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger}

	pool, err := crawler.NewProxyPool(cfg.Proxy.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("init proxy pool: %w", err)
	}

	fetcher, err := a.buildFetcher(pool, logger)
	if err != nil {
		return nil, err
	}

	checkpoints, err := a.buildCheckpoints(ctx, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	recordSink, err := a.buildSink(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sink = recordSink

	publisher, err := a.buildPublisher(ctx, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = publisher

	var limiter *rate.Limiter
	if cfg.Crawl.RequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Crawl.RequestInterval), 1)
	}

	retry := crawler.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, pool, logger.Named("retry"))
	extractor := turbo.New(cfg.Site.BaseURL)

	discoverer := crawler.NewPageDiscoverer(fetcher, retry, pool, extractor, limiter, logger.Named("discover"))
	worker := crawler.NewItemWorker(fetcher, retry, pool, extractor, limiter, nil, logger.Named("worker"))

	a.scheduler = crawler.NewScheduler(
		crawler.SchedulerConfig{
			StartPage:       cfg.Site.StartPage,
			EndPage:         cfg.Site.EndPage,
			Concurrency:     cfg.Crawl.Concurrency,
			CheckpointEvery: cfg.Crawl.CheckpointEvery,
		},
		discoverer,
		worker,
		checkpoints,
		recordSink,
		publisher,
		nil,
		logger.Named("scheduler"),
	)

	logger.Info("application services initialized",
		zap.String("backend", cfg.HTTP.Backend),
		zap.String("checkpoint", cfg.Checkpoint.Provider),
		zap.String("sink", cfg.Sink.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.Int("proxies", pool.Size()))
	return a, nil
}

// Scheduler returns the wired crawl scheduler.
func (a *App) Scheduler() *crawler.Scheduler {
	return a.scheduler
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close shuts down every service that holds external resources.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("close sink", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
}

func (a *App) buildFetcher(pool *crawler.ProxyPool, logger *zap.Logger) (crawler.Fetcher, error) {
	fcfg := fetch.Config{
		UserAgents:   a.cfg.HTTP.UserAgents,
		Timeout:      a.cfg.HTTP.Timeout,
		InsecureTLS:  a.cfg.HTTP.InsecureSkipVerify,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}

	switch a.cfg.HTTP.Backend {
	case "http":
		return fetch.NewHTTPFetcher(fcfg, logger.Named("fetch")), nil
	case "colly":
		return fetch.NewCollyFetcher(fcfg, logger.Named("fetch")), nil
	case "headless":
		hcfg := fetch.HeadlessConfig{
			Config:            fcfg,
			MaxParallel:       a.cfg.Headless.MaxParallel,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
		}
		// Chrome pins its proxy at launch, so the browser rides the first
		// configured endpoint for the whole run.
		if ep, ok := pool.Current(); ok {
			hcfg.ProxyURL = ep.URL.String()
		}
		headless, err := fetch.NewHeadlessFetcher(hcfg, logger.Named("fetch"))
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.headless = headless
		return headless, nil
	default:
		return nil, fmt.Errorf("unknown http backend: %s", a.cfg.HTTP.Backend)
	}
}

func (a *App) buildCheckpoints(ctx context.Context, logger *zap.Logger) (crawler.CheckpointStore, error) {
	switch a.cfg.Checkpoint.Provider {
	case "file":
		store, err := checkpoint.NewFileStore(a.cfg.Checkpoint.Path, logger.Named("checkpoint"))
		if err != nil {
			return nil, fmt.Errorf("init file checkpoint store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := checkpoint.NewGCSStore(client, a.cfg.Checkpoint.Bucket, a.cfg.Checkpoint.Object, logger.Named("checkpoint"))
		if err != nil {
			return nil, fmt.Errorf("init gcs checkpoint store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint provider: %s", a.cfg.Checkpoint.Provider)
	}
}

func (a *App) buildSink(ctx context.Context) (crawler.Sink, error) {
	switch a.cfg.Sink.Provider {
	case "postgres":
		pg, err := sink.NewPostgres(ctx, sink.PostgresConfig{
			DSN:   a.cfg.Sink.DSN,
			Table: a.cfg.Sink.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure sink schema: %w", err)
		}
		return pg, nil
	case "csv":
		csvSink, err := sink.NewCSV(a.cfg.Sink.Path)
		if err != nil {
			return nil, fmt.Errorf("init csv sink: %w", err)
		}
		return csvSink, nil
	case "jsonl":
		jsonlSink, err := sink.NewJSONL(a.cfg.Sink.Path)
		if err != nil {
			return nil, fmt.Errorf("init jsonl sink: %w", err)
		}
		return jsonlSink, nil
	case "noop":
		return sink.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown sink provider: %s", a.cfg.Sink.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context, logger *zap.Logger) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Provider {
	case "noop":
		return publish.Noop{}, nil
	case "memory":
		return publish.NewMemory(), nil
	case "pubsub":
		pub, err := publish.NewPubSub(ctx, a.cfg.Publisher.ProjectID, a.cfg.Publisher.Topic, logger.Named("publish"))
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return pub, nil
	case "kafka":
		pub, err := publish.NewKafka(publish.KafkaConfig{
			Brokers: a.cfg.Publisher.Brokers,
			Topic:   a.cfg.Publisher.Topic,
		}, logger.Named("publish"))
		if err != nil {
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
}
