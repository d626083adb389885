package container

import (
	"context"
	"fmt"
	"net/http"

	"go-analysis-console/internal/apiclient"
	"go-analysis-console/internal/blobsource"
	"go-analysis-console/internal/config"
	"go-analysis-console/internal/dispatcher"
	"go-analysis-console/internal/history"
	"go-analysis-console/internal/logger"
	"go-analysis-console/internal/observer"
	"go-analysis-console/internal/preview"
	"go-analysis-console/internal/session"
	"go-analysis-console/internal/transport"
	"go-analysis-console/internal/workerpool"
)

// Container holds all application dependencies
type Container struct {
	config     *config.Config
	client     *apiclient.Client
	pool       *workerpool.WorkerPool
	events     *observer.EventPublisher
	metrics    *observer.MetricsObserver
	previews   *preview.Manager
	dispatcher *dispatcher.Dispatcher
	history    *history.Synchronizer
	session    *session.Session
	blobs      *blobsource.Source
	handler    http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := apiclient.New(cfg.APIBaseURL, cfg.RequestTimeout)

	pool := workerpool.NewWorkerPool(cfg.Workers)
	pool.Start()

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	syncer := history.New(client, pool, cfg.HistoryLimit, events)
	events.Subscribe(syncer)

	previews := preview.NewManager("/preview/")
	disp := dispatcher.New(client, events, cfg.AnalysisTimeout)
	sess := session.New(session.Options{
		Previews:          previews,
		Dispatcher:        disp,
		History:           syncer,
		Models:            client,
		DefaultModel:      cfg.DefaultModel,
		DefaultConfidence: cfg.DefaultConfidence,
		DefaultTopK:       cfg.DefaultTopK,
		ResultImagePrefix: "/results/image/",
	})

	var blobs *blobsource.Source
	if cfg.Azure.Enabled() {
		downloader, err := blobsource.NewAzureDownloader(cfg.Azure.AccountName, cfg.Azure.AccountKey, cfg.Azure.ServiceURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
		}
		blobs = blobsource.New(downloader, cfg.MaxUploadSize)
	}

	handler := transport.NewHandler(transport.Dependencies{
		Session:        sess,
		Previews:       previews,
		Images:         client,
		Blobs:          blobs,
		Metrics:        metrics,
		Pool:           pool,
		MaxUploadSize:  cfg.MaxUploadSize,
		RequestTimeout: cfg.RequestTimeout,
		SyncTimeout:    cfg.SyncTimeout,
	})

	return &Container{
		config:     cfg,
		client:     client,
		pool:       pool,
		events:     events,
		metrics:    metrics,
		previews:   previews,
		dispatcher: disp,
		history:    syncer,
		session:    sess,
		blobs:      blobs,
		handler:    handler,
	}, nil
}

// Start loads the model catalog and the first history view. Failures are
// kept on the session and logged; the console still starts.
func (c *Container) Start(ctx context.Context) {
	modelsCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	if err := c.session.LoadModels(modelsCtx); err != nil {
		logger.WithError(err).Warn("Model catalog unavailable at startup")
	}

	syncCtx, cancelSync := context.WithTimeout(ctx, c.config.SyncTimeout)
	defer cancelSync()
	if _, err := c.history.Refresh(syncCtx); err != nil {
		logger.WithError(err).Warn("Initial history sync failed")
	}
}

// Close stops background workers.
func (c *Container) Close() {
	c.dispatcher.Reset()
	c.pool.Close()
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) Session() *session.Session {
	return c.session
}
