// Package app wires the sink worker together and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"kafkasink/internal/config"
	"kafkasink/internal/handlers"
	"kafkasink/internal/kafka"
	"kafkasink/internal/logger"
	"kafkasink/internal/processor"
	"kafkasink/internal/state"
	"kafkasink/internal/storage"
	"kafkasink/internal/streams"
	"kafkasink/internal/worker"
)

const statsInterval = 30 * time.Second

// App is the high-level coordinator for consuming, converting and staging.
type App struct {
	cfg *config.Config

	catalog    state.Store
	registry   *streams.Registry
	store      *storage.LocalStore
	processor  *processor.SinkProcessor
	consumer   *kafka.Consumer
	worker     *worker.Worker
	httpServer *http.Server
}

// New constructs an App with given config.
func New(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Run starts the consumer and the admin server and blocks until ctx is
// cancelled or one of them fails. Partitions are drained before returning.
func (a *App) Run(ctx context.Context) error {
	log := logger.WithComponent("app")
	log.Info().Msg("sink worker starting")

	if err := a.initCatalog(ctx); err != nil {
		return fmt.Errorf("failed to initialize stream catalog: %w", err)
	}
	if err := a.initStorage(ctx); err != nil {
		a.catalog.Close()
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := a.initConsumer(); err != nil {
		a.closeStorage()
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	a.initWorker()
	a.initHTTPServer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.consumer.Run(gctx, a.worker)
	})

	g.Go(func() error {
		log.Info().Str("addr", a.httpServer.Addr).Msg("starting HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("stopping HTTP server")
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		return nil
	})

	g.Go(func() error {
		a.reportStats(gctx)
		return nil
	})

	g.Go(func() error {
		a.store.Run(gctx, a.cfg.Storage.UploadInterval)
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		log.Info().Msg("shutdown signal received")
	}
	return errors.Join(err, a.shutdown())
}

// initCatalog opens the stream metadata store and loads the registry
func (a *App) initCatalog(ctx context.Context) error {
	log := logger.WithComponent("app")

	if path := a.cfg.Streams.CatalogPath; path != "" {
		store, err := state.NewPebbleStore(path)
		if err != nil {
			return err
		}
		a.catalog = store
		log.Info().Str("path", path).Msg("pebble stream catalog opened")
	} else {
		a.catalog = state.NewMemoryStore()
		log.Warn().Msg("stream catalog is in memory, stream metadata will not survive restarts")
	}

	registry, err := streams.NewRegistry(ctx, a.catalog)
	if err != nil {
		a.catalog.Close()
		return err
	}
	a.registry = registry
	return nil
}

// initStorage creates the staging store, recovers unfinished segments and
// builds the processor on top of it
func (a *App) initStorage(ctx context.Context) error {
	log := logger.WithComponent("app")
	sc := a.cfg.Storage

	opts := storage.Options{
		Dir:               sc.Dir,
		MaxSegmentRows:    sc.MaxSegmentRows,
		SyncWrites:        sc.SyncWrites,
		MaxSegmentAge:     sc.MaxSegmentAge,
		UploadPrefix:      sc.S3.Prefix,
		DeleteAfterUpload: sc.S3.DeleteAfterUpload,
	}
	if sc.S3.Enabled {
		uploader, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:       sc.S3.Bucket,
			Region:       sc.S3.Region,
			Endpoint:     sc.S3.Endpoint,
			UsePathStyle: sc.S3.UsePathStyle,
		})
		if err != nil {
			return err
		}
		opts.Uploader = uploader
		log.Info().Str("bucket", sc.S3.Bucket).Msg("s3 uploader initialized")
	}

	store, err := storage.NewLocalStore(opts, a.registry)
	if err != nil {
		return err
	}
	if _, err := store.Recover(ctx); err != nil {
		return err
	}
	a.store = store

	a.processor = processor.NewSinkProcessor(processor.Config{
		Provisioner: a.registry,
		Store:       a.store,
		StreamFor:   streams.Mapping(a.cfg.Streams.Mapping).StreamFor,
	})

	log.Info().Str("dir", sc.Dir).Int64("max_segment_rows", sc.MaxSegmentRows).Msg("staging store initialized")
	return nil
}

func (a *App) initConsumer() error {
	consumer, err := kafka.NewConsumer(a.cfg.Kafka)
	if err != nil {
		return err
	}
	a.consumer = consumer
	log := logger.WithComponent("app")
	log.Info().
		Strs("brokers", a.cfg.Kafka.Brokers).
		Str("topic", a.cfg.Kafka.Topic).
		Str("group_id", a.cfg.Kafka.GroupID).
		Msg("kafka consumer initialized")
	return nil
}

func (a *App) initWorker() {
	bc := a.cfg.Batch
	a.worker = worker.New(worker.Config{
		Processor:    a.processor,
		Committer:    a.consumer,
		MaxBatchSize: bc.MaxSize,
		MaxBatchWait: bc.MaxWait,
		MaxInFlight:  bc.MaxInFlight,
		CommitPolicy: worker.CommitPolicy(bc.CommitPolicy),
		CommitOrder:  worker.CommitOrder(bc.CommitOrder),
	})
	log := logger.WithComponent("app")
	log.Info().
		Int("max_batch_size", bc.MaxSize).
		Dur("max_batch_wait", bc.MaxWait).
		Int("max_in_flight", bc.MaxInFlight).
		Str("commit_policy", bc.CommitPolicy).
		Str("commit_order", bc.CommitOrder).
		Msg("partition worker initialized")
}

func (a *App) initHTTPServer() {
	admin := handlers.NewAdminHandler(handlers.AdminConfig{
		Worker:       a.worker,
		Streams:      a.registry,
		Healthy:      a.consumer.Running,
		OpenSegments: a.store.OpenSegments,
	})

	hc := a.cfg.HTTP
	a.httpServer = &http.Server{
		Addr:         hc.Addr,
		Handler:      admin.Routes(),
		ReadTimeout:  hc.ReadTimeout,
		WriteTimeout: hc.WriteTimeout,
		IdleTimeout:  hc.IdleTimeout,
	}
}

// shutdown releases what Run opened. Partitions are already drained.
func (a *App) shutdown() error {
	log := logger.WithComponent("app")
	log.Info().Msg("initiating graceful shutdown")

	var errs []error
	if err := a.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close consumer: %w", err))
	}
	if err := a.closeStorage(); err != nil {
		errs = append(errs, err)
	}

	stats := a.worker.Stats()
	log.Info().
		Uint64("batches", stats.BatchesProcessed).
		Uint64("batches_failed", stats.BatchesFailed).
		Uint64("commits", stats.CommitsSucceeded).
		Msg("sink worker stopped")
	return errors.Join(errs...)
}

func (a *App) closeStorage() error {
	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close staging store: %w", err))
	}
	if err := a.catalog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream catalog: %w", err))
	}
	return errors.Join(errs...)
}

// reportStats periodically logs statistics
func (a *App) reportStats(ctx context.Context) {
	log := logger.WithComponent("app")
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.worker.Stats()
			log.Info().
				Uint64("batches", stats.BatchesProcessed).
				Uint64("batches_failed", stats.BatchesFailed).
				Uint64("records", stats.Records).
				Uint64("commits", stats.CommitsSucceeded).
				Uint64("commits_failed", stats.CommitsFailed).
				Uint64("commits_withheld", stats.CommitsWithheld).
				Int("partitions", len(a.worker.Partitions())).
				Int("open_segments", a.store.OpenSegments()).
				Int("streams", len(a.registry.List())).
				Msg("stats")
		}
	}
}
