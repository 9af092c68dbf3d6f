package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/adapter/badger"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/adapter/converter"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/adapter/gcs"
	kafkaadapter "github.com/couchcryptid/ngen-datastream-explorer/internal/adapter/kafka"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/adapter/s3"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/animation"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/config"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/engine"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/pipeline"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/resolver"
)

// objectSource lists the catalog and opens raw objects.
type objectSource interface {
	resolver.Lister
	cache.Source
}

// app holds every wired component of one process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	engine   *engine.Engine
	store    *cache.Store
	listings *badger.CachedLister
	loader   *pipeline.Loader
	resolver *resolver.Resolver
	frames   *animation.Frames

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics}
	if err := a.wire(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	objects, err := a.objectSource(ctx)
	if err != nil {
		return err
	}

	var lister resolver.Lister = objects
	if cfg.ListingCacheDir != "" {
		db, err := badger.Open(cfg.ListingCacheDir, a.logger)
		if err != nil {
			return err
		}
		a.onClose(db.Close)
		a.listings = badger.NewCachedLister(objects, db, cfg.ListingCacheTTL, a.logger, a.metrics)
		lister = a.listings
		a.logger.Info("listing cache enabled", "dir", cfg.ListingCacheDir, "ttl", cfg.ListingCacheTTL)
	}

	conv := converter.NewClient(cfg.ConverterURL, cfg.ConverterTimeout, a.logger)
	a.store, err = cache.NewStore(cfg.CacheDir, cache.Router{
		domain.FormatArrow:   conv,
		domain.FormatParquet: objects,
	}, a.logger, a.metrics)
	if err != nil {
		return err
	}

	if cfg.EngineDSN == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.EnginePath), 0o755); err != nil {
			return fmt.Errorf("create engine dir: %w", err)
		}
	}
	a.engine, err = engine.Shared(ctx, cfg.EngineSource(), a.logger, a.metrics)
	if err != nil {
		return err
	}
	a.onClose(a.engine.Close)

	var publisher pipeline.EventPublisher
	if cfg.KafkaEnabled {
		p := kafkaadapter.NewPublisher(cfg, a.logger)
		a.onClose(p.Close)
		publisher = p
		a.logger.Info("dataset events enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	a.loader = pipeline.New(a.engine, a.store, publisher, a.logger, a.metrics)
	a.resolver = resolver.New(lister, a.logger, a.metrics)
	a.frames = animation.New(a.engine, cfg.ResidentVariables, a.logger, a.metrics)
	return nil
}

func (a *app) objectSource(ctx context.Context) (objectSource, error) {
	switch a.cfg.CatalogBackend {
	case config.BackendGCS:
		c, err := gcs.NewClient(ctx, a.cfg.GCSBucket, a.cfg.GCSCredentials, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(c.Close)
		a.logger.Info("catalog backend", "backend", "gcs", "bucket", a.cfg.GCSBucket)
		return c, nil
	case config.BackendS3:
		a.logger.Info("catalog backend", "backend", "s3", "base_url", a.cfg.S3BaseURL())
		return s3.NewClient(a.cfg.S3BaseURL(), a.cfg.CatalogTimeout, a.cfg.CatalogRateLimit, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", a.cfg.CatalogBackend)
	}
}

// indexURL is the reference index location, empty when disabled.
func (a *app) indexURL() string {
	if !a.cfg.IndexEnabled {
		return ""
	}
	return a.cfg.IndexParquetURL
}

// purgeListings drops cached listings; a no-op without a listing cache.
func (a *app) purgeListings() error {
	if a.listings == nil {
		return nil
	}
	return a.listings.Purge()
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases components in reverse order of creation.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
