// Package badger keeps catalog listings in BadgerDB so repeated drill-downs do
// not hit the object store. Entries expire after a TTL; the bucket gains new
// dates every day.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

const keyPrefix = "listing:"

// Lister is the catalog being cached.
type Lister interface {
	List(ctx context.Context, prefix string) ([]domain.Option, error)
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the listing database in dir, or an in-memory one when dir is empty.
func Open(dir string, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create listing cache dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open listing cache: %w", err)
	}
	return db, nil
}

// CachedLister decorates a Lister with a BadgerDB cache.
type CachedLister struct {
	inner   Lister
	db      *badger.DB
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedLister wraps inner. Entries live for ttl.
func NewCachedLister(inner Lister, db *badger.DB, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedLister {
	return &CachedLister{inner: inner, db: db, ttl: ttl, logger: logger, metrics: metrics}
}

// List serves prefix from the cache or from the inner lister.
func (c *CachedLister) List(ctx context.Context, prefix string) ([]domain.Option, error) {
	key := []byte(keyPrefix + prefix)

	opts, ok, err := c.get(key)
	if err != nil {
		c.logger.Warn("listing cache read failed", "prefix", prefix, "error", err)
	}
	if ok {
		c.metrics.ListingCache.WithLabelValues("hit").Inc()
		return opts, nil
	}
	c.metrics.ListingCache.WithLabelValues("miss").Inc()

	opts, err = c.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty listings so a prefix that is still being written
	// shows up on the next request.
	if len(opts) > 0 {
		if err := c.put(key, opts); err != nil {
			c.logger.Warn("listing cache write failed", "prefix", prefix, "error", err)
		}
	}
	return opts, nil
}

// Purge drops every cached listing.
func (c *CachedLister) Purge() error {
	if err := c.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("purge listing cache: %w", err)
	}
	return nil
}

func (c *CachedLister) get(key []byte) ([]domain.Option, bool, error) {
	var opts []domain.Option
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &opts)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return opts, true, nil
}

func (c *CachedLister) put(key []byte, opts []domain.Option) error {
	val, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, val).WithTTL(c.ttl))
	})
}
