// Package pipeline runs fetch, cache, materialize, and extract for a
// fully-resolved selection. One run at a time: overlapping loads are rejected
// rather than queued.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

var (
	// ErrBusy is returned when a load is already running. It is a transient
	// notice, not a failure; the running load is not disturbed.
	ErrBusy = errors.New("a dataset is already loading")
	// ErrSuperseded is returned when a newer request for the same slot was
	// issued while this one was in flight. Its result must be ignored.
	ErrSuperseded = errors.New("request superseded by a newer one")
	// ErrNoVariables is returned for a table with no plottable columns.
	ErrNoVariables = errors.New("dataset has no variables")
	// ErrReferenceIndex is returned when asked to evict the hydrofabric index.
	ErrReferenceIndex = errors.New("the reference index cannot be evicted")
)

// FetchError reports that the data of a resolved path could not be fetched
// or imported. It is retryable and names the path that failed.
type FetchError struct {
	Key       string
	ObjectKey string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("load %s from %s: %v", e.Key, e.ObjectKey, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Engine is the query engine as seen by the pipeline.
type Engine interface {
	HasTable(ctx context.Context, name string) (bool, error)
	EnsureTable(ctx context.Context, key, path string) error
	LoadIndex(ctx context.Context, path string) error
	Variables(ctx context.Context, key string) ([]string, error)
	Timeseries(ctx context.Context, key string, featureID int64, variable string) ([]domain.Point, error)
	DropTable(ctx context.Context, key string) error
	DropAllSpatialTables(ctx context.Context) ([]string, error)
}

// Cache is the content cache as seen by the pipeline.
type Cache interface {
	Stat(key string) (*cache.Entry, error)
	Write(ctx context.Context, key string, loc domain.Locator) (int64, error)
	Path(key string) (string, error)
	Delete(key string) (bool, error)
	Clear() error
}

// EventPublisher announces cache lifecycle events. Optional.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.DatasetEvent) error
}

// Slot names a logical request stream in which only the latest request wins.
type Slot string

const (
	SlotVariable Slot = "variable"
	SlotFeature  Slot = "feature"
)

// Token identifies one request within a slot.
type Token uint64

// LoadRequest asks for the dataset of Path and, when FeatureID is non-zero,
// the series of Variable for that feature. An empty Variable picks the first.
type LoadRequest struct {
	Path      domain.Path
	FeatureID int64
	Variable  string
}

// Result is the outcome of a load.
type Result struct {
	Key       string         `json:"key"`
	Table     string         `json:"table"`
	Entry     *cache.Entry   `json:"entry,omitempty"`
	Fetched   bool           `json:"fetched"`
	Variables []string       `json:"variables"`
	Variable  string         `json:"variable"`
	Series    []domain.Point `json:"series,omitempty"`
}

// Loader orchestrates the load pipeline.
type Loader struct {
	engine    Engine
	cache     Cache
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	busy  atomic.Bool
	ready atomic.Bool

	slotsMu sync.Mutex
	slots   map[Slot]Token
}

// New creates a Loader. publisher may be nil.
func New(engine Engine, c Cache, publisher EventPublisher, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		engine:    engine,
		cache:     c,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		slots:     make(map[Slot]Token),
	}
}

// CheckReadiness returns nil once Init has completed.
func (l *Loader) CheckReadiness(_ context.Context) error {
	if !l.ready.Load() {
		return errors.New("reference index is not loaded yet")
	}
	return nil
}

// Init fetches the hydrofabric index into the cache if needed and loads it
// into the engine. An empty url skips the index.
func (l *Loader) Init(ctx context.Context, indexURL string) error {
	if indexURL == "" {
		l.ready.Store(true)
		return nil
	}
	entry, err := l.cache.Stat(domain.IndexKey)
	if err != nil {
		return err
	}
	if entry == nil {
		loc := domain.Locator{ObjectKey: indexURL, Format: domain.FormatParquet}
		if _, err := l.cache.Write(ctx, domain.IndexKey, loc); err != nil {
			return &FetchError{Key: domain.IndexKey, ObjectKey: indexURL, Err: err}
		}
	}
	p, err := l.cache.Path(domain.IndexKey)
	if err != nil {
		return err
	}
	if err := l.engine.LoadIndex(ctx, p); err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	l.ready.Store(true)
	l.logger.Info("reference index loaded", "source", indexURL)
	return nil
}

// Load runs the pipeline for req. It returns ErrBusy when another load is in
// progress.
func (l *Loader) Load(ctx context.Context, req LoadRequest) (Result, error) {
	if !l.busy.CompareAndSwap(false, true) {
		l.metrics.LoadsRejected.Inc()
		return Result{}, ErrBusy
	}
	defer l.busy.Store(false)
	l.metrics.LoadInProgress.Set(1)
	defer l.metrics.LoadInProgress.Set(0)

	ctx, span := observability.Tracer().Start(ctx, "pipeline.Load")
	defer span.End()
	start := time.Now()

	key, err := domain.CacheKey(req.Path)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("cache_key", key))

	res := Result{Key: key, Table: domain.TableName(key)}
	if err := l.ensure(ctx, req.Path, &res); err != nil {
		span.RecordError(err)
		return res, err
	}

	res.Variables, err = l.engine.Variables(ctx, key)
	if err != nil {
		return res, err
	}
	if len(res.Variables) == 0 {
		return res, fmt.Errorf("%s: %w", key, ErrNoVariables)
	}
	res.Variable = req.Variable
	if res.Variable == "" {
		res.Variable = res.Variables[0]
	}

	if req.FeatureID != 0 {
		res.Series, err = l.engine.Timeseries(ctx, key, req.FeatureID, res.Variable)
		if err != nil {
			return res, err
		}
	}

	l.metrics.LoadDuration.Observe(time.Since(start).Seconds())
	l.logger.Info("dataset loaded",
		"key", key,
		"fetched", res.Fetched,
		"variable", res.Variable,
		"points", len(res.Series),
		"duration", time.Since(start),
	)
	return res, nil
}

// ensure makes the table of the path's key exist: table check, cache stat,
// fetch on miss, then materialize. Another caller may create the table at any
// point; EnsureTable treats that as success.
func (l *Loader) ensure(ctx context.Context, p domain.Path, res *Result) error {
	exists, err := l.engine.HasTable(ctx, res.Table)
	if err != nil {
		return err
	}
	if exists {
		res.Entry, _ = l.cache.Stat(res.Key)
		return nil
	}

	loc, err := domain.LocatorFor(p)
	if err != nil {
		return err
	}

	entry, err := l.cache.Stat(res.Key)
	if err != nil {
		return err
	}
	if entry == nil {
		n, err := l.cache.Write(ctx, res.Key, loc)
		if err != nil {
			return &FetchError{Key: res.Key, ObjectKey: loc.ObjectKey, Err: err}
		}
		res.Fetched = true
		if entry, err = l.cache.Stat(res.Key); err != nil {
			return err
		}
		ev := domain.NewDatasetEvent(domain.EventCached, res.Key)
		ev.Path = &p
		ev.SizeBytes = n
		l.publish(ctx, ev)
	}
	res.Entry = entry

	blob, err := l.cache.Path(res.Key)
	if err != nil {
		return err
	}
	if err := l.engine.EnsureTable(ctx, res.Key, blob); err != nil {
		if errors.Is(err, domain.ErrUnsupportedFormat) {
			return err
		}
		// A blob that cannot be imported must not count as cached.
		if _, derr := l.cache.Delete(res.Key); derr != nil {
			l.logger.Warn("cannot discard unreadable cache entry", "key", res.Key, "error", derr)
		}
		return &FetchError{Key: res.Key, ObjectKey: loc.ObjectKey, Err: err}
	}
	return nil
}

// Issue starts a new request in slot and returns its token. Every earlier
// token of the slot stops being current.
func (l *Loader) Issue(slot Slot) Token {
	l.slotsMu.Lock()
	defer l.slotsMu.Unlock()
	l.slots[slot]++
	return l.slots[slot]
}

// Current reports whether t is still the latest token of slot.
func (l *Loader) Current(slot Slot, t Token) bool {
	l.slotsMu.Lock()
	defer l.slotsMu.Unlock()
	return l.slots[slot] == t
}

// Timeseries extracts a series for an already-loaded key after the variable or
// the feature changed. When a newer request for the same slot was issued in
// the meantime the result is dropped and ErrSuperseded is returned.
func (l *Loader) Timeseries(ctx context.Context, slot Slot, key string, featureID int64, variable string) ([]domain.Point, error) {
	token := l.Issue(slot)
	series, err := l.engine.Timeseries(ctx, key, featureID, variable)
	if !l.Current(slot, token) {
		l.metrics.StaleResponses.Inc()
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	return series, nil
}

// Evict removes one dataset: its blob and its table. Both are attempted even
// when the first fails. The reference index is refused with ErrReferenceIndex.
func (l *Loader) Evict(ctx context.Context, key string) (bool, error) {
	if domain.IsReferenceKey(key) {
		return false, fmt.Errorf("evict %s: %w", key, ErrReferenceIndex)
	}
	deleted, derr := l.cache.Delete(key)
	terr := l.engine.DropTable(ctx, key)
	if err := errors.Join(derr, terr); err != nil {
		return deleted, fmt.Errorf("evict %s: %w", key, err)
	}
	l.publish(ctx, domain.NewDatasetEvent(domain.EventEvicted, key))
	return deleted, nil
}

// Reset drops every per-path table and clears the cache. The reference index
// survives both.
func (l *Loader) Reset(ctx context.Context) error {
	dropped, terr := l.engine.DropAllSpatialTables(ctx)
	cerr := l.cache.Clear()
	if err := errors.Join(terr, cerr); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	l.logger.Info("datasets reset", "tables_dropped", len(dropped))
	l.publish(ctx, domain.NewDatasetEvent(domain.EventCleared, ""))
	return nil
}

func (l *Loader) publish(ctx context.Context, ev domain.DatasetEvent) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, ev); err != nil {
		l.logger.Warn("publish dataset event failed", "type", ev.Type, "key", ev.Key, "error", err)
	}
}
