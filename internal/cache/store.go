// Package cache persists one blob per fully-resolved selection in a single
// directory. File names are the path-escaped cache key plus the format
// extension, so the key of every entry can be recovered from the listing.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

// ErrNotFound is returned by Read for a key with no entry.
var ErrNotFound = errors.New("cache entry not found")

const tmpPrefix = ".partial-"

// Source opens the upstream data of a cache entry.
type Source interface {
	Open(ctx context.Context, loc domain.Locator) (io.ReadCloser, error)
}

// Router picks a Source by the format the locator asks for.
type Router map[domain.Format]Source

// Open implements Source.
func (r Router) Open(ctx context.Context, loc domain.Locator) (io.ReadCloser, error) {
	src, ok := r[loc.Format]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", loc.ObjectKey, domain.ErrUnsupportedFormat)
	}
	return src.Open(ctx, loc)
}

// Entry describes one cached blob.
type Entry struct {
	Key       string        `json:"key"`
	SizeBytes int64         `json:"size_bytes"`
	Size      string        `json:"size"`
	Format    domain.Format `json:"format"`
	ModTime   time.Time     `json:"mod_time"`
	// Reference marks the hydrofabric index blob, which survives Clear and
	// cannot be evicted.
	Reference bool `json:"reference"`
}

// HumanSize formats a byte count for display, e.g. "12 MiB".
func HumanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Store is a directory-backed key to blob store.
//
// Store does not deduplicate concurrent writes of the same key. Callers stat
// before writing and tolerate a second writer winning the final rename.
type Store struct {
	dir     string
	source  Source
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewStore creates the cache directory if needed and returns a Store reading
// upstream data through source.
func NewStore(dir string, source Source, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir, source: source, logger: logger, metrics: metrics}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file that holds key. The file may not exist.
func (s *Store) Path(key string) (string, error) {
	f, err := domain.FormatOf(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, fileName(key, f)), nil
}

// Stat returns the entry for key, or nil when the key is not cached.
func (s *Store) Stat(key string) (*Entry, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	s.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entryFor(key, info), nil
}

// Write fetches the upstream data for loc and persists it under key. It returns
// the number of bytes written. On failure nothing is left under key.
func (s *Store) Write(ctx context.Context, key string, loc domain.Locator) (int64, error) {
	dst, err := s.Path(key)
	if err != nil {
		return 0, err
	}

	body, err := s.source.Open(ctx, loc)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", loc.ObjectKey, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return 0, fmt.Errorf("copy %s: %w", loc.ObjectKey, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("fetch %s: empty response", loc.ObjectKey)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("commit %s: %w", key, err)
	}
	committed = true

	s.metrics.CacheBytesWritten.Add(float64(n))
	s.logger.Info("cache entry written", "key", key, "size", HumanSize(n), "object_key", loc.ObjectKey)
	return n, nil
}

// Read opens the blob stored under key. It returns ErrNotFound when absent.
func (s *Store) Read(key string) (io.ReadCloser, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the entry for key and reports whether one existed.
func (s *Store) Delete(key string) (bool, error) {
	p, err := s.Path(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	s.metrics.CacheEvictions.Inc()
	s.logger.Info("cache entry deleted", "key", key)
	return true, nil
}

// List returns every entry sorted by key.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() || strings.HasPrefix(de.Name(), tmpPrefix) {
			continue
		}
		key, ok := keyFromFileName(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		entries = append(entries, *entryFor(key, info))
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return entries, nil
}

// Clear removes every entry except the reference index blob, plus any
// leftover partial writes.
func (s *Store) Clear() error {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}
	var errs []error
	removed := 0
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		if key, ok := keyFromFileName(de.Name()); ok && domain.IsReferenceKey(key) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.metrics.CacheEvictions.Add(float64(removed))
	s.logger.Info("cache cleared", "removed", removed)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func entryFor(key string, info fs.FileInfo) *Entry {
	f, _ := domain.FormatOf(key)
	return &Entry{
		Key:       key,
		SizeBytes: info.Size(),
		Size:      HumanSize(info.Size()),
		Format:    f,
		ModTime:   info.ModTime().UTC(),
		Reference: domain.IsReferenceKey(key),
	}
}

func fileName(key string, f domain.Format) string {
	return url.PathEscape(key) + f.Ext()
}

func keyFromFileName(name string) (string, bool) {
	ext := filepath.Ext(name)
	f, err := domain.ParseFormat(ext)
	if err != nil {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, ext))
	if err != nil {
		return "", false
	}
	if got, err := domain.FormatOf(key); err != nil || got != f {
		return "", false
	}
	return key, true
}
