package cache_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

const testKey = "cfe_nom_ngen_20240101_short_range_00_VPU_01_troute_arrow"

// --- mocks ---

type fakeSource struct {
	data  map[string][]byte
	err   error
	calls atomic.Int64
}

func (f *fakeSource) Open(_ context.Context, loc domain.Locator) (io.ReadCloser, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.data[loc.ObjectKey]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingReader) Close() error             { return nil }

type failingSource struct{}

func (failingSource) Open(context.Context, domain.Locator) (io.ReadCloser, error) {
	return failingReader{}, nil
}

func newStore(t *testing.T, src cache.Source) *cache.Store {
	t.Helper()
	s, err := cache.NewStore(t.TempDir(), src, observability.DiscardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	return s
}

func testLocator() domain.Locator {
	return domain.Locator{ObjectKey: "outputs/troute.nc", Format: domain.FormatArrow}
}

// --- tests ---

func TestStore_StatWriteRead(t *testing.T) {
	payload := []byte("arrow-stream-bytes")
	src := &fakeSource{data: map[string][]byte{"outputs/troute.nc": payload}}
	s := newStore(t, src)

	entry, err := s.Stat(testKey)
	require.NoError(t, err)
	assert.Nil(t, entry, "fresh cache has no entry")

	n, err := s.Write(context.Background(), testKey, testLocator())
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	entry, err = s.Stat(testKey)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, testKey, entry.Key)
	assert.Equal(t, int64(len(payload)), entry.SizeBytes)
	assert.Equal(t, "18 B", entry.Size)
	assert.Equal(t, domain.FormatArrow, entry.Format)

	rc, err := s.Read(testKey)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStore_FileNameIsReversible(t *testing.T) {
	src := &fakeSource{data: map[string][]byte{"outputs/troute.nc": []byte("x")}}
	s := newStore(t, src)

	_, err := s.Write(context.Background(), testKey, testLocator())
	require.NoError(t, err)

	p, err := s.Path(testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey+".arrow", filepath.Base(p))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testKey, entries[0].Key)
}

func TestStore_WriteFailureLeavesNothing(t *testing.T) {
	t.Run("source error", func(t *testing.T) {
		s := newStore(t, &fakeSource{err: errors.New("404")})
		_, err := s.Write(context.Background(), testKey, testLocator())
		require.Error(t, err)

		entry, err := s.Stat(testKey)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("broken body", func(t *testing.T) {
		s := newStore(t, failingSource{})
		_, err := s.Write(context.Background(), testKey, testLocator())
		require.Error(t, err)

		entry, err := s.Stat(testKey)
		require.NoError(t, err)
		assert.Nil(t, entry)

		dirents, err := os.ReadDir(s.Dir())
		require.NoError(t, err)
		assert.Empty(t, dirents, "partial file must be removed")
	})

	t.Run("empty body", func(t *testing.T) {
		s := newStore(t, &fakeSource{data: map[string][]byte{"outputs/troute.nc": {}}})
		_, err := s.Write(context.Background(), testKey, testLocator())
		require.Error(t, err)
	})
}

func TestStore_ReadMissing(t *testing.T) {
	s := newStore(t, &fakeSource{})
	_, err := s.Read(testKey)
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	src := &fakeSource{data: map[string][]byte{"outputs/troute.nc": []byte("x")}}
	s := newStore(t, src)
	_, err := s.Write(context.Background(), testKey, testLocator())
	require.NoError(t, err)

	ok, err := s.Delete(testKey)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListSortedAndClearKeepsIndex(t *testing.T) {
	src := &fakeSource{data: map[string][]byte{
		"a":     []byte("aa"),
		"b":     []byte("bbb"),
		"index": []byte("parquet"),
	}}
	s := newStore(t, src)
	ctx := context.Background()

	keyB := "m_d_short_range_00_VPU_02_troute_arrow"
	keyA := "m_d_short_range_00_VPU_01_troute_arrow"
	_, err := s.Write(ctx, keyB, domain.Locator{ObjectKey: "b", Format: domain.FormatArrow})
	require.NoError(t, err)
	_, err = s.Write(ctx, keyA, domain.Locator{ObjectKey: "a", Format: domain.FormatArrow})
	require.NoError(t, err)
	_, err = s.Write(ctx, domain.IndexKey, domain.Locator{ObjectKey: "index", Format: domain.FormatParquet})
	require.NoError(t, err)

	// Foreign files are ignored by List.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.IndexKey, entries[0].Key)
	assert.Equal(t, keyA, entries[1].Key)
	assert.Equal(t, keyB, entries[2].Key)
	assert.Equal(t, domain.FormatParquet, entries[0].Format)
	assert.True(t, entries[0].Reference)
	assert.False(t, entries[1].Reference)

	require.NoError(t, s.Clear())

	entries, err = s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.IndexKey, entries[0].Key)
}

func TestStore_InvalidKey(t *testing.T) {
	s := newStore(t, &fakeSource{})
	_, err := s.Stat("no_format_suffix")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestRouter(t *testing.T) {
	arrow := &fakeSource{data: map[string][]byte{"k": []byte("a")}}
	r := cache.Router{domain.FormatArrow: arrow}

	rc, err := r.Open(context.Background(), domain.Locator{ObjectKey: "k", Format: domain.FormatArrow})
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, int64(1), arrow.calls.Load())

	_, err = r.Open(context.Background(), domain.Locator{ObjectKey: "k", Format: domain.FormatParquet})
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "0 B", cache.HumanSize(-1))
	assert.Equal(t, "1.0 KiB", cache.HumanSize(1024))
	assert.Equal(t, "12 MiB", cache.HumanSize(12*1024*1024))
}
