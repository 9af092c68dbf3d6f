package domain

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrUnsupportedFormat is returned for a cached representation the engine
// cannot import.
var ErrUnsupportedFormat = errors.New("unsupported data format")

// Format is the on-disk representation of a cached dataset.
type Format string

const (
	// FormatArrow is an Arrow IPC stream, imported row batch by row batch.
	FormatArrow Format = "arrow"
	// FormatParquet is a Parquet file, scanned from disk.
	FormatParquet Format = "parquet"
)

// Ext returns the file extension of the format including the dot.
func (f Format) Ext() string { return "." + string(f) }

// ParseFormat parses a format name or extension.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case string(FormatArrow):
		return FormatArrow, nil
	case string(FormatParquet):
		return FormatParquet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

const (
	// IndexTable is the reference table of hydrofabric features. It is never
	// evicted and is excluded from DropAll.
	IndexTable = "index_data_table"
	// IndexKey is the cache key of the blob the index table is built from.
	IndexKey = IndexTable + "_parquet"
	// spatialMarker identifies per-path tables for DropAll.
	spatialMarker = "VPU_"
)

// CachedFormat returns the representation an output file is cached as.
// NetCDF sources go through the converter and arrive as Arrow streams.
func CachedFormat(outputFile string) Format {
	if strings.EqualFold(path.Ext(outputFile), FormatParquet.Ext()) {
		return FormatParquet
	}
	return FormatArrow
}

// NormalizeOutputFile rewrites the source extension to the cached one so the
// key names the cached representation, e.g. troute.nc becomes troute.arrow.
func NormalizeOutputFile(outputFile string) string {
	ext := path.Ext(outputFile)
	return strings.TrimSuffix(outputFile, ext) + CachedFormat(outputFile).Ext()
}

var keyReplacer = strings.NewReplacer(".", "_", "/", "_")

// CacheKey derives the cache key of a fully-resolved path:
//
//	{model}_{date}_{forecastType}_{cycle}[_{ensemble}]_{spatialUnit}_{outputFile}
//
// with "." and "/" replaced by "_" and the output file extension normalized.
func CacheKey(p Path) (string, error) {
	if !p.Resolved() {
		return "", ErrUnresolved
	}
	parts := make([]string, 0, len(allAxes))
	for _, a := range p.Order() {
		v := p.Get(a)
		if a == AxisOutputFile {
			v = NormalizeOutputFile(v)
		}
		parts = append(parts, v)
	}
	return keyReplacer.Replace(strings.Join(parts, "_")), nil
}

// FormatOf returns the format encoded in a cache key's suffix.
func FormatOf(key string) (Format, error) {
	for _, f := range []Format{FormatArrow, FormatParquet} {
		if strings.HasSuffix(key, "_"+string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: key %q", ErrUnsupportedFormat, key)
}

// TableName strips the format suffix from a cache key.
func TableName(key string) string {
	if f, err := FormatOf(key); err == nil {
		return strings.TrimSuffix(key, "_"+string(f))
	}
	return key
}

// SpatialUnitFor returns the spatial unit value of a hydrofabric vpuid, so
// "01" becomes "VPU_01". Values that already carry the prefix are kept.
func SpatialUnitFor(vpuid string) string {
	if vpuid == "" || strings.HasPrefix(vpuid, spatialMarker) {
		return vpuid
	}
	return spatialMarker + vpuid
}

// IsReferenceKey reports whether key names the hydrofabric index, either as
// its cache key or its table name. The index is never evicted.
func IsReferenceKey(key string) bool {
	return TableName(key) == IndexTable
}

// IsSpatialTable reports whether a table belongs to a per-path dataset and is
// therefore removed by DropAll.
func IsSpatialTable(name string) bool {
	return name != IndexTable && strings.Contains(name, spatialMarker)
}

// Locator tells a source where the data of a cache entry comes from.
type Locator struct {
	// ObjectKey is the object key in the catalog bucket, or an absolute
	// http(s) URL for data hosted elsewhere.
	ObjectKey string `json:"object_key"`
	// Geopackage is the hydrofabric used to attach identifiers during
	// conversion. Empty for sources that need no conversion.
	Geopackage string `json:"geopackage,omitempty"`
	// Format is the representation the source delivers.
	Format Format `json:"format"`
}

// LocatorFor builds the locator of a fully-resolved path.
func LocatorFor(p Path) (Locator, error) {
	key, err := ObjectKey(p)
	if err != nil {
		return Locator{}, err
	}
	return Locator{
		ObjectKey:  key,
		Geopackage: GeopackageURI(p.SpatialUnit),
		Format:     CachedFormat(p.OutputFile),
	}, nil
}
