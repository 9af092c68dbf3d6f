package domain

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

const (
	// Bucket is the public bucket holding DataStream outputs.
	Bucket = "ciroh-community-ngen-datastream"
	// OutputsRoot is the prefix listing the available models.
	OutputsRoot = "outputs/"
	// HydrofabricVersion is the hydrofabric directory under each model.
	HydrofabricVersion = "v2.2_hydrofabric"
	// OutputDir is the directory under a spatial unit that holds t-route files.
	OutputDir = "ngen-run/outputs/troute/"
	// OutputExtension is the only leaf extension listed for the output-file axis.
	OutputExtension = ".nc"
)

// CatalogPrefix returns the prefix whose children are the options of axis,
// given the values already selected upstream of it.
func CatalogPrefix(p Path, axis Axis) (string, error) {
	order := p.Order()
	i := indexOf(order, axis)
	if i < 0 {
		return "", fmt.Errorf("catalog prefix %s: %w", axis, ErrAxisInactive)
	}
	if axis == AxisModel {
		return OutputsRoot, nil
	}
	if !p.upstreamSet(axis) {
		return "", fmt.Errorf("catalog prefix %s: %w", axis, ErrUpstreamUnset)
	}

	var b strings.Builder
	b.WriteString(OutputsRoot)
	b.WriteString(p.Model)
	b.WriteString("/")
	b.WriteString(HydrofabricVersion)
	b.WriteString("/")
	for _, a := range order[1:i] {
		b.WriteString(p.Get(a))
		b.WriteString("/")
		if a == AxisSpatialUnit {
			b.WriteString(OutputDir)
		}
	}
	return b.String(), nil
}

// ObjectKey returns the object key of the selected output file.
func ObjectKey(p Path) (string, error) {
	if !p.Resolved() {
		return "", ErrUnresolved
	}
	dir, err := CatalogPrefix(p, AxisOutputFile)
	if err != nil {
		return "", err
	}
	return dir + p.OutputFile, nil
}

// IsOutputPrefix reports whether prefix lists leaf output files rather than
// child directories.
func IsOutputPrefix(prefix string) bool {
	return strings.HasSuffix(prefix, "/"+OutputDir)
}

// S3URI returns the s3:// URI of an object in the DataStream bucket.
func S3URI(key string) string {
	return "s3://" + Bucket + "/" + key
}

// GeopackageURI returns the hydrofabric GeoPackage for a spatial unit.
func GeopackageURI(spatialUnit string) string {
	return fmt.Sprintf("s3://%s/v2.2_resources/%s/config/nextgen_%s.gpkg", Bucket, spatialUnit, spatialUnit)
}

// DirectoryOptions turns the common prefixes returned for prefix into child
// names sorted ascending.
func DirectoryOptions(prefix string, commonPrefixes []string) []Option {
	base := prefix
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	names := make([]string, 0, len(commonPrefixes))
	for _, cp := range commonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(cp, base), "/")
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	names = slices.Compact(names)
	return toOptions(names)
}

// FileOptions keeps the object keys carrying OutputExtension and returns their
// base names sorted descending so the latest file comes first.
func FileOptions(keys []string) []Option {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, OutputExtension) {
			continue
		}
		names = append(names, path.Base(k))
	}
	slices.Sort(names)
	names = slices.Compact(names)
	slices.Reverse(names)
	return toOptions(names)
}

func toOptions(values []string) []Option {
	opts := make([]Option, len(values))
	for i, v := range values {
		opts[i] = NewOption(v)
	}
	return opts
}
