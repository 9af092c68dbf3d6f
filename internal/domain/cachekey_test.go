package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "cfe_nom_ngen_20240101_short_range_00_VPU_01_troute_arrow"

func shortRangePath() Path {
	return Path{
		Model:        "cfe_nom",
		Date:         "ngen.20240101",
		ForecastType: "short_range",
		Cycle:        "00",
		SpatialUnit:  "VPU_01",
		OutputFile:   "troute.nc",
	}
}

func TestCacheKey(t *testing.T) {
	key, err := CacheKey(shortRangePath())
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	again, err := CacheKey(shortRangePath())
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestCacheKey_EnsembleOnlyForMediumRange(t *testing.T) {
	p := shortRangePath()
	p.Ensemble = "1" // stale value from a previous medium_range selection
	key, err := CacheKey(p)
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	p.ForecastType = MediumRange
	key, err = CacheKey(p)
	require.NoError(t, err)
	assert.Equal(t, "cfe_nom_ngen_20240101_medium_range_00_1_VPU_01_troute_arrow", key)
}

func TestCacheKey_Unresolved(t *testing.T) {
	p := shortRangePath()
	p.OutputFile = ""
	_, err := CacheKey(p)
	require.ErrorIs(t, err, ErrUnresolved)
}

func TestCacheKey_ReplacesPathCharacters(t *testing.T) {
	p := shortRangePath()
	p.OutputFile = "sub/troute.v2.nc"
	key, err := CacheKey(p)
	require.NoError(t, err)
	assert.Equal(t, "cfe_nom_ngen_20240101_short_range_00_VPU_01_sub_troute_v2_arrow", key)
}

func TestNormalizeOutputFile(t *testing.T) {
	assert.Equal(t, "troute.arrow", NormalizeOutputFile("troute.nc"))
	assert.Equal(t, "troute.parquet", NormalizeOutputFile("troute.parquet"))
	assert.Equal(t, FormatParquet, CachedFormat("x.PARQUET"))
	assert.Equal(t, FormatArrow, CachedFormat("x.nc"))
}

func TestFormatOfAndTableName(t *testing.T) {
	f, err := FormatOf(testKey)
	require.NoError(t, err)
	assert.Equal(t, FormatArrow, f)
	assert.Equal(t, "cfe_nom_ngen_20240101_short_range_00_VPU_01_troute", TableName(testKey))

	f, err = FormatOf(IndexKey)
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)
	assert.Equal(t, IndexTable, TableName(IndexKey))

	_, err = FormatOf("something_csv")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, "something_csv", TableName("something_csv"))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(".arrow")
	require.NoError(t, err)
	assert.Equal(t, FormatArrow, f)

	_, err = ParseFormat("csv")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIsSpatialTable(t *testing.T) {
	assert.True(t, IsSpatialTable(TableName(testKey)))
	assert.False(t, IsSpatialTable(IndexTable))
	assert.False(t, IsSpatialTable("other"))
}

func TestSpatialUnitFor(t *testing.T) {
	assert.Equal(t, "VPU_01", SpatialUnitFor("01"))
	assert.Equal(t, "VPU_03W", SpatialUnitFor("VPU_03W"))
	assert.Empty(t, SpatialUnitFor(""))
}

func TestIsReferenceKey(t *testing.T) {
	assert.True(t, IsReferenceKey(IndexKey))
	assert.True(t, IsReferenceKey(IndexTable))
	assert.True(t, IsReferenceKey("index_data_table_arrow"))
	assert.False(t, IsReferenceKey(testKey))
}

func TestLocatorFor(t *testing.T) {
	loc, err := LocatorFor(shortRangePath())
	require.NoError(t, err)
	assert.Equal(t, "outputs/cfe_nom/v2.2_hydrofabric/ngen.20240101/short_range/00/VPU_01/ngen-run/outputs/troute/troute.nc", loc.ObjectKey)
	assert.Equal(t, "s3://ciroh-community-ngen-datastream/v2.2_resources/VPU_01/config/nextgen_VPU_01.gpkg", loc.Geopackage)
	assert.Equal(t, FormatArrow, loc.Format)
}
