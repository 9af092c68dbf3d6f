// Package domain models the NextGen Research DataStream output hierarchy and
// the pure rules the explorer applies to it.
//
// # Data Source
//
// Forecast outputs live in the public bucket ciroh-community-ngen-datastream.
// Every t-route output file sits at a fixed depth below the outputs/ root:
//
//	outputs/{model}/v2.2_hydrofabric/{date}/{forecastType}/{cycle}/[{ensemble}/]{vpu}/ngen-run/outputs/troute/{file}.nc
//
// for example
//
//	outputs/cfe_nom/v2.2_hydrofabric/ngen.20240101/short_range/00/VPU_01/ngen-run/outputs/troute/troute_202401010000.nc
//
// The ensemble directory only exists for medium_range forecasts. Dates carry an
// "ngen." prefix, cycles are two-digit hours, and spatial units are vector
// processing units named VPU_{nn}.
//
// # Selection
//
// A [Path] holds one value per [Axis]. The axis order is fixed except that
// [AxisEnsemble] is spliced in after [AxisCycle] when the forecast type is
// medium_range. Transitions are pure: [Apply] and [ResetFrom] return a new
// [State] and never touch the receiver. Setting an axis clears every axis after
// it, including its option set. The model option set is never cleared.
//
// # Cached Representation
//
// NetCDF outputs are converted upstream into an Arrow IPC stream before they
// are cached, so a path ending in troute.nc yields a cache key ending in
// _troute_arrow. Keys replace "." and "/" with "_" and are therefore valid
// SQL identifiers once the format suffix is stripped (see [TableName]).
//
// # Flattened Variables
//
// Converted tables are long-format rows of (feature_id, time, variables...).
// A flattened variable array holds one value per (feature, time) pair and is
// addressed as featureIndex*numTimes + timeIndex. Values at or below
// [SentinelThreshold] mean "no data" and are ignored by [ComputeBounds].
package domain
