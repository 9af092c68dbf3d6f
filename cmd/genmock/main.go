// Command genmock writes synthetic t-route datasets for local runs: a dense
// feature x time table in the layout the NetCDF converter produces, and
// optionally a matching hydrofabric index. Values encode their position
// (variable*1000 + feature*10 + time) so a rendered series is easy to check.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/cfe_nom_ngen_20240101_short_range_00_VPU_01_troute.arrow \
//	  -features 50 -times 18 \
//	  -index-out data/mock/hydrofabric_index.parquet
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/memory"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/troute"
)

type options struct {
	out      string
	indexOut string
	features int
	times    int
	firstID  int64
	start    string
	vpu      string
	sparse   int
	format   string
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var o options
	flag.StringVar(&o.out, "out", "", "output path; the extension picks the format (.arrow or .parquet)")
	flag.StringVar(&o.indexOut, "index-out", "", "optional output path for a hydrofabric index parquet")
	flag.IntVar(&o.features, "features", 20, "number of flowpaths")
	flag.IntVar(&o.times, "times", 18, "number of hourly time steps")
	flag.Int64Var(&o.firstID, "first-id", 2855078, "id of the first flowpath")
	flag.StringVar(&o.start, "start", "2024-01-01T01:00:00Z", "first valid time (RFC3339)")
	flag.StringVar(&o.vpu, "vpu", "01", "VPU id written to the index")
	flag.IntVar(&o.sparse, "sparse", 0, "drop every n-th row to produce a sparse table (0 keeps all)")
	flag.StringVar(&o.format, "format", "", "force the format (arrow or parquet)")
	flag.Parse()

	if o.out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if o.features < 1 || o.times < 1 {
		return fmt.Errorf("-features and -times must be positive")
	}

	start, err := time.Parse(time.RFC3339, o.start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	formatName := o.format
	if formatName == "" {
		formatName = filepath.Ext(o.out)
	}
	format, err := domain.ParseFormat(formatName)
	if err != nil {
		return err
	}

	grid := troute.NewGrid(o.firstID, o.features, o.times, start)
	grid.Value = waveValue(grid)
	if o.sparse > 0 {
		n := o.sparse
		grid.Skip = func(f, t int) bool { return (f*o.times+t)%n == n-1 }
	}

	rec := grid.Record(memory.DefaultAllocator)
	defer rec.Release()
	if err := writeFile(o.out, format, rec); err != nil {
		return err
	}
	log.Printf("%s: %d features x %d times, %d rows (%s)", o.out, o.features, o.times, rec.NumRows(), format)

	if o.indexOut == "" {
		return nil
	}
	idx := troute.IndexRecord(memory.DefaultAllocator, indexFeatures(grid, o.vpu))
	defer idx.Release()
	if err := writeFile(o.indexOut, domain.FormatParquet, idx); err != nil {
		return err
	}
	log.Printf("%s: %d index features", o.indexOut, idx.NumRows())
	return nil
}

// waveValue gives each feature a diurnal flow curve with a per-feature phase,
// so animations show movement. Nudge is left at zero.
func waveValue(g troute.Grid) func(variable string, f, t int) float32 {
	return func(variable string, f, t int) float32 {
		base := 5 + float64(f%7)
		wave := math.Sin(2 * math.Pi * float64(t+f) / 24)
		flow := base * (1.5 + wave)
		switch variable {
		case "flow":
			return float32(flow)
		case "velocity":
			return float32(0.2 + 0.05*flow)
		case "depth":
			return float32(0.1 + 0.02*flow)
		case "nudge":
			return 0
		}
		return g.DefaultValue(variable, f, t)
	}
}

func indexFeatures(g troute.Grid, vpu string) []troute.Feature {
	out := make([]troute.Feature, len(g.FeatureIDs))
	for i, id := range g.FeatureIDs {
		next := fmt.Sprintf("nex-%d", id+1)
		out[i] = troute.Feature{
			ID:        fmt.Sprintf("wb-%d", id),
			VPU:       vpu,
			DivideID:  fmt.Sprintf("cat-%d", id),
			ToID:      next,
			AreaSqKm:  1 + float64(i%5)*0.75,
			LengthKm:  0.5 + float64(i%3)*0.4,
			HasFlowln: true,
		}
	}
	return out
}

func writeFile(path string, format domain.Format, rec arrow.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := troute.Write(f, format, rec); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
