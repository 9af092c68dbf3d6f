// Command validate checks that cached or generated t-route blobs can be served:
// the blob imports into the query engine, carries the identifier columns and
// at least one variable, and forms a dense feature x time grid so animation
// frames can be addressed by offset.
//
// Usage:
//
//	go run ./cmd/validate data/nrds-arrow-cache/*.arrow data/mock/*.parquet
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/engine"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "time limit per file")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: validate [-timeout d] FILE...")
		os.Exit(1)
	}

	code := 0
	for _, path := range flag.Args() {
		if run(path, *timeout) != 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func run(path string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Printf("=== %s ===\n", path)

	format, err := domain.ParseFormat(filepath.Ext(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	eng, err := engine.Open(ctx, ":memory:", observability.DiscardLogger(), observability.NewMetricsForTesting())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open engine: %v\n", err)
		return 1
	}
	defer eng.Close()

	key := keyFor(path, format)
	imp := validateImport(ctx, eng, key, path)
	phases := []*phase{imp}
	if imp.passed() {
		schema, variables := validateSchema(ctx, eng, key)
		phases = append(phases, schema)
		if schema.passed() {
			phases = append(phases, validateGrid(ctx, eng, key, variables))
		}
	}

	return report(phases)
}

// keyFor derives a cache key from a file name so the engine can infer the
// table name and format.
func keyFor(path string, format domain.Format) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(base)
	return base + "_" + string(format)
}

func validateImport(ctx context.Context, eng *engine.Engine, key, path string) *phase {
	p := &phase{name: "Phase 1: Import"}
	info, err := os.Stat(path)
	if err != nil {
		p.errorf("stat: %v", err)
		return p
	}
	if info.Size() == 0 {
		p.errorf("file is empty")
		return p
	}
	start := time.Now()
	if err := eng.EnsureTable(ctx, key, path); err != nil {
		p.errorf("import: %v", err)
		return p
	}
	p.notef("imported %s as %s in %s", cache.HumanSize(info.Size()), domain.TableName(key), time.Since(start).Round(time.Millisecond))
	return p
}

func validateSchema(ctx context.Context, eng *engine.Engine, key string) (*phase, []string) {
	p := &phase{name: "Phase 2: Schema (identifiers, variables)"}

	variables, err := eng.Variables(ctx, key)
	if err != nil {
		p.errorf("variables: %v", err)
	} else if len(variables) == 0 {
		p.errorf("no variable columns besides the identifiers")
	} else {
		p.notef("variables: %s", strings.Join(variables, ", "))
	}

	ids, err := eng.DistinctFeatureIDs(ctx, key)
	switch {
	case err != nil:
		p.errorf("feature_id: %v", err)
	case len(ids) == 0:
		p.errorf("no features")
	default:
		p.notef("%d features (%d..%d)", len(ids), ids[0], ids[len(ids)-1])
	}

	times, err := eng.DistinctTimes(ctx, key)
	switch {
	case err != nil:
		p.errorf("time: %v", err)
	case len(times) == 0:
		p.errorf("no time steps")
	default:
		p.notef("%d time steps (%s .. %s)", len(times),
			times[0].Format(time.RFC3339), times[len(times)-1].Format(time.RFC3339))
	}
	return p, variables
}

func validateGrid(ctx context.Context, eng *engine.Engine, key string, variables []string) *phase {
	p := &phase{name: "Phase 3: Dense grid and values"}
	for _, v := range variables {
		flat, err := eng.FlatVariable(ctx, key, v)
		if errors.Is(err, engine.ErrSparseGrid) {
			p.errorf("%s: frames cannot be addressed by offset: %v", v, err)
			continue
		}
		if err != nil {
			p.errorf("%s: %v", v, err)
			continue
		}
		noData := 0
		for _, x := range flat {
			if domain.IsNoData(float64(x)) {
				noData++
			}
		}
		if noData == len(flat) {
			p.errorf("%s: every cell is no-data", v)
			continue
		}
		b := domain.ComputeBounds(flat)
		p.notef("%s: %d cells, range %.4g..%.4g, %d no-data", v, len(flat), b.Min, b.Max, noData)
	}
	return p
}

func report(phases []*phase) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
		for _, n := range p.notes {
			fmt.Printf("      %s\n", n)
		}
	}

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	fmt.Println()
	if allPassed {
		fmt.Println("All validations passed.")
		return 0
	}
	fmt.Println("Validation FAILED.")
	return 1
}
