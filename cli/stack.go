package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/internal/telemetry"
	"github.com/opal-lang/datacube/runtime/executor"
	"github.com/opal-lang/datacube/runtime/gdf"
	"github.com/opal-lang/datacube/runtime/snapshot"
)

// openSource loads storage units from dataPath into a memory source,
// indexed in the configured catalog when one is set. The returned close
// function releases the catalog.
func (a *app) openSource(ctx context.Context, dataPath string) (*gdf.MemorySource, func(), error) {
	var opts []gdf.MemoryOption
	closeFn := func() {}
	if a.cfg.Catalog.DSN != "" {
		cat, err := gdf.OpenCatalog(ctx, a.cfg.Catalog.DSN)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, gdf.WithCatalog(cat))
		closeFn = func() { _ = cat.Close() }
	}
	src := gdf.NewMemorySource(append(opts, gdf.WithSourceLogger(a.logger))...)
	if dataPath == "" {
		return src, closeFn, nil
	}

	units, err := readUnits(dataPath)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	for _, u := range units {
		if err := src.Add(ctx, u); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	a.logger.Debug("loaded storage units", "path", dataPath, "units", len(units))
	return src, closeFn, nil
}

func readUnits(path string) ([]gdf.StorageUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CLIError{Type: "io", Message: err.Error()}
	}
	defer f.Close()
	units, err := gdf.DecodeUnits(f)
	if err != nil {
		return nil, &CLIError{Type: "io", Message: fmt.Sprintf("%s: %v", path, err)}
	}
	return units, nil
}

// store returns the snapshot store selected by dir, or by config when dir
// is empty. A nil store means snapshots are off.
func (a *app) store(ctx context.Context, dir string) (snapshot.Store, error) {
	if dir == "" && a.cfg.Snapshot.RedisURL != "" {
		s, err := snapshot.NewRedisStore(ctx, a.cfg.Snapshot.RedisURL, a.cfg.Snapshot.Prefix, a.cfg.Snapshot.TTL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if dir == "" {
		dir = a.cfg.Snapshot.Dir
	}
	if dir == "" {
		return nil, nil
	}
	s, err := snapshot.NewDirStore(dir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) executor(src gdf.DataSource, strict bool, tracer trace.Tracer, metrics *telemetry.Metrics) *executor.Executor {
	opts := []executor.Option{
		executor.WithLogger(a.logger),
		executor.WithStrict(strict || a.cfg.Strict),
		executor.WithMaskPolicy(a.cfg.MaskPolicy),
		executor.WithParallelism(a.cfg.Parallelism),
	}
	if tracer != nil {
		opts = append(opts, executor.WithTracer(tracer))
	}
	if metrics != nil {
		opts = append(opts, executor.WithMetrics(metrics))
	}
	if a.debug {
		opts = append(opts, executor.WithDebug(executor.DebugDetailed))
	}
	return executor.New(src, opts...)
}

// tracing starts the configured tracer. It never fails the command: a
// broken exporter logs and falls back to no tracing.
func (a *app) tracing(ctx context.Context) *telemetry.Tracing {
	tr, err := telemetry.InitTracing(ctx, a.cfg.Tracing.Telemetry(), a.logger)
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
		tr, _ = telemetry.InitTracing(ctx, telemetry.TracingConfig{}, a.logger)
	}
	return tr
}

func newMetrics() (*prometheus.Registry, *telemetry.Metrics) {
	reg := prometheus.NewRegistry()
	return reg, telemetry.NewMetrics(reg)
}

func loadPlan(path string) (*plan.Plan, error) {
	p, err := plan.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// entryJSON is the JSON form of a cached result.
type entryJSON struct {
	Dimensions []string                  `json:"dimensions"`
	Indices    map[string][]float64      `json:"indices"`
	Output     plan.Output               `json:"output"`
	Result     map[string]*ndarray.Array `json:"result"`
}

func toJSON(e *executor.Entry) entryJSON {
	return entryJSON{Dimensions: e.Dimensions, Indices: e.Indices, Output: e.Output, Result: e.Result}
}
