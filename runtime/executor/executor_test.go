package executor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/internal/telemetry"
	"github.com/opal-lang/datacube/runtime/evaluator"
	"github.com/opal-lang/datacube/runtime/gdf"
	"github.com/opal-lang/datacube/runtime/pqa"
)

const nodata = -999.0

// cloudy is a clear code with the ACCA cloud bit unset.
const cloudy = 32767 &^ (1 << pqa.CloudACCABit)

var approx = cmpopts.EquateApprox(0, 1e-12)

func plane(t *testing.T, values ...float64) *ndarray.Array {
	t.Helper()
	a, err := ndarray.New([]string{"latitude", "longitude"}, []int{2, 2}, values)
	require.NoError(t, err)
	return a
}

func addUnit(t *testing.T, src *gdf.MemorySource, id, storageType string, time float64, vars map[string]*ndarray.Array) {
	t.Helper()
	require.NoError(t, src.Add(context.Background(), gdf.StorageUnit{
		ID:          id,
		StorageType: storageType,
		Time:        time,
		Bounds:      orb.Bound{Min: orb.Point{147.0, -35.1}, Max: orb.Point{147.1, -35.0}},
		Coords:      map[string][]float64{"latitude": {-35.0, -35.1}, "longitude": {147.0, 147.1}},
		Dims:        []string{"latitude", "longitude"},
		Variables:   vars,
	}))
}

// source holds two observations of two bands plus their quality codes.
func source(t *testing.T) *gdf.MemorySource {
	src := gdf.NewMemorySource()
	addUnit(t, src, "t0", "LS5TM", 0, map[string]*ndarray.Array{
		"band_30": plane(t, 1, 1, 1, nodata),
		"band_40": plane(t, 3, 3, 3, 3),
	})
	addUnit(t, src, "t1", "LS5TM", 1, map[string]*ndarray.Array{
		"band_30": plane(t, 1, 1, 1, 1),
		"band_40": plane(t, 2, 2, 2, 2),
	})
	addUnit(t, src, "q0", "LS5TMPQ", 0, map[string]*ndarray.Array{
		"band_pixelquality": plane(t, 32767, 32767, 32767, 32767),
	})
	addUnit(t, src, "q1", "LS5TMPQ", 1, map[string]*ndarray.Array{
		"band_pixelquality": plane(t, cloudy, 32767, 32767, 32767),
	})
	return src
}

func fetch(name, storageType string, vars ...string) plan.Task {
	return plan.Task{
		Name: name,
		Kind: plan.KindGetData,
		Fetch: &plan.FetchSpec{
			StorageType: storageType,
			Dimensions: map[string]plan.Range{
				"longitude": {Lo: 147.0, Hi: 147.1},
				"latitude":  {Lo: -35.1, Hi: -35.0},
			},
			Variables: vars,
		},
		Output: plan.Output{NoDataValue: nodata},
	}
}

func ndviPlan() *plan.Plan {
	out := plan.Output{NoDataValue: nodata}
	return &plan.Plan{Version: plan.CurrentVersion, Tasks: []plan.Task{
		fetch("data", "LS5TM", "band_30", "band_40"),
		fetch("pq", "LS5TMPQ", "band_pixelquality"),
		{Name: "ndvi", Kind: plan.KindBandMath, Inputs: []string{"data"}, Function: "(band_40 - band_30) / (band_40 + band_30)", Output: out},
		{Name: "masked", Kind: plan.KindCloudMask, Inputs: []string{"ndvi"}, Mask: "pq", Output: out},
		{
			Name: "median_t", Kind: plan.KindReduction, Inputs: []string{"masked"},
			OrigFunction: "median(masked)", Dimension: []string{"time"},
			Output: plan.Output{NoDataValue: nodata, DimensionsOrder: []string{"latitude", "longitude"}},
		},
		{
			Name: "mean_xy", Kind: plan.KindReduction, Inputs: []string{"masked"},
			OrigFunction: "mean(masked)", Dimension: []string{"latitude", "longitude"},
			Output: plan.Output{NoDataValue: nodata, DimensionsOrder: []string{"time"}},
		},
	}}
}

func values(t *testing.T, x *Executor, name string) []float64 {
	t.Helper()
	e, ok := x.Entry(name)
	require.True(t, ok, "no entry %q", name)
	a := e.Array()
	require.NotNil(t, a)
	return a.Values()
}

func TestExecuteNDVIPlan(t *testing.T) {
	x := New(source(t), WithMaskPolicy(pqa.Policy{GoodValues: pqa.DefaultPolicy().GoodValues, Dilation: 0}))
	res, err := x.Execute(context.Background(), ndviPlan())
	require.NoError(t, err)
	assert.Equal(t, 6, res.TasksRun)
	assert.Empty(t, res.Skipped)
	assert.Len(t, res.Timings, 6)
	assert.NotEqual(t, [16]byte{}, [16]byte(res.RunID))

	third := 1.0 / 3
	tests := []struct {
		task string
		want []float64
	}{
		{"ndvi", []float64{0.5, 0.5, 0.5, nodata, third, third, third, third}},
		{"masked", []float64{0.5, 0.5, 0.5, nodata, nodata, third, third, third}},
		{"median_t", []float64{0.5, (0.5 + third) / 2, (0.5 + third) / 2, third}},
		{"mean_xy", []float64{0.5, third}},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, values(t, x, tt.task), approx); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}

	median, _ := x.Entry("median_t")
	assert.Equal(t, []string{"latitude", "longitude"}, median.Dimensions)
	assert.Equal(t, []string{"latitude", "longitude"}, median.Array().Dims())
	assert.NotContains(t, median.Indices, "time")
	assert.Equal(t, []float64{147.0, 147.1}, median.Indices["longitude"])

	mean, _ := x.Entry("mean_xy")
	assert.Equal(t, []string{"time"}, mean.Dimensions)
	assert.Equal(t, map[string][]float64{"time": {0, 1}}, mean.Indices)

	data, _ := x.Entry("data")
	assert.Equal(t, []string{"band_30", "band_40"}, data.Keys())
	assert.Equal(t, []string{"time", "latitude", "longitude"}, data.Dimensions)
}

func TestExecuteSequencing(t *testing.T) {
	out := plan.Output{NoDataValue: nodata}
	p := &plan.Plan{Version: plan.CurrentVersion, Tasks: []plan.Task{
		fetch("x", "LS5TM", "band_40"),
		{Name: "x2", Kind: plan.KindExpression, Inputs: []string{"x"}, Function: "x * 2", Output: out},
		{Name: "x3", Kind: plan.KindExpression, Inputs: []string{"x2", "x"}, Function: "array1 + x", Output: out},
	}}
	x := New(source(t))
	res, err := x.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TasksRun)
	assert.Equal(t, []string{"x", "x2", "x3"}, x.Names())
	assert.Equal(t, []float64{9, 9, 9, 9, 6, 6, 6, 6}, values(t, x, "x3"))

	// Re-running a plan replaces results of the same name.
	p.Tasks[1].Function = "x * 3"
	_, err = x.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 12, 12, 12, 8, 8, 8, 8}, values(t, x, "x3"))
	assert.Equal(t, 3, x.Len())
}

func TestExpressionMasksNoData(t *testing.T) {
	p := &plan.Plan{Version: plan.CurrentVersion, Tasks: []plan.Task{
		fetch("b30", "LS5TM", "band_30"),
		{Name: "e", Kind: plan.KindExpression, Inputs: []string{"b30"}, Function: "b30 + 1", Output: plan.Output{NoDataValue: nodata}},
		{Name: "total", Kind: plan.KindExpression, Inputs: []string{"b30"}, Function: "sum(b30)", Output: plan.Output{NoDataValue: nodata}},
	}}
	x := New(source(t))
	_, err := x.Execute(context.Background(), p)
	require.NoError(t, err)

	got := values(t, x, "e")
	assert.True(t, math.IsNaN(got[3]))
	assert.Equal(t, []float64{2, 2, 2}, got[:3])
	assert.Equal(t, []float64{7}, values(t, x, "total"))
}

func TestBandMathNoDataPropagation(t *testing.T) {
	p := &plan.Plan{Version: plan.CurrentVersion, Tasks: []plan.Task{
		fetch("data", "LS5TM", "band_30", "band_40"),
		// band_40 alone is never no-data, but band_30 is merged too.
		{Name: "b40", Kind: plan.KindBandMath, Inputs: []string{"data"}, Function: "band_40 * 1", Output: plan.Output{NoDataValue: nodata}},
		{Name: "ratio", Kind: plan.KindBandMath, Inputs: []string{"data"}, Function: "band_40 / (band_30 - 1)", Output: plan.Output{NoDataValue: nodata}},
	}}
	x := New(source(t))
	_, err := x.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 3, nodata, 2, 2, 2, 2}, values(t, x, "b40"))
	assert.Equal(t, []float64{
		math.Inf(1), math.Inf(1), math.Inf(1), nodata,
		math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(1),
	}, values(t, x, "ratio"))
}

func TestUnknownKinds(t *testing.T) {
	p := &plan.Plan{Version: plan.CurrentVersion, Tasks: []plan.Task{
		fetch("data", "LS5TM", "band_30"),
		{Name: "plot", Kind: "plot", Inputs: []string{"data"}},
		{Name: "cumsum", Kind: plan.KindReduction, Inputs: []string{"data"}, OrigFunction: "cumsum(data)", Dimension: []string{"time"}},
	}}

	x := New(source(t))
	res, err := x.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"plot", "cumsum"}, res.Skipped)
	assert.Equal(t, 1, res.TasksRun)
	assert.Equal(t, "skipped", res.Timings[1].Status)

	strict := New(source(t), WithStrict(true))
	_, err = strict.Execute(context.Background(), p)
	var uk *UnknownKindError
	require.True(t, errors.As(err, &uk))
	assert.Equal(t, "plot", uk.Task)
	assert.Equal(t, []string{"data"}, strict.Names())
}

func TestMissingInput(t *testing.T) {
	p := &plan.Plan{Version: plan.CurrentVersion, Tasks: []plan.Task{
		fetch("data", "LS5TM", "band_30"),
		{Name: "e", Kind: plan.KindExpression, Inputs: []string{"nope"}, Function: "nope + 1"},
		{Name: "never", Kind: plan.KindExpression, Inputs: []string{"data"}, Function: "data"},
	}}
	x := New(source(t))
	res, err := x.Execute(context.Background(), p)
	var mi *MissingInputError
	require.True(t, errors.As(err, &mi))
	assert.Equal(t, "nope", mi.Input)
	assert.Equal(t, 1, res.TasksRun)
	assert.Equal(t, []string{"data"}, x.Names())
}

func TestTaskErrors(t *testing.T) {
	tests := []struct {
		name   string
		task   plan.Task
		target any
	}{
		{
			name:   "unknown variable",
			task:   plan.Task{Name: "e", Kind: plan.KindExpression, Inputs: []string{"data"}, Function: "dta * 2"},
			target: new(*evaluator.NameError),
		},
		{
			name:   "missing storage type",
			task:   fetch("f", "LS8OLI", "band_30"),
			target: &gdf.ErrNoData,
		},
		{
			name: "bad reduction dimension",
			task: plan.Task{Name: "r", Kind: plan.KindReduction, Inputs: []string{"data"}, OrigFunction: "mean(data)",
				Dimension: []string{"band"}, Output: plan.Output{NoDataValue: nodata}},
			target: new(*ndarray.IndexError),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &plan.Plan{Version: plan.CurrentVersion, Tasks: []plan.Task{fetch("data", "LS5TM", "band_30"), tt.task}}
			_, err := New(source(t)).Execute(context.Background(), p)
			var te *TaskError
			require.True(t, errors.As(err, &te), "want *TaskError, got %T: %v", err, err)
			assert.Equal(t, tt.task.Name, te.Task)
			if sentinel, ok := tt.target.(*error); ok {
				assert.ErrorIs(t, err, *sentinel)
			} else {
				assert.ErrorAs(t, err, tt.target)
			}
		})
	}
}

func TestCacheOperations(t *testing.T) {
	x := New(source(t))
	a := plane(t, 1, 2, 3, 4)
	x.Put("a", &Entry{Result: map[string]*ndarray.Array{"z": a, "b": plane(t, 0, 0, 0, 0)}, Output: plan.Output{NoDataValue: -1}})

	e, ok := x.Entry("a")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "z"}, e.Keys())
	assert.Equal(t, []float64{0, 0, 0, 0}, e.Array().Values())

	// Entries are copies.
	e.Result["b"] = a
	e2, _ := x.Entry("a")
	assert.Equal(t, []float64{0, 0, 0, 0}, e2.Array().Values())

	assert.Equal(t, 1, x.Len())
	x.Clear()
	assert.Zero(t, x.Len())
	_, ok = x.Entry("a")
	assert.False(t, ok)
	assert.Nil(t, (&Entry{}).Array())
}

func TestTelemetry(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	x := New(source(t),
		WithTracer(tp.Tracer("test")),
		WithMetrics(metrics),
		WithDebug(DebugDetailed),
		WithParallelism(2),
		WithMaskPolicy(pqa.Policy{GoodValues: []int64{32767}, Dilation: 0}),
	)
	p := ndviPlan()
	p.Tasks = append(p.Tasks, plan.Task{Name: "plot", Kind: "plot"})
	res, err := x.Execute(context.Background(), p)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 7)
	assert.Equal(t, "datacube.task", spans[0].Name())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("reduction", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("plot", "skipped")))
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.CacheEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PlansTotal.WithLabelValues("ok")))

	require.NotEmpty(t, res.DebugEvents)
	assert.Equal(t, "enter_execute", res.DebugEvents[0].Event)
	assert.Equal(t, "exit_execute", res.DebugEvents[len(res.DebugEvents)-1].Event)
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(source(t)).Execute(ctx, ndviPlan())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.TasksRun)
}
