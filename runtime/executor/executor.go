// Package executor runs plans task by task, caching each task's result
// under its name for later tasks to read.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opal-lang/datacube/core/invariant"
	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/internal/telemetry"
	"github.com/opal-lang/datacube/runtime/bandmath"
	"github.com/opal-lang/datacube/runtime/compiler"
	"github.com/opal-lang/datacube/runtime/gdf"
	"github.com/opal-lang/datacube/runtime/pqa"
)

// DebugLevel controls debug event recording (development only).
type DebugLevel int

const (
	DebugOff      DebugLevel = iota // No debug events (default)
	DebugTasks                      // Task entry/exit
	DebugDetailed                   // Plus inputs and result shapes
)

// Result summarises one Execute call.
type Result struct {
	RunID       uuid.UUID
	Duration    time.Duration
	TasksRun    int
	Skipped     []string
	Timings     []TaskTiming
	DebugEvents []DebugEvent // nil unless WithDebug
}

// TaskTiming holds the run time of one task.
type TaskTiming struct {
	Task     string
	Kind     plan.Kind
	Duration time.Duration
	Status   string // "ok", "error", "skipped"
}

// DebugEvent is a debug trace event.
type DebugEvent struct {
	Timestamp time.Time
	Event     string // "enter_execute", "task_start", "task_complete", ...
	Task      string
	Context   string
}

// Executor runs plans against a data source and keeps every task result.
type Executor struct {
	source      gdf.DataSource
	logger      *slog.Logger
	strict      bool
	policy      pqa.Policy
	parallelism int
	tracer      trace.Tracer
	metrics     *telemetry.Metrics
	debug       DebugLevel

	programs *compiler.Cache
	bandmath *bandmath.Evaluator

	// run serialises Execute calls so tasks of one plan never interleave
	// with another's.
	run sync.Mutex

	mu    sync.RWMutex
	cache map[string]*Entry
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithStrict turns skipped tasks into errors.
func WithStrict(on bool) Option {
	return func(x *Executor) { x.strict = on }
}

// WithMaskPolicy sets the quality policy of cloud_mask tasks and of
// expression auto-extraction.
func WithMaskPolicy(p pqa.Policy) Option {
	return func(x *Executor) { x.policy = p }
}

// WithParallelism bounds the goroutines of two-axis reductions.
func WithParallelism(n int) Option {
	return func(x *Executor) { x.parallelism = n }
}

// WithTracer records a span per task.
func WithTracer(t trace.Tracer) Option {
	return func(x *Executor) { x.tracer = t }
}

// WithMetrics records task counts, durations and the cache size.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(x *Executor) { x.metrics = m }
}

// WithDebug records debug events in each Result.
func WithDebug(level DebugLevel) Option {
	return func(x *Executor) { x.debug = level }
}

// New returns an executor with an empty cache.
func New(source gdf.DataSource, opts ...Option) *Executor {
	invariant.NotNil(source, "source")

	x := &Executor{
		source:      source,
		logger:      slog.Default(),
		policy:      pqa.DefaultPolicy(),
		parallelism: runtime.GOMAXPROCS(0),
		tracer:      noop.NewTracerProvider().Tracer(telemetry.TracerName),
		programs:    compiler.NewCache(),
		bandmath:    bandmath.NewEvaluator(),
		cache:       map[string]*Entry{},
	}
	for _, opt := range opts {
		opt(x)
	}

	invariant.Postcondition(x.parallelism >= 1, "parallelism must be at least 1, got %d", x.parallelism)
	return x
}

// Execute runs the tasks of p in order. A task's result replaces any
// cached result of the same name. The first failing task stops the run;
// results of earlier tasks stay cached. The returned Result is non-nil
// even on error.
func (x *Executor) Execute(ctx context.Context, p *plan.Plan) (*Result, error) {
	invariant.NotNil(p, "plan")

	x.run.Lock()
	defer x.run.Unlock()

	start := time.Now()
	res := &Result{RunID: uuid.New()}
	if x.debug >= DebugTasks {
		res.DebugEvents = []DebugEvent{}
	}
	logger := x.logger.With("run_id", res.RunID.String())
	x.record(res, DebugTasks, "enter_execute", "", fmt.Sprintf("tasks=%d", len(p.Tasks)))

	err := x.execute(ctx, p, res, logger)

	res.Duration = time.Since(start)
	x.record(res, DebugTasks, "exit_execute", "", fmt.Sprintf("tasks_run=%d", res.TasksRun))
	status := "ok"
	if err != nil {
		status = "error"
	}
	if x.metrics != nil {
		x.metrics.PlansTotal.WithLabelValues(status).Inc()
	}
	logger.Debug("plan finished",
		"status", status,
		"tasks_run", res.TasksRun,
		"skipped", len(res.Skipped),
		"duration", res.Duration)
	return res, err
}

func (x *Executor) execute(ctx context.Context, p *plan.Plan, res *Result, logger *slog.Logger) error {
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		x.record(res, DebugTasks, "task_start", t.Name, string(t.Kind))
		entry, err := x.runTask(ctx, t, res, logger)
		elapsed := time.Since(started)

		var unknown *UnknownKindError
		switch {
		case errors.As(err, &unknown) && !x.strict:
			logger.Warn("skipping task", "task", t.Name, "kind", t.Kind, "reason", unknown.Error())
			res.Skipped = append(res.Skipped, t.Name)
			x.finish(res, t, elapsed, "skipped")
			continue
		case err != nil:
			x.finish(res, t, elapsed, "error")
			return err
		}

		x.mu.Lock()
		x.cache[t.Name] = entry
		x.gauge()
		x.mu.Unlock()

		res.TasksRun++
		x.finish(res, t, elapsed, "ok")
		if x.debug >= DebugDetailed {
			if a := entry.Array(); a != nil {
				x.record(res, DebugDetailed, "task_result", t.Name, fmt.Sprintf("dims=%v shape=%v", a.Dims(), a.Shape()))
			}
		}
	}
	return nil
}

// runTask dispatches one task inside a span.
func (x *Executor) runTask(ctx context.Context, t *plan.Task, res *Result, logger *slog.Logger) (*Entry, error) {
	ctx, span := x.tracer.Start(ctx, "datacube.task", trace.WithAttributes(
		attribute.String("datacube.run_id", res.RunID.String()),
		attribute.String("datacube.task.name", t.Name),
		attribute.String("datacube.task.kind", string(t.Kind)),
		attribute.Int("datacube.task.inputs", len(t.Inputs)),
	))
	defer span.End()

	logger.Debug("task started", "task", t.Name, "kind", t.Kind)
	entry, err := x.dispatch(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if a := entry.Array(); a != nil {
		span.SetAttributes(attribute.IntSlice("datacube.result.shape", a.Shape()))
	}
	logger.Debug("task finished", "task", t.Name, "kind", t.Kind, "results", len(entry.Result))
	return entry, nil
}

func (x *Executor) dispatch(ctx context.Context, t *plan.Task) (*Entry, error) {
	var run func(context.Context, *plan.Task) (*Entry, error)
	switch t.Kind {
	case plan.KindGetData:
		run = x.getData
	case plan.KindExpression:
		run = x.expression
	case plan.KindBandMath:
		run = x.bandMath
	case plan.KindCloudMask:
		run = x.cloudMask
	case plan.KindReduction:
		if name := t.ReductionName(); !supportedReduction(name) {
			return nil, &UnknownKindError{Task: t.Name, Kind: t.Kind, Reason: fmt.Sprintf("unsupported reduction %q", name)}
		}
		run = x.reduction
	default:
		return nil, &UnknownKindError{Task: t.Name, Kind: t.Kind}
	}

	entry, err := run(ctx, t)
	if err != nil {
		var missing *MissingInputError
		if errors.As(err, &missing) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &TaskError{Task: t.Name, Kind: t.Kind, Err: err}
	}
	invariant.NotNil(entry, "entry")
	return entry, nil
}

func (x *Executor) finish(res *Result, t *plan.Task, d time.Duration, status string) {
	res.Timings = append(res.Timings, TaskTiming{Task: t.Name, Kind: t.Kind, Duration: d, Status: status})
	x.record(res, DebugTasks, "task_complete", t.Name, fmt.Sprintf("status=%s duration=%v", status, d))
	if x.metrics != nil {
		x.metrics.TasksTotal.WithLabelValues(string(t.Kind), status).Inc()
		x.metrics.TaskDuration.WithLabelValues(string(t.Kind)).Observe(d.Seconds())
	}
}

func (x *Executor) record(res *Result, level DebugLevel, event, task, detail string) {
	if x.debug < level {
		return
	}
	res.DebugEvents = append(res.DebugEvents, DebugEvent{
		Timestamp: time.Now(),
		Event:     event,
		Task:      task,
		Context:   detail,
	})
}
