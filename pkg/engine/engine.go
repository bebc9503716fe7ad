// Package engine runs logical plans on the streaming executor.
package engine

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/morsel/pkg/engine/expr"
	engine_errors "github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/execute"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/planner/physical"
	"github.com/grafana/morsel/pkg/engine/planner/logical"
	util_log "github.com/grafana/morsel/pkg/util/log"
)

var (
	// ErrPlanningFailed is returned when a logical plan cannot be lowered.
	// It wraps the cause, which is usually one of the plan, schema or
	// not-implemented errors of the planner.
	ErrPlanningFailed = errors.New("query planning failed")

	// ErrExecutionFailed is returned when a task of the query failed.
	ErrExecutionFailed = errors.New("query execution failed")
)

var tracer = otel.Tracer("pkg/engine")

// Config configures query execution.
type Config struct {
	// NumPipelines is the number of lanes of parallel operators. Zero uses
	// GOMAXPROCS.
	NumPipelines int `yaml:"num_pipelines"`

	// IdealMorselSize is the number of rows sources aim for per morsel.
	IdealMorselSize int `yaml:"ideal_morsel_size"`

	// PipeCapacity is the number of morsels buffered per pipe lane.
	PipeCapacity int `yaml:"pipe_capacity"`

	FileSinkBufferSize flagext.Bytes `yaml:"file_sink_buffer_size"`

	Verbose        bool `yaml:"verbose"`
	TrackWaitStats bool `yaml:"track_wait_stats"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.NumPipelines, prefix+"num-pipelines", 0, "Number of parallel lanes per operator. 0 uses GOMAXPROCS.")
	f.IntVar(&cfg.IdealMorselSize, prefix+"ideal-morsel-size", 100_000, "Number of rows sources aim for per morsel.")
	f.IntVar(&cfg.PipeCapacity, prefix+"pipe-capacity", 1, "Number of morsels buffered per pipe lane.")
	_ = cfg.FileSinkBufferSize.Set("4MB")
	f.Var(&cfg.FileSinkBufferSize, prefix+"file-sink-buffer-size", "Write buffer of file sinks.")
	f.BoolVar(&cfg.Verbose, prefix+"verbose", false, "Log every execution phase.")
	f.BoolVar(&cfg.TrackWaitStats, prefix+"track-wait-stats", false, "Log the time tasks spent waiting on pipes after every phase.")
}

// Validate validates cfg and applies defaults.
func (cfg *Config) Validate() error {
	if cfg.NumPipelines < 0 {
		return fmt.Errorf("invalid number of pipelines %d, must not be negative", cfg.NumPipelines)
	}
	if cfg.NumPipelines == 0 {
		cfg.NumPipelines = runtime.GOMAXPROCS(0)
	}
	if cfg.IdealMorselSize <= 0 {
		return fmt.Errorf("invalid ideal morsel size %d, must be greater than 0", cfg.IdealMorselSize)
	}
	if cfg.PipeCapacity <= 0 {
		return fmt.Errorf("invalid pipe capacity %d, must be greater than 0", cfg.PipeCapacity)
	}
	return nil
}

// Params holds parameters for constructing a new [Engine].
type Params struct {
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional metrics.

	Config Config // Config for the Engine.

	Fs        afero.Fs         // Filesystem of file scans and sinks. Defaults to the OS.
	Allocator memory.Allocator // Allocator of query frames.
	Evaluator expr.Evaluator   // Evaluator of expressions.
}

// validate validates p and applies defaults.
func (p *Params) validate() error {
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Fs == nil {
		p.Fs = afero.NewOsFs()
	}
	if p.Allocator == nil {
		p.Allocator = memory.DefaultAllocator
	}
	if p.Evaluator == nil {
		p.Evaluator = expr.NewEvaluator(p.Allocator)
	}
	return p.Config.Validate()
}

// Engine executes logical plans.
type Engine struct {
	logger      log.Logger
	metrics     *metrics
	execMetrics *execute.Metrics

	cfg      Config
	inMemory execstate.InMemoryExecState
}

// New creates a new Engine.
func New(params Params) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		logger:      params.Logger,
		metrics:     newMetrics(params.Registerer),
		execMetrics: execute.NewMetrics(),

		cfg: params.Config,
		inMemory: execstate.InMemoryExecState{
			Evaluator: params.Evaluator,
			Allocator: params.Allocator,
			Fs:        params.Fs,
		},
	}
	if err := e.execMetrics.Register(params.Registerer); err != nil {
		return nil, fmt.Errorf("registering execution metrics: %w", err)
	}
	return e, nil
}

// Explain returns the physical plan root is lowered to.
func (e *Engine) Explain(plan *logical.Plan, root logical.NodeKey) (string, error) {
	phys := physical.NewPlan()
	key, err := physical.BuildPhysicalPlan(root, plan, phys, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}
	return physical.VisualizePlan(key, phys), nil
}

// Execute runs the plan rooted at root. If root is not a sink, its output is
// collected in memory and returned under root.
//
// The caller must call [Result.Release] once done with the result.
func (e *Engine) Execute(ctx context.Context, plan *logical.Plan, root logical.NodeKey) (*Result, error) {
	id := ulid.Make()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "Engine.Execute", trace.WithAttributes(
		attribute.Stringer("query", id),
		attribute.Int("num_pipelines", e.cfg.NumPipelines),
	))
	defer span.End()

	logger := util_log.WithQueryID(e.logger, id.String())
	level.Info(logger).Log("msg", "starting query", "root", root, "nodes", plan.Len())

	phys, key, sinks, durPlanning, err := e.buildPhysicalPlan(ctx, logger, plan, root)
	if err != nil {
		status := statusFailure
		if errors.Is(err, engine_errors.ErrNotImplemented) {
			status = statusNotImplemented
		}
		e.metrics.queries.WithLabelValues(status).Inc()
		span.SetStatus(codes.Error, "failed to create physical plan")
		return nil, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}

	g, graphKeys, err := physical.ToGraph(phys, []physical.NodeKey{key}, physical.GraphOptions{
		FileSinkBufferSize: int(e.cfg.FileSinkBufferSize),
	})
	if err != nil {
		e.metrics.queries.WithLabelValues(statusFailure).Inc()
		span.SetStatus(codes.Error, "failed to create execution graph")
		return nil, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}

	res := &Result{QueryID: id}
	out, durExecution, err := e.executeGraph(ctx, logger, g, &res.Stats)
	if err != nil {
		e.metrics.queries.WithLabelValues(statusFailure).Inc()
		span.SetStatus(codes.Error, "error during query execution")
		level.Warn(logger).Log("msg", "error during execution", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	res.Frames = make(map[logical.NodeKey]arrow.Record, len(out))
	for logicalKey, physKey := range sinks {
		gk, ok := graphKeys[physKey]
		if !ok {
			continue
		}
		if df, ok := out[gk]; ok {
			res.Frames[logicalKey] = df
			res.Stats.Rows += df.NumRows()
			delete(out, gk)
		}
	}
	// Every collected output belongs to a sink.
	for _, df := range out {
		df.Release()
	}

	durFull := time.Since(start)
	e.metrics.queries.WithLabelValues(statusSuccess).Inc()
	e.metrics.querySeconds.Observe(durFull.Seconds())
	span.SetStatus(codes.Ok, "")

	level.Info(logger).Log(
		"msg", "finished executing",
		"phases", res.Stats.Phases,
		"rows", humanize.Comma(res.Stats.Rows),
		"duration_physical_planning", durPlanning,
		"duration_execution", durExecution,
		"duration_full", durFull,
	)
	res.Stats.Duration = durFull
	return res, nil
}

// buildPhysicalPlan lowers the plan rooted at root. The returned map holds
// the physical sink of every logical node whose output is collected.
func (e *Engine) buildPhysicalPlan(ctx context.Context, logger log.Logger, plan *logical.Plan, root logical.NodeKey) (*physical.Plan, physical.NodeKey, map[logical.NodeKey]physical.NodeKey, time.Duration, error) {
	span := trace.SpanFromContext(ctx)
	timer := prometheus.NewTimer(e.metrics.physicalPlanning)

	phys := physical.NewPlan()
	lc := physical.NewLowerContext()
	key, err := physical.BuildPhysicalPlan(root, plan, phys, lc)
	if err != nil {
		level.Warn(logger).Log("msg", "failed to create physical plan", "err", err)
		span.RecordError(err)
		return nil, 0, nil, 0, err
	}

	sinks := lc.Sinks()
	if len(sinks) == 0 {
		// The root was wrapped into an in-memory sink.
		sinks[root] = key
	}

	duration := timer.ObserveDuration()
	level.Debug(logger).Log(
		"msg", "finished physical planning",
		"plan", physical.VisualizePlan(key, phys),
		"duration", duration.String(),
	)
	span.AddEvent("finished physical planning", trace.WithAttributes(
		attribute.Int("nodes", phys.Len()),
		attribute.Stringer("duration", duration),
	))
	return phys, key, sinks, duration, nil
}

func (e *Engine) executeGraph(ctx context.Context, logger log.Logger, g *graph.Graph, stats *Stats) (map[graph.NodeKey]arrow.Record, time.Duration, error) {
	span := trace.SpanFromContext(ctx)
	timer := prometheus.NewTimer(e.metrics.execution)

	out, err := execute.ExecuteGraph(ctx, g, execute.Config{
		Logger:          logger,
		NumPipelines:    e.cfg.NumPipelines,
		PipeCapacity:    e.cfg.PipeCapacity,
		IdealMorselSize: int64(e.cfg.IdealMorselSize),
		Verbose:         e.cfg.Verbose,
		TrackWaitStats:  e.cfg.TrackWaitStats,
		InMemory:        e.inMemory,
		Metrics:         e.execMetrics,
		Observer: func(info execute.PhaseInfo) {
			stats.Phases++
			if info.MemoryIntensive > 0 {
				stats.MemoryIntensivePhases++
			}
		},
	})
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	duration := timer.ObserveDuration()
	span.AddEvent("finished execution", trace.WithAttributes(attribute.Stringer("duration", duration)))
	return out, duration, nil
}
