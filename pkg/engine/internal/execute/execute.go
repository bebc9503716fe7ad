// Package execute runs a [graph.Graph] to completion.
//
// Execution proceeds in phases. Each phase updates the port states of every
// node, selects pipeline blockers that can make progress, spawns the
// subgraph feeding them and waits for its tasks. A phase ends once every
// spawned task returned, which happens when the selected blockers finished
// collecting their input or a consumer stopped.
package execute

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

var tracer = otel.Tracer("pkg/engine/internal/execute")

const (
	// EnvVerbose enables logging of every phase when set to 1.
	EnvVerbose = "MORSEL_VERBOSE"
	// EnvTrackWaitStats enables wait statistics when set to 1.
	EnvTrackWaitStats = "MORSEL_TRACK_WAIT_STATS"
)

// Config configures an execution.
type Config struct {
	Logger log.Logger

	// NumPipelines is the number of lanes of parallel ports and the number
	// of tasks computing at once.
	NumPipelines int
	// PipeCapacity is the number of morsels buffered per lane.
	PipeCapacity int
	// IdealMorselSize is the number of rows sources aim for per morsel.
	IdealMorselSize int64

	// Verbose logs every phase. TrackWaitStats logs the time tasks spent
	// blocked on pipes after every phase. Both are also enabled through the
	// environment.
	Verbose        bool
	TrackWaitStats bool

	InMemory execstate.InMemoryExecState

	// Metrics is optional.
	Metrics *Metrics

	// Observer, if set, is called with every phase before it is run.
	Observer func(PhaseInfo)
}

// PhaseInfo describes a phase.
type PhaseInfo struct {
	Phase int

	// Blockers are the selected pipeline blockers the phase runs.
	Blockers []graph.NodeKey
	// MemoryIntensive is the number of selected memory-intensive blockers.
	MemoryIntensive int

	// SpawnOrder lists the nodes of the phase in the order they are spawned.
	SpawnOrder []graph.NodeKey
	Pipes      []graph.PipeKey
}

func envFlag(name string) bool { return os.Getenv(name) == "1" }

// ExecuteGraph runs g until every pipe is done and returns the output of
// every node that produced one.
func ExecuteGraph(ctx context.Context, g *graph.Graph, cfg Config) (map[graph.NodeKey]arrow.Record, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	g.CheckConnections()

	state := execstate.New(ctx, cfg.NumPipelines, cfg.IdealMorselSize, cfg.InMemory, cfg.Logger)
	cfg.NumPipelines = state.NumPipelines

	e := &executor{
		cfg:     cfg,
		g:       g,
		state:   state,
		offsets: make(map[graph.PipeKey]*atomic.Uint64),
	}
	if err := e.run(ctx); err != nil {
		state.Close()
		return nil, err
	}
	if err := state.DrainQueryTasks(); err != nil {
		return nil, err
	}

	out := make(map[graph.NodeKey]arrow.Record)
	for key, node := range g.Nodes.All() {
		df, err := node.Compute.GetOutput()
		if err != nil {
			for _, df := range out {
				df.Release()
			}
			return nil, fmt.Errorf("collecting output of %s: %w", node.Compute.Name(), err)
		}
		if df != nil {
			out[key] = df
		}
	}
	return out, nil
}

type executor struct {
	cfg   Config
	g     *graph.Graph
	state *execstate.StreamingExecutionState

	// offsets holds the sequence counter of every logical pipe across its
	// instantiations.
	offsets map[graph.PipeKey]*atomic.Uint64
}

func (e *executor) run(ctx context.Context) error {
	for phase := 0; ; phase++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		verbose := e.cfg.Verbose || envFlag(EnvVerbose)
		async.TrackTaskWaitStatistics(e.cfg.TrackWaitStats || envFlag(EnvTrackWaitStats))

		if err := e.g.UpdateAllStates(e.state); err != nil {
			return err
		}
		if err := e.state.DrainSubphaseTasks(); err != nil {
			return err
		}

		blockers, memoryIntensive := e.findRunnableBlockers()
		if len(blockers) == 0 {
			break
		}
		nodes, pipes := e.expandReadySubgraph(blockers)
		info := PhaseInfo{
			Phase:           phase,
			Blockers:        blockers,
			MemoryIntensive: memoryIntensive,
			SpawnOrder:      e.spawnOrder(nodes, pipes),
			Pipes:           pipes,
		}
		if e.cfg.Observer != nil {
			e.cfg.Observer(info)
		}
		if verbose {
			level.Debug(e.cfg.Logger).Log(
				"msg", "running phase",
				"phase", phase,
				"blockers", e.describe(blockers),
				"nodes", len(info.SpawnOrder),
				"pipes", len(pipes),
				"pipelines", e.cfg.NumPipelines,
				"morsel_size", humanize.Comma(e.state.IdealMorselSize),
			)
		}
		e.cfg.Metrics.observePhase(e.g, info)

		start := time.Now()
		if err := e.runSubgraph(ctx, info); err != nil {
			return err
		}
		if err := e.state.DrainSubphaseTasks(); err != nil {
			return err
		}
		if verbose {
			level.Debug(e.cfg.Logger).Log("msg", "finished phase", "phase", phase, "duration", time.Since(start))
		}
	}

	if !e.g.AllPipesFinished() {
		for key, p := range e.g.Pipes.All() {
			if !p.Finished() {
				panic(fmt.Sprintf("execute: no progress possible but pipe %s from %s to %s is %s/%s",
					key, e.name(p.Sender), e.name(p.Receiver), p.SendState, p.RecvState))
			}
		}
	}
	return nil
}

func (e *executor) name(key graph.NodeKey) string {
	return fmt.Sprintf("%s(%s)", e.g.Nodes.MustGet(key).Compute.Name(), key)
}

func (e *executor) describe(keys []graph.NodeKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = e.name(k)
	}
	return out
}

// findRunnableBlockers returns the nodes whose outputs are all blocked and
// that can receive on at least one input. All cheap candidates are selected
// along with at most one memory-intensive one, preferring the candidate with
// the most consumers waiting for it.
func (e *executor) findRunnableBlockers() ([]graph.NodeKey, int) {
	var (
		selected  []graph.NodeKey
		expensive []graph.NodeKey
	)
	for key, node := range e.g.Nodes.All() {
		if !e.isCandidate(node) {
			continue
		}
		if node.Compute.IsMemoryIntensivePipelineBlocker() {
			expensive = append(expensive, key)
			continue
		}
		selected = append(selected, key)
	}

	if len(expensive) == 0 {
		return selected, 0
	}
	best := slices.MaxFunc(expensive, func(a, b graph.NodeKey) int {
		if c := cmp.Compare(e.waitingConsumers(a), e.waitingConsumers(b)); c != 0 {
			return c
		}
		// Prefer the lower key on ties.
		return cmp.Compare(b, a)
	})
	return append(selected, best), 1
}

func (e *executor) isCandidate(node *graph.Node) bool {
	for _, out := range node.Outputs {
		if e.g.Pipes.MustGet(out).SendState != graph.Blocked {
			return false
		}
	}
	for _, in := range node.Inputs {
		if e.readyPipe(in) {
			return true
		}
	}
	return false
}

func (e *executor) readyPipe(key graph.PipeKey) bool {
	p := e.g.Pipes.MustGet(key)
	return p.SendState == graph.Ready && p.RecvState == graph.Ready
}

func (e *executor) waitingConsumers(key graph.NodeKey) int {
	var n int
	for _, out := range e.g.Nodes.MustGet(key).Outputs {
		if e.g.Pipes.MustGet(out).RecvState == graph.Ready {
			n++
		}
	}
	return n
}

// expandReadySubgraph walks backwards from blockers over ready pipes. It
// returns the nodes reached and the pipes traversed.
func (e *executor) expandReadySubgraph(blockers []graph.NodeKey) ([]graph.NodeKey, []graph.PipeKey) {
	var (
		nodes   []graph.NodeKey
		pipes   []graph.PipeKey
		visited = make(map[graph.NodeKey]struct{})
		stack   = slices.Clone(blockers)
	)
	for _, b := range blockers {
		visited[b] = struct{}{}
	}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes = append(nodes, key)

		for _, in := range e.g.Nodes.MustGet(key).Inputs {
			if !e.readyPipe(in) {
				continue
			}
			pipes = append(pipes, in)
			sender := e.g.Pipes.MustGet(in).Sender
			if _, ok := visited[sender]; !ok {
				visited[sender] = struct{}{}
				stack = append(stack, sender)
			}
		}
	}
	slices.Sort(pipes)
	return nodes, pipes
}

// spawnOrder orders nodes so that every node comes after all consumers of
// its outputs within the phase. Receive ports are then always taken before
// the matching send ports.
func (e *executor) spawnOrder(nodes []graph.NodeKey, pipes []graph.PipeKey) []graph.NodeKey {
	inPhase := make(map[graph.PipeKey]struct{}, len(pipes))
	for _, p := range pipes {
		inPhase[p] = struct{}{}
	}

	outstanding := make(map[graph.NodeKey]int, len(nodes))
	for _, key := range nodes {
		outstanding[key] = 0
	}
	for _, p := range pipes {
		outstanding[e.g.Pipes.MustGet(p).Sender]++
	}

	var ready, order []graph.NodeKey
	for _, key := range nodes {
		if outstanding[key] == 0 {
			ready = append(ready, key)
		}
	}
	slices.Sort(ready)
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		order = append(order, key)

		for _, in := range e.g.Nodes.MustGet(key).Inputs {
			if _, ok := inPhase[in]; !ok {
				continue
			}
			sender := e.g.Pipes.MustGet(in).Sender
			if outstanding[sender]--; outstanding[sender] == 0 {
				ready = append(ready, sender)
			}
		}
	}
	if len(order) != len(nodes) {
		panic(fmt.Sprintf("execute: phase subgraph of %d nodes contains a cycle", len(nodes)))
	}
	return order
}

func (e *executor) runSubgraph(ctx context.Context, info PhaseInfo) (err error) {
	ctx, span := tracer.Start(ctx, "execute.phase")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.Int("phase", info.Phase),
		attribute.Int("nodes", len(info.SpawnOrder)),
		attribute.Int("pipes", len(info.Pipes)),
	)

	physical := make(map[graph.PipeKey]*pipe.PhysicalPipe, len(info.Pipes))
	for _, key := range info.Pipes {
		offset, ok := e.offsets[key]
		if !ok {
			offset = atomic.NewUint64(0)
			e.offsets[key] = offset
		}
		physical[key] = pipe.NewPhysicalPipe(e.cfg.NumPipelines, e.cfg.PipeCapacity, offset)
	}

	return async.TaskScope(ctx, e.cfg.NumPipelines, func(scope *async.Scope) error {
		var handles []*async.JoinHandle
		for _, key := range info.SpawnOrder {
			node := e.g.Nodes.MustGet(key)

			recv := make([]*pipe.RecvPort, len(node.Inputs))
			for i, in := range node.Inputs {
				if p, ok := physical[in]; ok {
					recv[i] = p.RecvPort()
				}
			}
			send := make([]*pipe.SendPort, len(node.Outputs))
			for i, out := range node.Outputs {
				if p, ok := physical[out]; ok {
					send[i] = p.SendPort()
				}
			}

			node.Compute.Spawn(scope, recv, send, e.state, &handles)

			for i, p := range recv {
				if p != nil {
					panic(fmt.Sprintf("execute: %s did not take receive port %d", e.name(key), i))
				}
			}
			for i, p := range send {
				if p != nil {
					panic(fmt.Sprintf("execute: %s did not take send port %d", e.name(key), i))
				}
			}
		}
		for _, key := range info.Pipes {
			physical[key].Spawn(scope, &handles)
		}

		for _, h := range handles {
			if err := h.Join(); err != nil {
				return err
			}
		}

		if async.TrackingWaitStatistics() {
			for _, st := range scope.WaitStats() {
				level.Info(e.cfg.Logger).Log("msg", "task wait statistics", "phase", info.Phase, "task", st.Task, "wait", st.Wait)
			}
		}
		return nil
	})
}
