package nodes

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/atomic"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// ZipNode concatenates its inputs horizontally as they stream. Every input
// is drained into its own buffer so that a slow input never stalls the
// producers of the others; rows are paired up from the buffers in input
// order.
type ZipNode struct {
	schemas    []*arrow.Schema
	nullExtend bool
	inputs     []*zipInput
	seq        morsel.Seq
}

var _ graph.ComputeNode = (*ZipNode)(nil)

// zipInput holds the rows of one input that were not zipped yet.
type zipInput struct {
	mu     sync.Mutex
	frames []arrow.Record
	rows   int64
	token  morsel.SourceToken

	// closed is set once the input delivers nothing more in this phase.
	closed bool
	// done is set once the input pipe is done for good.
	done bool
}

// NewZip returns a node zipping inputs with the given schemas. With
// nullExtend set shorter inputs are padded with nulls, otherwise all inputs
// must have the same length.
func NewZip(schemas []*arrow.Schema, nullExtend bool) *ZipNode {
	inputs := make([]*zipInput, len(schemas))
	for i := range inputs {
		inputs[i] = &zipInput{}
	}
	return &ZipNode{schemas: schemas, nullExtend: nullExtend, inputs: inputs}
}

func (n *ZipNode) Name() string { return "zip" }

func (n *ZipNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *ZipNode) UpdateState(recv, send []graph.PortState, _ *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, len(n.inputs), 1)

	if send[0] == graph.Done {
		n.release()
		for i := range recv {
			recv[i] = graph.Done
		}
		return nil
	}

	var exhausted, buffered, blocked int
	for i, in := range n.inputs {
		if recv[i] == graph.Done {
			in.done = true
		}
		switch {
		case in.exhausted():
			exhausted++
		case in.rows > 0:
			buffered++
		}
		if recv[i] == graph.Blocked {
			blocked++
		}
	}

	if exhausted == len(n.inputs) {
		send[0] = graph.Done
		return nil
	}
	if exhausted > 0 && buffered > 0 && !n.nullExtend {
		return n.lengthError()
	}

	// Inputs only run together, otherwise the rows of one input would pile
	// up while the others wait for a later phase.
	for i, in := range n.inputs {
		switch {
		case in.done:
			recv[i] = graph.Done
		case blocked > 0 || send[0] == graph.Blocked:
			recv[i] = graph.Blocked
		default:
			recv[i] = graph.Ready
		}
	}
	if blocked > 0 {
		send[0] = graph.Blocked
	} else {
		send[0] = graph.Ready
	}
	return nil
}

func (n *ZipNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	s := takeSend(send, 0).Serial()
	wake := make(chan struct{}, 1)
	stopped := atomic.NewBool(false)

	for i, in := range n.inputs {
		in.closed = recv[i] == nil
		if in.closed {
			continue
		}
		r := takeRecv(recv, i).Serial()
		*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
			defer r.Close()
			defer notify(wake)
			for {
				m, err := r.Recv(ctx)
				if isClosed(err) {
					in.close()
					return nil
				} else if err != nil {
					return err
				}
				if stopped.Load() {
					m.Release()
					in.close()
					return nil
				}
				in.push(m)
				notify(wake)
			}
		}))
	}

	mem := state.InMemory.Allocator
	*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
		defer s.Close()
		defer stopped.Store(true)
		return n.run(ctx, scope, mem, s, wake)
	}))
}

func (n *ZipNode) run(ctx context.Context, scope *async.Scope, mem memory.Allocator, s *pipe.Sender, wake <-chan struct{}) error {
	token := morsel.NewSourceToken()
	for {
		var (
			df   arrow.Record
			more bool
		)
		err := scope.Compute(ctx, func() error {
			var err error
			df, more, err = n.next(mem)
			return err
		})
		if err != nil {
			return err
		}

		if df == nil {
			if !more {
				return nil
			}
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		m := morsel.New(df, n.seq, token)
		n.seq = n.seq.Successor()
		if err := s.Send(ctx, m); err != nil {
			m.Release()
			if isClosed(err) {
				return nil
			}
			return err
		}
		if token.StopRequested() {
			for _, in := range n.inputs {
				in.stopRequest()
			}
		}
	}
}

// next zips the rows available on every input. It returns a nil frame if no
// row can be zipped yet; more is false once no input delivers anything else
// in this phase.
func (n *ZipNode) next(mem memory.Allocator) (df arrow.Record, more bool, err error) {
	rows := int64(math.MaxInt64)
	allClosed, exhausted, buffered := true, false, false
	for _, in := range n.inputs {
		in.mu.Lock()
		avail, closed := in.rows, in.closed
		in.mu.Unlock()

		allClosed = allClosed && closed
		if in.done && avail == 0 {
			exhausted = true
			continue
		}
		buffered = buffered || avail > 0
		rows = min(rows, avail)
	}

	if exhausted && buffered && !n.nullExtend {
		return nil, false, n.lengthError()
	}
	if rows == 0 {
		return nil, !allClosed, nil
	}
	if rows == math.MaxInt64 {
		return nil, false, nil
	}

	parts := make([]arrow.Record, len(n.inputs))
	defer dataframe.Release(parts)
	for i, in := range n.inputs {
		if in.done && in.rows == 0 {
			parts[i] = nullFrame(mem, n.schemas[i], int(rows))
			continue
		}
		part, err := in.take(mem, n.schemas[i], rows)
		if err != nil {
			return nil, false, err
		}
		parts[i] = part
	}
	df, err = dataframe.HStack(parts...)
	return df, true, err
}

func (n *ZipNode) lengthError() error {
	return fmt.Errorf("%w: cannot zip inputs of different lengths", errors.ErrLength)
}

// release drops everything buffered.
func (n *ZipNode) release() {
	for _, in := range n.inputs {
		in.mu.Lock()
		dataframe.Release(in.frames)
		in.frames, in.rows = nil, 0
		in.mu.Unlock()
	}
}

func (n *ZipNode) GetOutput() (arrow.Record, error) { return nil, nil }

func (in *zipInput) exhausted() bool { return in.done && in.rows == 0 }

// push takes ownership of the frame of m.
func (in *zipInput) push(m morsel.Morsel) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.token = m.Token
	if m.DF.NumRows() == 0 {
		m.Release()
		return
	}
	in.frames = append(in.frames, m.DF)
	in.rows += m.DF.NumRows()
}

func (in *zipInput) close() {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
}

func (in *zipInput) stopRequest() {
	in.mu.Lock()
	token := in.token
	in.mu.Unlock()
	token.StopRequest()
}

// take removes the first rows rows from the buffer. The buffer must hold at
// least that many.
func (in *zipInput) take(mem memory.Allocator, schema *arrow.Schema, rows int64) (arrow.Record, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	var taken []arrow.Record
	defer func() { dataframe.Release(taken) }()
	for need := rows; need > 0; {
		f := in.frames[0]
		if f.NumRows() <= need {
			taken = append(taken, f)
			in.frames = in.frames[1:]
			need -= f.NumRows()
			continue
		}
		taken = append(taken, f.NewSlice(0, need))
		in.frames[0] = f.NewSlice(need, f.NumRows())
		f.Release()
		need = 0
	}
	in.rows -= rows
	return dataframe.Concat(mem, schema, taken)
}

// notify wakes the zipping task without blocking.
func notify(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
