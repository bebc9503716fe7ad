package nodes

import (
	"context"
	"slices"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/atomic"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// frameBuffer collects the morsels of one input, possibly over several
// phases, and hands them out in sequence order.
type frameBuffer struct {
	schema *arrow.Schema

	mu      sync.Mutex
	morsels []morsel.Morsel
}

func newFrameBuffer(schema *arrow.Schema) *frameBuffer {
	return &frameBuffer{schema: schema}
}

func (b *frameBuffer) add(m morsel.Morsel) {
	b.mu.Lock()
	b.morsels = append(b.morsels, m)
	b.mu.Unlock()
}

// spawnCollect starts one task per lane of port adding morsels to b.
func (b *frameBuffer) spawnCollect(scope *async.Scope, name string, port *pipe.RecvPort, handles *[]*async.JoinHandle) {
	for _, r := range port.Parallel() {
		*handles = append(*handles, scope.Spawn(name, func(ctx context.Context) error {
			defer r.Close()
			for {
				m, err := r.Recv(ctx)
				if isClosed(err) {
					return nil
				} else if err != nil {
					return err
				}
				b.add(m)
			}
		}))
	}
}

// finish concatenates the collected morsels in sequence order and empties
// the buffer.
func (b *frameBuffer) finish(mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	b.mu.Lock()
	morsels := b.morsels
	b.morsels = nil
	b.mu.Unlock()

	slices.SortStableFunc(morsels, func(a, b morsel.Morsel) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	frames := make([]arrow.Record, len(morsels))
	for i, m := range morsels {
		frames[i] = m.DF
	}
	defer dataframe.Release(frames)
	return dataframe.Concat(mem, b.schema, frames)
}

// discard releases everything buffered.
func (b *frameBuffer) discard() {
	b.mu.Lock()
	morsels := b.morsels
	b.morsels = nil
	b.mu.Unlock()
	for _, m := range morsels {
		m.Release()
	}
}

// frameSource emits a materialised frame as morsels. Lanes claim chunks
// through a shared cursor, so chunk i always carries sequence number i.
type frameSource struct {
	chunks []arrow.Record
	next   *atomic.Int64
}

// newFrameSource returns a source over df, which may be nil. The source takes
// its own references to df.
func newFrameSource(df arrow.Record, morselSize int64) *frameSource {
	s := &frameSource{next: atomic.NewInt64(0)}
	if df != nil {
		s.chunks = dataframe.Split(df, morselSize)
	}
	return s
}

func (s *frameSource) exhausted() bool {
	return s.next.Load() >= int64(len(s.chunks))
}

// updateSend updates the state of the single output of the source.
func (s *frameSource) updateSend(send []graph.PortState) {
	if send[0] == graph.Done || s.exhausted() {
		s.release()
		send[0] = graph.Done
		return
	}
	send[0] = graph.Ready
}

func (s *frameSource) release() {
	for i := int(s.next.Load()); i < len(s.chunks); i++ {
		s.chunks[i].Release()
	}
	s.next.Store(int64(len(s.chunks)))
}

// spawn starts one task per lane of port emitting chunks until the frame is
// exhausted, a consumer requests a stop, or the receiver hangs up.
func (s *frameSource) spawn(scope *async.Scope, name string, port *pipe.SendPort, handles *[]*async.JoinHandle) {
	token := morsel.NewSourceToken()
	for _, snd := range port.Parallel() {
		*handles = append(*handles, scope.Spawn(name, func(ctx context.Context) error {
			defer snd.Close()
			for !token.StopRequested() {
				idx := s.next.Inc() - 1
				if idx >= int64(len(s.chunks)) {
					return nil
				}
				m := morsel.New(s.chunks[idx], morsel.Seq(idx), token)
				if err := snd.Send(ctx, m); err != nil {
					m.Release()
					if isClosed(err) {
						return nil
					}
					return err
				}
			}
			return nil
		}))
	}
}
