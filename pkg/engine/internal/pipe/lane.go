package pipe

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
)

// ErrClosed is returned by Recv once the sending side closed and every morsel
// has been received, and by Send once the receiving side hung up.
var ErrClosed = errors.New("pipe closed")

// lane is a single-producer single-consumer bounded channel.
type lane struct {
	ch chan morsel.Morsel

	closeOnce sync.Once
	hangup    chan struct{}
	hangOnce  sync.Once
}

func newLane(capacity int) *lane {
	return &lane{
		ch:     make(chan morsel.Morsel, capacity),
		hangup: make(chan struct{}),
	}
}

// Sender is the producing end of a lane.
type Sender struct {
	lane *lane

	// offset is added to the sequence number of every morsel sent. next
	// tracks the smallest sequence number the next instantiation of the pipe
	// may use.
	offset morsel.Seq
	next   *atomic.Uint64
}

// Send blocks until m has been queued, the receiver hung up or ctx is done.
// On error the caller keeps ownership of m.
func (s *Sender) Send(ctx context.Context, m morsel.Morsel) error {
	m.Seq = m.Seq.OffsetBy(s.offset)

	select {
	case <-s.lane.hangup:
		return ErrClosed
	default:
	}

	select {
	case s.lane.ch <- m:
		s.advance(m.Seq)
		return nil
	default:
	}

	stop := async.StartWait(ctx)
	defer stop()
	select {
	case s.lane.ch <- m:
		s.advance(m.Seq)
		return nil
	case <-s.lane.hangup:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) advance(seq morsel.Seq) {
	if s.next == nil {
		return
	}
	want := uint64(seq.Successor())
	for {
		cur := s.next.Load()
		if cur >= want || s.next.CompareAndSwap(cur, want) {
			return
		}
	}
}

// Close signals that no more morsels will be sent. It is safe to call more
// than once.
func (s *Sender) Close() {
	s.lane.closeOnce.Do(func() { close(s.lane.ch) })
}

// Closed is closed once the receiver hung up.
func (s *Sender) Closed() <-chan struct{} { return s.lane.hangup }

// Receiver is the consuming end of a lane.
type Receiver struct {
	lane *lane
}

// Recv returns the next morsel. It returns ErrClosed once the sender closed
// the lane and all morsels have been received.
func (r *Receiver) Recv(ctx context.Context) (morsel.Morsel, error) {
	select {
	case m, ok := <-r.lane.ch:
		if !ok {
			return morsel.Morsel{}, ErrClosed
		}
		return m, nil
	default:
	}

	stop := async.StartWait(ctx)
	defer stop()
	select {
	case m, ok := <-r.lane.ch:
		if !ok {
			return morsel.Morsel{}, ErrClosed
		}
		return m, nil
	case <-ctx.Done():
		return morsel.Morsel{}, ctx.Err()
	}
}

// Close hangs up: the sender's pending and future sends fail with ErrClosed.
// Queued morsels are released. It is safe to call more than once.
func (r *Receiver) Close() {
	r.lane.hangOnce.Do(func() { close(r.lane.hangup) })
	for {
		select {
		case m, ok := <-r.lane.ch:
			if !ok {
				return
			}
			m.Release()
		default:
			return
		}
	}
}
