// Package nodes implements the operators of the streaming engine as
// [graph.ComputeNode] state machines.
//
// Streaming operators pass port states through unchanged: they are ready to
// receive when their consumer is ready and have output when their producer
// has. Pipeline blockers first collect their whole input while reporting a
// blocked output, then emit their result as a source.
package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// takeRecv removes the receive port at idx from ports.
func takeRecv(ports []*pipe.RecvPort, idx int) *pipe.RecvPort {
	p := ports[idx]
	ports[idx] = nil
	return p
}

// takeSend removes the send port at idx from ports.
func takeSend(ports []*pipe.SendPort, idx int) *pipe.SendPort {
	p := ports[idx]
	ports[idx] = nil
	return p
}

func checkPorts(name string, recv, send []graph.PortState, nrecv, nsend int) {
	if len(recv) != nrecv || len(send) != nsend {
		panic(fmt.Sprintf("%s: expected %d inputs and %d outputs, got %d and %d", name, nrecv, nsend, len(recv), len(send)))
	}
}

// passThrough is the state update of single-input single-output streaming
// operators.
func passThrough(recv, send []graph.PortState) {
	recv[0], send[0] = send[0], recv[0]
}

// isClosed reports whether err is the end of a stream rather than a failure.
func isClosed(err error) bool { return errors.Is(err, pipe.ErrClosed) }

// transformFunc turns one input morsel into one output morsel. It owns m.
type transformFunc func(ctx context.Context, m morsel.Morsel) (morsel.Morsel, error)

// spawnParallelTransform runs fn on every lane of a single-input
// single-output operator. Every input morsel yields exactly one output morsel,
// so sequence numbers stay dense per lane.
func spawnParallelTransform(scope *async.Scope, name string, recv []*pipe.RecvPort, send []*pipe.SendPort, handles *[]*async.JoinHandle, fn transformFunc) {
	receivers := takeRecv(recv, 0).Parallel()
	senders := takeSend(send, 0).Parallel()

	for i := range receivers {
		r, s := receivers[i], senders[i]
		*handles = append(*handles, scope.Spawn(name, func(ctx context.Context) error {
			defer s.Close()
			defer r.Close()
			return transformLane(ctx, scope, r, s, fn)
		}))
	}
}

// spawnSerialTransform is like spawnParallelTransform but runs one lane that
// sees morsels in sequence order.
func spawnSerialTransform(scope *async.Scope, name string, recv []*pipe.RecvPort, send []*pipe.SendPort, handles *[]*async.JoinHandle, fn transformFunc) {
	r := takeRecv(recv, 0).Serial()
	s := takeSend(send, 0).Serial()
	*handles = append(*handles, scope.Spawn(name, func(ctx context.Context) error {
		defer s.Close()
		defer r.Close()
		return transformLane(ctx, scope, r, s, fn)
	}))
}

func transformLane(ctx context.Context, scope *async.Scope, r *pipe.Receiver, s *pipe.Sender, fn transformFunc) error {
	for {
		m, err := r.Recv(ctx)
		if isClosed(err) {
			return nil
		} else if err != nil {
			return err
		}

		var out morsel.Morsel
		err = scope.Compute(ctx, func() error {
			var err error
			out, err = fn(ctx, m)
			return err
		})
		if err != nil {
			return err
		}

		if err := s.Send(ctx, out); err != nil {
			out.Release()
			if isClosed(err) {
				return nil
			}
			return err
		}
	}
}
