// Package pipe implements the physical channels realising a logical pipe for
// the duration of one execution phase.
//
// A PhysicalPipe hands out a receive port and a send port. Each port is used
// either serially (one lane) or in parallel (one lane per pipeline). The
// receive port must be taken before the send port, so that the sender can be
// wired straight to the lanes the receiver listens on. If the two sides chose
// different shapes, Spawn starts a task bridging them.
package pipe

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"go.uber.org/atomic"

	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
)

type bridgeKind int

const (
	bridgeNone bridgeKind = iota
	bridgeDistributor
	bridgeLinearizer
)

// PhysicalPipe is one instantiation of a logical pipe.
type PhysicalPipe struct {
	numPipelines int
	capacity     int
	next         *atomic.Uint64
	offset       morsel.Seq

	recvTaken  bool
	sendTaken  bool
	sendShaped bool

	// recvLanes are read by the receiving node. sendLanes are written by
	// the sending node when a bridge sits between the two.
	recvLanes []*lane
	sendLanes []*lane
	bridge    bridgeKind
}

// NewPhysicalPipe instantiates a pipe. seqOffset is shared by every
// instantiation of the same logical pipe, so sequence numbers keep increasing
// across phases.
func NewPhysicalPipe(numPipelines, capacity int, seqOffset *atomic.Uint64) *PhysicalPipe {
	if numPipelines < 1 {
		numPipelines = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &PhysicalPipe{
		numPipelines: numPipelines,
		capacity:     capacity,
		next:         seqOffset,
		offset:       morsel.Seq(seqOffset.Load()),
	}
}

// RecvPort returns the receiving end. It may be called once.
func (p *PhysicalPipe) RecvPort() *RecvPort {
	if p.recvTaken {
		panic("pipe: receive port taken twice")
	}
	p.recvTaken = true
	return &RecvPort{pipe: p}
}

// SendPort returns the sending end. It may be called once, after the
// receive port has been shaped.
func (p *PhysicalPipe) SendPort() *SendPort {
	if p.sendTaken {
		panic("pipe: send port taken twice")
	}
	if p.recvLanes == nil {
		panic("pipe: send port taken before the receive port was shaped")
	}
	p.sendTaken = true
	return &SendPort{pipe: p}
}

// RecvPort is the receiving end of a PhysicalPipe.
type RecvPort struct {
	pipe *PhysicalPipe
	used bool
}

func (r *RecvPort) take(n int) []*Receiver {
	if r.used {
		panic("pipe: receive port shaped twice")
	}
	r.used = true

	p := r.pipe
	p.recvLanes = make([]*lane, n)
	out := make([]*Receiver, n)
	for i := range n {
		p.recvLanes[i] = newLane(p.capacity)
		out[i] = &Receiver{lane: p.recvLanes[i]}
	}
	return out
}

// Serial returns a single receiver delivering morsels in sequence order.
func (r *RecvPort) Serial() *Receiver { return r.take(1)[0] }

// Parallel returns one receiver per pipeline. Ordering across receivers is
// not guaranteed.
func (r *RecvPort) Parallel() []*Receiver { return r.take(r.pipe.numPipelines) }

// SendPort is the sending end of a PhysicalPipe.
type SendPort struct {
	pipe *PhysicalPipe
	used bool
}

func (s *SendPort) take(n int) []*Sender {
	if s.used {
		panic("pipe: send port shaped twice")
	}
	s.used = true

	p := s.pipe
	p.sendShaped = true
	lanes := p.recvLanes
	if n != len(p.recvLanes) {
		p.sendLanes = make([]*lane, n)
		for i := range n {
			p.sendLanes[i] = newLane(p.capacity)
		}
		lanes = p.sendLanes
		if n == 1 {
			p.bridge = bridgeDistributor
		} else {
			p.bridge = bridgeLinearizer
		}
	}

	out := make([]*Sender, n)
	for i, l := range lanes {
		out[i] = &Sender{lane: l, offset: p.offset, next: p.next}
	}
	return out
}

// Serial returns a single sender.
func (s *SendPort) Serial() *Sender { return s.take(1)[0] }

// Parallel returns one sender per pipeline.
func (s *SendPort) Parallel() []*Sender { return s.take(s.pipe.numPipelines) }

// Spawn starts the task bridging mismatched port shapes, if any. It must be
// called after both ports were shaped.
func (p *PhysicalPipe) Spawn(scope *async.Scope, handles *[]*async.JoinHandle) {
	if p.recvLanes == nil || !p.sendShaped {
		panic("pipe: spawned before both ports were shaped")
	}

	switch p.bridge {
	case bridgeDistributor:
		in := &Receiver{lane: p.sendLanes[0]}
		outs := make([]*Sender, len(p.recvLanes))
		for i, l := range p.recvLanes {
			outs[i] = &Sender{lane: l}
		}
		*handles = append(*handles, scope.Spawn("distributor", func(ctx context.Context) error {
			return distribute(ctx, in, outs)
		}))

	case bridgeLinearizer:
		ins := make([]*Receiver, len(p.sendLanes))
		for i, l := range p.sendLanes {
			ins[i] = &Receiver{lane: l}
		}
		out := &Sender{lane: p.recvLanes[0]}
		*handles = append(*handles, scope.Spawn("linearizer", func(ctx context.Context) error {
			return linearize(ctx, ins, out)
		}))
	}
}

// distribute hands morsels from in to outs in round-robin order, skipping
// receivers that hung up.
func distribute(ctx context.Context, in *Receiver, outs []*Sender) error {
	defer func() {
		for _, out := range outs {
			out.Close()
		}
	}()

	var (
		next  int
		alive = len(outs)
		gone  = make([]bool, len(outs))
	)
	for {
		m, err := in.Recv(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		} else if err != nil {
			return err
		}

		for {
			if alive == 0 {
				m.Release()
				in.Close()
				return nil
			}
			i := next % len(outs)
			next++
			if gone[i] {
				continue
			}

			err := outs[i].Send(ctx, m)
			if errors.Is(err, ErrClosed) {
				gone[i] = true
				alive--
				continue
			} else if err != nil {
				m.Release()
				return err
			}
			break
		}
	}
}

// linearize merges ins into out in sequence order. It holds exactly one head
// per open lane, so each lane must deliver morsels in increasing order.
func linearize(ctx context.Context, ins []*Receiver, out *Sender) error {
	closeInputs := func() {
		for _, in := range ins {
			in.Close()
		}
	}
	defer out.Close()

	h := &morselHeap{}
	pull := func(i int) error {
		m, err := ins[i].Recv(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		} else if err != nil {
			return err
		}
		heap.Push(h, laneMorsel{m: m, lane: i})
		return nil
	}

	for i := range ins {
		if err := pull(i); err != nil {
			closeInputs()
			return err
		}
	}
	for h.Len() > 0 {
		head := heap.Pop(h).(laneMorsel)
		if err := out.Send(ctx, head.m); err != nil {
			head.m.Release()
			closeInputs()
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if err := pull(head.lane); err != nil {
			closeInputs()
			return err
		}
	}
	return nil
}

type laneMorsel struct {
	m    morsel.Morsel
	lane int
}

type morselHeap []laneMorsel

func (h morselHeap) Len() int           { return len(h) }
func (h morselHeap) Less(i, j int) bool { return h[i].m.Seq < h[j].m.Seq }
func (h morselHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *morselHeap) Push(x any)        { *h = append(*h, x.(laneMorsel)) }
func (h *morselHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (p *PhysicalPipe) String() string {
	return fmt.Sprintf("pipe(recv=%d send=%d offset=%d)", len(p.recvLanes), len(p.sendLanes), p.offset)
}
