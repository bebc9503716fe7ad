package engine

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/oklog/ulid/v2"

	"github.com/grafana/morsel/pkg/engine/planner/logical"
)

// Result is the outcome of [Engine.Execute].
type Result struct {
	QueryID ulid.ULID

	// Frames holds the output of every in-memory sink, keyed by the logical
	// node it was lowered from. File sinks have no entry.
	Frames map[logical.NodeKey]arrow.Record

	Stats Stats
}

// Stats summarises an execution.
type Stats struct {
	Phases                int
	MemoryIntensivePhases int
	// Rows is the number of rows collected in memory.
	Rows     int64
	Duration time.Duration
}

// Release releases every frame of the result.
func (r *Result) Release() {
	for key, df := range r.Frames {
		df.Release()
		delete(r.Frames, key)
	}
}
