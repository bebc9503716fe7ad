package nodes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/multierror"
	"github.com/spf13/afero"

	"github.com/grafana/morsel/pkg/compression"
	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// DefaultFileSinkBufferSize is the write buffer of file sinks.
const DefaultFileSinkBufferSize = 4 << 20

type frameWriter interface {
	Write(rec arrow.Record) error
	Close() error
}

type csvFrameWriter struct {
	*csv.Writer
	mem     memory.Allocator
	written bool
}

func (w *csvFrameWriter) Write(rec arrow.Record) error {
	w.written = true
	return w.Writer.Write(rec)
}

// Close writes the header if no frame was written.
func (w *csvFrameWriter) Close() error {
	if !w.written {
		b := array.NewRecordBuilder(w.mem, w.Schema())
		empty := b.NewRecord()
		b.Release()
		err := w.Writer.Write(empty)
		empty.Release()
		if err != nil {
			return err
		}
	}
	return w.Flush()
}

// FileSinkNode streams its input into a CSV or Arrow IPC stream file,
// compressed according to the file extension.
type FileSinkNode struct {
	path       string
	format     dataframe.FileFormat
	schema     *arrow.Schema
	bufferSize int

	file   afero.File
	buf    *bufio.Writer
	codec  io.WriteCloser
	writer frameWriter

	finalized bool
}

var _ graph.ComputeNode = (*FileSinkNode)(nil)

// NewFileSink returns a sink writing frames with the given schema to path.
// A bufferSize of 0 uses DefaultFileSinkBufferSize.
func NewFileSink(path string, format dataframe.FileFormat, schema *arrow.Schema, bufferSize int) *FileSinkNode {
	if bufferSize <= 0 {
		bufferSize = DefaultFileSinkBufferSize
	}
	return &FileSinkNode{path: path, format: format, schema: schema, bufferSize: bufferSize}
}

func (n *FileSinkNode) Name() string { return "file-sink" }

func (n *FileSinkNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *FileSinkNode) UpdateState(recv, send []graph.PortState, state *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 1, 0)
	if recv[0] != graph.Done {
		recv[0] = graph.Ready
		return nil
	}

	if !n.finalized {
		n.finalized = true
		state.SpawnSubphaseTask(func(context.Context) error {
			if n.writer == nil {
				// Empty input still produces a valid file.
				if err := n.open(state); err != nil {
					return err
				}
			}
			level.Debug(state.Logger).Log("msg", "finalizing file sink", "path", n.path, "format", n.format)
			return n.close()
		})
	}
	return nil
}

func (n *FileSinkNode) open(state *execstate.StreamingExecutionState) error {
	fs := state.InMemory.Fs
	if dir := filepath.Dir(n.path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	f, err := fs.Create(n.path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", n.path, err)
	}
	n.file = f
	n.buf = bufio.NewWriterSize(f, n.bufferSize)

	codec, _ := compression.FromPath(n.path)
	n.codec, err = compression.NewWriter(codec, n.buf)
	if err != nil {
		return fmt.Errorf("compressing %s: %w", n.path, err)
	}

	switch n.format {
	case dataframe.FileFormatCSV:
		n.writer = &csvFrameWriter{
			Writer: csv.NewWriter(n.codec, n.schema, csv.WithHeader(true), csv.WithNullWriter("")),
			mem:    state.InMemory.Allocator,
		}
	case dataframe.FileFormatIPC:
		n.writer = ipc.NewWriter(n.codec, ipc.WithSchema(n.schema), ipc.WithAllocator(state.InMemory.Allocator))
	default:
		return fmt.Errorf("%w: writing %s files", errors.ErrNotImplemented, n.format)
	}
	return nil
}

// close flushes every layer of the writer and closes the file.
func (n *FileSinkNode) close() error {
	var errs multierror.MultiError
	if n.writer != nil {
		errs.Add(n.writer.Close())
	}
	if n.codec != nil {
		errs.Add(n.codec.Close())
	}
	if n.buf != nil {
		errs.Add(n.buf.Flush())
	}
	if n.file != nil {
		errs.Add(n.file.Close())
	}
	n.writer, n.codec, n.buf, n.file = nil, nil, nil, nil
	if err := errs.Err(); err != nil {
		return fmt.Errorf("writing %s: %w", n.path, err)
	}
	return nil
}

func (n *FileSinkNode) Spawn(scope *async.Scope, recv []*pipe.RecvPort, _ []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	r := takeRecv(recv, 0).Serial()
	*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
		defer r.Close()
		if n.writer == nil {
			if err := n.open(state); err != nil {
				return err
			}
		}

		for {
			m, err := r.Recv(ctx)
			if isClosed(err) {
				return nil
			} else if err != nil {
				return err
			}
			err = scope.Compute(ctx, func() error {
				defer m.Release()
				return n.writer.Write(m.DF)
			})
			if err != nil {
				return fmt.Errorf("writing %s: %w", n.path, err)
			}
		}
	}))
}

// GetOutput returns nil: the output lives in the file.
func (n *FileSinkNode) GetOutput() (arrow.Record, error) { return nil, nil }
