package nodes

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/multierror"
	"github.com/spf13/afero"

	"github.com/grafana/morsel/pkg/compression"
	"github.com/grafana/morsel/pkg/engine/internal/async"
	"github.com/grafana/morsel/pkg/engine/internal/dataframe"
	"github.com/grafana/morsel/pkg/engine/internal/datatype"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
	"github.com/grafana/morsel/pkg/engine/internal/execstate"
	"github.com/grafana/morsel/pkg/engine/internal/graph"
	"github.com/grafana/morsel/pkg/engine/internal/morsel"
	"github.com/grafana/morsel/pkg/engine/internal/pipe"
)

// recordReader is implemented by the csv and ipc readers.
type recordReader interface {
	Next() bool
	Record() arrow.Record
	Err() error
	Release()
}

// FileScanNode reads a CSV or Arrow IPC stream file. Files are decompressed
// according to their extension.
type FileScanNode struct {
	path   string
	format dataframe.FileFormat
	schema *arrow.Schema

	file   afero.File
	stream io.ReadCloser
	reader recordReader

	next      morsel.Seq
	exhausted bool
}

var _ graph.ComputeNode = (*FileScanNode)(nil)

// NewFileScan returns a node reading path, which must contain frames with the
// given schema.
func NewFileScan(path string, format dataframe.FileFormat, schema *arrow.Schema) *FileScanNode {
	return &FileScanNode{path: path, format: format, schema: schema}
}

func (n *FileScanNode) Name() string { return "file-scan" }

func (n *FileScanNode) IsMemoryIntensivePipelineBlocker() bool { return false }

func (n *FileScanNode) UpdateState(recv, send []graph.PortState, state *execstate.StreamingExecutionState) error {
	checkPorts(n.Name(), recv, send, 0, 1)
	if send[0] == graph.Done || n.exhausted {
		send[0] = graph.Done
		if err := n.close(); err != nil {
			level.Warn(state.Logger).Log("msg", "failed to close scanned file", "path", n.path, "err", err)
		}
		return nil
	}
	send[0] = graph.Ready
	return nil
}

func (n *FileScanNode) open(state *execstate.StreamingExecutionState) error {
	f, err := state.InMemory.Fs.Open(n.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", n.path, err)
	}
	n.file = f

	codec, _ := compression.FromPath(n.path)
	n.stream, err = compression.NewReader(codec, f)
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", n.path, err)
	}

	mem := state.InMemory.Allocator
	switch n.format {
	case dataframe.FileFormatCSV:
		n.reader = csv.NewReader(n.stream, n.schema,
			csv.WithAllocator(mem),
			csv.WithHeader(true),
			csv.WithChunk(int(state.IdealMorselSize)),
			csv.WithNullReader(true, ""),
		)
	case dataframe.FileFormatIPC:
		r, err := ipc.NewReader(n.stream, ipc.WithAllocator(mem), ipc.WithSchema(n.schema))
		if err != nil {
			return fmt.Errorf("reading %s: %w", n.path, err)
		}
		n.reader = r
	default:
		return fmt.Errorf("%w: scanning %s files", errors.ErrNotImplemented, n.format)
	}
	return nil
}

// close releases the reader along with the underlying file.
func (n *FileScanNode) close() error {
	var errs multierror.MultiError
	if n.reader != nil {
		n.reader.Release()
		n.reader = nil
	}
	if n.stream != nil {
		errs.Add(n.stream.Close())
		n.stream = nil
	}
	if n.file != nil {
		errs.Add(n.file.Close())
		n.file = nil
	}
	return errs.Err()
}

func (n *FileScanNode) Spawn(scope *async.Scope, _ []*pipe.RecvPort, send []*pipe.SendPort, state *execstate.StreamingExecutionState, handles *[]*async.JoinHandle) {
	s := takeSend(send, 0).Serial()
	// A stop request pauses the scan until the next phase.
	token := morsel.NewSourceToken()
	*handles = append(*handles, scope.Spawn(n.Name(), func(ctx context.Context) error {
		defer s.Close()
		if n.reader == nil {
			if err := n.open(state); err != nil {
				return err
			}
		}

		for !token.StopRequested() {
			var (
				df  arrow.Record
				ok  bool
				err error
			)
			err = scope.Compute(ctx, func() error {
				if ok = n.reader.Next(); !ok {
					return n.reader.Err()
				}
				df = n.reader.Record()
				if !datatype.SchemaEqual(n.schema, df.Schema()) {
					return fmt.Errorf("%w: %s has schema %s, expected %s", errors.ErrSchema, n.path, df.Schema(), n.schema)
				}
				df.Retain()
				return nil
			})
			if err != nil {
				return fmt.Errorf("reading %s: %w", n.path, err)
			}
			if !ok {
				n.exhausted = true
				return nil
			}

			m := morsel.New(df, n.next, token)
			n.next = n.next.Successor()
			if err := s.Send(ctx, m); err != nil {
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

func (n *FileScanNode) GetOutput() (arrow.Record, error) { return nil, nil }
