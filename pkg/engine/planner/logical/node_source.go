package logical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Scan produces an in-memory frame. The plan does not take ownership of DF:
// the caller must keep it alive until execution finishes.
type Scan struct {
	DF arrow.Record
}

var _ Node = (*Scan)(nil)

func (s *Scan) Inputs() []NodeKey { return nil }

func (s *Scan) String() string {
	return fmt.Sprintf("SCAN [rows=%d, columns=%d]", s.DF.NumRows(), s.DF.NumCols())
}

func (s *Scan) isNode() {}

// FileScan reads a CSV or Arrow IPC stream file. Compressed files are
// recognised by their extension, such as data.csv.gz.
type FileScan struct {
	Path   string
	Format FileFormat
	// Schema is the schema of the file. CSV files must have a header row
	// matching it.
	Schema *arrow.Schema
}

var _ Node = (*FileScan)(nil)

func (s *FileScan) Inputs() []NodeKey { return nil }

func (s *FileScan) String() string {
	return fmt.Sprintf("FILESCAN [path=%s, format=%s]", s.Path, s.Format)
}

func (s *FileScan) isNode() {}
