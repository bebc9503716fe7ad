package dataframe

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grafana/morsel/pkg/compression"
	"github.com/grafana/morsel/pkg/engine/internal/errors"
)

// FileFormat is the encoding of scanned and written files.
type FileFormat int

const (
	FileFormatCSV FileFormat = iota
	// FileFormatIPC is the Arrow IPC stream format.
	FileFormatIPC
)

func (f FileFormat) String() string {
	switch f {
	case FileFormatCSV:
		return "csv"
	case FileFormatIPC:
		return "ipc"
	default:
		return fmt.Sprintf("FileFormat(%d)", int(f))
	}
}

// ParseFileFormat parses a format name.
func ParseFileFormat(s string) (FileFormat, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FileFormatCSV, nil
	case "ipc", "arrow", "arrows":
		return FileFormatIPC, nil
	}
	return 0, fmt.Errorf("%w: file format %q", errors.ErrNotImplemented, s)
}

// FileFormatFromPath infers the format of path from its extension, looking
// past a compression extension.
func FileFormatFromPath(path string) (FileFormat, error) {
	_, path = compression.FromPath(path)
	return ParseFileFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}
