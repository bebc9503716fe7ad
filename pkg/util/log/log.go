// Package log builds the go-kit loggers used by the morsel binaries.
package log

import (
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Formats supported by NewLogger.
const (
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

// NewLogger returns a logger writing to w in the given format. Messages below
// lvl are dropped.
func NewLogger(w io.Writer, format string, lvl dslog.Level) (log.Logger, error) {
	w = log.NewSyncWriter(w)

	var logger log.Logger
	switch format {
	case FormatLogfmt, "":
		logger = log.NewLogfmtLogger(w)
	case FormatJSON:
		logger = log.NewJSONLogger(w)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	if lvl.Option != nil {
		logger = level.NewFilter(logger, lvl.Option)
	}
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.Caller(3)), nil
}

// WithQueryID returns a logger that tags every line with the query id.
func WithQueryID(logger log.Logger, id string) log.Logger {
	return log.With(logger, "query", id)
}
