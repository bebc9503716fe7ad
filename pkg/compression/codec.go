// Package compression wraps readers and writers with the codecs supported
// for scanned and written files.
package compression

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	kflate "github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression format.
type Codec byte

const (
	None Codec = iota
	GZIP
	LZ4
	Snappy
	Flate
	Zstd
)

var supportedCodecs = []Codec{None, GZIP, LZ4, Snappy, Flate, Zstd}

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case GZIP:
		return "gzip"
	case LZ4:
		return "lz4"
	case Snappy:
		return "snappy"
	case Flate:
		return "flate"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCodec parses a codec name as printed by [Codec.String].
func ParseCodec(s string) (Codec, error) {
	for _, c := range supportedCodecs {
		if strings.EqualFold(c.String(), s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("invalid compression codec: %s, supported: %s", s, SupportedCodecs())
}

// SupportedCodecs returns the supported codec names.
func SupportedCodecs() string {
	names := make([]string, len(supportedCodecs))
	for i, c := range supportedCodecs {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}

// NewReader returns a reader decompressing r.
func NewReader(c Codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case None:
		return io.NopCloser(r), nil
	case GZIP:
		return gzip.NewReader(r)
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case Flate:
		return kflate.NewReader(r), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("invalid compression codec: %d", c)
	}
}

// NewWriter returns a writer compressing to w. Closing it flushes the codec
// but does not close w.
func NewWriter(c Codec, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopCloseWriter{w}, nil
	case GZIP:
		return gzip.NewWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case Flate:
		return kflate.NewWriter(w, kflate.DefaultCompression)
	case Zstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("invalid compression codec: %d", c)
	}
}

type nopCloseWriter struct{ io.Writer }

func (nopCloseWriter) Close() error { return nil }
