package compression

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	ExtNone   = ""
	ExtGZIP   = ".gz"
	ExtSnappy = ".sz"
	ExtLZ4    = ".lz4"
	ExtFlate  = ".zz"
	ExtZstd   = ".zst"
)

func ToFileExtension(c Codec) string {
	switch c {
	case None:
		return ExtNone
	case GZIP:
		return ExtGZIP
	case LZ4:
		return ExtLZ4
	case Snappy:
		return ExtSnappy
	case Flate:
		return ExtFlate
	case Zstd:
		return ExtZstd
	default:
		panic(fmt.Sprintf("invalid codec: %d, supported: %s", c, SupportedCodecs()))
	}
}

// FromFileExtension returns the codec of files with extension ext. Unknown
// extensions are not compressed.
func FromFileExtension(ext string) Codec {
	switch strings.ToLower(ext) {
	case ExtGZIP:
		return GZIP
	case ExtLZ4:
		return LZ4
	case ExtSnappy:
		return Snappy
	case ExtFlate:
		return Flate
	case ExtZstd:
		return Zstd
	default:
		return None
	}
}

// FromPath returns the codec of path along with path stripped of the
// compression extension.
func FromPath(path string) (Codec, string) {
	ext := filepath.Ext(path)
	c := FromFileExtension(ext)
	if c == None {
		return None, path
	}
	return c, strings.TrimSuffix(path, ext)
}
