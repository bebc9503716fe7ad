package nodes

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cespare/xxhash/v2"

	"github.com/grafana/morsel/pkg/engine/internal/datatype"
)

// compareAt compares row i of a with row j of b, which must have the same
// type accepted by dataframe.CheckKeyType. Nulls compare equal to each other
// and before any value.
func compareAt(a arrow.Array, i int, b arrow.Array, j int) int {
	an, bn := datatype.IsNull(a, i), datatype.IsNull(b, j)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}

	switch a := a.(type) {
	case *array.Int64:
		return cmp.Compare(a.Value(i), b.(*array.Int64).Value(j))
	case *array.Float64:
		return cmp.Compare(a.Value(i), b.(*array.Float64).Value(j))
	case *array.String:
		return cmp.Compare(a.Value(i), b.(*array.String).Value(j))
	case *array.Timestamp:
		return cmp.Compare(a.Value(i), b.(*array.Timestamp).Value(j))
	case *array.Boolean:
		av, bv := a.Value(i), b.(*array.Boolean).Value(j)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case *array.Null:
		return 0
	}
	panic(fmt.Sprintf("compareAt: unsupported type %s", a.DataType()))
}

// rowHasher hashes the key columns of rows.
type rowHasher struct {
	digest *xxhash.Digest
	buf    [8]byte
}

func newRowHasher() *rowHasher {
	return &rowHasher{digest: xxhash.New()}
}

// hash returns the hash of row i over keys.
func (h *rowHasher) hash(keys []arrow.Array, i int) uint64 {
	h.digest.Reset()
	for _, k := range keys {
		if datatype.IsNull(k, i) {
			_, _ = h.digest.Write([]byte{0})
			continue
		}
		_, _ = h.digest.Write([]byte{1})
		switch k := k.(type) {
		case *array.Int64:
			h.writeUint64(uint64(k.Value(i)))
		case *array.Float64:
			h.writeUint64(math.Float64bits(k.Value(i)))
		case *array.Timestamp:
			h.writeUint64(uint64(k.Value(i)))
		case *array.String:
			h.writeUint64(uint64(len(k.Value(i))))
			_, _ = h.digest.WriteString(k.Value(i))
		case *array.Boolean:
			if k.Value(i) {
				h.writeUint64(1)
			} else {
				h.writeUint64(0)
			}
		}
	}
	return h.digest.Sum64()
}

func (h *rowHasher) writeUint64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.digest.Write(h.buf[:])
}

// keysEqual reports whether row i of a equals row j of b. Nulls are equal to
// each other.
func keysEqual(a []arrow.Array, i int, b []arrow.Array, j int) bool {
	for k := range a {
		if compareAt(a[k], i, b[k], j) != 0 {
			return false
		}
	}
	return true
}

// hasNull reports whether any key of row i is null.
func hasNull(keys []arrow.Array, i int) bool {
	for _, k := range keys {
		if datatype.IsNull(k, i) {
			return true
		}
	}
	return false
}

func releaseArrays(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}
