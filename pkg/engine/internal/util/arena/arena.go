// Package arena provides an index-based store with generation-checked keys.
//
// Graphs in the engine reference their vertices through arena keys rather than
// pointers, so back-references (pipe to sender, node to output pipes) never
// form ownership cycles. A key taken from a removed slot never resolves to a
// value inserted later into the same slot.
package arena

import (
	"fmt"
	"iter"
)

// Key identifies a slot in an [Arena]. The zero Key is never handed out and can
// be used as a null value.
type Key uint64

func newKey(idx, gen uint32) Key { return Key(uint64(gen)<<32 | uint64(idx)) }

// Index returns the slot index of k.
func (k Key) Index() uint32 { return uint32(k) }

// Generation returns the generation of the slot at the time k was created.
func (k Key) Generation() uint32 { return uint32(k >> 32) }

// IsNull reports whether k is the zero key.
func (k Key) IsNull() bool { return k == 0 }

func (k Key) String() string {
	if k.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%dv%d", k.Index(), k.Generation())
}

// KeyType is the set of key types an Arena can be indexed by. Packages define
// their own key types on top of Key to keep keys of different arenas apart.
type KeyType interface{ ~uint64 }

type slot[V any] struct {
	value    *V
	gen      uint32
	occupied bool
}

// Arena stores values of type V addressed by keys of type K. Values are stored
// by pointer so pointers returned by Get stay valid across inserts.
type Arena[K KeyType, V any] struct {
	slots []slot[V]
	free  []uint32
	len   int
}

// New returns an empty arena.
func New[K KeyType, V any]() *Arena[K, V] {
	return &Arena[K, V]{}
}

// Insert stores v and returns its key.
func (a *Arena[K, V]) Insert(v V) K {
	a.len++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.gen++
		s.value = &v
		s.occupied = true
		return K(newKey(idx, s.gen))
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[V]{value: &v, gen: 1, occupied: true})
	return K(newKey(idx, 1))
}

func (a *Arena[K, V]) lookup(k K) (*slot[V], bool) {
	key := Key(k)
	idx := key.Index()
	if key.IsNull() || int(idx) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if !s.occupied || s.gen != key.Generation() {
		return nil, false
	}
	return s, true
}

// Get returns a pointer to the value stored under k.
func (a *Arena[K, V]) Get(k K) (*V, bool) {
	s, ok := a.lookup(k)
	if !ok {
		return nil, false
	}
	return s.value, true
}

// MustGet is like Get but panics if k is not present. Use it where a missing
// key can only be caused by a bug.
func (a *Arena[K, V]) MustGet(k K) *V {
	v, ok := a.Get(k)
	if !ok {
		panic(fmt.Sprintf("arena: invalid key %s", Key(k)))
	}
	return v
}

// Contains reports whether k is present.
func (a *Arena[K, V]) Contains(k K) bool {
	_, ok := a.lookup(k)
	return ok
}

// Remove deletes the value stored under k and returns it.
func (a *Arena[K, V]) Remove(k K) (V, bool) {
	var zero V
	s, ok := a.lookup(k)
	if !ok {
		return zero, false
	}
	v := *s.value
	s.value = nil
	s.occupied = false
	a.free = append(a.free, Key(k).Index())
	a.len--
	return v, true
}

// Len returns the number of stored values.
func (a *Arena[K, V]) Len() int { return a.len }

// Keys returns the keys of all stored values in slot order.
func (a *Arena[K, V]) Keys() []K {
	keys := make([]K, 0, a.len)
	for k := range a.All() {
		keys = append(keys, k)
	}
	return keys
}

// All iterates over all stored values in slot order.
func (a *Arena[K, V]) All() iter.Seq2[K, *V] {
	return func(yield func(K, *V) bool) {
		for idx := range a.slots {
			s := &a.slots[idx]
			if !s.occupied {
				continue
			}
			if !yield(K(newKey(uint32(idx), s.gen)), s.value) {
				return
			}
		}
	}
}
