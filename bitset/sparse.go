package bitset

import (
	"iter"
	"slices"
)

// SparseMap is an integer-keyed map stored as parallel sorted slices.
// Iteration is always in ascending key order, which keeps solver input
// construction deterministic.
type SparseMap[V any] struct {
	keys   []int
	values []V
}

// Len returns the number of entries.
func (m *SparseMap[V]) Len() int { return len(m.keys) }

// Get returns the value stored at k.
func (m *SparseMap[V]) Get(k int) (V, bool) {
	i, ok := slices.BinarySearch(m.keys, k)
	if !ok {
		var zero V
		return zero, false
	}
	return m.values[i], true
}

// Ptr returns a pointer to the value stored at k, or nil.
// The pointer is invalidated by the next Set or Delete.
func (m *SparseMap[V]) Ptr(k int) *V {
	i, ok := slices.BinarySearch(m.keys, k)
	if !ok {
		return nil
	}
	return &m.values[i]
}

// Set stores v at k.
func (m *SparseMap[V]) Set(k int, v V) {
	i, ok := slices.BinarySearch(m.keys, k)
	if ok {
		m.values[i] = v
		return
	}
	m.keys = slices.Insert(m.keys, i, k)
	m.values = slices.Insert(m.values, i, v)
}

// Upsert returns a pointer to the value at k, inserting the zero value first
// if it is missing.
func (m *SparseMap[V]) Upsert(k int) *V {
	i, ok := slices.BinarySearch(m.keys, k)
	if !ok {
		var zero V
		m.keys = slices.Insert(m.keys, i, k)
		m.values = slices.Insert(m.values, i, zero)
	}
	return &m.values[i]
}

// Delete removes k if present.
func (m *SparseMap[V]) Delete(k int) {
	i, ok := slices.BinarySearch(m.keys, k)
	if !ok {
		return
	}
	m.keys = slices.Delete(m.keys, i, i+1)
	m.values = slices.Delete(m.values, i, i+1)
}

// Keys returns the keys in ascending order. The slice is shared.
func (m *SparseMap[V]) Keys() []int { return m.keys }

// All iterates entries in ascending key order.
func (m *SparseMap[V]) All() iter.Seq2[int, V] {
	return func(yield func(int, V) bool) {
		for i, k := range m.keys {
			if !yield(k, m.values[i]) {
				return
			}
		}
	}
}
