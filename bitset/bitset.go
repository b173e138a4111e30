// Package bitset provides the fixed-capacity bit vectors and sparse integer
// maps used to describe which inventories a converter is wired to.
package bitset

import (
	"fmt"
	"iter"
	"math/bits"
	"strings"
)

const wordBits = 64

// BitSet is a fixed-capacity, word-packed bit vector.
// The zero value is an empty set with capacity 0.
type BitSet struct {
	words []uint64
	n     int
}

// New returns an empty set able to hold bits [0, n).
func New(n int) BitSet {
	if n < 0 {
		n = 0
	}
	return BitSet{words: make([]uint64, (n+wordBits-1)/wordBits), n: n}
}

// FromWords rebuilds a set of capacity n from its packed words.
// Missing words are treated as zero; bits beyond n are dropped.
func FromWords(n int, words []uint64) BitSet {
	b := New(n)
	copy(b.words, words)
	b.trim()
	return b
}

// Len returns the capacity of the set in bits.
func (b BitSet) Len() int { return b.n }

// Words returns the packed representation. The slice is shared.
func (b BitSet) Words() []uint64 { return b.words }

// Set marks bit i. Out of range indices panic.
func (b *BitSet) Set(i int) {
	b.check(i)
	b.words[i/wordBits] |= 1 << (uint(i) % wordBits)
}

// Test reports whether bit i is set. Out of range indices report false.
func (b BitSet) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/wordBits]&(1<<(uint(i)%wordBits)) != 0
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	c := 0
	for _, w := range b.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Equal reports whether both sets have the same capacity and bits.
func (b BitSet) Equal(o BitSet) bool {
	if b.n != o.n {
		return false
	}
	for i, w := range b.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (b BitSet) Clone() BitSet {
	c := BitSet{words: make([]uint64, len(b.words)), n: b.n}
	copy(c.words, b.words)
	return c
}

// Ones iterates the indices of set bits in ascending order.
func (b BitSet) Ones() iter.Seq[int] {
	return func(yield func(int) bool) {
		for wi, w := range b.words {
			for w != 0 {
				tz := bits.TrailingZeros64(w)
				if !yield(wi*wordBits + tz) {
					return
				}
				w &= w - 1
			}
		}
	}
}

// String renders the set as {i, j, ...}.
func (b BitSet) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for i := range b.Ones() {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%d", i)
	}
	sb.WriteByte('}')
	return sb.String()
}

func (b BitSet) check(i int) {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("bitset: index %d out of range [0, %d)", i, b.n))
	}
}

// trim zeroes the padding bits of the last word.
func (b *BitSet) trim() {
	if len(b.words) == 0 {
		return
	}
	if r := uint(b.n) % wordBits; r != 0 {
		b.words[len(b.words)-1] &= (1 << r) - 1
	}
}
