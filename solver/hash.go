package solver

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/pthm-cable/offrails/components"
)

// Hash fingerprints everything that shapes the rate model: converter
// declarations, priorities, constraint states and connectivity, and
// inventory identities and boundary states. Amounts do not contribute.
func Hash(convs []*components.Converter, invs []components.Inventory, opts Options) uint64 {
	h := xxhash.New()
	var buf [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	f64 := func(v float64) { u64(math.Float64bits(v)) }
	str := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	flag := func(b bool) {
		if b {
			u64(1)
		} else {
			u64(0)
		}
	}

	flag(opts.MergeClasses)
	f64(opts.Epsilon)

	u64(uint64(len(invs)))
	for i := range invs {
		inv := &invs[i]
		u64(uint64(inv.ID.PartID)<<32 | uint64(inv.ID.ModuleID))
		str(inv.ID.Resource)
		u64(uint64(inv.Boundary(opts.Epsilon)))
		flag(inv.Unbounded())
	}

	u64(uint64(len(convs)))
	for _, c := range convs {
		u64(uint64(int64(c.Priority)))
		ratios := func(rs []components.ResourceRatio) {
			u64(uint64(len(rs)))
			for _, r := range rs {
				str(r.Resource)
				f64(r.Ratio)
				flag(r.DumpExcess)
			}
		}
		ratios(c.Inputs)
		ratios(c.Outputs)
		u64(uint64(len(c.Requirements)))
		for j, r := range c.Requirements {
			str(r.Resource)
			f64(r.Amount)
			u64(uint64(r.Kind))
			if j < len(c.States) {
				u64(uint64(c.States[j]))
			}
		}
		for _, set := range [...][]uint64{c.Pull.Words(), c.Push.Words(), c.Constraint.Words()} {
			u64(uint64(len(set)))
			for _, w := range set {
				u64(w)
			}
		}
	}
	return h.Sum64()
}
