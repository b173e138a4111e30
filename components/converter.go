package components

import (
	"fmt"
	"math"
	"slices"

	"github.com/pthm-cable/offrails/bitset"
)

// SourceRef identifies the part module a converter came from.
type SourceRef struct {
	PartID   uint32 `json:"part_id"`
	ModuleID uint32 `json:"module_id"`
	Index    int    `json:"index,omitempty"` // position among the module's converters
}

func (s SourceRef) String() string {
	return fmt.Sprintf("%d/%d#%d", s.PartID, s.ModuleID, s.Index)
}

// Converter is a production/consumption rule together with its wiring and
// the rate the solver assigned to it.
type Converter struct {
	Source    SourceRef
	Priority  int // higher is satisfied first
	Behaviour Behaviour

	Inputs       []ResourceRatio
	Outputs      []ResourceRatio
	Requirements []ResourceConstraint

	// Connectivity over the processor's inventory index space.
	Pull       bitset.BitSet
	Push       bitset.BitSet
	Constraint bitset.BitSet

	// States holds one entry per requirement.
	States []ConstraintState

	Rate            float64 // activation in [0, 1]
	NextChangepoint float64
	ActiveTime      float64
}

// State merges the per-requirement states. A converter without requirements is Enabled.
func (c *Converter) State() ConstraintState {
	s := Enabled
	for _, st := range c.States {
		s = s.Merge(st)
	}
	return s
}

// Anomaly describes a value a behaviour returned that had to be corrected.
type Anomaly struct {
	Field  string
	Detail string
}

// Apply installs a resource set on the converter, sanitising it first.
// It reports whether the declared inputs, outputs or requirements changed,
// and any anomalies that were corrected.
func (c *Converter) Apply(rs ResourceSet) (changed bool, anomalies []Anomaly) {
	inputs, a1 := sanitizeRatios("input", rs.Inputs)
	outputs, a2 := sanitizeRatios("output", rs.Outputs)
	reqs, a3 := sanitizeConstraints(rs.Requirements)
	anomalies = append(append(a1, a2...), a3...)

	next := rs.NextChangepoint
	if math.IsNaN(next) {
		anomalies = append(anomalies, Anomaly{Field: "next_changepoint", Detail: "NaN replaced with +Inf"})
		next = math.Inf(1)
	}

	changed = !slices.Equal(c.Inputs, inputs) ||
		!slices.Equal(c.Outputs, outputs) ||
		!slices.Equal(c.Requirements, reqs)

	c.Inputs = inputs
	c.Outputs = outputs
	c.Requirements = reqs
	c.NextChangepoint = next
	if len(c.States) != len(reqs) {
		c.States = make([]ConstraintState, len(reqs))
	}
	return changed, anomalies
}

// Clone returns a deep copy. The behaviour is shared.
func (c *Converter) Clone() *Converter {
	cp := *c
	cp.Inputs = slices.Clone(c.Inputs)
	cp.Outputs = slices.Clone(c.Outputs)
	cp.Requirements = slices.Clone(c.Requirements)
	cp.States = slices.Clone(c.States)
	cp.Pull = c.Pull.Clone()
	cp.Push = c.Push.Clone()
	cp.Constraint = c.Constraint.Clone()
	return &cp
}

// sanitizeRatios drops non-finite or non-positive ratios and merges repeated
// resources so that each resource appears once per direction.
func sanitizeRatios(field string, in []ResourceRatio) ([]ResourceRatio, []Anomaly) {
	var out []ResourceRatio
	var anomalies []Anomaly
	for _, r := range in {
		if math.IsNaN(r.Ratio) || math.IsInf(r.Ratio, 0) || r.Ratio < 0 {
			anomalies = append(anomalies, Anomaly{Field: field, Detail: fmt.Sprintf("%s ratio %v dropped", r.Resource, r.Ratio)})
			continue
		}
		if r.Ratio == 0 {
			continue
		}
		if i := slices.IndexFunc(out, func(o ResourceRatio) bool { return o.Resource == r.Resource }); i >= 0 {
			out[i].Ratio += r.Ratio
			out[i].DumpExcess = out[i].DumpExcess && r.DumpExcess
			continue
		}
		out = append(out, r)
	}
	return out, anomalies
}

func sanitizeConstraints(in []ResourceConstraint) ([]ResourceConstraint, []Anomaly) {
	var out []ResourceConstraint
	var anomalies []Anomaly
	for _, r := range in {
		if math.IsNaN(r.Amount) {
			anomalies = append(anomalies, Anomaly{Field: "requirement", Detail: fmt.Sprintf("%s threshold NaN dropped", r.Resource)})
			continue
		}
		out = append(out, r)
	}
	return out, anomalies
}
