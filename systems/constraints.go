package systems

import (
	"github.com/pthm-cable/offrails/components"
)

// Aggregate sums amount and rate over the converter's constraint inventories
// holding resource.
func Aggregate(conv *components.Converter, inventories []components.Inventory, resource string) (amount, rate float64) {
	for i := range conv.Constraint.Ones() {
		if i >= len(inventories) {
			break
		}
		inv := &inventories[i]
		if inv.ID.Resource != resource {
			continue
		}
		amount += inv.Amount
		rate += inv.Rate
	}
	return amount, rate
}

// ConstraintStateOf classifies an aggregate amount against a requirement.
// Amounts within band of the threshold are Boundary.
func ConstraintStateOf(req components.ResourceConstraint, amount, band float64) components.ConstraintState {
	switch {
	case amount > req.Amount+band:
		if req.Kind == components.AtLeast {
			return components.Enabled
		}
		return components.Disabled
	case amount < req.Amount-band:
		if req.Kind == components.AtLeast {
			return components.Disabled
		}
		return components.Enabled
	}
	return components.Boundary
}

// EvaluateConstraints recomputes conv.States from current amounts and
// reports whether any state changed.
func EvaluateConstraints(conv *components.Converter, inventories []components.Inventory, band float64) bool {
	if len(conv.States) != len(conv.Requirements) {
		conv.States = make([]components.ConstraintState, len(conv.Requirements))
	}
	changed := false
	for k, req := range conv.Requirements {
		amount, _ := Aggregate(conv, inventories, req.Resource)
		s := ConstraintStateOf(req, amount, band)
		if conv.States[k] != s {
			conv.States[k] = s
			changed = true
		}
	}
	return changed
}

// EvaluateAll evaluates every converter and reports whether any state changed.
func EvaluateAll(convs []*components.Converter, inventories []components.Inventory, band float64) bool {
	changed := false
	for _, c := range convs {
		if EvaluateConstraints(c, inventories, band) {
			changed = true
		}
	}
	return changed
}
