package components

import (
	"fmt"
	"math"
)

// InventoryID identifies a resource container.
// ModuleID is zero for resources stored on the part itself and non-zero for
// virtual resources exposed by a module.
type InventoryID struct {
	PartID   uint32 `json:"part_id"`
	ModuleID uint32 `json:"module_id,omitempty"`
	Resource string `json:"resource"`
}

// Virtual reports whether the inventory belongs to a module rather than the part.
func (id InventoryID) Virtual() bool { return id.ModuleID != 0 }

func (id InventoryID) String() string {
	if id.Virtual() {
		return fmt.Sprintf("%d/%d:%s", id.PartID, id.ModuleID, id.Resource)
	}
	return fmt.Sprintf("%d:%s", id.PartID, id.Resource)
}

// Inventory is a single bounded (or unbounded) store of one resource.
type Inventory struct {
	ID             InventoryID
	Amount         float64
	MaxAmount      float64 // may be +Inf
	Rate           float64 // units/second, written only by the solver
	OriginalAmount float64 // amount when recorded, used to detect external changes

	// Flow flags: pulls need FlowOut, pushes need FlowIn.
	FlowIn  bool
	FlowOut bool
}

// Full reports whether the remaining capacity is below eps.
func (inv *Inventory) Full(eps float64) bool {
	return inv.MaxAmount-inv.Amount < eps
}

// Empty reports whether the amount is below eps.
func (inv *Inventory) Empty(eps float64) bool {
	return inv.Amount < eps
}

// Unbounded reports whether the inventory has infinite capacity.
func (inv *Inventory) Unbounded() bool {
	return math.IsInf(inv.MaxAmount, 1)
}

// Remaining returns the capacity left before the inventory is full.
func (inv *Inventory) Remaining() float64 {
	return max(inv.MaxAmount-inv.Amount, 0)
}

// RemainingTime returns the time until the inventory hits a boundary at its
// current rate. It is +Inf when the rate is zero or the capacity is unbounded.
func (inv *Inventory) RemainingTime() float64 {
	switch {
	case inv.Rate > 0:
		if inv.Unbounded() {
			return math.Inf(1)
		}
		return inv.Remaining() / inv.Rate
	case inv.Rate < 0:
		return max(inv.Amount, 0) / -inv.Rate
	}
	return math.Inf(1)
}

// BoundaryState describes which boundaries an inventory is currently pinned to.
// An inventory with zero capacity is both empty and full.
type BoundaryState uint8

const (
	BoundaryEmpty BoundaryState = 1 << iota
	BoundaryFull

	BoundaryNone BoundaryState = 0
)

// Boundary returns the inventory's boundary flags.
func (inv *Inventory) Boundary(eps float64) BoundaryState {
	var b BoundaryState
	if inv.Empty(eps) {
		b |= BoundaryEmpty
	}
	if inv.Full(eps) {
		b |= BoundaryFull
	}
	return b
}

// Clamp forces the amount into [0, MaxAmount] and replaces NaN with 0.
// It reports whether the amount had to be changed.
func (inv *Inventory) Clamp() bool {
	a := inv.Amount
	switch {
	case math.IsNaN(a):
		inv.Amount = 0
	case a < 0:
		inv.Amount = 0
	case a > inv.MaxAmount:
		inv.Amount = inv.MaxAmount
	default:
		return false
	}
	return true
}
