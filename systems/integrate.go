package systems

import (
	"github.com/pthm-cable/offrails/components"
)

// IntegrateResult counts the corrections made during integration.
type IntegrateResult struct {
	Snapped int // amounts snapped to a boundary by the fudge threshold
	Clamped int // amounts that left [0, max] and were clamped
}

// Integrate advances every inventory amount by dt at its current rate.
// Inventories left with less than fudge seconds to a boundary are snapped
// onto it, which avoids chains of near-duplicate changepoints.
func Integrate(inventories []components.Inventory, dt, fudge float64) IntegrateResult {
	var res IntegrateResult
	if dt < 0 {
		dt = 0
	}
	for i := range inventories {
		inv := &inventories[i]
		if inv.Rate != 0 && dt > 0 {
			inv.Amount += inv.Rate * dt
			if inv.RemainingTime() < fudge {
				if inv.Rate > 0 {
					inv.Amount = inv.MaxAmount
				} else {
					inv.Amount = 0
				}
				res.Snapped++
			}
		}
		if inv.Clamp() {
			res.Clamped++
		}
	}
	return res
}

// AccumulateActive adds rate*dt to every converter's active time.
func AccumulateActive(convs []*components.Converter, dt float64) {
	if dt <= 0 {
		return
	}
	for _, c := range convs {
		c.ActiveTime += c.Rate * dt
	}
}
