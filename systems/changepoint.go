package systems

import (
	"log/slog"
	"math"

	"github.com/pthm-cable/offrails/components"
)

// CandidateKind says what a changepoint candidate was derived from.
type CandidateKind uint8

const (
	CandidateInventory  CandidateKind = iota // inventory reaches full or empty
	CandidateConverter                       // behaviour's own changepoint
	CandidateConstraint                      // aggregate crosses a requirement band
)

func (k CandidateKind) String() string {
	switch k {
	case CandidateInventory:
		return "inventory"
	case CandidateConverter:
		return "converter"
	default:
		return "constraint"
	}
}

// Candidate is one future time at which the current solution may stop holding.
type Candidate struct {
	Time  float64
	Kind  CandidateKind
	Index int // inventory or converter index
}

// Scheduler computes changepoints from the current rates.
type Scheduler struct {
	Band float64 // constraint BOUNDARY half-width
	Log  *slog.Logger
}

// Candidates lists every candidate strictly after now. Candidates computed
// in the past are logged and dropped.
func (s *Scheduler) Candidates(now float64, convs []*components.Converter, inventories []components.Inventory) []Candidate {
	var out []Candidate
	add := func(t float64, kind CandidateKind, idx int) {
		switch {
		case math.IsNaN(t) || math.IsInf(t, 1):
			return
		case t < now:
			s.logger().Warn("changepoint in the past ignored",
				"kind", kind.String(), "index", idx, "time", t, "now", now)
			return
		case t == now:
			return
		}
		out = append(out, Candidate{Time: t, Kind: kind, Index: idx})
	}

	for i := range inventories {
		inv := &inventories[i]
		if inv.Rate == 0 {
			continue
		}
		add(now+inv.RemainingTime(), CandidateInventory, i)
	}

	for ci, c := range convs {
		add(c.NextChangepoint, CandidateConverter, ci)
		for _, req := range c.Requirements {
			amount, rate := Aggregate(c, inventories, req.Resource)
			if dt, ok := crossingTime(req.Amount, amount, rate, s.Band); ok {
				add(now+dt, CandidateConstraint, ci)
			}
		}
	}
	return out
}

// Next returns the earliest candidate, or +Inf. The result is never before now.
func (s *Scheduler) Next(now float64, convs []*components.Converter, inventories []components.Inventory) float64 {
	next := math.Inf(1)
	for _, c := range s.Candidates(now, convs, inventories) {
		next = min(next, c.Time)
	}
	return next
}

// crossingTime returns how long until the aggregate changes band position
// relative to threshold. Targets sit inside the band when entering and a
// full band beyond it when leaving, so the state after advancing is
// unambiguous.
func crossingTime(threshold, amount, rate, band float64) (float64, bool) {
	var target float64
	switch {
	case rate == 0:
		return 0, false
	case amount > threshold+band:
		if rate > 0 {
			return 0, false
		}
		target = threshold
	case amount < threshold-band:
		if rate < 0 {
			return 0, false
		}
		target = threshold
	case rate < 0:
		target = threshold - 2*band
	default:
		target = threshold + 2*band
	}
	dt := (target - amount) / rate
	if !(dt > 0) || math.IsInf(dt, 0) {
		return 0, false
	}
	return dt, true
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
