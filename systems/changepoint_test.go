package systems

import (
	"math"
	"testing"

	"github.com/pthm-cable/offrails/bitset"
	"github.com/pthm-cable/offrails/components"
)

const band = 1e-6

func constrained(req components.ResourceConstraint, n int, idx ...int) *components.Converter {
	c := &components.Converter{
		Requirements:    []components.ResourceConstraint{req},
		Constraint:      bitset.New(n),
		NextChangepoint: math.Inf(1),
	}
	for _, i := range idx {
		c.Constraint.Set(i)
	}
	return c
}

func TestConstraintStateOf(t *testing.T) {
	atLeast := components.ResourceConstraint{Resource: "R", Amount: 5, Kind: components.AtLeast}
	atMost := components.ResourceConstraint{Resource: "R", Amount: 5, Kind: components.AtMost}

	cases := []struct {
		req    components.ResourceConstraint
		amount float64
		want   components.ConstraintState
	}{
		{atLeast, 6, components.Enabled},
		{atLeast, 5, components.Boundary},
		{atLeast, 4, components.Disabled},
		{atMost, 6, components.Disabled},
		{atMost, 5, components.Boundary},
		{atMost, 4, components.Enabled},
	}
	for _, tc := range cases {
		if got := ConstraintStateOf(tc.req, tc.amount, band); got != tc.want {
			t.Errorf("%s %v with %v: expected %s, got %s", tc.req.Kind, tc.req.Amount, tc.amount, tc.want, got)
		}
	}
}

func TestEvaluateConstraints_ExactThresholdIsBoundary(t *testing.T) {
	invs := []components.Inventory{tank(1, "R", 5, 10)}
	conv := constrained(components.ResourceConstraint{Resource: "R", Amount: 5}, 1, 0)

	EvaluateConstraints(conv, invs, band)
	if conv.State() != components.Boundary {
		t.Fatalf("expected BOUNDARY, got %s", conv.State())
	}

	invs[0].Amount = 3
	if !EvaluateConstraints(conv, invs, band) {
		t.Error("expected a state change to be reported")
	}
	if conv.State() != components.Disabled {
		t.Errorf("expected DISABLED, got %s", conv.State())
	}
	if EvaluateConstraints(conv, invs, band) {
		t.Error("expected no change on re-evaluation")
	}
}

func TestAggregate_OnlyConstraintInventories(t *testing.T) {
	invs := []components.Inventory{
		tank(1, "R", 2, 10),
		tank(2, "R", 3, 10),
		tank(3, "R", 100, 100),
		tank(1, "S", 7, 10),
	}
	invs[0].Rate = -1
	invs[1].Rate = 0.5
	conv := constrained(components.ResourceConstraint{Resource: "R"}, len(invs), 0, 1, 3)
	amount, rate := Aggregate(conv, invs, "R")
	if amount != 5 || rate != -0.5 {
		t.Errorf("expected amount 5 rate -0.5, got %v %v", amount, rate)
	}
}

func TestScheduler_InventoryBoundary(t *testing.T) {
	invs := []components.Inventory{
		tank(1, "A", 10, 10),
		tank(1, "B", 0, 10),
	}
	invs[0].Rate = -1
	invs[1].Rate = 1
	s := &Scheduler{Band: band}
	if got := s.Next(0, nil, invs); math.Abs(got-10) > 1e-12 {
		t.Errorf("expected changepoint at 10, got %v", got)
	}
	if got := s.Next(100, nil, invs); math.Abs(got-110) > 1e-12 {
		t.Errorf("expected changepoint at 110, got %v", got)
	}
}

func TestScheduler_IdleIsInfinite(t *testing.T) {
	invs := []components.Inventory{tank(1, "A", 5, 10)}
	s := &Scheduler{Band: band}
	if got := s.Next(3, nil, invs); !math.IsInf(got, 1) {
		t.Errorf("expected +Inf, got %v", got)
	}
}

func TestScheduler_ConverterChangepoint(t *testing.T) {
	conv := &components.Converter{NextChangepoint: 42}
	s := &Scheduler{Band: band}
	if got := s.Next(1, []*components.Converter{conv}, nil); got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestScheduler_PastCandidatesIgnored(t *testing.T) {
	conv := &components.Converter{NextChangepoint: 5}
	s := &Scheduler{Band: band}
	if got := s.Next(10, []*components.Converter{conv}, nil); !math.IsInf(got, 1) {
		t.Errorf("expected past changepoint to be dropped, got %v", got)
	}
	conv.NextChangepoint = 10
	if got := s.Next(10, []*components.Converter{conv}, nil); !math.IsInf(got, 1) {
		t.Errorf("expected changepoint at now to be dropped, got %v", got)
	}
}

func TestScheduler_ConstraintCrossing(t *testing.T) {
	// Draining toward an AT_LEAST 5 threshold from above.
	invs := []components.Inventory{tank(1, "R", 9, 100)}
	invs[0].Rate = -2
	conv := constrained(components.ResourceConstraint{Resource: "R", Amount: 5}, 1, 0)
	conv.Rate = 1

	s := &Scheduler{Band: band}
	cands := s.Candidates(0, []*components.Converter{conv}, invs)
	var found bool
	for _, c := range cands {
		if c.Kind == CandidateConstraint {
			found = true
			if math.Abs(c.Time-2) > 1e-9 {
				t.Errorf("expected crossing at 2, got %v", c.Time)
			}
		}
	}
	if !found {
		t.Fatal("expected a constraint candidate")
	}
}

func TestScheduler_BoundaryConstraintIsCandidate(t *testing.T) {
	// Aggregate sits exactly on the threshold while the converter keeps running.
	invs := []components.Inventory{tank(1, "R", 5, 100)}
	invs[0].Rate = -1
	conv := constrained(components.ResourceConstraint{Resource: "R", Amount: 5}, 1, 0)
	conv.Rate = 1
	EvaluateConstraints(conv, invs, band)
	if conv.State() != components.Boundary {
		t.Fatalf("expected BOUNDARY, got %s", conv.State())
	}

	s := &Scheduler{Band: band}
	var crossing float64 = math.Inf(1)
	for _, c := range s.Candidates(0, []*components.Converter{conv}, invs) {
		if c.Kind == CandidateConstraint {
			crossing = c.Time
		}
	}
	if !(crossing > 0) || math.IsInf(crossing, 1) {
		t.Fatalf("expected a finite positive crossing, got %v", crossing)
	}

	// Advancing to the crossing leaves the band on the violating side.
	Integrate(invs, crossing, 0)
	EvaluateConstraints(conv, invs, band)
	if conv.State() != components.Disabled {
		t.Errorf("expected DISABLED after crossing, got %s (amount %v)", conv.State(), invs[0].Amount)
	}
}

func TestScheduler_NeverBeforeNow(t *testing.T) {
	invs := []components.Inventory{
		tank(1, "A", 0, 10),
		tank(1, "B", 10, 10),
		tank(1, "C", 3, 10),
	}
	invs[0].Rate = -1 // already empty
	invs[1].Rate = 1  // already full
	invs[2].Rate = 0.25
	conv := &components.Converter{NextChangepoint: -1}
	s := &Scheduler{Band: band}
	for _, now := range []float64{0, 1, 1e6} {
		if got := s.Next(now, []*components.Converter{conv}, invs); got < now {
			t.Errorf("Next(%v) = %v, expected >= now", now, got)
		}
	}
}

func TestIntegrate_FudgeSnapsToBoundary(t *testing.T) {
	invs := []components.Inventory{
		tank(1, "A", 10, 10),
		tank(1, "B", 0, 10),
	}
	invs[0].Rate = -1
	invs[1].Rate = 1
	res := Integrate(invs, 9.99, 0.02)
	if invs[0].Amount != 0 || invs[1].Amount != 10 {
		t.Errorf("expected snap to 0 and 10, got %v and %v", invs[0].Amount, invs[1].Amount)
	}
	if res.Snapped != 2 {
		t.Errorf("expected 2 snaps, got %d", res.Snapped)
	}
}

func TestIntegrate_ClampsOvershoot(t *testing.T) {
	invs := []components.Inventory{tank(1, "A", 1, 10)}
	invs[0].Rate = -1
	res := Integrate(invs, 5, 0)
	if invs[0].Amount != 0 {
		t.Errorf("expected clamp to 0, got %v", invs[0].Amount)
	}
	if res.Clamped != 1 {
		t.Errorf("expected 1 clamp, got %d", res.Clamped)
	}
}

func TestIntegrate_UnboundedNeverSnaps(t *testing.T) {
	invs := []components.Inventory{tank(1, "A", 1, math.Inf(1))}
	invs[0].Rate = 2
	Integrate(invs, 3, 0.02)
	if invs[0].Amount != 7 {
		t.Errorf("expected 7, got %v", invs[0].Amount)
	}
}

func TestAccumulateActive(t *testing.T) {
	convs := []*components.Converter{{Rate: 0.5}, {Rate: 0}}
	AccumulateActive(convs, 4)
	if convs[0].ActiveTime != 2 || convs[1].ActiveTime != 0 {
		t.Errorf("expected active times 2 and 0, got %v and %v", convs[0].ActiveTime, convs[1].ActiveTime)
	}
}
