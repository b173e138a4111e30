package components

import (
	"errors"
	"math"
	"testing"
)

func TestInventory_Boundaries(t *testing.T) {
	const eps = 1e-6
	full := Inventory{Amount: 10, MaxAmount: 10}
	if !full.Full(eps) || full.Empty(eps) {
		t.Error("expected full, not empty")
	}
	empty := Inventory{Amount: 0, MaxAmount: 10}
	if !empty.Empty(eps) || empty.Full(eps) {
		t.Error("expected empty, not full")
	}
	zero := Inventory{Amount: 0, MaxAmount: 0}
	if zero.Boundary(eps) != BoundaryEmpty|BoundaryFull {
		t.Errorf("zero capacity should be both, got %v", zero.Boundary(eps))
	}
}

func TestInventory_RemainingTime(t *testing.T) {
	inv := Inventory{Amount: 4, MaxAmount: 10, Rate: 2}
	if rt := inv.RemainingTime(); rt != 3 {
		t.Errorf("expected 3s to fill, got %v", rt)
	}
	inv.Rate = -2
	if rt := inv.RemainingTime(); rt != 2 {
		t.Errorf("expected 2s to empty, got %v", rt)
	}
	inv.Rate = 0
	if !math.IsInf(inv.RemainingTime(), 1) {
		t.Error("expected +Inf at zero rate")
	}
	inv = Inventory{Amount: 4, MaxAmount: math.Inf(1), Rate: 1}
	if !math.IsInf(inv.RemainingTime(), 1) {
		t.Error("expected +Inf for unbounded fill")
	}
}

func TestInventory_Clamp(t *testing.T) {
	inv := Inventory{Amount: math.NaN(), MaxAmount: 5}
	if !inv.Clamp() || inv.Amount != 0 {
		t.Errorf("NaN should clamp to 0, got %v", inv.Amount)
	}
	inv.Amount = 7
	if !inv.Clamp() || inv.Amount != 5 {
		t.Errorf("overflow should clamp to max, got %v", inv.Amount)
	}
	inv.Amount = 3
	if inv.Clamp() {
		t.Error("in-range amount should not be reported as clamped")
	}
}

func TestConstraintState_Merge(t *testing.T) {
	cases := []struct {
		a, b, want ConstraintState
	}{
		{Enabled, Enabled, Enabled},
		{Enabled, Boundary, Boundary},
		{Boundary, Disabled, Disabled},
		{Disabled, Enabled, Disabled},
	}
	for _, tc := range cases {
		if got := tc.a.Merge(tc.b); got != tc.want {
			t.Errorf("%v merge %v: expected %v, got %v", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestFlowMode_ParseAndReach(t *testing.T) {
	m, err := ParseFlowMode("stack_priority_search")
	if err != nil || m != FlowStackPrioritySearch {
		t.Fatalf("expected stack mode, got %v (%v)", m, err)
	}
	if m.Reach() != ReachStack {
		t.Error("stack mode should reach the crossfeed stack")
	}
	if FlowStagePriority.Reach() != ReachVessel {
		t.Error("stage priority should be treated as vessel-wide")
	}
	if FlowNone.Reach() != ReachPart {
		t.Error("no-flow should stay on the part")
	}
	if _, err := ParseFlowMode("SIDEWAYS"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestConverter_ApplySanitizes(t *testing.T) {
	c := &Converter{}
	changed, anomalies := c.Apply(ResourceSet{
		Inputs: []ResourceRatio{
			{Resource: "A", Ratio: 1},
			{Resource: "A", Ratio: 0.5},
			{Resource: "B", Ratio: math.NaN()},
			{Resource: "C", Ratio: 0},
		},
		Requirements:    []ResourceConstraint{{Resource: "R", Amount: 5}},
		NextChangepoint: math.NaN(),
	})
	if !changed {
		t.Error("expected change on first apply")
	}
	if len(c.Inputs) != 1 || c.Inputs[0].Ratio != 1.5 {
		t.Errorf("expected merged A input of 1.5, got %+v", c.Inputs)
	}
	if len(anomalies) != 2 {
		t.Errorf("expected 2 anomalies (NaN ratio, NaN changepoint), got %d", len(anomalies))
	}
	if !math.IsInf(c.NextChangepoint, 1) {
		t.Error("NaN changepoint should become +Inf")
	}
	if len(c.States) != 1 {
		t.Errorf("expected one state slot per requirement, got %d", len(c.States))
	}

	changed, _ = c.Apply(ResourceSet{
		Inputs:       []ResourceRatio{{Resource: "A", Ratio: 1.5}},
		Requirements: []ResourceConstraint{{Resource: "R", Amount: 5}},
	})
	if changed {
		t.Error("identical declarations should not report a change")
	}
}

type panicky struct{}

func (panicky) Kind() string { return "panicky" }
func (panicky) Resources(VesselState) (ResourceSet, error) {
	panic("boom")
}

type failing struct{}

func (failing) Kind() string { return "failing" }
func (failing) Resources(VesselState) (ResourceSet, error) {
	return ResourceSet{Inputs: []ResourceRatio{{Resource: "A", Ratio: 1}}}, errors.New("no data")
}

func TestQueryBehaviour_Degrades(t *testing.T) {
	for _, b := range []Behaviour{panicky{}, failing{}} {
		rs, err := QueryBehaviour(b, nil)
		if err == nil {
			t.Errorf("%s: expected error", b.Kind())
		}
		if len(rs.Inputs) != 0 || !math.IsInf(rs.NextChangepoint, 1) {
			t.Errorf("%s: expected inert resource set, got %+v", b.Kind(), rs)
		}
	}
}
