package behaviours

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/config"
	"github.com/pthm-cable/offrails/processor"
	"github.com/pthm-cable/offrails/vessel"
)

func init() {
	config.MustInit("")
}

func TestWindow(t *testing.T) {
	inf := math.Inf(1)
	tests := []struct {
		name                   string
		t, phase, period, span float64
		wantIn                 bool
		wantNext               float64
	}{
		{"start of cycle", 0, 0, 10, 4, true, 4},
		{"edge", 4, 0, 10, 4, false, 10},
		{"second cycle", 12, 0, 10, 4, true, 14},
		{"before phase", -1, 0, 10, 4, false, 0},
		{"phase shift", 5, 3, 10, 4, true, 7},
		{"never", 5, 0, 10, 0, false, inf},
		{"always", 5, 0, 10, 10, true, inf},
		{"nan time", math.NaN(), 0, 10, 4, false, inf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, next := window(tt.t, tt.phase, tt.period, tt.span)
			if in != tt.wantIn || next != tt.wantNext {
				t.Errorf("expected (%v, %v), got (%v, %v)", tt.wantIn, tt.wantNext, in, next)
			}
		})
	}
}

func TestRegistered(t *testing.T) {
	kinds := components.RegisteredBehaviours()
	for _, want := range []string{KindRecipe, KindDutyCycle, KindSolarPanel, KindFailing} {
		found := false
		for _, k := range kinds {
			if k == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s to be registered", want)
		}
	}

	b, err := components.DecodeBehaviour(KindDutyCycle, []byte(`{"period": 10, "on": 4, "inputs": [{"resource": "Ore", "ratio": 1}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	d, ok := b.(*DutyCycle)
	if !ok {
		t.Fatalf("expected *DutyCycle, got %T", b)
	}
	if d.Period != 10 || d.On != 4 || len(d.Inputs) != 1 {
		t.Errorf("unexpected duty cycle %+v", d)
	}
}

func TestDutyCycle_Resources(t *testing.T) {
	d := &DutyCycle{
		Recipe: Recipe{Inputs: []components.ResourceRatio{{Resource: "Ore", Ratio: 1}}},
		Period: 10,
		On:     4,
	}
	rs, err := d.Resources(vessel.At(2, nil))
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	if len(rs.Inputs) != 1 || rs.NextChangepoint != 4 {
		t.Errorf("expected running until 4, got %+v", rs)
	}

	rs, err = d.Resources(vessel.At(6, nil))
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	if len(rs.Inputs) != 0 || rs.NextChangepoint != 10 {
		t.Errorf("expected idle until 10, got %+v", rs)
	}

	bad := &DutyCycle{Period: 0, On: 1}
	if _, err := bad.Resources(vessel.At(0, nil)); err == nil {
		t.Error("expected error for zero period")
	}
}

func TestEclipse(t *testing.T) {
	e := Eclipse{Period: 100, Shadow: 40}
	if e.InSunlight(10) {
		t.Error("expected shadow at 10")
	}
	if got := e.NextTransition(10); got != 40 {
		t.Errorf("expected sunrise at 40, got %v", got)
	}
	if !e.InSunlight(50) {
		t.Error("expected sunlight at 50")
	}
	if got := e.NextTransition(50); got != 100 {
		t.Errorf("expected sunset at 100, got %v", got)
	}
	if !(Eclipse{}).InSunlight(0) {
		t.Error("expected an orbit without a period to be lit")
	}
}

func TestSolarPanel_Resources(t *testing.T) {
	s := &SolarPanel{Resource: "ElectricCharge", ChargeRate: 2}

	rs, err := s.Resources(vessel.At(0, nil))
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	if len(rs.Outputs) != 1 || !rs.Outputs[0].DumpExcess || !math.IsInf(rs.NextChangepoint, 1) {
		t.Errorf("expected constant dumpable output, got %+v", rs)
	}

	rs, err = s.Resources(vessel.At(10, Eclipse{Period: 100, Shadow: 40}))
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	if len(rs.Outputs) != 0 || rs.NextChangepoint != 40 {
		t.Errorf("expected dark until 40, got %+v", rs)
	}

	if _, err := s.Resources(vessel.At(0, "moon")); !errors.Is(err, ErrNoSunlight) {
		t.Errorf("expected ErrNoSunlight, got %v", err)
	}
}

func TestFailing_Resources(t *testing.T) {
	f := &Failing{
		Recipe: Recipe{Inputs: []components.ResourceRatio{{Resource: "Ore", Ratio: 1}}},
		From:   5,
		Until:  8,
	}
	rs, err := f.Resources(vessel.At(0, nil))
	if err != nil || rs.NextChangepoint != 5 {
		t.Errorf("expected working until 5, got %+v (%v)", rs, err)
	}
	if _, err := f.Resources(vessel.At(6, nil)); !errors.Is(err, ErrInjected) {
		t.Errorf("expected ErrInjected, got %v", err)
	}
	rs, err = f.Resources(vessel.At(8, nil))
	if err != nil || len(rs.Inputs) != 1 {
		t.Errorf("expected recovery at 8, got %+v (%v)", rs, err)
	}

	f.Panic = true
	rs, err = components.QueryBehaviour(f, vessel.At(6, nil))
	if err == nil {
		t.Error("expected panic to be reported as an error")
	}
	if len(rs.Inputs) != 0 || !math.IsInf(rs.NextChangepoint, 1) {
		t.Errorf("expected inert set after panic, got %+v", rs)
	}
}

func newProcessor() *processor.Processor {
	return processor.New(processor.Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: processor.NewCrashNotifier(func(string) {}),
	})
}

func amount(p *processor.Processor, resource string) float64 {
	var sum float64
	for _, inv := range p.Inventories() {
		if inv.ID.Resource == resource {
			sum += inv.Amount
		}
	}
	return sum
}

func TestDutyCycle_Advance(t *testing.T) {
	snap := &vessel.Snapshot{
		Parts: []vessel.Part{{
			ID:        1,
			Resources: []vessel.Resource{{Name: "Ore", Amount: 100, MaxAmount: 100, FlowIn: true, FlowOut: true}},
			Modules: []vessel.Module{{
				ID: 1,
				Converters: []vessel.Converter{{Behaviour: &DutyCycle{
					Recipe: Recipe{Inputs: []components.ResourceRatio{{Resource: "Ore", Ratio: 1}}},
					Period: 10,
					On:     4,
				}}},
			}},
		}},
	}
	p := newProcessor()
	if err := p.Record(snap); err != nil {
		t.Fatalf("record: %v", err)
	}
	st, err := p.Advance(25, nil)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if st.Steps != 5 {
		t.Errorf("expected 5 changepoints (4, 10, 14, 20, 24), got %d", st.Steps)
	}
	if got := amount(p, "Ore"); math.Abs(got-88) > 1e-9 {
		t.Errorf("expected 88 Ore after three 4s bursts, got %v", got)
	}
	if got := p.NextChangepoint(); got != 30 {
		t.Errorf("expected next changepoint 30, got %v", got)
	}
}

func TestSolarPanel_AdvanceThroughEclipse(t *testing.T) {
	orbit := Eclipse{Period: 100, Shadow: 40}
	snap := &vessel.Snapshot{
		Env: orbit,
		Parts: []vessel.Part{{
			ID:        1,
			Resources: []vessel.Resource{{Name: "ElectricCharge", MaxAmount: 1000, FlowIn: true, FlowOut: true}},
			Modules: []vessel.Module{{
				ID:         1,
				Converters: []vessel.Converter{{Behaviour: &SolarPanel{Resource: "ElectricCharge", ChargeRate: 2}}},
			}},
		}},
	}
	p := newProcessor()
	if err := p.Record(snap); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := p.Advance(250, orbit); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// lit for [40,100), [140,200) and [240,250)
	if got := amount(p, "ElectricCharge"); math.Abs(got-260) > 1e-9 {
		t.Errorf("expected 260 charge, got %v", got)
	}
}

func TestFailing_DegradesThenRecovers(t *testing.T) {
	snap := &vessel.Snapshot{
		Parts: []vessel.Part{{
			ID:        1,
			Resources: []vessel.Resource{{Name: "Ore", Amount: 100, MaxAmount: 100, FlowIn: true, FlowOut: true}},
			Modules: []vessel.Module{{
				ID: 1,
				Converters: []vessel.Converter{{Behaviour: &Failing{
					Recipe: Recipe{Inputs: []components.ResourceRatio{{Resource: "Ore", Ratio: 1}}},
					From:   5,
					Until:  8,
				}}},
			}},
		}},
	}
	p := newProcessor()
	if err := p.Record(snap); err != nil {
		t.Fatalf("record: %v", err)
	}
	for _, now := range []float64{0, 5, 8, 10} {
		if err := p.Tick(vessel.At(now, nil)); err != nil {
			t.Fatalf("tick at %v: %v", now, err)
		}
	}
	// consuming during [0,5) and [8,10)
	if got := amount(p, "Ore"); math.Abs(got-93) > 1e-9 {
		t.Errorf("expected 93 Ore, got %v", got)
	}
	if p.Converters()[0].Rate != 1 {
		t.Errorf("expected converter running after recovery, got %v", p.Converters()[0].Rate)
	}
}
