package scenario

import (
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/offrails/behaviours"
)

func TestLoad_Station(t *testing.T) {
	s, err := Load("testdata/station.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "station" || s.End() != 21600 || s.Interval() != 600 {
		t.Errorf("unexpected header: name=%q end=%v step=%v", s.Name, s.End(), s.Interval())
	}
	if len(s.Vessels) != 2 {
		t.Fatalf("expected 2 vessels, got %d", len(s.Vessels))
	}

	station := &s.Vessels[0]
	snap, err := s.Snapshot(station)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Time != 0 {
		t.Errorf("expected snapshot at start, got %v", snap.Time)
	}
	if env, ok := snap.Env.(behaviours.Eclipse); !ok || env.Period != 5400 || env.Shadow != 1800 {
		t.Errorf("expected scenario eclipse, got %#v", snap.Env)
	}
	if len(snap.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(snap.Parts))
	}
	ec := snap.Parts[0].Resources[0]
	if ec.Name != "ElectricCharge" || ec.Amount != 500 || ec.MaxAmount != 2000 || !ec.FlowIn || !ec.FlowOut {
		t.Errorf("unexpected battery %+v", ec)
	}
	metal := snap.Parts[1].Modules[0].Resources[0]
	if !math.IsInf(metal.MaxAmount, 1) {
		t.Errorf("expected unbounded Metal, got %v", metal.MaxAmount)
	}

	panel, ok := snap.Parts[0].Modules[0].Converters[0].Behaviour.(*behaviours.SolarPanel)
	if !ok || panel.ChargeRate != 4 {
		t.Errorf("expected solar panel at 4/s, got %#v", snap.Parts[0].Modules[0].Converters[0].Behaviour)
	}
	cell := snap.Parts[0].Modules[1].Converters[0]
	recipe, ok := cell.Behaviour.(*behaviours.Recipe)
	if !ok || cell.Priority != 1 || len(recipe.Inputs) != 2 || len(recipe.Requirements) != 1 {
		t.Errorf("unexpected fuel cell %#v", cell)
	}
	duty, ok := snap.Parts[1].Modules[0].Converters[0].Behaviour.(*behaviours.DutyCycle)
	if !ok || duty.Period != 3600 || duty.On != 1200 {
		t.Errorf("unexpected duty cycle %#v", snap.Parts[1].Modules[0].Converters[0].Behaviour)
	}

	probe := &s.Vessels[1]
	if env, ok := s.Env(probe).(behaviours.Eclipse); !ok || env.Phase != 600 {
		t.Errorf("expected probe's own eclipse, got %#v", s.Env(probe))
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "vessels: [\n"},
		{"no vessels", "name: empty\n"},
		{"unknown field", "vessels: [{id: a, parts: []}]\nbogus: 1\n"},
		{"negative amount", "vessels: [{id: a, parts: [{id: 1, resources: [{name: Ore, amount: -1, max_amount: 5}]}]}]\n"},
		{"part id zero", "vessels: [{id: a, parts: [{id: 0}]}]\n"},
		{"duty cycle without period", "vessels: [{id: a, parts: [{id: 1, modules: [{id: 1, converters: [{kind: duty_cycle, params: {on: 1}}]}]}]}]\n"},
		{"duplicate vessel", "vessels: [{id: a, parts: []}, {id: a, parts: []}]\n"},
		{"unknown crossfeed", "vessels: [{id: a, parts: [{id: 1, crossfeed: [2]}]}]\n"},
		{"until before start", "start: 10\nuntil: 5\nvessels: [{id: a, parts: []}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSnapshot_UnknownKind(t *testing.T) {
	s, err := Parse([]byte("vessels: [{id: a, parts: [{id: 1, modules: [{id: 1, converters: [{kind: warp_drive}]}]}]}]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := s.Snapshot(&s.Vessels[0]); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for unknown kind, got %v", err)
	}
}

func TestScenario_Defaults(t *testing.T) {
	s, err := Parse([]byte("start: 100\nvessels: [{id: a, parts: [{id: 1, resources: [{name: Ore, max_amount: 5, flow_in: false}]}]}]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.End() != 100+86400 {
		t.Errorf("expected a day-long run, got end %v", s.End())
	}
	if s.Interval() != 86400 {
		t.Errorf("expected one report interval, got %v", s.Interval())
	}
	snap, err := s.Snapshot(&s.Vessels[0])
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Env != nil {
		t.Errorf("expected no environment, got %#v", snap.Env)
	}
	r := snap.Parts[0].Resources[0]
	if r.Amount != 0 || r.FlowIn || !r.FlowOut {
		t.Errorf("unexpected defaults %+v", r)
	}
}
