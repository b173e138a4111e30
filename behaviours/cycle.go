package behaviours

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/offrails/components"
)

// window reports whether t lies within the first length seconds of its
// cycle, and when that next changes.
func window(t, phase, period, length float64) (bool, float64) {
	switch {
	case math.IsNaN(t) || math.IsInf(t, 0):
		return false, math.Inf(1)
	case length <= 0:
		return false, math.Inf(1)
	case length >= period:
		return true, math.Inf(1)
	}
	start := phase + math.Floor((t-phase)/period)*period
	for {
		edge := start + length
		if t < edge {
			return true, edge
		}
		next := start + period
		if next <= start {
			// period below the resolution of t
			return true, math.Inf(1)
		}
		if t < next {
			return false, next
		}
		start = next
	}
}

func checkPeriod(period float64) error {
	if !(period > 0) || math.IsInf(period, 0) {
		return fmt.Errorf("period must be positive and finite, got %g", period)
	}
	return nil
}

func checkTime(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("invalid time %g", t)
	}
	return nil
}

// DutyCycle runs its recipe for the first On seconds of every Period,
// counted from Phase, and is idle for the rest.
type DutyCycle struct {
	Recipe
	Period float64 `json:"period" yaml:"period"`
	On     float64 `json:"on" yaml:"on"`
	Phase  float64 `json:"phase,omitempty" yaml:"phase,omitempty"`
}

func (d *DutyCycle) Kind() string { return KindDutyCycle }

func (d *DutyCycle) Resources(vs components.VesselState) (components.ResourceSet, error) {
	t := vs.CurrentTime()
	if err := checkPeriod(d.Period); err != nil {
		return components.ResourceSet{}, err
	}
	if err := checkTime(t); err != nil {
		return components.ResourceSet{}, err
	}
	on, next := window(t, d.Phase, d.Period, d.On)
	if !on {
		return components.ResourceSet{NextChangepoint: next}, nil
	}
	return d.set(next), nil
}

// Sunlight is implemented by vessel environments that know when the vessel
// is lit.
type Sunlight interface {
	InSunlight(t float64) bool
	// NextTransition returns the next time after t at which InSunlight
	// changes, or +Inf.
	NextTransition(t float64) float64
}

// Eclipse is a circular orbit environment: the vessel spends the first
// Shadow seconds of every Period, counted from Phase, behind the body.
type Eclipse struct {
	Period float64 `json:"period" yaml:"period"`
	Shadow float64 `json:"shadow" yaml:"shadow"`
	Phase  float64 `json:"phase,omitempty" yaml:"phase,omitempty"`
}

func (e Eclipse) InSunlight(t float64) bool {
	if checkPeriod(e.Period) != nil {
		return true
	}
	dark, _ := window(t, e.Phase, e.Period, e.Shadow)
	return !dark
}

func (e Eclipse) NextTransition(t float64) float64 {
	if checkPeriod(e.Period) != nil {
		return math.Inf(1)
	}
	_, next := window(t, e.Phase, e.Period, e.Shadow)
	return next
}

// ErrNoSunlight is returned by SolarPanel when the vessel environment cannot
// say whether the vessel is lit.
var ErrNoSunlight = errors.New("environment has no sunlight information")

// SolarPanel produces Resource at ChargeRate while the vessel is lit.
// Excess charge is discarded. A nil environment is always lit.
type SolarPanel struct {
	Resource   string  `json:"resource" yaml:"resource"`
	ChargeRate float64 `json:"charge_rate" yaml:"charge_rate"`
}

func (s *SolarPanel) Kind() string { return KindSolarPanel }

func (s *SolarPanel) Resources(vs components.VesselState) (components.ResourceSet, error) {
	lit, next := true, math.Inf(1)
	switch env := vs.Handle().(type) {
	case nil:
	case Sunlight:
		t := vs.CurrentTime()
		lit, next = env.InSunlight(t), env.NextTransition(t)
	default:
		return components.ResourceSet{}, fmt.Errorf("%w (%T)", ErrNoSunlight, env)
	}
	if !lit || s.ChargeRate <= 0 {
		return components.ResourceSet{NextChangepoint: next}, nil
	}
	return components.ResourceSet{
		Outputs: []components.ResourceRatio{{
			Resource:   s.Resource,
			Ratio:      s.ChargeRate,
			DumpExcess: true,
		}},
		NextChangepoint: next,
	}, nil
}
