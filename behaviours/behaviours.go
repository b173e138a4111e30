// Package behaviours provides the converter behaviours shipped with offrails.
// Every kind is registered with the components registry on import so that
// persisted processors and scenario files can name them.
package behaviours

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/offrails/components"
)

// Behaviour kinds.
const (
	KindRecipe     = "recipe"
	KindDutyCycle  = "duty_cycle"
	KindSolarPanel = "solar_panel"
	KindFailing    = "failing"
)

func init() {
	components.RegisterBehaviour(KindRecipe, func() components.Behaviour { return &Recipe{} })
	components.RegisterBehaviour(KindDutyCycle, func() components.Behaviour { return &DutyCycle{} })
	components.RegisterBehaviour(KindSolarPanel, func() components.Behaviour { return &SolarPanel{} })
	components.RegisterBehaviour(KindFailing, func() components.Behaviour { return &Failing{} })
}

// Recipe is a converter with fixed inputs, outputs and requirements.
type Recipe struct {
	Inputs       []components.ResourceRatio      `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []components.ResourceRatio      `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Requirements []components.ResourceConstraint `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

func (r *Recipe) Kind() string { return KindRecipe }

// Resources returns the recipe unchanged. A recipe never changes on its own.
func (r *Recipe) Resources(components.VesselState) (components.ResourceSet, error) {
	return r.set(math.Inf(1)), nil
}

func (r *Recipe) set(next float64) components.ResourceSet {
	return components.ResourceSet{
		Inputs:          r.Inputs,
		Outputs:         r.Outputs,
		Requirements:    r.Requirements,
		NextChangepoint: next,
	}
}

// ErrInjected is returned by Failing while it fails.
var ErrInjected = errors.New("injected failure")

// Failing runs its recipe except during [From, Until), where it returns
// ErrInjected (or panics if Panic is set). It is used to exercise the
// processor's degraded mode.
type Failing struct {
	Recipe
	From  float64 `json:"from" yaml:"from"`
	Until float64 `json:"until" yaml:"until"`
	Panic bool    `json:"panic,omitempty" yaml:"panic,omitempty"`
}

func (f *Failing) Kind() string { return KindFailing }

func (f *Failing) Resources(vs components.VesselState) (components.ResourceSet, error) {
	t := vs.CurrentTime()
	if t >= f.From && t < f.Until {
		if f.Panic {
			panic(fmt.Sprintf("failing behaviour at t=%g", t))
		}
		return components.ResourceSet{}, fmt.Errorf("%w at t=%g", ErrInjected, t)
	}
	next := math.Inf(1)
	if t < f.From {
		next = f.From
	}
	return f.set(next), nil
}
