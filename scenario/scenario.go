// Package scenario loads YAML scenario files describing unloaded vessels and
// their converters. Files are validated against an embedded JSON schema
// before they are decoded.
package scenario

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/offrails/behaviours"
	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/processor"
	"github.com/pthm-cable/offrails/vessel"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "scenario.schema.json"

// ErrInvalid is returned for scenarios that fail validation.
var ErrInvalid = errors.New("scenario: invalid")

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Scenario is a set of vessels to process from Start to Until.
type Scenario struct {
	Name        string       `json:"name"`
	Start       float64      `json:"start"`
	Until       float64      `json:"until"`
	Step        float64      `json:"step"`
	Environment *Environment `json:"environment"`
	Vessels     []Vessel     `json:"vessels"`
}

// Environment describes what a vessel's behaviours can observe.
type Environment struct {
	Eclipse *behaviours.Eclipse `json:"eclipse"`
}

// Env returns the value handed to behaviours, or nil.
func (e *Environment) Env() any {
	if e == nil || e.Eclipse == nil {
		return nil
	}
	return *e.Eclipse
}

type Vessel struct {
	ID          string       `json:"id"`
	Environment *Environment `json:"environment"`
	Parts       []Part       `json:"parts"`
}

type Part struct {
	ID        uint32     `json:"id"`
	Crossfeed []uint32   `json:"crossfeed"`
	Resources []Resource `json:"resources"`
	Modules   []Module   `json:"modules"`
}

type Resource struct {
	Name      string          `json:"name"`
	Amount    processor.Float `json:"amount"`
	MaxAmount processor.Float `json:"max_amount"`
	FlowIn    *bool           `json:"flow_in"`
	FlowOut   *bool           `json:"flow_out"`
}

type Module struct {
	ID         uint32      `json:"id"`
	Resources  []Resource  `json:"resources"`
	Converters []Converter `json:"converters"`
}

type Converter struct {
	Priority int             `json:"priority"`
	Kind     string          `json:"kind"`
	Params   json.RawMessage `json:"params"`
}

// Load reads and validates the scenario file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse validates and decodes a YAML (or JSON) scenario.
func Parse(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	// Round trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var inst any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	sch, err := compiled()
	if err != nil {
		return nil, fmt.Errorf("compiling scenario schema: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var s Scenario
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// check enforces what the schema cannot express.
func (s *Scenario) check() error {
	if s.Until != 0 && s.Until < s.Start {
		return fmt.Errorf("%w: until %g is before start %g", ErrInvalid, s.Until, s.Start)
	}
	ids := map[string]bool{}
	for _, v := range s.Vessels {
		if ids[v.ID] {
			return fmt.Errorf("%w: duplicate vessel %q", ErrInvalid, v.ID)
		}
		ids[v.ID] = true
		parts := map[uint32]bool{}
		for _, p := range v.Parts {
			if parts[p.ID] {
				return fmt.Errorf("%w: vessel %s: duplicate part %d", ErrInvalid, v.ID, p.ID)
			}
			parts[p.ID] = true
		}
		for _, p := range v.Parts {
			for _, to := range p.Crossfeed {
				if !parts[to] {
					return fmt.Errorf("%w: vessel %s: part %d crossfeeds unknown part %d", ErrInvalid, v.ID, p.ID, to)
				}
			}
		}
	}
	return nil
}

// Env returns the environment for vessel v: its own, else the scenario's.
func (s *Scenario) Env(v *Vessel) any {
	if v.Environment != nil {
		return v.Environment.Env()
	}
	return s.Environment.Env()
}

// Snapshot builds the vessel snapshot for v at the scenario start,
// decoding every converter's behaviour.
func (s *Scenario) Snapshot(v *Vessel) (*vessel.Snapshot, error) {
	snap := &vessel.Snapshot{Time: s.Start, Env: s.Env(v)}
	for _, p := range v.Parts {
		part := vessel.Part{
			ID:        p.ID,
			Crossfeed: p.Crossfeed,
			Resources: resources(p.Resources),
		}
		for _, m := range p.Modules {
			mod := vessel.Module{ID: m.ID, Resources: resources(m.Resources)}
			for i, c := range m.Converters {
				b, err := components.DecodeBehaviour(c.Kind, c.Params)
				if err != nil {
					return nil, fmt.Errorf("%w: vessel %s part %d module %d converter %d: %v",
						ErrInvalid, v.ID, p.ID, m.ID, i, err)
				}
				mod.Converters = append(mod.Converters, vessel.Converter{Priority: c.Priority, Behaviour: b})
			}
			part.Modules = append(part.Modules, mod)
		}
		snap.Parts = append(snap.Parts, part)
	}
	return snap, nil
}

func resources(rs []Resource) []vessel.Resource {
	out := make([]vessel.Resource, 0, len(rs))
	for _, r := range rs {
		out = append(out, vessel.Resource{
			Name:      r.Name,
			Amount:    float64(r.Amount),
			MaxAmount: float64(r.MaxAmount),
			FlowIn:    r.FlowIn == nil || *r.FlowIn,
			FlowOut:   r.FlowOut == nil || *r.FlowOut,
		})
	}
	return out
}

// End returns the time the scenario runs to. An Until of zero means one
// day after Start.
func (s *Scenario) End() float64 {
	if s.Until == 0 {
		return s.Start + 86400
	}
	return s.Until
}

// Interval returns the reporting step, or the whole run when unset.
func (s *Scenario) Interval() float64 {
	if s.Step > 0 {
		return s.Step
	}
	return math.Max(s.End()-s.Start, 1)
}
