// Package vessel defines the shapes collaborators use to hand a vessel to the
// background processor and to receive amounts back from it.
package vessel

import (
	"github.com/pthm-cable/offrails/components"
)

// Snapshot is the state of an unloaded vessel at a point in simulated time.
type Snapshot struct {
	Time  float64
	Parts []Part

	// Opaque collaborator handle, passed through to behaviours.
	Env any
}

// CurrentTime implements components.VesselState.
func (s *Snapshot) CurrentTime() float64 { return s.Time }

// Handle implements components.VesselState.
func (s *Snapshot) Handle() any { return s.Env }

// Part is one physical part of the vessel.
type Part struct {
	ID uint32

	// Crossfeed lists the parts this part can draw resources from through
	// stack/crossfeed flow.
	Crossfeed []uint32

	Resources []Resource
	Modules   []Module
}

// Resource is a stored resource on a part or a virtual resource on a module.
type Resource struct {
	Name      string
	Amount    float64
	MaxAmount float64
	FlowIn    bool
	FlowOut   bool
}

// Module is a part module exposing converters and virtual resources.
type Module struct {
	ID         uint32 // must be non-zero
	Resources  []Resource
	Converters []Converter
}

// Converter is a converter as supplied by a module.
type Converter struct {
	Priority  int
	Behaviour components.Behaviour
}

// At returns a VesselState at time t carrying env.
func At(t float64, env any) components.VesselState {
	return state{t: t, env: env}
}

type state struct {
	t   float64
	env any
}

func (s state) CurrentTime() float64 { return s.t }
func (s state) Handle() any          { return s.env }

// Resources is the live world the processor applies amounts back into.
type Resources interface {
	// StoredAmount returns the live amount, if the inventory still exists.
	StoredAmount(id components.InventoryID) (float64, bool)
	UpdateStoredAmount(id components.InventoryID, amount float64)
}

// MemoryResources is a map-backed Resources, seeded from a snapshot.
type MemoryResources map[components.InventoryID]float64

// NewMemoryResources captures the amounts of every resource in snap.
func NewMemoryResources(snap *Snapshot) MemoryResources {
	m := MemoryResources{}
	for _, p := range snap.Parts {
		for _, r := range p.Resources {
			m[components.InventoryID{PartID: p.ID, Resource: r.Name}] = r.Amount
		}
		for _, mod := range p.Modules {
			for _, r := range mod.Resources {
				m[components.InventoryID{PartID: p.ID, ModuleID: mod.ID, Resource: r.Name}] = r.Amount
			}
		}
	}
	return m
}

func (m MemoryResources) StoredAmount(id components.InventoryID) (float64, bool) {
	v, ok := m[id]
	return v, ok
}

func (m MemoryResources) UpdateStoredAmount(id components.InventoryID, amount float64) {
	m[id] = amount
}
