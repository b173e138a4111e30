package components

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
)

// VesselState is what a behaviour sees when asked for its resources.
// Handle is opaque to the core and only interpreted by behaviours.
type VesselState interface {
	CurrentTime() float64
	Handle() any
}

// ResourceSet is a converter's declared inputs, outputs and requirements.
type ResourceSet struct {
	Inputs          []ResourceRatio
	Outputs         []ResourceRatio
	Requirements    []ResourceConstraint
	NextChangepoint float64
}

// Inert returns the resource set of a converter that does nothing and never changes.
func Inert() ResourceSet {
	return ResourceSet{NextChangepoint: math.Inf(1)}
}

// Behaviour supplies a converter's resources. Implementations are owned by
// whoever produced the converter and must be JSON-serialisable so that the
// processor can persist them.
type Behaviour interface {
	Kind() string
	Resources(state VesselState) (ResourceSet, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Behaviour{}
)

// RegisterBehaviour makes a behaviour kind loadable from persisted state.
// Registering the same kind twice panics.
func RegisterBehaviour(kind string, factory func() Behaviour) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("components: behaviour %q registered twice", kind))
	}
	registry[kind] = factory
}

// RegisteredBehaviours lists the registered kinds in sorted order.
func RegisteredBehaviours() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// EncodeBehaviour serialises a behaviour into its kind and JSON payload.
func EncodeBehaviour(b Behaviour) (string, json.RawMessage, error) {
	if b == nil {
		return "", nil, nil
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return "", nil, fmt.Errorf("encoding behaviour %s: %w", b.Kind(), err)
	}
	return b.Kind(), payload, nil
}

// DecodeBehaviour rebuilds a behaviour from its kind and payload.
func DecodeBehaviour(kind string, payload json.RawMessage) (Behaviour, error) {
	if kind == "" {
		return nil, nil
	}
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown behaviour kind %q", kind)
	}
	b := factory()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, b); err != nil {
			return nil, fmt.Errorf("decoding behaviour %s: %w", kind, err)
		}
	}
	return b, nil
}

// QueryBehaviour calls b.Resources, converting both returned errors and
// panics into an inert resource set plus an error.
func QueryBehaviour(b Behaviour, state VesselState) (rs ResourceSet, err error) {
	if b == nil {
		return Inert(), nil
	}
	defer func() {
		if r := recover(); r != nil {
			rs = Inert()
			err = fmt.Errorf("behaviour %s panicked: %v", b.Kind(), r)
		}
	}()
	rs, err = b.Resources(state)
	if err != nil {
		return Inert(), fmt.Errorf("behaviour %s: %w", b.Kind(), err)
	}
	return rs, nil
}
