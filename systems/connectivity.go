// Package systems contains the phases of a processor tick: connecting
// converters to inventories, evaluating constraints, integrating amounts
// and scheduling the next changepoint.
package systems

import (
	"log/slog"

	"github.com/pthm-cable/offrails/bitset"
	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/config"
	"github.com/pthm-cable/offrails/vessel"
)

// Connectivity wires converters to the inventories they can reach.
type Connectivity struct {
	graph       *vessel.Graph
	inventories []components.Inventory
	byResource  map[string][]int
	catalog     *config.Config
	log         *slog.Logger

	// warned dedups unknown-resource warnings per build.
	warned map[string]bool
}

// NewConnectivity indexes inventories by resource. Inventory indices are
// positions in the inventories slice and must stay stable while the
// resulting bitsets are in use.
func NewConnectivity(graph *vessel.Graph, inventories []components.Inventory, catalog *config.Config, log *slog.Logger) *Connectivity {
	if log == nil {
		log = slog.Default()
	}
	c := &Connectivity{
		graph:       graph,
		inventories: inventories,
		byResource:  make(map[string][]int),
		catalog:     catalog,
		log:         log,
		warned:      make(map[string]bool),
	}
	for i, inv := range inventories {
		c.byResource[inv.ID.Resource] = append(c.byResource[inv.ID.Resource], i)
	}
	return c
}

// Connect rebuilds the converter's Pull, Push and Constraint bitsets.
func (c *Connectivity) Connect(conv *components.Converter) {
	n := len(c.inventories)
	conv.Pull = bitset.New(n)
	conv.Push = bitset.New(n)
	conv.Constraint = bitset.New(n)

	for _, r := range conv.Inputs {
		mode := c.resolve(r.Resource, r.FlowMode)
		for _, i := range c.byResource[r.Resource] {
			inv := &c.inventories[i]
			if inv.FlowOut && c.reachable(conv.Source, inv.ID, mode) {
				conv.Pull.Set(i)
			}
		}
	}
	for _, r := range conv.Outputs {
		mode := c.resolve(r.Resource, r.FlowMode)
		for _, i := range c.byResource[r.Resource] {
			inv := &c.inventories[i]
			if inv.FlowIn && c.reachable(conv.Source, inv.ID, mode) {
				conv.Push.Set(i)
			}
		}
	}
	for _, req := range conv.Requirements {
		mode := c.resolve(req.Resource, components.FlowNull)
		for _, i := range c.byResource[req.Resource] {
			if c.reachable(conv.Source, c.inventories[i].ID, mode) {
				conv.Constraint.Set(i)
			}
		}
	}
}

// ConnectAll wires every converter.
func (c *Connectivity) ConnectAll(convs []*components.Converter) {
	for _, conv := range convs {
		c.Connect(conv)
	}
}

// resolve replaces FlowNull with the resource's catalog default, falling back
// to vessel-wide balanced flow when the resource is unknown.
func (c *Connectivity) resolve(resource string, mode components.FlowMode) components.FlowMode {
	if mode != components.FlowNull {
		return mode
	}
	if c.catalog != nil {
		if def, ok := c.catalog.Resource(resource); ok {
			m, err := components.ParseFlowMode(def.FlowMode)
			if err == nil && m != components.FlowNull {
				return m
			}
			c.warnOnce(resource, "invalid default flow mode for resource", "flow_mode", def.FlowMode)
			return components.FlowAllVesselBalance
		}
	}
	c.warnOnce(resource, "no flow mode known for resource, using vessel-wide balance")
	return components.FlowAllVesselBalance
}

func (c *Connectivity) warnOnce(resource, msg string, args ...any) {
	if c.warned[resource] {
		return
	}
	c.warned[resource] = true
	c.log.Warn(msg, append([]any{"resource", resource}, args...)...)
}

func (c *Connectivity) reachable(src components.SourceRef, id components.InventoryID, mode components.FlowMode) bool {
	// Virtual inventories never leave their part.
	if id.Virtual() {
		return id.PartID == src.PartID
	}
	switch mode.Reach() {
	case components.ReachPart:
		return id.PartID == src.PartID
	case components.ReachStack:
		if c.graph == nil {
			return id.PartID == src.PartID
		}
		return c.graph.Reachable(src.PartID, id.PartID)
	default:
		return true
	}
}
