package solver

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pthm-cable/offrails/bitset"
	"github.com/pthm-cable/offrails/components"
)

// group is a set of inventories that are indistinguishable to the solver:
// same resource, same boundary state and the same converters touching them.
type group struct {
	resource string
	boundary components.BoundaryState
	members  []int // inventory indices
}

// port is one declared input or output of a converter class, with a flow
// variable per group it can reach.
type port struct {
	resource string
	ratio    float64
	output   bool
	dump     bool
	groups   []int
	flows    []int // variable index per entry in groups
}

// hold keeps a BOUNDARY requirement from being pushed across its threshold.
type hold struct {
	kind   components.ConstraintKind
	groups []int
}

// class is a set of converters that are indistinguishable to the solver.
type class struct {
	members  []int // converter indices
	n        float64
	priority int
	boundary bool
	ports    []port
	holds    []hold
	rate     int // variable index of the activation
}

type term struct {
	v int
	c float64
}

type model struct {
	groups  []group
	groupOf []int // inventory index -> group
	classes []class
	blocked []int // converters fixed at rate 0

	nets  [][]term // per group: signed flow terms
	nvars int
}

// buildModel merges inventories into groups and converters into classes and
// allocates LP variables. With merge off every inventory and converter is its
// own group or class.
func buildModel(convs []*components.Converter, invs []components.Inventory, eps float64, merge bool) *model {
	m := &model{groupOf: make([]int, len(invs))}

	// Column fingerprints: which converters touch each inventory, and how.
	pulls := make([]bitset.BitSet, len(invs))
	pushes := make([]bitset.BitSet, len(invs))
	cons := make([]bitset.BitSet, len(invs))
	for i := range invs {
		pulls[i] = bitset.New(len(convs))
		pushes[i] = bitset.New(len(convs))
		cons[i] = bitset.New(len(convs))
	}
	for ci, c := range convs {
		for i := range c.Pull.Ones() {
			if i < len(invs) {
				pulls[i].Set(ci)
			}
		}
		for i := range c.Push.Ones() {
			if i < len(invs) {
				pushes[i].Set(ci)
			}
		}
		for i := range c.Constraint.Ones() {
			if i < len(invs) {
				cons[i].Set(ci)
			}
		}
	}

	groupKeys := make(map[string]int)
	var sb strings.Builder
	for i := range invs {
		inv := &invs[i]
		b := inv.Boundary(eps)
		sb.Reset()
		fmt.Fprintf(&sb, "%s|%d|%v|%v|%v", inv.ID.Resource, b, pulls[i].Words(), pushes[i].Words(), cons[i].Words())
		if !merge {
			fmt.Fprintf(&sb, "|%d", i)
		}
		key := sb.String()
		g, ok := groupKeys[key]
		if !ok {
			g = len(m.groups)
			groupKeys[key] = g
			m.groups = append(m.groups, group{resource: inv.ID.Resource, boundary: b})
		}
		m.groups[g].members = append(m.groups[g].members, i)
		m.groupOf[i] = g
	}

	classKeys := make(map[string]int)
	for ci, c := range convs {
		if blocked(c, invs) {
			m.blocked = append(m.blocked, ci)
			continue
		}
		sb.Reset()
		fmt.Fprintf(&sb, "%d|%d|%v|%v|%v|%v|%v|%v|%v", c.Priority, c.State(), c.Inputs, c.Outputs,
			c.Requirements, c.States, c.Pull.Words(), c.Push.Words(), c.Constraint.Words())
		if !merge {
			fmt.Fprintf(&sb, "|%d", ci)
		}
		key := sb.String()
		k, ok := classKeys[key]
		if !ok {
			k = len(m.classes)
			classKeys[key] = k
			m.classes = append(m.classes, m.newClass(c, invs))
		}
		m.classes[k].members = append(m.classes[k].members, ci)
		m.classes[k].n++
	}

	m.allocate()
	return m
}

func (m *model) newClass(c *components.Converter, invs []components.Inventory) class {
	k := class{
		priority: c.Priority,
		boundary: c.State() == components.Boundary,
	}
	for _, r := range c.Inputs {
		k.ports = append(k.ports, port{
			resource: r.Resource,
			ratio:    r.Ratio,
			groups:   m.groupsOf(c.Pull, invs, r.Resource),
		})
	}
	for _, r := range c.Outputs {
		k.ports = append(k.ports, port{
			resource: r.Resource,
			ratio:    r.Ratio,
			output:   true,
			dump:     r.DumpExcess,
			groups:   m.groupsOf(c.Push, invs, r.Resource),
		})
	}
	if k.boundary {
		for j, req := range c.Requirements {
			if j >= len(c.States) || c.States[j] != components.Boundary {
				continue
			}
			gs := m.groupsOf(c.Constraint, invs, req.Resource)
			if len(gs) == 0 {
				continue
			}
			k.holds = append(k.holds, hold{kind: req.Kind, groups: gs})
		}
	}
	return k
}

// groupsOf returns the distinct groups of the set inventories holding resource.
func (m *model) groupsOf(set bitset.BitSet, invs []components.Inventory, resource string) []int {
	var out []int
	seen := map[int]bool{}
	for i := range set.Ones() {
		if i >= len(invs) || invs[i].ID.Resource != resource {
			continue
		}
		g := m.groupOf[i]
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// allocate assigns variable indices and collects the signed flow terms of
// every group.
func (m *model) allocate() {
	m.nets = make([][]term, len(m.groups))
	for k := range m.classes {
		cl := &m.classes[k]
		cl.rate = m.nvars
		m.nvars++
		for p := range cl.ports {
			pt := &cl.ports[p]
			pt.flows = make([]int, len(pt.groups))
			for j, g := range pt.groups {
				pt.flows[j] = m.nvars
				sign := -1.0
				if pt.output {
					sign = 1
				}
				m.nets[g] = append(m.nets[g], term{v: m.nvars, c: sign})
				m.nvars++
			}
		}
	}
}

// blocked reports whether a converter cannot run at all: it is disabled by
// a requirement, or it declares an input or output it has nowhere to take
// from or put to. Outputs marked DumpExcess may be discarded.
func blocked(c *components.Converter, invs []components.Inventory) bool {
	if c.State() == components.Disabled {
		return true
	}
	for _, r := range c.Inputs {
		if !connected(c.Pull, invs, r.Resource) {
			return true
		}
	}
	for _, r := range c.Outputs {
		if !r.DumpExcess && !connected(c.Push, invs, r.Resource) {
			return true
		}
	}
	return false
}

func connected(set bitset.BitSet, invs []components.Inventory, resource string) bool {
	for i := range set.Ones() {
		if i < len(invs) && invs[i].ID.Resource == resource {
			return true
		}
	}
	return false
}

// net evaluates a group's net flow at x.
func (m *model) net(g int, x []float64) float64 {
	var s float64
	for _, t := range m.nets[g] {
		s += t.c * x[t.v]
	}
	return s
}

// tiers returns the distinct class priorities, highest first.
func (m *model) tiers() []int {
	var ps []int
	for _, cl := range m.classes {
		if !slices.Contains(ps, cl.priority) {
			ps = append(ps, cl.priority)
		}
	}
	slices.Sort(ps)
	slices.Reverse(ps)
	return ps
}
