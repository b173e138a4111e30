package vessel

import (
	"github.com/pthm-cable/offrails/bitset"
)

// Link is one part's crossfeed adjacency, the persisted form of a Graph.
type Link struct {
	PartID    uint32   `json:"part_id"`
	Crossfeed []uint32 `json:"crossfeed,omitempty"`
}

// Graph is the crossfeed graph over a vessel's parts.
type Graph struct {
	ids   []uint32
	index map[uint32]int
	reach []bitset.BitSet
}

// Links extracts the crossfeed adjacency of a snapshot.
func (s *Snapshot) Links() []Link {
	links := make([]Link, len(s.Parts))
	for i, p := range s.Parts {
		links[i] = Link{PartID: p.ID, Crossfeed: append([]uint32(nil), p.Crossfeed...)}
	}
	return links
}

// NewGraph builds the graph and precomputes, for each part, the set of parts
// reachable by following crossfeed links (the part itself included).
// Links to unknown parts are ignored.
func NewGraph(links []Link) *Graph {
	g := &Graph{
		ids:   make([]uint32, len(links)),
		index: make(map[uint32]int, len(links)),
		reach: make([]bitset.BitSet, len(links)),
	}
	for i, l := range links {
		g.ids[i] = l.PartID
		g.index[l.PartID] = i
	}

	adj := make([][]int, len(links))
	for i, l := range links {
		for _, n := range l.Crossfeed {
			if j, ok := g.index[n]; ok {
				adj[i] = append(adj[i], j)
			}
		}
	}

	// BFS from every part; vessels have at most a few hundred parts.
	queue := make([]int, 0, len(links))
	for i := range links {
		seen := bitset.New(len(links))
		seen.Set(i)
		queue = append(queue[:0], i)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, n := range adj[cur] {
				if !seen.Test(n) {
					seen.Set(n)
					queue = append(queue, n)
				}
			}
		}
		g.reach[i] = seen
	}
	return g
}

// Len returns the number of parts.
func (g *Graph) Len() int { return len(g.ids) }

// Index returns the dense index of a part.
func (g *Graph) Index(partID uint32) (int, bool) {
	i, ok := g.index[partID]
	return i, ok
}

// Reachable reports whether resources on part `to` can flow to part `from`.
func (g *Graph) Reachable(from, to uint32) bool {
	i, ok := g.index[from]
	if !ok {
		return from == to
	}
	j, ok := g.index[to]
	if !ok {
		return false
	}
	return g.reach[i].Test(j)
}
