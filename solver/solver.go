// Package solver assigns activation rates to converters and net rates to
// inventories.
//
// Converters are maximised tier by tier in descending priority: each tier's
// total activation is fixed before lower tiers are allowed to use what is
// left. Within a tier, converters added earlier are served first.
// Inventories at a boundary may not be pushed past it, converters
// whose requirements are DISABLED do not run, and converters sitting on a
// requirement's BOUNDARY either hold the requirement where it is or switch
// off, whichever serves higher priorities better.
package solver

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/config"
)

// Options tunes the solver.
type Options struct {
	Epsilon       float64 // full/empty threshold
	Truncate      float64 // rates below this magnitude become 0
	Tolerance     float64 // simplex tolerance
	MaxIterations int     // LP passes per Solve
	MergeClasses  bool
}

// OptionsFromConfig reads solver options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Epsilon:       cfg.Solver.Epsilon,
		Truncate:      cfg.Solver.Truncate,
		Tolerance:     cfg.Solver.Tolerance,
		MaxIterations: cfg.Solver.MaxIterations,
		MergeClasses:  cfg.Solver.MergeClasses,
	}
}

// floorSlack is the relative slack given to a tier's optimum when it is
// fixed for later tiers.
const floorSlack = 1e-9

// Solver computes rates. It holds no per-vessel state apart from the cache.
type Solver struct {
	opts  Options
	cache *Cache
	log   *slog.Logger
}

// New creates a solver. cache may be nil.
func New(opts Options, cache *Cache, log *slog.Logger) *Solver {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 256
	}
	return &Solver{opts: opts, cache: cache, log: log}
}

// Cache returns the solver's cache, which may be nil.
func (s *Solver) Cache() *Cache { return s.cache }

// Stats describes one Solve call.
type Stats struct {
	Converters  int
	Inventories int
	Classes     int
	Groups      int
	Blocked     int
	Variables   int
	Passes      int
	Branches    int
	CacheHit    bool
	Duration    time.Duration
}

// LogValue implements slog.LogValuer for structured logging.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("converters", s.Converters),
		slog.Int("inventories", s.Inventories),
		slog.Int("classes", s.Classes),
		slog.Int("groups", s.Groups),
		slog.Int("blocked", s.Blocked),
		slog.Int("variables", s.Variables),
		slog.Int("passes", s.Passes),
		slog.Int("branches", s.Branches),
		slog.Bool("cache_hit", s.CacheHit),
		slog.Int64("duration_us", s.Duration.Microseconds()),
	)
}

// Solve writes Rate on every converter and inventory. owner identifies the
// processor generation for caching. On failure every rate is zero and the
// returned error is a *Failure.
func (s *Solver) Solve(owner uint64, convs []*components.Converter, invs []components.Inventory) (Stats, error) {
	start := time.Now()
	m := buildModel(convs, invs, s.opts.Epsilon, s.opts.MergeClasses)
	stats := Stats{
		Converters:  len(convs),
		Inventories: len(invs),
		Classes:     len(m.classes),
		Groups:      len(m.groups),
		Blocked:     len(m.blocked),
		Variables:   m.nvars,
	}

	key := Key{Owner: owner, Hash: Hash(convs, invs, s.opts)}
	if e, ok := s.cache.Get(key); ok && e.fits(m) {
		if err := m.apply(convs, invs, e.Rates, e.Nets, s.opts.Truncate); err == nil {
			stats.CacheHit = true
			stats.Duration = time.Since(start)
			return stats, nil
		}
		s.cache.Invalidate(owner)
	}

	rates, nets, err := s.solve(m, &stats)
	if err == nil {
		err = m.apply(convs, invs, rates, nets, s.opts.Truncate)
	}
	if err != nil {
		Reset(convs, invs)
		stats.Duration = time.Since(start)
		return stats, err
	}
	s.cache.Put(key, &Entry{Rates: rates, Nets: nets})
	stats.Duration = time.Since(start)
	return stats, nil
}

// Reset zeroes every rate.
func Reset(convs []*components.Converter, invs []components.Inventory) {
	for _, c := range convs {
		c.Rate = 0
	}
	for i := range invs {
		invs[i].Rate = 0
	}
}

// solve runs the lexicographic tier solve and the BOUNDARY branches and
// returns class rates and group nets.
func (s *Solver) solve(m *model, stats *Stats) ([]float64, []float64, error) {
	rates := make([]float64, len(m.classes))
	nets := make([]float64, len(m.groups))
	if m.nvars == 0 {
		return rates, nets, nil
	}

	sx := &simplex{tol: s.opts.Tolerance, budget: s.opts.MaxIterations}
	defer func() { stats.Passes = sx.passes }()

	tiers := m.tiers()
	off := make([]bool, len(m.classes))
	best, x, err := s.lexicographic(sx, m, tiers, off)
	if err != nil {
		return nil, nil, err
	}

	for _, k := range m.branchOrder() {
		if !m.binding(k, x) {
			continue
		}
		off[k] = true
		alt, altX, err := s.lexicographic(sx, m, tiers, off)
		if err != nil {
			return nil, nil, err
		}
		if better(alt, best) {
			best, x = alt, altX
			stats.Branches++
			s.log.Debug("boundary converter switched off", "class", k, "members", len(m.classes[k].members))
		} else {
			off[k] = false
		}
	}

	for k, cl := range m.classes {
		rates[k] = x[cl.rate]
	}
	for g := range m.groups {
		nets[g] = m.net(g, x)
	}
	return rates, nets, nil
}

// base builds the rows shared by every pass: activation bounds, port
// balances, inventory boundaries and BOUNDARY holds.
func (m *model) base(off []bool) *program {
	p := &program{nvars: m.nvars}
	for k, cl := range m.classes {
		upper := 1.0
		if off[k] {
			upper = 0
		}
		p.le([]term{{v: cl.rate, c: 1}}, upper)

		for _, pt := range cl.ports {
			terms := make([]term, 0, len(pt.flows)+1)
			for _, f := range pt.flows {
				terms = append(terms, term{v: f, c: 1})
			}
			if len(pt.flows) == 0 {
				continue
			}
			terms = append(terms, term{v: cl.rate, c: -cl.n * pt.ratio})
			if pt.dump {
				p.le(terms, 0)
			} else {
				p.eq(terms, 0)
			}
		}

		if off[k] {
			continue
		}
		for _, h := range cl.holds {
			var agg []term
			for _, g := range h.groups {
				agg = append(agg, m.nets[g]...)
			}
			if h.kind == components.AtLeast {
				p.ge(agg, 0)
			} else {
				p.le(agg, 0)
			}
		}
	}
	for g, gr := range m.groups {
		if gr.boundary&components.BoundaryEmpty != 0 {
			p.ge(m.nets[g], 0)
		}
		if gr.boundary&components.BoundaryFull != 0 {
			p.le(m.nets[g], 0)
		}
	}
	return p
}

// lexicographic maximises each tier's activation in turn, fixing each
// optimum as a floor for the next, then maximises DumpExcess flow.
func (s *Solver) lexicographic(sx *simplex, m *model, tiers []int, off []bool) ([]float64, []float64, error) {
	p := m.base(off)
	values := make([]float64, len(tiers))
	x := make([]float64, m.nvars)

	for t, prio := range tiers {
		var obj []term
		for k, cl := range m.classes {
			if cl.priority == prio && !off[k] {
				obj = append(obj, term{v: cl.rate, c: cl.n})
			}
		}
		if len(obj) == 0 {
			continue
		}
		v, sol, err := sx.maximize(fmt.Sprintf("tier %d", prio), p, obj)
		if err != nil {
			return nil, nil, err
		}
		values[t] = v
		x = sol
		if floor := v - floorSlack*max(1, math.Abs(v)); floor > 0 {
			p.ge(obj, floor)
			if x, err = m.order(sx, p, prio, off, x); err != nil {
				return nil, nil, err
			}
		}
	}

	var dump []term
	for k, cl := range m.classes {
		if off[k] {
			continue
		}
		for _, pt := range cl.ports {
			if !pt.dump {
				continue
			}
			for _, f := range pt.flows {
				dump = append(dump, term{v: f, c: 1})
			}
		}
	}
	if len(dump) > 0 {
		_, sol, err := sx.maximize("dump excess", p, dump)
		if err != nil {
			return nil, nil, err
		}
		x = sol
	}
	return values, x, nil
}

// fillTol is how close to a whole converter a class total must be for the
// next member to count as running at 1 without another pass.
const fillTol = 1e-9

// order splits a tier's optimum between its converters in encounter order:
// each converter in turn runs as fast as the tier optimum and the converters
// before it allow. Members of a merged class are filled one after another,
// so the split does not depend on whether classes were merged. It returns
// the last solution, which satisfies every pinned total.
func (m *model) order(sx *simplex, p *program, prio int, off []bool, x []float64) ([]float64, error) {
	type slot struct{ conv, class int }
	var slots []slot
	classes := 0
	for k, cl := range m.classes {
		if cl.priority != prio || off[k] {
			continue
		}
		classes++
		for _, ci := range cl.members {
			slots = append(slots, slot{conv: ci, class: k})
		}
	}
	// A lone class is split by fill order alone.
	if classes < 2 {
		return x, nil
	}
	slices.SortFunc(slots, func(a, b slot) int { return cmp.Compare(a.conv, b.conv) })

	filled := make([]float64, len(m.classes))
	dirty := make([]bool, len(m.classes))
	pin := func() {
		for k := range dirty {
			if !dirty[k] {
				continue
			}
			dirty[k] = false
			f := filled[k]
			p.ge([]term{{v: m.classes[k].rate, c: m.classes[k].n}}, f-floorSlack*max(1, f))
		}
	}

	for _, sl := range slots {
		cl := m.classes[sl.class]
		total := cl.n * x[cl.rate]
		if total-filled[sl.class] < 1-fillTol {
			pin()
			v, sol, err := sx.maximize(fmt.Sprintf("tier %d converter %d", prio, sl.conv), p, []term{{v: cl.rate, c: cl.n}})
			if err != nil {
				return nil, err
			}
			x, total = sol, v
		}
		if share := min(max(total-filled[sl.class], 0), 1); share > 0 {
			filled[sl.class] += share
			dirty[sl.class] = true
		}
	}
	pin()
	return x, nil
}

// branchOrder lists BOUNDARY classes with holds, highest priority first.
func (m *model) branchOrder() []int {
	var out []int
	for _, prio := range m.tiers() {
		for k, cl := range m.classes {
			if cl.priority == prio && cl.boundary && len(cl.holds) > 0 {
				out = append(out, k)
			}
		}
	}
	return out
}

// holdTol is how far an aggregate must move away from its threshold before
// a hold is considered slack.
const holdTol = 1e-9

// binding reports whether any of class k's holds is tight at x.
func (m *model) binding(k int, x []float64) bool {
	for _, h := range m.classes[k].holds {
		var agg float64
		terms := 0
		for _, g := range h.groups {
			agg += m.net(g, x)
			terms += len(m.nets[g])
		}
		if terms == 0 {
			continue
		}
		if h.kind == components.AtLeast && agg <= holdTol {
			return true
		}
		if h.kind == components.AtMost && agg >= -holdTol {
			return true
		}
	}
	return false
}

// better compares tier optima lexicographically, highest priority first.
func better(a, b []float64) bool {
	for i := range a {
		d := floorSlack * 10 * max(1, math.Abs(b[i]))
		switch {
		case a[i] > b[i]+d:
			return true
		case a[i] < b[i]-d:
			return false
		}
	}
	return false
}

// apply hands class totals to member converters and splits group nets over
// member inventories.
func (m *model) apply(convs []*components.Converter, invs []components.Inventory, rates, nets []float64, truncate float64) error {
	for _, ci := range m.blocked {
		convs[ci].Rate = 0
	}
	for k, cl := range m.classes {
		r, err := clean(rates[k], truncate)
		if err != nil {
			return fail("apply", fmt.Errorf("converter class %d: %w", k, err))
		}
		if math.Abs(r-1) < truncate {
			r = 1
		}
		r = min(max(r, 0), 1)
		// Members fill in encounter order.
		left := r * cl.n
		for _, ci := range cl.members {
			share := min(max(left, 0), 1)
			if share < truncate {
				share = 0
			}
			if 1-share < truncate {
				share = 1
			}
			convs[ci].Rate = share
			left -= share
		}
	}
	for g, gr := range m.groups {
		net, err := clean(nets[g], truncate)
		if err != nil {
			return fail("apply", fmt.Errorf("inventory group %d: %w", g, err))
		}
		split(invs, gr.members, net)
		for _, i := range gr.members {
			r, err := clean(invs[i].Rate, truncate)
			if err != nil {
				return fail("apply", fmt.Errorf("inventory %s: %w", invs[i].ID, err))
			}
			invs[i].Rate = r
		}
	}
	return nil
}

func clean(v, truncate float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinite
	}
	if math.Abs(v) < truncate {
		return 0, nil
	}
	return v, nil
}

// split distributes a group's net rate so that every member reaches the
// boundary at the same time: inflow by remaining capacity, outflow by amount.
// Unbounded members take all inflow between them.
func split(invs []components.Inventory, members []int, net float64) {
	if len(members) == 1 {
		invs[members[0]].Rate = net
		return
	}
	weights := make([]float64, len(members))
	var total float64
	switch {
	case net > 0:
		unbounded := 0
		for _, i := range members {
			if invs[i].Unbounded() {
				unbounded++
			}
		}
		for j, i := range members {
			switch {
			case unbounded > 0 && invs[i].Unbounded():
				weights[j] = 1
			case unbounded == 0:
				weights[j] = invs[i].Remaining()
			}
			total += weights[j]
		}
	case net < 0:
		for j, i := range members {
			weights[j] = max(invs[i].Amount, 0)
			total += weights[j]
		}
	}
	if total <= 0 || math.IsInf(total, 0) {
		for j := range weights {
			weights[j] = 1
		}
		total = float64(len(weights))
	}
	for j, i := range members {
		invs[i].Rate = net * weights[j] / total
	}
}
