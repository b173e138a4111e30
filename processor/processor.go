// Package processor runs background resource processing for one unloaded
// vessel: it records the vessel, keeps converter and inventory rates solved,
// integrates amounts forward between changepoints and writes the results back.
package processor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"

	"github.com/pthm-cable/offrails/bitset"
	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/config"
	"github.com/pthm-cable/offrails/solver"
	"github.com/pthm-cable/offrails/systems"
	"github.com/pthm-cable/offrails/telemetry"
	"github.com/pthm-cable/offrails/vessel"
)

// ErrNotRecorded is returned by operations that need recorded vessel data.
var ErrNotRecorded = errors.New("processor: not recorded")

// State is the processor lifecycle state.
type State uint8

const (
	Unrecorded State = iota // no vessel data
	Recorded                // converters and inventories built, rates not solved
	Solved                  // rates valid, next changepoint known
)

func (s State) String() string {
	switch s {
	case Unrecorded:
		return "unrecorded"
	case Recorded:
		return "recorded"
	case Solved:
		return "solved"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// generations hands out processor identities for solution caching. A
// processor takes a new generation on every Record and Restore.
var generations atomic.Uint64

// Options configures a Processor. Zero values fall back to package defaults.
type Options struct {
	Config   *config.Config // nil uses config.Cfg()
	Solver   *solver.Solver // nil builds an uncached solver from Config
	Notifier *CrashNotifier // nil uses DefaultNotifier()
	Logger   *slog.Logger   // nil uses slog.Default()
	Metrics  *telemetry.Metrics
	Perf     *telemetry.PerfCollector
	Stats    *telemetry.Collector
}

// Processor owns one vessel's converters and inventories.
// It is not safe for concurrent use.
type Processor struct {
	cfg      *config.Config
	solver   *solver.Solver
	notifier *CrashNotifier
	log      *slog.Logger
	metrics  *telemetry.Metrics
	perf     *telemetry.PerfCollector
	stats    *telemetry.Collector
	sched    systems.Scheduler

	state      State
	generation uint64

	links       []vessel.Link
	conn        *systems.Connectivity
	inventories []components.Inventory
	converters  []*components.Converter

	lastUpdate      float64
	nextChangepoint float64

	// boundaries is the boundary state of every inventory at the last solve.
	boundaries []components.BoundaryState
	// failed holds the last behaviour error per converter index; those
	// converters are queried again on the next tick.
	failed bitset.SparseMap[error]

	solves      int
	lastStats   solver.Stats
	lastFailure error
}

// New creates an unrecorded processor.
func New(opts Options) *Processor {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Cfg()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := opts.Solver
	if s == nil {
		s = solver.New(solver.OptionsFromConfig(cfg), nil, log)
	}
	n := opts.Notifier
	if n == nil {
		n = DefaultNotifier()
	}
	return &Processor{
		cfg:             cfg,
		solver:          s,
		notifier:        n,
		log:             log,
		metrics:         opts.Metrics,
		perf:            opts.Perf,
		stats:           opts.Stats,
		sched:           systems.Scheduler{Band: cfg.Scheduler.ConstraintBand, Log: log},
		nextChangepoint: math.Inf(1),
	}
}

// State returns the lifecycle state.
func (p *Processor) State() State { return p.state }

// Generation returns the processor's current identity.
func (p *Processor) Generation() uint64 { return p.generation }

// LastUpdate returns the simulated time the stored amounts correspond to.
func (p *Processor) LastUpdate() float64 { return p.lastUpdate }

// NextChangepoint returns the next time the solution may stop holding, or +Inf.
func (p *Processor) NextChangepoint() float64 { return p.nextChangepoint }

// Inventories returns the processor's inventories. Callers must not modify them.
func (p *Processor) Inventories() []components.Inventory { return p.inventories }

// Converters returns the processor's converters. Callers must not modify them.
func (p *Processor) Converters() []*components.Converter { return p.converters }

// LastFailure returns the error of the last solve, or nil if it succeeded.
func (p *Processor) LastFailure() error { return p.lastFailure }

// LastStats returns the stats of the last solve.
func (p *Processor) LastStats() solver.Stats { return p.lastStats }

// Solves returns the number of solver runs since the processor was created.
func (p *Processor) Solves() int { return p.solves }

// Record discards all state and rebuilds converters, inventories and
// connectivity from snap. Rates are solved by the next Tick.
func (p *Processor) Record(snap *vessel.Snapshot) error {
	if snap == nil {
		return errors.New("processor: nil snapshot")
	}
	if math.IsNaN(snap.Time) || math.IsInf(snap.Time, 0) {
		return fmt.Errorf("processor: invalid snapshot time %v", snap.Time)
	}
	p.perf.StartTick()
	defer p.perf.EndTick()
	p.perf.StartPhase(telemetry.PhaseRecord)

	p.reset()
	p.lastUpdate = snap.Time

	seen := make(map[components.InventoryID]bool)
	addInventory := func(id components.InventoryID, r vessel.Resource) {
		if seen[id] {
			p.anomaly("duplicate inventory ignored", "inventory", id)
			return
		}
		seen[id] = true
		p.inventories = append(p.inventories, p.sanitizeInventory(id, r))
	}

	for _, part := range snap.Parts {
		for _, r := range part.Resources {
			addInventory(components.InventoryID{PartID: part.ID, Resource: r.Name}, r)
		}
		for _, mod := range part.Modules {
			if mod.ID == 0 {
				p.anomaly("module without id ignored", "part", part.ID)
				continue
			}
			for _, r := range mod.Resources {
				addInventory(components.InventoryID{PartID: part.ID, ModuleID: mod.ID, Resource: r.Name}, r)
			}
			for j, mc := range mod.Converters {
				p.converters = append(p.converters, &components.Converter{
					Source:          components.SourceRef{PartID: part.ID, ModuleID: mod.ID, Index: j},
					Priority:        mc.Priority,
					Behaviour:       mc.Behaviour,
					NextChangepoint: math.Inf(1),
				})
			}
		}
	}

	p.links = snap.Links()
	p.conn = systems.NewConnectivity(vessel.NewGraph(p.links), p.inventories, p.cfg, p.log)

	p.perf.StartPhase(telemetry.PhaseRefresh)
	for i := range p.converters {
		p.refresh(i, snap)
	}

	p.perf.StartPhase(telemetry.PhaseConnect)
	p.conn.ConnectAll(p.converters)

	p.perf.StartPhase(telemetry.PhaseConstraints)
	systems.EvaluateAll(p.converters, p.inventories, p.sched.Band)

	p.state = Recorded
	p.log.Debug("vessel recorded",
		"generation", p.generation,
		"time", p.lastUpdate,
		"inventories", len(p.inventories),
		"converters", len(p.converters),
	)
	return nil
}

// Discard drops the processor's cached solutions from the shared solver
// cache. Call it when the processor is retired.
func (p *Processor) Discard() {
	if p.generation != 0 {
		p.solver.Cache().Invalidate(p.generation)
	}
}

// reset drops all vessel data and takes a new generation.
func (p *Processor) reset() {
	p.Discard()
	p.generation = generations.Add(1)
	p.state = Unrecorded
	p.links = nil
	p.conn = nil
	p.inventories = nil
	p.converters = nil
	p.boundaries = nil
	p.failed = bitset.SparseMap[error]{}
	p.nextChangepoint = math.Inf(1)
	p.lastFailure = nil
}

// sanitizeInventory builds an inventory, correcting non-finite or negative
// amounts. OriginalAmount keeps the live value whenever it is finite so that
// ApplyBack can tell external changes apart from corrections.
func (p *Processor) sanitizeInventory(id components.InventoryID, r vessel.Resource) components.Inventory {
	inv := components.Inventory{
		ID:        id,
		Amount:    r.Amount,
		MaxAmount: r.MaxAmount,
		FlowIn:    r.FlowIn,
		FlowOut:   r.FlowOut,
	}
	if math.IsNaN(inv.MaxAmount) || inv.MaxAmount < 0 {
		p.anomaly("invalid capacity replaced with 0", "inventory", id, "max_amount", inv.MaxAmount)
		inv.MaxAmount = 0
	}
	if math.IsInf(inv.Amount, 0) {
		p.anomaly("infinite amount replaced with 0", "inventory", id)
		inv.Amount = 0
	}
	if inv.Clamp() {
		p.anomaly("amount clamped", "inventory", id, "amount", r.Amount, "max_amount", inv.MaxAmount)
	}
	inv.OriginalAmount = inv.Amount
	if !math.IsNaN(r.Amount) && !math.IsInf(r.Amount, 0) {
		inv.OriginalAmount = r.Amount
	}
	return inv
}

// refresh queries converter i's behaviour and installs the result. Failed
// queries leave the converter inert and mark it for a retry on the next tick.
// It reports whether the converter's declarations changed.
func (p *Processor) refresh(i int, vs components.VesselState) bool {
	c := p.converters[i]
	rs, err := components.QueryBehaviour(c.Behaviour, vs)
	if err != nil {
		if _, again := p.failed.Get(i); !again {
			p.log.Warn("converter behaviour failed", "converter", c.Source, "error", err)
		}
		p.failed.Set(i, err)
		p.metrics.RecordBehaviourFailure()
		p.stats.RecordBehaviourFailure()
	} else {
		p.failed.Delete(i)
	}

	changed, anomalies := c.Apply(rs)
	for _, a := range anomalies {
		p.anomaly("behaviour value corrected", "converter", c.Source, "field", a.Field, "detail", a.Detail)
	}
	if c.NextChangepoint < vs.CurrentTime() {
		p.anomaly("behaviour changepoint in the past", "converter", c.Source,
			"next_changepoint", c.NextChangepoint, "now", vs.CurrentTime())
		c.NextChangepoint = math.Inf(1)
	}
	return changed
}

func (p *Processor) anomaly(msg string, args ...any) {
	p.log.Warn(msg, args...)
	p.metrics.RecordAnomalies(1)
	p.stats.RecordAnomalies(1)
}

// Tick advances the processor to vs.CurrentTime(): amounts are integrated
// at the current rates, behaviours whose changepoint has passed are queried
// again, and rates are re-solved when anything the solution depends on
// changed. Finally the next changepoint is recomputed.
func (p *Processor) Tick(vs components.VesselState) error {
	if p.state == Unrecorded {
		return ErrNotRecorded
	}
	now := vs.CurrentTime()
	if math.IsNaN(now) || math.IsInf(now, 0) {
		return fmt.Errorf("processor: invalid time %v", now)
	}

	p.perf.StartTick()
	defer p.perf.EndTick()
	p.metrics.RecordTick()
	p.stats.RecordTick()

	p.perf.StartPhase(telemetry.PhaseIntegrate)
	dt := now - p.lastUpdate
	if dt < 0 {
		p.log.Warn("time went backwards, not integrating", "last_update", p.lastUpdate, "now", now)
		dt = 0
	}
	res := systems.Integrate(p.inventories, dt, p.cfg.Scheduler.BoundaryFudge)
	systems.AccumulateActive(p.converters, dt)
	if res.Clamped > 0 {
		p.log.Debug("amounts clamped after integration", "count", res.Clamped)
	}
	p.lastUpdate = max(p.lastUpdate, now)

	p.perf.StartPhase(telemetry.PhaseRefresh)
	var changed []int
	for i, c := range p.converters {
		_, retry := p.failed.Get(i)
		if c.NextChangepoint > now && !retry {
			continue
		}
		if p.refresh(i, vs) {
			changed = append(changed, i)
		}
	}

	p.perf.StartPhase(telemetry.PhaseConnect)
	for _, i := range changed {
		p.conn.Connect(p.converters[i])
	}

	p.perf.StartPhase(telemetry.PhaseConstraints)
	statesChanged := systems.EvaluateAll(p.converters, p.inventories, p.sched.Band)
	boundariesChanged := !slices.Equal(p.boundaries, p.boundarySignature())

	p.perf.StartPhase(telemetry.PhaseSolve)
	if p.state == Recorded || len(changed) > 0 || statesChanged || boundariesChanged || now >= p.nextChangepoint {
		p.solve()
	}

	p.perf.StartPhase(telemetry.PhaseSchedule)
	p.nextChangepoint = p.sched.Next(now, p.converters, p.inventories)
	p.state = Solved
	return nil
}

func (p *Processor) boundarySignature() []components.BoundaryState {
	sig := make([]components.BoundaryState, len(p.inventories))
	for i := range p.inventories {
		sig[i] = p.inventories[i].Boundary(p.cfg.Solver.Epsilon)
	}
	return sig
}

// solve runs the rate solver. A failure leaves every rate at zero, writes a
// diagnostic dump and notifies the user the first time it happens.
func (p *Processor) solve() {
	st, err := p.solver.Solve(p.generation, p.converters, p.inventories)
	p.solves++
	p.lastStats = st
	p.boundaries = p.boundarySignature()
	p.metrics.RecordSolve(st.CacheHit, st.Duration)
	p.stats.RecordSolve(st.CacheHit)
	if err == nil {
		p.lastFailure = nil
		p.log.Debug("rates solved", "generation", p.generation, "stats", st)
		return
	}

	p.lastFailure = err
	stage := "unknown"
	var f *solver.Failure
	if errors.As(err, &f) {
		stage = f.Stage
	}
	p.metrics.RecordFailure(stage)
	p.stats.RecordFailure()

	path, derr := p.dump(err)
	if derr != nil {
		p.log.Error("writing diagnostic dump", "error", derr)
	}
	p.log.Error("rate solve failed, vessel is inert",
		"generation", p.generation,
		"error", err,
		"dump", path,
		"stats", st,
	)
	p.notifier.Report(err, path)
}

// ApplyBack writes every inventory amount into res. Changes made to the live
// world since the vessel was recorded are kept by adding the drift between
// the live amount and the recorded one. It returns the number of
// inventories written.
func (p *Processor) ApplyBack(res vessel.Resources) (int, error) {
	if p.state == Unrecorded {
		return 0, ErrNotRecorded
	}
	written := 0
	for i := range p.inventories {
		inv := &p.inventories[i]
		live, ok := res.StoredAmount(inv.ID)
		if !ok {
			p.log.Debug("inventory gone from live vessel", "inventory", inv.ID)
			continue
		}
		drift := live - inv.OriginalAmount
		if math.IsNaN(drift) || math.IsInf(drift, 0) {
			p.anomaly("live amount not finite, drift ignored", "inventory", inv.ID, "live", live)
			drift = 0
		}
		inv.Amount += drift
		inv.Clamp()
		res.UpdateStoredAmount(inv.ID, inv.Amount)
		inv.OriginalAmount = inv.Amount
		written++
	}
	return written, nil
}
