// Package fleet keeps many unloaded vessels in an ECS world, one processor
// each, and advances them together. A vessel is only ticked when its next
// changepoint falls inside the advanced interval or a refresh was requested.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/offrails/config"
	"github.com/pthm-cable/offrails/processor"
	"github.com/pthm-cable/offrails/solver"
	"github.com/pthm-cable/offrails/telemetry"
	"github.com/pthm-cable/offrails/vessel"
)

var (
	ErrExists   = errors.New("fleet: vessel already registered")
	ErrNotFound = errors.New("fleet: vessel not registered")
)

// Vessel identifies a fleet entity.
type Vessel struct {
	ID string
}

// Clock tracks when a vessel next needs processing.
type Clock struct {
	Next    float64 // processor's next changepoint
	Refresh bool    // tick on the next Advance regardless of Next
}

// Handle holds the vessel's processor and the environment its behaviours see.
type Handle struct {
	Proc *processor.Processor
	Env  any
}

// Options configures a Fleet. Zero values fall back to package defaults.
type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Notifier *processor.CrashNotifier
	Metrics  *telemetry.Metrics
	Perf     *telemetry.PerfCollector
	Stats    *telemetry.Collector
}

// Fleet is a set of processors sharing one solver and its solution cache.
// It is not safe for concurrent use.
type Fleet struct {
	cfg     *config.Config
	log     *slog.Logger
	opts    Options
	solver  *solver.Solver
	world   *ecs.World
	mapper  *ecs.Map3[Vessel, Clock, Handle]
	handles *ecs.Map1[Handle]
	clocks  *ecs.Map1[Clock]
	filter  *ecs.Filter3[Vessel, Clock, Handle]
	byID    map[string]ecs.Entity
}

// New creates an empty fleet.
func New(opts Options) *Fleet {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Cfg()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	opts.Config, opts.Logger = cfg, log

	world := ecs.NewWorld()
	return &Fleet{
		cfg:     cfg,
		log:     log,
		opts:    opts,
		solver:  solver.New(solver.OptionsFromConfig(cfg), solver.NewCache(cfg.Solver.CacheCapacity), log),
		world:   world,
		mapper:  ecs.NewMap3[Vessel, Clock, Handle](world),
		handles: ecs.NewMap1[Handle](world),
		clocks:  ecs.NewMap1[Clock](world),
		filter:  ecs.NewFilter3[Vessel, Clock, Handle](world),
		byID:    make(map[string]ecs.Entity),
	}
}

// NewProcessor returns an unrecorded processor wired to the fleet's solver
// and telemetry.
func (f *Fleet) NewProcessor(id string) *processor.Processor {
	return processor.New(processor.Options{
		Config:   f.cfg,
		Solver:   f.solver,
		Notifier: f.opts.Notifier,
		Logger:   f.log.With("vessel", id),
		Metrics:  f.opts.Metrics,
		Perf:     f.opts.Perf,
		Stats:    f.opts.Stats,
	})
}

// Add records snap into a new processor and registers it under id.
func (f *Fleet) Add(id string, snap *vessel.Snapshot) (*processor.Processor, error) {
	if _, ok := f.byID[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	p := f.NewProcessor(id)
	if err := p.Record(snap); err != nil {
		return nil, fmt.Errorf("recording %s: %w", id, err)
	}
	if err := f.Adopt(id, p, snap.Env); err != nil {
		return nil, err
	}
	return p, nil
}

// Adopt registers an existing processor, for example one restored from a
// store. Processors that were never solved are ticked on the next Advance.
func (f *Fleet) Adopt(id string, p *processor.Processor, env any) error {
	if _, ok := f.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	if p.State() == processor.Unrecorded {
		return fmt.Errorf("adopting %s: %w", id, processor.ErrNotRecorded)
	}
	v := Vessel{ID: id}
	c := Clock{Next: p.NextChangepoint(), Refresh: p.State() != processor.Solved}
	h := Handle{Proc: p, Env: env}
	f.byID[id] = f.mapper.NewEntity(&v, &c, &h)
	f.opts.Metrics.SetVessels(len(f.byID))
	f.log.Debug("vessel added", "vessel", id, "state", p.State().String(), "next_changepoint", c.Next)
	return nil
}

// Remove unregisters a vessel and drops its cached solutions. It reports
// whether the vessel was present.
func (f *Fleet) Remove(id string) bool {
	e, ok := f.byID[id]
	if !ok {
		return false
	}
	f.handles.Get(e).Proc.Discard()
	f.world.RemoveEntity(e)
	delete(f.byID, id)
	f.opts.Metrics.SetVessels(len(f.byID))
	return true
}

// Get returns the processor registered under id.
func (f *Fleet) Get(id string) (*processor.Processor, bool) {
	e, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return f.handles.Get(e).Proc, true
}

// Len returns the number of registered vessels.
func (f *Fleet) Len() int { return len(f.byID) }

// IDs returns the registered vessel ids in sorted order.
func (f *Fleet) IDs() []string {
	ids := make([]string, 0, len(f.byID))
	for id := range f.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Refresh makes the next Advance tick the vessel even if no changepoint is
// due, for example after its environment changed.
func (f *Fleet) Refresh(id string, env any) error {
	e, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	f.clocks.Get(e).Refresh = true
	if env != nil {
		f.handles.Get(e).Env = env
	}
	return nil
}

// Report summarises one fleet Advance.
type Report struct {
	Until    float64
	Vessels  int
	Ticked   int
	Steps    int
	Solves   int
	Dropped  []string // vessels removed after failing to advance
	Duration time.Duration
}

// LogValue implements slog.LogValuer for structured logging.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("until", r.Until),
		slog.Int("vessels", r.Vessels),
		slog.Int("ticked", r.Ticked),
		slog.Int("steps", r.Steps),
		slog.Int("solves", r.Solves),
		slog.Int("dropped", len(r.Dropped)),
		slog.Int64("duration_us", r.Duration.Microseconds()),
	)
}

// Advance brings every due vessel to until. Vessels whose processor fails
// to advance are removed and listed in the report; their errors are joined
// into the returned error.
func (f *Fleet) Advance(until float64) (Report, error) {
	start := time.Now()
	rep := Report{Until: until, Vessels: len(f.byID)}
	if math.IsNaN(until) || math.IsInf(until, 0) {
		return rep, fmt.Errorf("fleet: invalid time %v", until)
	}

	type failure struct {
		id  string
		err error
	}
	var failed []failure

	query := f.filter.Query()
	for query.Next() {
		v, clock, h := query.Get()
		if !clock.Refresh && clock.Next > until {
			continue
		}
		st, err := h.Proc.Advance(until, h.Env)
		if err != nil {
			failed = append(failed, failure{id: v.ID, err: err})
			continue
		}
		clock.Next = h.Proc.NextChangepoint()
		clock.Refresh = false
		rep.Ticked++
		rep.Steps += st.Steps
		rep.Solves += st.Solves
		if st.Truncated {
			f.log.Warn("vessel advance truncated", "vessel", v.ID, "stats", st)
		}
	}

	// Entities can only be removed once the query is done.
	var errs []error
	for _, fl := range failed {
		f.log.Error("vessel dropped from fleet", "vessel", fl.id, "error", fl.err)
		f.Remove(fl.id)
		rep.Dropped = append(rep.Dropped, fl.id)
		errs = append(errs, fmt.Errorf("%s: %w", fl.id, fl.err))
	}
	rep.Duration = time.Since(start)
	return rep, errors.Join(errs...)
}

// Release brings a vessel to now, writes its amounts into res and removes
// it from the fleet, as when the vessel is loaded again.
func (f *Fleet) Release(id string, now float64, res vessel.Resources) (int, error) {
	e, ok := f.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	h := f.handles.Get(e)
	if _, err := h.Proc.Advance(now, h.Env); err != nil {
		return 0, fmt.Errorf("advancing %s: %w", id, err)
	}
	n, err := h.Proc.ApplyBack(res)
	if err != nil {
		return n, fmt.Errorf("applying %s: %w", id, err)
	}
	f.Remove(id)
	return n, nil
}

// Pools samples every vessel's converters and inventories.
func (f *Fleet) Pools() telemetry.Pools {
	var pools telemetry.Pools
	query := f.filter.Query()
	for query.Next() {
		_, _, h := query.Get()
		pools.Sample(h.Proc.Converters(), h.Proc.Inventories())
	}
	return pools
}

// FlushStats closes the stats window if it has elapsed at now.
func (f *Fleet) FlushStats(now float64) (telemetry.WindowStats, bool) {
	if !f.opts.Stats.ShouldFlush(now) {
		return telemetry.WindowStats{}, false
	}
	return f.opts.Stats.Flush(now, len(f.byID), f.Pools()), true
}

// Saver persists processor records.
type Saver interface {
	Save(ctx context.Context, id string, rec *processor.Record) error
}

// SaveAll persists every vessel's processor. It stops at the first error.
func (f *Fleet) SaveAll(ctx context.Context, s Saver) error {
	for _, id := range f.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, _ := f.Get(id)
		rec, err := p.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", id, err)
		}
		if err := s.Save(ctx, id, rec); err != nil {
			return fmt.Errorf("saving %s: %w", id, err)
		}
	}
	return nil
}

// Source lists and loads persisted processor records.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, id string) (*processor.Record, error)
}

// LoadAll restores every record in src that is not already registered.
// envs supplies the environment per vessel id and may be nil. Records that
// fail to restore are skipped and their errors joined.
func (f *Fleet) LoadAll(ctx context.Context, src Source, envs map[string]any) (int, error) {
	ids, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing records: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, id := range ids {
		if _, ok := f.byID[id]; ok {
			continue
		}
		rec, err := src.Load(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("loading %s: %w", id, err))
			continue
		}
		p := f.NewProcessor(id)
		if err := p.Restore(rec); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", id, err))
			continue
		}
		if err := f.Adopt(id, p, envs[id]); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
