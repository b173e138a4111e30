package telemetry

import (
	"log/slog"
	"sort"
	"time"
)

// Phase names for a processor tick.
const (
	PhaseRecord      = "record"
	PhaseRefresh     = "refresh"
	PhaseConnect     = "connect"
	PhaseIntegrate   = "integrate"
	PhaseConstraints = "constraints"
	PhaseSolve       = "solve"
	PhaseSchedule    = "schedule"
)

// Phases lists the tick phases in execution order.
var Phases = []string{
	PhaseRecord, PhaseRefresh, PhaseConnect, PhaseIntegrate,
	PhaseConstraints, PhaseSolve, PhaseSchedule,
}

// PerfSample is the wall time spent in one processor tick.
type PerfSample struct {
	Tick   time.Duration
	Phases map[string]time.Duration
}

// PerfCollector keeps the last window ticks' timings in a ring. A nil
// collector accepts every call and records nothing.
type PerfCollector struct {
	ring  []PerfSample
	next  int
	count int

	cur        PerfSample
	tickStart  time.Time
	phase      string
	phaseStart time.Time
}

// NewPerfCollector returns a collector over the last window ticks.
func NewPerfCollector(window int) *PerfCollector {
	if window < 1 {
		window = 60
	}
	return &PerfCollector{ring: make([]PerfSample, window)}
}

// StartTick begins timing a tick.
func (p *PerfCollector) StartTick() {
	if p == nil {
		return
	}
	p.tickStart = time.Now()
	p.cur = PerfSample{Phases: make(map[string]time.Duration, len(Phases))}
	p.phase = ""
}

// StartPhase closes the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	if p == nil {
		return
	}
	now := time.Now()
	p.closePhase(now)
	p.phase = phase
	p.phaseStart = now
}

// EndTick closes the tick and stores it in the ring.
func (p *PerfCollector) EndTick() {
	if p == nil || p.cur.Phases == nil {
		return
	}
	now := time.Now()
	p.closePhase(now)
	p.cur.Tick = now.Sub(p.tickStart)

	p.ring[p.next] = p.cur
	p.next = (p.next + 1) % len(p.ring)
	p.count = min(p.count+1, len(p.ring))
	p.cur = PerfSample{}
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.phase == "" || p.cur.Phases == nil {
		return
	}
	p.cur.Phases[p.phase] += now.Sub(p.phaseStart)
	p.phase = ""
}

// PerfStats summarises the ticks in the window.
type PerfStats struct {
	Ticks int

	AvgTickDuration time.Duration
	P50TickDuration time.Duration
	P99TickDuration time.Duration
	MaxTickDuration time.Duration

	// Mean time per tick spent in each phase, and its share of the mean tick.
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	TicksPerSecond float64
}

// Stats summarises the current window.
func (p *PerfCollector) Stats() PerfStats {
	s := PerfStats{
		PhaseAvg: make(map[string]time.Duration),
		PhasePct: make(map[string]float64),
	}
	if p == nil || p.count == 0 {
		return s
	}
	s.Ticks = p.count

	ticks := make([]float64, 0, p.count)
	var total time.Duration
	sums := make(map[string]time.Duration)
	for _, smp := range p.ring[:p.count] {
		ticks = append(ticks, float64(smp.Tick))
		total += smp.Tick
		for phase, d := range smp.Phases {
			sums[phase] += d
		}
	}
	sort.Float64s(ticks)

	n := time.Duration(p.count)
	s.AvgTickDuration = total / n
	s.P50TickDuration = time.Duration(Percentile(ticks, 0.50))
	s.P99TickDuration = time.Duration(Percentile(ticks, 0.99))
	s.MaxTickDuration = time.Duration(ticks[len(ticks)-1])
	for phase, sum := range sums {
		avg := sum / n
		s.PhaseAvg[phase] = avg
		if s.AvgTickDuration > 0 {
			s.PhasePct[phase] = 100 * float64(avg) / float64(s.AvgTickDuration)
		}
	}
	if s.AvgTickDuration > 0 {
		s.TicksPerSecond = float64(time.Second) / float64(s.AvgTickDuration)
	}
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("ticks", s.Ticks),
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("p50_tick_us", s.P50TickDuration.Microseconds()),
		slog.Int64("p99_tick_us", s.P99TickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
	}
	for _, phase := range Phases {
		if pct := s.PhasePct[phase]; pct > 0.1 {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one perf.csv row.
type PerfStatsCSV struct {
	SimTime        float64 `csv:"sim_time"`
	Ticks          int     `csv:"ticks"`
	AvgTickUS      int64   `csv:"avg_tick_us"`
	P50TickUS      int64   `csv:"p50_tick_us"`
	P99TickUS      int64   `csv:"p99_tick_us"`
	MaxTickUS      int64   `csv:"max_tick_us"`
	TicksPerSec    float64 `csv:"ticks_per_sec"`
	RecordPct      float64 `csv:"record_pct"`
	RefreshPct     float64 `csv:"refresh_pct"`
	ConnectPct     float64 `csv:"connect_pct"`
	IntegratePct   float64 `csv:"integrate_pct"`
	ConstraintsPct float64 `csv:"constraints_pct"`
	SolvePct       float64 `csv:"solve_pct"`
	SchedulePct    float64 `csv:"schedule_pct"`
}

// ToCSV flattens the stats into a perf.csv row at simulated time simTime.
func (s PerfStats) ToCSV(simTime float64) PerfStatsCSV {
	return PerfStatsCSV{
		SimTime:        simTime,
		Ticks:          s.Ticks,
		AvgTickUS:      s.AvgTickDuration.Microseconds(),
		P50TickUS:      s.P50TickDuration.Microseconds(),
		P99TickUS:      s.P99TickDuration.Microseconds(),
		MaxTickUS:      s.MaxTickDuration.Microseconds(),
		TicksPerSec:    s.TicksPerSecond,
		RecordPct:      s.PhasePct[PhaseRecord],
		RefreshPct:     s.PhasePct[PhaseRefresh],
		ConnectPct:     s.PhasePct[PhaseConnect],
		IntegratePct:   s.PhasePct[PhaseIntegrate],
		ConstraintsPct: s.PhasePct[PhaseConstraints],
		SolvePct:       s.PhasePct[PhaseSolve],
		SchedulePct:    s.PhasePct[PhaseSchedule],
	}
}
