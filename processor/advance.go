package processor

import (
	"log/slog"
	"time"

	"github.com/pthm-cable/offrails/vessel"
)

// AdvanceStats describes one Advance call.
type AdvanceStats struct {
	From      float64
	To        float64
	Steps     int  // changepoints stepped through
	Solves    int  // solver runs
	Truncated bool // step budget ran out before reaching To
	Duration  time.Duration
}

// LogValue implements slog.LogValuer for structured logging.
func (s AdvanceStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("from", s.From),
		slog.Float64("to", s.To),
		slog.Int("steps", s.Steps),
		slog.Int("solves", s.Solves),
		slog.Bool("truncated", s.Truncated),
		slog.Int64("duration_us", s.Duration.Microseconds()),
	)
}

// Advance moves the processor to until, ticking at every changepoint on the
// way so that rates are re-solved whenever the solution stops holding. At
// most scheduler.max_steps_per_advance changepoints are processed; the rest
// of the interval is then integrated at the last rates.
func (p *Processor) Advance(until float64, env any) (AdvanceStats, error) {
	start := time.Now()
	stats := AdvanceStats{From: p.lastUpdate, To: until}
	if p.state == Unrecorded {
		return stats, ErrNotRecorded
	}
	solves := p.solves

	if p.state == Recorded {
		if err := p.Tick(vessel.At(p.lastUpdate, env)); err != nil {
			return stats, err
		}
	}

	budget := p.cfg.Scheduler.MaxStepsPerAdvance
	for p.nextChangepoint < until {
		if stats.Steps >= budget {
			stats.Truncated = true
			p.log.Warn("changepoint budget exhausted",
				"generation", p.generation,
				"steps", stats.Steps,
				"time", p.lastUpdate,
				"until", until,
			)
			break
		}
		t := p.nextChangepoint
		if err := p.Tick(vessel.At(t, env)); err != nil {
			return stats, err
		}
		stats.Steps++
		p.metrics.RecordChangepoint()
		p.stats.RecordChangepoint()
		if p.nextChangepoint <= t {
			break
		}
	}

	if err := p.Tick(vessel.At(until, env)); err != nil {
		return stats, err
	}
	stats.Solves = p.solves - solves
	stats.Duration = time.Since(start)
	return stats, nil
}
