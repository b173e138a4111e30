package telemetry

import (
	"log/slog"
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	// Simulate a few ticks
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseIntegrate)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseSolve)
		time.Sleep(200 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration")
	}
	if _, ok := stats.PhaseAvg[PhaseIntegrate]; !ok {
		t.Error("expected integrate phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseSolve]; !ok {
		t.Error("expected solve phase to be tracked")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5) // Small window

	// Fill window completely
	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseSchedule)
		pc.EndTick()
	}

	stats := pc.Stats()

	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration after window filled")
	}
	if stats.TicksPerSecond <= 0 {
		t.Error("expected positive ticks per second")
	}
	if stats.Ticks != 5 {
		t.Errorf("expected window of 5 ticks, got %d", stats.Ticks)
	}
	if stats.P50TickDuration > stats.P99TickDuration || stats.P99TickDuration > stats.MaxTickDuration {
		t.Errorf("expected p50 <= p99 <= max, got %v %v %v",
			stats.P50TickDuration, stats.P99TickDuration, stats.MaxTickDuration)
	}
}

func TestPerfCollector_EndTickWithoutStart(t *testing.T) {
	pc := NewPerfCollector(3)
	pc.EndTick()
	if s := pc.Stats(); s.Ticks != 0 {
		t.Errorf("expected no ticks recorded, got %d", s.Ticks)
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	// Simulate with uneven phase durations
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase("fast")
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase("slow")
		time.Sleep(100 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	fastPct := stats.PhasePct["fast"]
	slowPct := stats.PhasePct["slow"]

	// Slow phase should take more % than fast
	if slowPct <= fastPct {
		t.Errorf("expected slow phase (%v%%) > fast phase (%v%%)", slowPct, fastPct)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()

	// Empty collector should return zero values without panicking
	if stats.AvgTickDuration != 0 {
		t.Error("expected zero avg tick duration for empty collector")
	}
	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map")
	}
	if stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}

func TestPerfCollector_Nil(t *testing.T) {
	var pc *PerfCollector
	pc.StartTick()
	pc.StartPhase(PhaseSolve)
	pc.EndTick()

	stats := pc.Stats()
	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map from nil collector")
	}
}

func TestPerfStats_ToCSV(t *testing.T) {
	s := PerfStats{
		Ticks:           4,
		AvgTickDuration: 2 * time.Millisecond,
		P99TickDuration: 5 * time.Millisecond,
		PhasePct:        map[string]float64{PhaseSolve: 75, PhaseSchedule: 25},
	}
	row := s.ToCSV(42)
	if row.SimTime != 42 {
		t.Errorf("expected sim time 42, got %v", row.SimTime)
	}
	if row.AvgTickUS != 2000 || row.P99TickUS != 5000 || row.Ticks != 4 {
		t.Errorf("expected 4 ticks at 2000us avg / 5000us p99, got %+v", row)
	}
	if row.SolvePct != 75 || row.SchedulePct != 25 {
		t.Errorf("expected solve 75 / schedule 25, got %v / %v", row.SolvePct, row.SchedulePct)
	}
	if v := s.LogValue(); v.Kind() != slog.KindGroup {
		t.Errorf("expected group log value, got %v", v.Kind())
	}
}
