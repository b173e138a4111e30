package telemetry

import (
	"log/slog"
	"sort"
)

// WindowStats holds aggregated statistics for a window of simulated time.
type WindowStats struct {
	WindowStart float64 `csv:"-"`
	WindowEnd   float64 `csv:"window_end"`

	// Vessel count at window end
	Vessels int `csv:"vessels"`

	// Events during window
	Ticks             int     `csv:"ticks"`
	Solves            int     `csv:"solves"`
	CacheHits         int     `csv:"cache_hits"`
	Failures          int     `csv:"failures"`
	BehaviourFailures int     `csv:"behaviour_failures"`
	Anomalies         int     `csv:"anomalies"`
	Changepoints      int     `csv:"changepoints"`
	CacheHitRate      float64 `csv:"cache_hit_rate"`

	// Converter activation distribution (sampled at window end)
	RateMean float64 `csv:"rate_mean"`
	RateP10  float64 `csv:"rate_p10"`
	RateP50  float64 `csv:"rate_p50"`
	RateP90  float64 `csv:"rate_p90"`

	// Inventory fill fraction distribution (bounded inventories only)
	FillMean float64 `csv:"fill_mean"`
	FillP10  float64 `csv:"fill_p10"`
	FillP50  float64 `csv:"fill_p50"`
	FillP90  float64 `csv:"fill_p90"`

	// Resource pools (for conservation validation)
	TotalAmount   float64 `csv:"total_amount"`
	TotalCapacity float64 `csv:"total_capacity"`
	NetRate       float64 `csv:"net_rate"`
	ActiveTime    float64 `csv:"active_time"` // Cumulative converter-seconds at full rate
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Distribution calculates mean and percentiles from a set of samples.
func Distribution(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("window_start", s.WindowStart),
		slog.Float64("window_end", s.WindowEnd),
		slog.Int("vessels", s.Vessels),
		slog.Int("ticks", s.Ticks),
		slog.Int("solves", s.Solves),
		slog.Int("cache_hits", s.CacheHits),
		slog.Int("failures", s.Failures),
		slog.Int("behaviour_failures", s.BehaviourFailures),
		slog.Int("anomalies", s.Anomalies),
		slog.Int("changepoints", s.Changepoints),
		slog.Float64("cache_hit_rate", s.CacheHitRate),
		slog.Float64("rate_mean", s.RateMean),
		slog.Float64("rate_p50", s.RateP50),
		slog.Float64("fill_mean", s.FillMean),
		slog.Float64("fill_p50", s.FillP50),
		slog.Float64("total_amount", s.TotalAmount),
		slog.Float64("total_capacity", s.TotalCapacity),
		slog.Float64("net_rate", s.NetRate),
		slog.Float64("active_time", s.ActiveTime),
	)
}
