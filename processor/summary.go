package processor

import (
	"log/slog"
	"sort"
)

// ResourceSummary totals one resource over a vessel.
type ResourceSummary struct {
	Resource    string
	Inventories int
	Amount      float64
	Capacity    float64 // +Inf if any inventory is unbounded
	Rate        float64
}

// Summary describes a processor for display and logs.
type Summary struct {
	State           State
	Time            float64
	NextChangepoint float64
	Converters      int
	Active          int // converters with a non-zero rate
	Links           int // converter to inventory flow connections
	Resources       []ResourceSummary
}

// Summary totals the processor's inventories by resource.
func (p *Processor) Summary() Summary {
	s := Summary{
		State:           p.state,
		Time:            p.lastUpdate,
		NextChangepoint: p.nextChangepoint,
		Converters:      len(p.converters),
	}
	for _, c := range p.converters {
		if c.Rate > 0 {
			s.Active++
		}
		s.Links += c.Pull.Count() + c.Push.Count()
	}

	byName := make(map[string]int)
	for i := range p.inventories {
		inv := &p.inventories[i]
		k, ok := byName[inv.ID.Resource]
		if !ok {
			k = len(s.Resources)
			byName[inv.ID.Resource] = k
			s.Resources = append(s.Resources, ResourceSummary{Resource: inv.ID.Resource})
		}
		r := &s.Resources[k]
		r.Inventories++
		r.Amount += inv.Amount
		r.Capacity += inv.MaxAmount
		r.Rate += inv.Rate
	}
	sort.Slice(s.Resources, func(i, j int) bool {
		return s.Resources[i].Resource < s.Resources[j].Resource
	})
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("state", s.State.String()),
		slog.Float64("time", s.Time),
		slog.Float64("next_changepoint", s.NextChangepoint),
		slog.Int("converters", s.Converters),
		slog.Int("active", s.Active),
		slog.Int("links", s.Links),
	}
	for _, r := range s.Resources {
		attrs = append(attrs, slog.Group(r.Resource,
			slog.Float64("amount", r.Amount),
			slog.Float64("capacity", r.Capacity),
			slog.Float64("rate", r.Rate),
		))
	}
	return slog.GroupValue(attrs...)
}
