package processor

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/pthm-cable/offrails/bitset"
	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/systems"
	"github.com/pthm-cable/offrails/vessel"
)

// RecordVersion is incremented when the record format changes.
const RecordVersion = 1

// Float is a float64 whose JSON form can carry infinities and NaN as strings.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = Float(v)
	return nil
}

func floatOr(f *Float, def float64) float64 {
	if f == nil {
		return def
	}
	return float64(*f)
}

func floatPtr(v float64) *Float {
	f := Float(v)
	return &f
}

// Record is the persisted form of a Processor.
type Record struct {
	Version         int           `json:"version"`
	Solved          bool          `json:"solved,omitempty"`
	LastUpdate      Float         `json:"last_update"`
	NextChangepoint *Float        `json:"next_changepoint,omitempty"` // missing means +Inf
	Links           []vessel.Link `json:"links,omitempty"`

	Inventories []InventoryRecord `json:"inventories"`
	Converters  []ConverterRecord `json:"converters"`
}

// InventoryRecord is the persisted form of an inventory.
type InventoryRecord struct {
	components.InventoryID
	Amount         Float  `json:"amount"`
	MaxAmount      Float  `json:"max_amount"`
	Rate           Float  `json:"rate,omitempty"`
	OriginalAmount *Float `json:"original_amount,omitempty"` // missing means Amount
	FlowIn         *bool  `json:"flow_in,omitempty"`         // missing means true
	FlowOut        *bool  `json:"flow_out,omitempty"`        // missing means true
}

// BitsRecord is the persisted form of a bitset.
type BitsRecord struct {
	N     int      `json:"n"`
	Words []uint64 `json:"words,omitempty"`
}

func bitsRecord(b bitset.BitSet) *BitsRecord {
	return &BitsRecord{N: b.Len(), Words: slices.Clone(b.Words())}
}

// ConverterRecord is the persisted form of a converter.
type ConverterRecord struct {
	Source          components.SourceRef            `json:"source"`
	Priority        int                             `json:"priority,omitempty"`
	Rate            Float                           `json:"rate,omitempty"`
	ActiveTime      Float                           `json:"active_time,omitempty"`
	NextChangepoint *Float                          `json:"next_changepoint,omitempty"` // missing means +Inf
	Inputs          []components.ResourceRatio      `json:"inputs,omitempty"`
	Outputs         []components.ResourceRatio      `json:"outputs,omitempty"`
	Requirements    []components.ResourceConstraint `json:"requirements,omitempty"`
	States          []components.ConstraintState    `json:"states,omitempty"`
	Pull            *BitsRecord                     `json:"pull,omitempty"`
	Push            *BitsRecord                     `json:"push,omitempty"`
	Constraint      *BitsRecord                     `json:"constraint,omitempty"`
	Behaviour       string                          `json:"behaviour,omitempty"`
	Payload         json.RawMessage                 `json:"payload,omitempty"`
}

// Snapshot captures the processor as a Record.
func (p *Processor) Snapshot() (*Record, error) {
	rec := &Record{
		Version:     RecordVersion,
		Solved:      p.state == Solved,
		LastUpdate:  Float(p.lastUpdate),
		Links:       slices.Clone(p.links),
		Inventories: make([]InventoryRecord, len(p.inventories)),
		Converters:  make([]ConverterRecord, len(p.converters)),
	}
	if !math.IsInf(p.nextChangepoint, 1) {
		rec.NextChangepoint = floatPtr(p.nextChangepoint)
	}

	for i := range p.inventories {
		inv := &p.inventories[i]
		flowIn, flowOut := inv.FlowIn, inv.FlowOut
		rec.Inventories[i] = InventoryRecord{
			InventoryID:    inv.ID,
			Amount:         Float(inv.Amount),
			MaxAmount:      Float(inv.MaxAmount),
			Rate:           Float(inv.Rate),
			OriginalAmount: floatPtr(inv.OriginalAmount),
			FlowIn:         &flowIn,
			FlowOut:        &flowOut,
		}
	}

	for i, c := range p.converters {
		kind, payload, err := components.EncodeBehaviour(c.Behaviour)
		if err != nil {
			return nil, fmt.Errorf("converter %s: %w", c.Source, err)
		}
		cr := ConverterRecord{
			Source:       c.Source,
			Priority:     c.Priority,
			Rate:         Float(c.Rate),
			ActiveTime:   Float(c.ActiveTime),
			Inputs:       slices.Clone(c.Inputs),
			Outputs:      slices.Clone(c.Outputs),
			Requirements: slices.Clone(c.Requirements),
			States:       slices.Clone(c.States),
			Pull:         bitsRecord(c.Pull),
			Push:         bitsRecord(c.Push),
			Constraint:   bitsRecord(c.Constraint),
			Behaviour:    kind,
			Payload:      payload,
		}
		if !math.IsInf(c.NextChangepoint, 1) {
			cr.NextChangepoint = floatPtr(c.NextChangepoint)
		}
		rec.Converters[i] = cr
	}
	return rec, nil
}

// Restore replaces the processor's state with rec. Missing fields take
// their defaults and undecodable behaviours leave their converter inert,
// so a damaged record still loads. A restored processor takes a new
// generation and does not re-solve unless the record was never solved.
func (p *Processor) Restore(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("processor: nil record")
	}
	if rec.Version > RecordVersion {
		return fmt.Errorf("processor: record version %d is newer than %d", rec.Version, RecordVersion)
	}

	p.reset()
	p.lastUpdate = sanitizeTime(float64(rec.LastUpdate), 0)
	p.nextChangepoint = sanitizeTime(floatOr(rec.NextChangepoint, math.Inf(1)), math.Inf(1))
	p.links = slices.Clone(rec.Links)

	p.inventories = make([]components.Inventory, 0, len(rec.Inventories))
	for _, ir := range rec.Inventories {
		inv := components.Inventory{
			ID:        ir.InventoryID,
			Amount:    float64(ir.Amount),
			MaxAmount: float64(ir.MaxAmount),
			Rate:      float64(ir.Rate),
			FlowIn:    ir.FlowIn == nil || *ir.FlowIn,
			FlowOut:   ir.FlowOut == nil || *ir.FlowOut,
		}
		if math.IsNaN(inv.MaxAmount) || inv.MaxAmount < 0 {
			p.anomaly("restored capacity replaced with 0", "inventory", inv.ID)
			inv.MaxAmount = 0
		}
		if inv.Clamp() {
			p.anomaly("restored amount clamped", "inventory", inv.ID)
		}
		if math.IsNaN(inv.Rate) || math.IsInf(inv.Rate, 0) {
			p.anomaly("restored rate replaced with 0", "inventory", inv.ID)
			inv.Rate = 0
		}
		inv.OriginalAmount = floatOr(ir.OriginalAmount, inv.Amount)
		p.inventories = append(p.inventories, inv)
	}

	n := len(p.inventories)
	bits := func(b *BitsRecord) bitset.BitSet {
		if b == nil {
			return bitset.New(n)
		}
		return bitset.FromWords(n, b.Words)
	}

	p.converters = make([]*components.Converter, 0, len(rec.Converters))
	for _, cr := range rec.Converters {
		c := &components.Converter{
			Source:          cr.Source,
			Priority:        cr.Priority,
			Inputs:          slices.Clone(cr.Inputs),
			Outputs:         slices.Clone(cr.Outputs),
			Requirements:    slices.Clone(cr.Requirements),
			States:          slices.Clone(cr.States),
			Pull:            bits(cr.Pull),
			Push:            bits(cr.Push),
			Constraint:      bits(cr.Constraint),
			Rate:            min(max(float64(cr.Rate), 0), 1),
			ActiveTime:      float64(cr.ActiveTime),
			NextChangepoint: sanitizeTime(floatOr(cr.NextChangepoint, math.Inf(1)), math.Inf(1)),
		}
		if math.IsNaN(c.Rate) {
			p.anomaly("restored converter rate replaced with 0", "converter", c.Source)
			c.Rate = 0
		}
		if len(c.States) != len(c.Requirements) {
			c.States = make([]components.ConstraintState, len(c.Requirements))
		}
		b, err := components.DecodeBehaviour(cr.Behaviour, cr.Payload)
		if err != nil {
			p.anomaly("behaviour not restored, converter is inert", "converter", c.Source, "error", err)
			b = nil
		}
		c.Behaviour = b
		p.converters = append(p.converters, c)
	}

	p.conn = systems.NewConnectivity(vessel.NewGraph(p.links), p.inventories, p.cfg, p.log)
	p.boundaries = p.boundarySignature()
	p.state = Recorded
	if rec.Solved {
		p.state = Solved
	}
	return nil
}

// sanitizeTime replaces NaN with def.
func sanitizeTime(t, def float64) float64 {
	if math.IsNaN(t) {
		return def
	}
	return t
}

// Save writes the processor's record as JSON.
func (p *Processor) Save(w io.Writer) error {
	rec, err := p.Snapshot()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return nil
}

// Load restores the processor from a JSON record written by Save.
func (p *Processor) Load(r io.Reader) error {
	var rec Record
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return p.Restore(&rec)
}
