package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/config"
)

// InventoryTrace is one inventory's state at a point in simulated time.
type InventoryTrace struct {
	Time      float64 `csv:"time"`
	Vessel    string  `csv:"vessel"`
	Inventory string  `csv:"inventory"`
	Resource  string  `csv:"resource"`
	Amount    float64 `csv:"amount"`
	MaxAmount float64 `csv:"max_amount"`
	Rate      float64 `csv:"rate"`
}

// ConverterTrace is one converter's state at a point in simulated time.
type ConverterTrace struct {
	Time            float64 `csv:"time"`
	Vessel          string  `csv:"vessel"`
	Converter       string  `csv:"converter"`
	Priority        int     `csv:"priority"`
	State           string  `csv:"state"`
	Rate            float64 `csv:"rate"`
	ActiveTime      float64 `csv:"active_time"`
	NextChangepoint float64 `csv:"next_changepoint"`
}

// Trace flattens a processor's converters and inventories into CSV rows.
func Trace(now float64, vessel string, convs []*components.Converter, invs []components.Inventory) ([]InventoryTrace, []ConverterTrace) {
	inv := make([]InventoryTrace, len(invs))
	for i := range invs {
		v := &invs[i]
		inv[i] = InventoryTrace{
			Time:      now,
			Vessel:    vessel,
			Inventory: v.ID.String(),
			Resource:  v.ID.Resource,
			Amount:    v.Amount,
			MaxAmount: v.MaxAmount,
			Rate:      v.Rate,
		}
	}
	conv := make([]ConverterTrace, len(convs))
	for i, c := range convs {
		conv[i] = ConverterTrace{
			Time:            now,
			Vessel:          vessel,
			Converter:       c.Source.String(),
			Priority:        c.Priority,
			State:           c.State().String(),
			Rate:            c.Rate,
			ActiveTime:      c.ActiveTime,
			NextChangepoint: c.NextChangepoint,
		}
	}
	return inv, conv
}

// csvFile is an output file whose header is written with the first batch.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	// Subsequent writes skip headers
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir         string
	telemetry   *csvFile
	perf        *csvFile
	inventories *csvFile
	converters  *csvFile
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	for _, out := range []struct {
		name string
		dst  **csvFile
	}{
		{"telemetry.csv", &om.telemetry},
		{"perf.csv", &om.perf},
		{"inventories.csv", &om.inventories},
		{"converters.csv", &om.converters},
	} {
		f, err := os.Create(filepath.Join(dir, out.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", out.name, err)
		}
		*out.dst = &csvFile{f: f}
	}

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	configPath := filepath.Join(om.dir, "config.yaml")
	return cfg.WriteYAML(configPath)
}

// WriteTelemetry writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := om.telemetry.write([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, simTime float64) error {
	if om == nil {
		return nil
	}
	if err := om.perf.write([]PerfStatsCSV{stats.ToCSV(simTime)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteTrace appends inventory and converter rows to their trace files.
func (om *OutputManager) WriteTrace(invs []InventoryTrace, convs []ConverterTrace) error {
	if om == nil {
		return nil
	}
	if len(invs) > 0 {
		if err := om.inventories.write(invs); err != nil {
			return fmt.Errorf("writing inventory trace: %w", err)
		}
	}
	if len(convs) > 0 {
		if err := om.converters.write(convs); err != nil {
			return fmt.Errorf("writing converter trace: %w", err)
		}
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.telemetry, om.perf, om.inventories, om.converters} {
		if c == nil || c.f == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
