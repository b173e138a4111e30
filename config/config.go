// Package config provides configuration loading and access for background processing.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all background processing parameters.
type Config struct {
	Solver      SolverConfig         `yaml:"solver"`
	Scheduler   SchedulerConfig      `yaml:"scheduler"`
	Resources   []ResourceDefinition `yaml:"resources"`
	Diagnostics DiagnosticsConfig    `yaml:"diagnostics"`
	Telemetry   TelemetryConfig      `yaml:"telemetry"`
	Store       StoreConfig          `yaml:"store"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SolverConfig holds rate solver parameters.
type SolverConfig struct {
	Epsilon       float64 `yaml:"epsilon"`        // Full/Empty threshold on inventory amounts
	Truncate      float64 `yaml:"truncate"`       // Rates below this magnitude are forced to 0
	Tolerance     float64 `yaml:"tolerance"`      // Simplex reduced-cost tolerance
	MaxIterations int     `yaml:"max_iterations"` // LP solves allowed per Solve call
	CacheCapacity uint64  `yaml:"cache_capacity"` // Solutions retained across processors (0 = no cache)
	MergeClasses  bool    `yaml:"merge_classes"`  // Collapse bit-identical converters/inventories
}

// SchedulerConfig holds changepoint and integration parameters.
type SchedulerConfig struct {
	BoundaryFudge      float64 `yaml:"boundary_fudge"`        // Snap to boundary when this close (seconds)
	ConstraintBand     float64 `yaml:"constraint_band"`       // Half-width of the BOUNDARY band on thresholds
	MaxStepsPerAdvance int     `yaml:"max_steps_per_advance"` // Changepoints processed per Advance call
}

// ResourceDefinition describes a resource type known to the vessel.
type ResourceDefinition struct {
	Name     string  `yaml:"name"`
	FlowMode string  `yaml:"flow_mode"` // Default flow mode for converters that declare none
	Density  float64 `yaml:"density"`
}

// DiagnosticsConfig controls solver crash dumps.
type DiagnosticsConfig struct {
	DumpDir  string `yaml:"dump_dir"`
	Compress bool   `yaml:"compress"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow  int     `yaml:"perf_window"`  // Ticks averaged by the perf collector
	StatsWindow float64 `yaml:"stats_window"` // Simulated seconds per stats window
	Metrics     bool    `yaml:"metrics"`
}

// StoreConfig holds processor store parameters.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	ResourceIndex map[string]int // name -> index into Resources
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	if c.Solver.Epsilon <= 0 {
		c.Solver.Epsilon = 1e-6
	}
	if c.Solver.Truncate <= 0 {
		c.Solver.Truncate = 1e-9
	}
	if c.Solver.Tolerance <= 0 {
		c.Solver.Tolerance = 1e-10
	}
	if c.Solver.MaxIterations <= 0 {
		c.Solver.MaxIterations = 256
	}
	if c.Scheduler.ConstraintBand <= 0 {
		c.Scheduler.ConstraintBand = c.Solver.Epsilon
	}
	if c.Telemetry.StatsWindow <= 0 {
		c.Telemetry.StatsWindow = 3600
	}
	if c.Scheduler.MaxStepsPerAdvance <= 0 {
		c.Scheduler.MaxStepsPerAdvance = 1000
	}

	c.Derived.ResourceIndex = make(map[string]int, len(c.Resources))
	for i, r := range c.Resources {
		if _, dup := c.Derived.ResourceIndex[r.Name]; dup {
			slog.Warn("duplicate resource definition", "resource", r.Name)
		}
		c.Derived.ResourceIndex[r.Name] = i
	}
}

// Resource returns the definition for name.
func (c *Config) Resource(name string) (ResourceDefinition, bool) {
	i, ok := c.Derived.ResourceIndex[name]
	if !ok {
		return ResourceDefinition{}, false
	}
	return c.Resources[i], true
}

// ResourceNames lists the configured resource names in definition order.
func (c *Config) ResourceNames() []string {
	names := make([]string, len(c.Resources))
	for i, r := range c.Resources {
		names[i] = r.Name
	}
	return names
}

// String summarises the config for logs.
func (c *Config) String() string {
	return fmt.Sprintf("solver(eps=%g, trunc=%g, iters=%d, cache=%d) resources=[%s]",
		c.Solver.Epsilon, c.Solver.Truncate, c.Solver.MaxIterations, c.Solver.CacheCapacity,
		strings.Join(c.ResourceNames(), ","))
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
