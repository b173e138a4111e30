// Command offrails drives the vessels of a scenario file through simulated
// time with background resource processing, writing CSV traces, window
// stats and optionally persisting processors to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/offrails/config"
	"github.com/pthm-cable/offrails/fleet"
	"github.com/pthm-cable/offrails/processor"
	"github.com/pthm-cable/offrails/scenario"
	"github.com/pthm-cable/offrails/store"
	"github.com/pthm-cable/offrails/systems"
	"github.com/pthm-cable/offrails/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	scenarioPath := flag.String("scenario", "", "Scenario YAML file")
	until := flag.Float64("until", 0, "Simulated end time (0 = scenario until)")
	step := flag.Float64("step", 0, "Report interval in simulated seconds (0 = scenario step)")
	outputDir := flag.String("output", "", "Output directory for CSV traces and config snapshot")
	storePath := flag.String("store", "", "SQLite store for processor records (empty = config store.path)")
	resume := flag.Bool("resume", false, "Restore processors from the store instead of recording the scenario")
	list := flag.Bool("list", false, "List the store's records and exit")
	dueBy := flag.Float64("due", -1, "With -list, only records due at or before this simulated time (negative = all)")
	metricsAddr := flag.String("metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	logText := flag.Bool("log-text", false, "Log as text instead of JSON")
	logStats := flag.Bool("log-stats", false, "Log perf stats every report interval")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level, ReplaceAttr: nonFinite}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, hopts)
	if *logText {
		handler = slog.NewTextHandler(os.Stdout, hopts)
	}
	slog.SetDefault(slog.New(handler))

	if *storePath == "" {
		*storePath = cfg.Store.Path
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *list {
		if err := listStore(ctx, *storePath, *dueBy); err != nil {
			slog.Error("listing store failed", "error", err)
			os.Exit(1)
		}
		return
	}

	opts := runOptions{
		scenario:    *scenarioPath,
		until:       *until,
		step:        *step,
		outputDir:   *outputDir,
		storePath:   *storePath,
		resume:      *resume,
		metricsAddr: *metricsAddr,
		logStats:    *logStats,
	}
	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	scenario    string
	until       float64
	step        float64
	outputDir   string
	storePath   string
	resume      bool
	metricsAddr string
	logStats    bool
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	if opts.scenario == "" {
		return errors.New("-scenario is required")
	}
	sc, err := scenario.Load(opts.scenario)
	if err != nil {
		return err
	}
	start, end, interval := sc.Start, sc.End(), sc.Interval()
	if opts.until > 0 {
		end = opts.until
	}
	if opts.step > 0 {
		interval = opts.step
	}

	// Metrics
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	if opts.metricsAddr != "" || cfg.Telemetry.Metrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// Store
	var st *store.Store
	if opts.storePath != "" {
		st, err = store.Open(opts.storePath, cfg.Diagnostics.Compress)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
	} else if opts.resume {
		return errors.New("-resume needs a store")
	}

	// Output
	out, err := telemetry.NewOutputManager(opts.outputDir)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		slog.Warn("failed to write config snapshot", "error", err)
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	stats := telemetry.NewCollector(cfg.Telemetry.StatsWindow, start)
	f := fleet.New(fleet.Options{
		Config:   cfg,
		Logger:   slog.Default(),
		Notifier: processor.DefaultNotifier(),
		Metrics:  metrics,
		Perf:     perf,
		Stats:    stats,
	})

	envs := make(map[string]any, len(sc.Vessels))
	for i := range sc.Vessels {
		envs[sc.Vessels[i].ID] = sc.Env(&sc.Vessels[i])
	}
	if opts.resume {
		n, err := f.LoadAll(ctx, st, envs)
		if err != nil {
			slog.Warn("some processors could not be restored", "error", err)
		}
		slog.Info("processors restored", "count", n)
	}
	for i := range sc.Vessels {
		v := &sc.Vessels[i]
		if _, ok := f.Get(v.ID); ok {
			continue
		}
		snap, err := sc.Snapshot(v)
		if err != nil {
			return err
		}
		if _, err := f.Add(v.ID, snap); err != nil {
			return err
		}
	}
	if opts.resume {
		// Restored processors may be behind the scenario start.
		start = math.Inf(1)
		for _, id := range f.IDs() {
			p, _ := f.Get(id)
			start = min(start, p.LastUpdate())
		}
	}

	registry := systems.NewSystemRegistry()
	slog.Info("starting run",
		"scenario", sc.Name,
		"vessels", f.Len(),
		"start", start,
		"end", end,
		"interval", interval,
		"config", cfg.String(),
	)

	began := time.Now()
	now := start
	for now < end {
		if err := ctx.Err(); err != nil {
			slog.Warn("interrupted", "time", now)
			break
		}
		now = min(now+interval, end)
		rep, err := f.Advance(now)
		if err != nil {
			slog.Error("vessels dropped", "error", err)
		}
		slog.Debug("advanced", "report", rep)

		if err := writeTraces(out, f); err != nil {
			slog.Warn("failed to write trace", "error", err)
		}
		if ws, ok := f.FlushStats(now); ok {
			slog.Info("stats", "window", ws)
			if err := out.WriteTelemetry(ws); err != nil {
				slog.Warn("failed to write telemetry", "error", err)
			}
		}
		if opts.logStats {
			ps := perf.Stats()
			logPhases(registry, ps)
			if err := out.WritePerf(ps, now); err != nil {
				slog.Warn("failed to write perf", "error", err)
			}
		}
	}

	// Bring every vessel to the final time before reporting.
	for _, id := range f.IDs() {
		f.Refresh(id, nil)
	}
	if _, err := f.Advance(now); err != nil {
		slog.Error("vessels dropped", "error", err)
	}
	for _, id := range f.IDs() {
		p, _ := f.Get(id)
		slog.Info("vessel summary", "vessel", id, "summary", p.Summary())
	}
	slog.Info("run complete", "time", now, "vessels", f.Len(), "wall", time.Since(began).String())

	if st != nil {
		if err := f.SaveAll(context.WithoutCancel(ctx), st); err != nil {
			return fmt.Errorf("saving processors: %w", err)
		}
		slog.Info("processors saved", "store", opts.storePath, "count", f.Len())
	}
	return nil
}

// nonFinite renders infinite and NaN floats as strings, which JSON cannot hold.
func nonFinite(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindFloat64 {
		if v := a.Value.Float64(); math.IsInf(v, 0) || math.IsNaN(v) {
			return slog.String(a.Key, strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return a
}

func writeTraces(out *telemetry.OutputManager, f *fleet.Fleet) error {
	if out == nil {
		return nil
	}
	for _, id := range f.IDs() {
		p, _ := f.Get(id)
		invs, convs := telemetry.Trace(p.LastUpdate(), id, p.Converters(), p.Inventories())
		if err := out.WriteTrace(invs, convs); err != nil {
			return err
		}
	}
	return nil
}

func logPhases(registry *systems.SystemRegistry, ps telemetry.PerfStats) {
	args := []any{"perf", ps}
	for _, phase := range telemetry.Phases {
		if avg, ok := ps.PhaseAvg[phase]; ok {
			args = append(args, registry.GetName(phase), avg.String())
		}
	}
	slog.Info("perf", args...)
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}

// storeEntries lists the records at path, or only those due by t when t is
// not negative.
func storeEntries(ctx context.Context, path string, t float64) ([]store.Entry, error) {
	if path == "" {
		return nil, errors.New("-list needs a store")
	}
	st, err := store.Open(path, false)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if t < 0 {
		return st.Entries(ctx)
	}
	return st.Due(ctx, t)
}

func listStore(ctx context.Context, path string, due float64) error {
	entries, err := storeEntries(ctx, path, due)
	if err != nil {
		return err
	}
	for _, e := range entries {
		slog.Info("record",
			"vessel", e.ID,
			"version", e.Version,
			"solved", e.Solved,
			"last_update", e.LastUpdate,
			"next_changepoint", e.NextChangepoint,
			"encoding", e.Encoding,
			"bytes", e.Size,
			"updated_at", e.UpdatedAt,
		)
	}
	slog.Info("store listed", "path", path, "records", len(entries))
	return nil
}
