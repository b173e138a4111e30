package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/offrails/config"
	"github.com/pthm-cable/offrails/store"
)

func TestRun_StationScenario(t *testing.T) {
	config.MustInit("")
	dir := t.TempDir()
	db := filepath.Join(dir, "offrails.db")
	opts := runOptions{
		scenario:  filepath.Join("..", "..", "scenario", "testdata", "station.yaml"),
		until:     7200,
		step:      600,
		outputDir: filepath.Join(dir, "out"),
		storePath: db,
	}
	if err := run(context.Background(), config.Cfg(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"config.yaml", "inventories.csv", "converters.csv"} {
		info, err := os.Stat(filepath.Join(opts.outputDir, name))
		if err != nil {
			t.Errorf("expected %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("expected %s to have content", name)
		}
	}

	st, err := store.Open(db, false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	entries, err := st.Entries(context.Background())
	st.Close()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 stored processors, got %d", len(entries))
	}
	for _, e := range entries {
		if e.LastUpdate != 7200 {
			t.Errorf("expected %s saved at 7200, got %v", e.ID, e.LastUpdate)
		}
	}

	finite := 0
	for _, e := range entries {
		if !math.IsInf(e.NextChangepoint, 1) {
			finite++
		}
	}
	due, err := storeEntries(context.Background(), db, 1e18)
	if err != nil {
		t.Fatalf("due entries: %v", err)
	}
	if len(due) != finite {
		t.Errorf("expected %d due records, got %d", finite, len(due))
	}
	if all, _ := storeEntries(context.Background(), db, -1); len(all) != 2 {
		t.Errorf("expected every record listed, got %d", len(all))
	}

	// Resume from the store and run further.
	opts.resume = true
	opts.until = 10800
	opts.outputDir = ""
	if err := run(context.Background(), config.Cfg(), opts); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	st, err = store.Open(db, false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	entries, _ = st.Entries(context.Background())
	for _, e := range entries {
		if e.LastUpdate != 10800 {
			t.Errorf("expected %s saved at 10800 after resume, got %v", e.ID, e.LastUpdate)
		}
	}
}

func TestRun_RequiresScenario(t *testing.T) {
	config.MustInit("")
	if err := run(context.Background(), config.Cfg(), runOptions{}); err == nil {
		t.Error("expected error without a scenario")
	}
	opts := runOptions{
		scenario: filepath.Join("..", "..", "scenario", "testdata", "station.yaml"),
		resume:   true,
	}
	if err := run(context.Background(), config.Cfg(), opts); err == nil {
		t.Error("expected error resuming without a store")
	}
}
