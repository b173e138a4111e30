package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/pthm-cable/offrails/components"
	"github.com/pthm-cable/offrails/processor"
)

func record(lastUpdate float64, next float64) *processor.Record {
	rec := &processor.Record{
		Version:    processor.RecordVersion,
		Solved:     true,
		LastUpdate: processor.Float(lastUpdate),
		Inventories: []processor.InventoryRecord{{
			InventoryID: components.InventoryID{PartID: 1, Resource: "Ore"},
			Amount:      5,
			MaxAmount:   processor.Float(math.Inf(1)),
			Rate:        -1,
		}},
		Converters: []processor.ConverterRecord{{
			Source:   components.SourceRef{PartID: 1, ModuleID: 2},
			Priority: 3,
			Rate:     1,
			Inputs:   []components.ResourceRatio{{Resource: "Ore", Ratio: 1}},
			Pull:     &processor.BitsRecord{N: 1, Words: []uint64{1}},
		}},
	}
	if !math.IsInf(next, 1) {
		f := processor.Float(next)
		rec.NextChangepoint = &f
	}
	return rec
}

func open(t *testing.T, compress bool) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "offrails.db"), compress)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	for _, compress := range []bool{false, true} {
		s := open(t, compress)
		ctx := context.Background()
		want := record(5, 10)
		if err := s.Save(ctx, "ship", want); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := s.Load(ctx, "ship")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("compress=%v: record mismatch (-want +got):\n%s", compress, diff)
		}

		entries, err := s.Entries(ctx)
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		wantEnc := encodingJSON
		if compress {
			wantEnc = encodingJSONZstd
		}
		if len(entries) != 1 || entries[0].Encoding != wantEnc || entries[0].NextChangepoint != 10 || !entries[0].Solved {
			t.Errorf("unexpected entries %+v", entries)
		}
	}
}

func TestStore_Replace(t *testing.T) {
	s := open(t, true)
	ctx := context.Background()
	s.Save(ctx, "ship", record(5, 10))
	if err := s.Save(ctx, "ship", record(7, math.Inf(1))); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, "ship")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LastUpdate != 7 || got.NextChangepoint != nil {
		t.Errorf("expected replaced record, got last_update=%v next=%v", got.LastUpdate, got.NextChangepoint)
	}
	entries, _ := s.Entries(ctx)
	if len(entries) != 1 || !math.IsInf(entries[0].NextChangepoint, 1) {
		t.Errorf("expected one entry without changepoint, got %+v", entries)
	}
}

func TestStore_NotFoundAndDelete(t *testing.T) {
	s := open(t, false)
	ctx := context.Background()
	if _, err := s.Load(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	s.Save(ctx, "b", record(0, 20))
	s.Save(ctx, "a", record(0, 5))
	s.Save(ctx, "c", record(0, math.Inf(1)))

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !slices.Equal(ids, []string{"a", "b", "c"}) {
		t.Errorf("expected [a b c], got %v", ids)
	}

	due, err := s.Due(ctx, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "a" {
		t.Errorf("expected only a due by 10, got %+v", due)
	}

	removed, err := s.Delete(ctx, "b")
	if err != nil || !removed {
		t.Errorf("expected b deleted, got %v %v", removed, err)
	}
	removed, _ = s.Delete(ctx, "b")
	if removed {
		t.Error("expected second delete to remove nothing")
	}
	ids, _ = s.List(ctx)
	if !slices.Equal(ids, []string{"a", "c"}) {
		t.Errorf("expected [a c], got %v", ids)
	}
}

func TestStore_DigestMismatch(t *testing.T) {
	s := open(t, false)
	ctx := context.Background()
	s.Save(ctx, "ship", record(1, 2))
	if _, err := s.db.Exec(`UPDATE processors SET digest='0' WHERE id='ship'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.Load(ctx, "ship"); err == nil {
		t.Error("expected digest mismatch error")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("", false); err == nil {
		t.Error("expected error for empty path")
	}
}
