// Package store persists processor records in SQLite, keyed by vessel id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/pthm-cable/offrails/processor"
)

var ErrNotFound = errors.New("store: record not found")

// Record encodings.
const (
	encodingJSON     = "json"
	encodingJSONZstd = "json+zstd"
)

// Store is a SQLite-backed set of processor records. It is safe for
// concurrent use.
type Store struct {
	db       *sql.DB
	compress bool

	enc *zstd.Encoder
	dec *zstd.Decoder

	once sync.Once
}

// Open opens or creates the database at path. With compress set, records
// are written zstd-compressed; both encodings are always readable.
func Open(path string, compress bool) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, compress: compress, enc: enc, dec: dec}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processors (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			solved INTEGER NOT NULL,
			last_update REAL NOT NULL,
			next_changepoint REAL,
			encoding TEXT NOT NULL,
			digest TEXT NOT NULL,
			record BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_processors_next ON processors(next_changepoint);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.dec.Close()
		err = errors.Join(s.enc.Close(), s.db.Close())
	})
	return err
}

func digest(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

// Save writes rec under id, replacing any previous record.
func (s *Store) Save(ctx context.Context, id string, rec *processor.Record) error {
	if rec == nil {
		return fmt.Errorf("store: nil record for %s", id)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", id, err)
	}
	sum := digest(raw)
	encoding, blob := encodingJSON, raw
	if s.compress {
		encoding, blob = encodingJSONZstd, s.enc.EncodeAll(raw, nil)
	}

	var next sql.NullFloat64
	if rec.NextChangepoint != nil && !math.IsInf(float64(*rec.NextChangepoint), 0) && !math.IsNaN(float64(*rec.NextChangepoint)) {
		next = sql.NullFloat64{Float64: float64(*rec.NextChangepoint), Valid: true}
	}
	lastUpdate := float64(rec.LastUpdate)
	if math.IsNaN(lastUpdate) || math.IsInf(lastUpdate, 0) {
		lastUpdate = 0
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO processors
		(id, version, solved, last_update, next_changepoint, encoding, digest, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version=excluded.version,
			solved=excluded.solved,
			last_update=excluded.last_update,
			next_changepoint=excluded.next_changepoint,
			encoding=excluded.encoding,
			digest=excluded.digest,
			record=excluded.record,
			updated_at=excluded.updated_at`,
		id, rec.Version, rec.Solved, lastUpdate, next, encoding, sum, blob,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", id, err)
	}
	return nil
}

// Load reads the record stored under id.
func (s *Store) Load(ctx context.Context, id string) (*processor.Record, error) {
	var (
		encoding, sum string
		blob          []byte
	)
	row := s.db.QueryRowContext(ctx, `SELECT encoding, digest, record FROM processors WHERE id=?`, id)
	if err := row.Scan(&encoding, &sum, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading %s: %w", id, err)
	}

	raw := blob
	switch encoding {
	case encodingJSON:
	case encodingJSONZstd:
		var err error
		raw, err = s.dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", id, err)
		}
	default:
		return nil, fmt.Errorf("loading %s: unknown encoding %q", id, encoding)
	}
	if got := digest(raw); got != sum {
		return nil, fmt.Errorf("loading %s: digest mismatch (stored %s, computed %s)", id, sum, got)
	}

	var rec processor.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id, err)
	}
	return &rec, nil
}

// Delete removes the record stored under id. It reports whether a record
// was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processors WHERE id=?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns every stored id in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM processors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Entry describes a stored record without decoding it.
type Entry struct {
	ID              string
	Version         int
	Solved          bool
	LastUpdate      float64
	NextChangepoint float64 // +Inf when none
	Encoding        string
	Size            int
	UpdatedAt       time.Time
}

// Due lists the records whose next changepoint is at or before t, earliest
// first.
func (s *Store) Due(ctx context.Context, t float64) ([]Entry, error) {
	return s.entries(ctx, `WHERE next_changepoint IS NOT NULL AND next_changepoint <= ? ORDER BY next_changepoint, id`, t)
}

// Entries lists every stored record.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	return s.entries(ctx, `ORDER BY id`)
}

func (s *Store) entries(ctx context.Context, where string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, version, solved, last_update, next_changepoint,
		encoding, length(record), updated_at FROM processors `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			next    sql.NullFloat64
			updated string
		)
		if err := rows.Scan(&e.ID, &e.Version, &e.Solved, &e.LastUpdate, &next, &e.Encoding, &e.Size, &updated); err != nil {
			return nil, err
		}
		e.NextChangepoint = math.Inf(1)
		if next.Valid {
			e.NextChangepoint = next.Float64
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
