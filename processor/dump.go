package processor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DumpHeader is the first line of a diagnostic dump.
type DumpHeader struct {
	Version    int       `json:"version"`
	Generation uint64    `json:"generation"`
	Time       float64   `json:"time"`
	Error      string    `json:"error"`
	Written    time.Time `json:"written"`
}

// WriteDump writes a header line followed by the record as JSON. Paths
// ending in .zst are zstd-compressed.
func WriteDump(path string, h DumpHeader, rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		defer enc.Close()
		w = enc
	}

	bw := bufio.NewWriterSize(w, 64*1024)
	hb, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(rec); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return bw.Flush()
}

// ReadDump reads a dump written by WriteDump.
func ReadDump(path string) (DumpHeader, *Record, error) {
	var h DumpHeader
	f, err := os.Open(path)
	if err != nil {
		return h, nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return h, nil, err
		}
		defer dec.Close()
		r = dec
	}

	br := bufio.NewReaderSize(r, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, nil, fmt.Errorf("reading header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, nil, fmt.Errorf("decoding header: %w", err)
	}
	var rec Record
	if err := json.NewDecoder(br).Decode(&rec); err != nil {
		return h, nil, fmt.Errorf("json decode: %w", err)
	}
	return h, &rec, nil
}

// dump writes the processor's state after a solver failure and returns the
// dump path.
func (p *Processor) dump(cause error) (string, error) {
	rec, err := p.Snapshot()
	if err != nil {
		return "", err
	}
	dir := p.cfg.Diagnostics.DumpDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "offrails")
	}
	now := time.Now().UTC()
	name := fmt.Sprintf("solver-failure-%d-%s.json", p.generation, now.Format("20060102T150405.000000000"))
	if p.cfg.Diagnostics.Compress {
		name += ".zst"
	}
	path := filepath.Join(dir, name)
	h := DumpHeader{
		Version:    RecordVersion,
		Generation: p.generation,
		Time:       p.lastUpdate,
		Error:      cause.Error(),
		Written:    now,
	}
	if err := WriteDump(path, h, rec); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
