// Package ledger is the append-only CSV record of accepted transitions.
//
// The file layout is a header row followed by one row per transition:
//
//	Date,Time,Plate,Status
//	2026-03-14,09:00:00,1-ABC-234,in
//
// Rows are only ever appended. Each append is a single write of a complete
// row, so a concurrent Scan never observes half a record.
package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crimson-sun/platewatch/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Header is the first row of every ledger file.
var Header = []string{"Date", "Time", "Plate", "Status"}

// ErrClosed is returned by operations on a closed Ledger.
var ErrClosed = errors.New("ledger: closed")

// Option configures a Ledger.
type Option func(*Ledger)

// WithSync makes every append call fsync before returning. Default: off,
// rows are written straight to the file without user-space buffering.
func WithSync(enabled bool) Option {
	return func(l *Ledger) { l.sync = enabled }
}

// WithLocation sets the time zone used for the date and time columns.
// Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// WithLogger sets the logger used to report skipped rows.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.log = logger }
}

// Stats contains ledger counters.
type Stats struct {
	Appended uint64
	Skipped  uint64
	Bytes    int64
}

// Ledger appends transition records to a CSV file and scans them back in
// append order. Safe for concurrent use.
type Ledger struct {
	path string
	sync bool
	loc  *time.Location
	log  *slog.Logger

	mu       sync.Mutex
	f        *os.File
	size     int64 // bytes of complete rows on disk
	closed   bool
	appended uint64
	skipped  uint64
}

// Open opens (or creates) the ledger at path. The header row is written
// only when the file is empty, so Open is idempotent.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		path: path,
		loc:  time.Local,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create dir %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ledger: stat %s: %w", path, err)
	}
	l.f = f
	l.size = info.Size()

	if err := l.init(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// init writes the header into an empty file, or terminates a trailing
// partial row left behind by a crash so the next append starts on a
// fresh line.
func (l *Ledger) init() error {
	if l.size == 0 {
		row, err := encodeRow(Header)
		if err != nil {
			return fmt.Errorf("ledger: header: %w", err)
		}
		return l.writeLocked(row)
	}

	last, err := l.lastByte()
	if err != nil {
		return fmt.Errorf("ledger: inspect %s: %w", l.path, err)
	}
	if last != '\n' {
		l.log.Warn("ledger ends with a partial row, terminating it", "path", l.path)
		return l.writeLocked([]byte("\n"))
	}
	return nil
}

func (l *Ledger) lastByte() (byte, error) {
	r, err := os.Open(l.path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	b := make([]byte, 1)
	if _, err := r.ReadAt(b, l.size-1); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Record appends one transition and returns the stored record. The
// record's time is at truncated to the second in the ledger's location.
func (l *Ledger) Record(ctx context.Context, plate model.Plate, dir model.Direction, at time.Time) (model.TransitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.TransitionRecord{}, err
	}
	if !model.IsCanonical(string(plate)) {
		return model.TransitionRecord{}, fmt.Errorf("ledger: record: plate %q is not canonical", plate)
	}
	if !dir.Valid() {
		return model.TransitionRecord{}, fmt.Errorf("ledger: record: invalid direction %q", dir)
	}

	at = at.In(l.loc).Truncate(time.Second)
	rec := model.TransitionRecord{At: at, Plate: plate, Direction: dir}
	row, err := encodeRow(formatRecord(rec))
	if err != nil {
		return model.TransitionRecord{}, fmt.Errorf("ledger: record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return model.TransitionRecord{}, ErrClosed
	}
	if err := l.writeLocked(row); err != nil {
		return model.TransitionRecord{}, fmt.Errorf("ledger: record: %w", err)
	}
	l.appended++
	return rec, nil
}

// writeLocked writes one complete row. A short write is rolled back so the
// file never keeps a partial row. Caller must hold l.mu or own l
// exclusively.
func (l *Ledger) writeLocked(row []byte) error {
	n, err := l.f.Write(row)
	if err != nil {
		if n > 0 {
			if terr := l.f.Truncate(l.size); terr != nil {
				return errors.Join(err, fmt.Errorf("rollback: %w", terr))
			}
		}
		return err
	}
	if l.sync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	l.size += int64(n)
	return nil
}

// Scan calls fn for every record in append order. The scan covers the
// ledger as it was when Scan started; rows appended during the scan are
// not visited. Rows that do not parse are skipped. A non-nil error from fn
// stops the scan and is returned.
func (l *Ledger) Scan(ctx context.Context, fn func(model.TransitionRecord) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	limit := l.size
	l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("ledger: scan: %w", err)
	}
	defer f.Close()

	// Rows are parsed one line at a time so an unbalanced quote cannot
	// swallow the rows after it.
	br := bufio.NewReader(io.LimitReader(f, limit))

	var skipped uint64
	for row := 1; ; row++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("ledger: scan: %w", err)
		}
		eof := err == io.EOF
		if strings.TrimSpace(line) == "" {
			if eof {
				break
			}
			continue
		}

		rec, perr := parseLine(line, l.loc)
		switch {
		case perr == nil:
			if err := fn(rec); err != nil {
				return err
			}
		case row == 1:
			// header
		default:
			skipped++
			l.log.Warn("skipping malformed ledger row", "row", row, "error", perr)
		}
		if eof {
			break
		}
	}

	if skipped > 0 {
		l.mu.Lock()
		l.skipped += skipped
		l.mu.Unlock()
	}
	return nil
}

// Records returns every record in append order. See Scan.
func (l *Ledger) Records(ctx context.Context) ([]model.TransitionRecord, error) {
	var recs []model.TransitionRecord
	err := l.Scan(ctx, func(r model.TransitionRecord) error {
		recs = append(recs, r)
		return nil
	})
	return recs, err
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Stats returns ledger counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Appended: l.appended, Skipped: l.skipped, Bytes: l.size}
}

// Close closes the file. Further calls return ErrClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// parseLine decodes a single CSV line and parses it as a row.
func parseLine(line string, loc *time.Location) (model.TransitionRecord, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return model.TransitionRecord{}, err
	}
	return ParseRow(fields, loc)
}

// ParseRow parses one ledger row. Fields may carry surrounding spaces.
func ParseRow(row []string, loc *time.Location) (model.TransitionRecord, error) {
	if len(row) != len(Header) {
		return model.TransitionRecord{}, fmt.Errorf("want %d fields, got %d", len(Header), len(row))
	}
	date := strings.TrimSpace(row[0])
	clock := strings.TrimSpace(row[1])
	plateText := strings.TrimSpace(row[2])
	status := strings.TrimSpace(row[3])

	at, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clock, loc)
	if err != nil {
		return model.TransitionRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	plate, ok := model.ParsePlate(plateText)
	if !ok {
		return model.TransitionRecord{}, fmt.Errorf("plate %q is not canonical", plateText)
	}
	dir := model.Direction(status)
	if !dir.Valid() {
		return model.TransitionRecord{}, fmt.Errorf("status %q is not in/out", status)
	}
	return model.TransitionRecord{At: at, Plate: plate, Direction: dir}, nil
}

func formatRecord(r model.TransitionRecord) []string {
	return []string{
		r.At.Format(dateLayout),
		r.At.Format(timeLayout),
		string(r.Plate),
		string(r.Direction),
	}
}

func encodeRow(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
