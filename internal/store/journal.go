package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultJournalPath is the journal location relative to the working directory.
const DefaultJournalPath = "logs/detections.log"

// maxLineBytes bounds a journal line. Longer lines are corrupt and skipped.
const maxLineBytes = 64 * 1024

// ErrNoRecords is returned by queries that found nothing.
var ErrNoRecords = errors.New("no detection records")

// Journal is the local append-only detection log. It is the record of truth:
// lines are only ever appended, each one synced before Append returns.
type Journal struct {
	path string
	mu   sync.RWMutex
}

// NewJournal returns a journal at path. The file is created on first append.
func NewJournal(path string) *Journal {
	if path == "" {
		path = DefaultJournalPath
	}
	return &Journal{path: path}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one record as a single line.
func (j *Journal) Append(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return &PersistenceError{Op: "append", Err: err}
	}
	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return &PersistenceError{Op: "append", Err: err}
	}
	if _, err := f.WriteString(r.Line() + "\n"); err != nil {
		f.Close()
		return &PersistenceError{Op: "append", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &PersistenceError{Op: "sync", Err: err}
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Op: "close", Err: err}
	}
	return nil
}

// Records returns every well-formed record in file order. Malformed lines are
// skipped. A missing journal is empty.
func (j *Journal) Records() ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer f.Close()

	var out []Record
	reader := bufio.NewReader(f)
	lineNo := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read journal: %w", err)
		}
		if line != "" {
			lineNo++
			if r, ok := parseJournalLine(lineNo, line); ok {
				out = append(out, r)
			}
		}
		if err != nil {
			break
		}
	}
	return out, nil
}

// parseJournalLine parses one raw line, reporting false for lines that are
// blank, oversized or malformed.
func parseJournalLine(lineNo int, line string) (Record, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Record{}, false
	}
	if len(line) > maxLineBytes {
		slog.Debug("skipping oversized journal line", "line", lineNo, "bytes", len(line))
		return Record{}, false
	}
	r, err := ParseLine(line)
	if err != nil {
		slog.Debug("skipping journal line", "line", lineNo, "error", err)
		return Record{}, false
	}
	return r, true
}

// LatestAlert returns the last ALERT record, scanning from the end.
func (j *Journal) LatestAlert() (Record, error) {
	all, err := j.Records()
	if err != nil {
		return Record{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Status == StatusAlert {
			return all[i], nil
		}
	}
	return Record{}, ErrNoRecords
}

// Tail returns the last n records in file order. n <= 0 returns all.
func (j *Journal) Tail(n int) ([]Record, error) {
	all, err := j.Records()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
