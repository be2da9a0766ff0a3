package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the version of the mirrored record shape. Every mirror row
// and object carries it.
const SchemaVersion = 1

// TimeLayout is the journal timestamp format, second precision, local time.
const TimeLayout = "2006-01-02 15:04:05"

// Status is the audited classification of an attempt.
type Status string

const (
	StatusAuthorized Status = "AUTHORIZED"
	StatusAlert      Status = "ALERT"
	// StatusNone marks an inconclusive attempt. It is never persisted.
	StatusNone Status = "NONE"
)

// ParseStatus accepts the canonical upper-case names.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAuthorized, StatusAlert, StatusNone:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Record is one detection log entry.
type Record struct {
	Timestamp time.Time
	Status    Status
	Artifact  string
}

// NewRecord truncates ts to the journal's second precision.
func NewRecord(ts time.Time, status Status, artifact string) Record {
	return Record{Timestamp: ts.Truncate(time.Second), Status: status, Artifact: artifact}
}

// Line formats the record as a journal line without the trailing newline.
func (r Record) Line() string {
	return fmt.Sprintf("%s | %s | %s", r.Timestamp.Format(TimeLayout), r.Status, r.Artifact)
}

// ErrMalformedLine is wrapped by ParseLine failures.
var ErrMalformedLine = errors.New("malformed journal line")

// ParseLine parses a journal line. Exactly three " | " separated fields are
// accepted; the timestamp is read in local time.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, " | ")
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("%w: %d fields", ErrMalformedLine, len(parts))
	}
	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(parts[0]), time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedLine, err)
	}
	status, err := ParseStatus(strings.TrimSpace(parts[1]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return Record{Timestamp: ts, Status: status, Artifact: strings.TrimSpace(parts[2])}, nil
}

// PersistenceError reports a failed detection log write. Local failures are
// fatal to the record call; remote ones are warnings.
type PersistenceError struct {
	Remote bool
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	where := "local"
	if e.Remote {
		where = "remote"
	}
	return fmt.Sprintf("%s %s: %v", where, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsLocalPersistenceError returns true if err carries a local PersistenceError.
func IsLocalPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && !pe.Remote
}
