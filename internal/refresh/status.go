package refresh

import (
	"time"

	"github.com/pders01/newsync/internal/source"
)

// ErrorKind tells the two failure classes apart.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindFetch       ErrorKind = "fetch"
	KindPersistence ErrorKind = "persistence"
)

// Status describes the most recent refresh attempt. It lives in memory only.
type Status struct {
	// IsLoading is true between the start and the end of an attempt.
	IsLoading bool
	// LastError is the message of the last failed attempt, empty on success.
	LastError string
	ErrorKind ErrorKind
	// LastPayload is the most recent successfully fetched payload. A failed
	// attempt keeps the previous one.
	LastPayload *source.Payload
	// Attempt numbers attempts from 1. Zero means none has started.
	Attempt    uint64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the attempt finished with an error.
func (s Status) Failed() bool {
	return !s.IsLoading && s.LastError != ""
}

// Succeeded reports whether the attempt finished without an error.
func (s Status) Succeeded() bool {
	return s.Attempt > 0 && !s.IsLoading && s.LastError == ""
}
