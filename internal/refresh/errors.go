package refresh

import (
	"errors"
	"fmt"
)

// FetchError reports that the remote source could not deliver a payload:
// unreachable, malformed response or an upstream error.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching news: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError reports that the batch could not be written to the cache.
type PersistenceError struct {
	Records int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saving %d records: %v", e.Records, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// kindOf classifies err for the status.
func kindOf(err error) ErrorKind {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return KindPersistence
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return KindFetch
	}
	return KindNone
}

// message is the human readable text published in the status: the cause
// without the classification prefix.
func message(err error) string {
	inner := errors.Unwrap(err)
	if inner == nil {
		inner = err
	}
	if msg := inner.Error(); msg != "" {
		return msg
	}
	return err.Error()
}
