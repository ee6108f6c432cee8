// Package calendar abstracts the external calendar that hosts the scheduled
// entries. An entry is addressed by an opaque handle chosen by the calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotFound reports that the handle no longer refers to an entry.
	ErrNotFound = errors.New("calendar entry not found")
	// ErrPermission reports missing credentials or privileges.
	ErrPermission = errors.New("calendar permission denied")
)

// Entry is the content written to the calendar.
type Entry struct {
	Name        string
	Description string
	Start       time.Time
	End         time.Time
}

// Listed is an entry as reported by List.
type Listed struct {
	Handle string
	Name   string
	Start  time.Time
	End    time.Time
}

// SameTimes reports whether l already carries e's time range.
func (l Listed) SameTimes(e Entry) bool {
	return l.Start.Equal(e.Start) && l.End.Equal(e.End)
}

type Calendar interface {
	Create(ctx context.Context, e Entry) (handle string, err error)
	// Update replaces the entry behind handle. It returns an error matching
	// ErrNotFound when the entry was removed out of band.
	Update(ctx context.Context, handle string, e Entry) error
	List(ctx context.Context) ([]Listed, error)
}

// APIError is a non-2xx response from a remote calendar. It matches
// ErrNotFound for 404 and ErrPermission for 401/403; anything else is
// transient.
type APIError struct {
	Status     int
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("calendar api: http %d (code %d): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("calendar api: http %d: %s", e.Status, msg)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrPermission:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	default:
		return false
	}
}
