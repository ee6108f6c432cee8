package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDisabled is returned by Open when the driver is "none".
	ErrDisabled = errors.New("storage disabled")
	// ErrUnavailable matches every driver I/O failure via errors.Is.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": JSON snapshot + JSONL journal
//   - "redis": hashes and sorted sets under KeyPrefix
//   - "postgres": tables in the database named by URL
//   - "none": disabled
type Config struct {
	Driver      string
	Path        string        // sqlite, file
	URL         string        // redis, postgres
	Password    string        // redis; overrides the URL password when set
	KeyPrefix   string        // redis
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventRecord maps one event kind to the handle of the calendar entry that
// represents it and the sequence number last written there.
type EventRecord struct {
	Kind      string    `json:"kind"`
	Handle    string    `json:"handle"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Point is one metric sample.
type Point struct {
	Metric string    `json:"metric"`
	At     time.Time `json:"at"`
	Value  float64   `json:"value"`
}

type EventStore interface {
	GetEvent(ctx context.Context, kind string) (rec EventRecord, ok bool, err error)
	PutEvent(ctx context.Context, rec EventRecord) error
	DeleteEvent(ctx context.Context, kind string) error
	// ListEvents returns a fresh snapshot ordered by kind.
	ListEvents(ctx context.Context) ([]EventRecord, error)
}

type SeriesStore interface {
	AppendPoints(ctx context.Context, pts ...Point) error
	// PrunePoints deletes samples of metric strictly older than before.
	PrunePoints(ctx context.Context, metric string, before time.Time) (int64, error)
	// RangePoints returns samples of metric at or after since, oldest first.
	RangePoints(ctx context.Context, metric string, since time.Time) ([]Point, error)
}

type StateStore interface {
	GetState(ctx context.Context, key string) (value string, ok bool, err error)
	PutState(ctx context.Context, key, value string) error
}

// Store is the full persistence API.
type Store interface {
	EventStore
	SeriesStore
	StateStore
	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

// Error wraps a driver failure. It matches ErrUnavailable.
type Error struct {
	Driver string
	Op     string
	Err    error
}

func (e *Error) Error() string { return "storage " + e.Driver + " " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable
}

func wrap(driver, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Driver: driver, Op: op, Err: err}
}
