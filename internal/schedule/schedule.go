// Package schedule derives the calendar windows of the protocol's recurring
// intervals from the last observed epoch number.
//
// Every function here is pure: the same constants and epoch always produce the
// same windows, independent of the wall clock.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrEpochOutOfRange is returned for epochs whose windows cannot be
// represented as a time.Duration offset from genesis.
var ErrEpochOutOfRange = errors.New("schedule: epoch out of range")

// Kind names one of the tracked intervals.
type Kind string

const (
	KindEpoch    Kind = "epoch"
	KindSubcycle Kind = "subcycle"
	KindGap      Kind = "gap"
)

// Kinds returns all kinds in reconciliation order.
func Kinds() []Kind { return []Kind{KindEpoch, KindSubcycle, KindGap} }

func (k Kind) Valid() bool {
	switch k {
	case KindEpoch, KindSubcycle, KindGap:
		return true
	default:
		return false
	}
}

// ParseKind accepts the canonical names plus the legacy aliases used by older
// event tables ("poet", "cycle_gap").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "epoch":
		return KindEpoch, nil
	case "subcycle", "poet", "poet_cycle":
		return KindSubcycle, nil
	case "gap", "cycle_gap":
		return KindGap, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// Constants are the protocol timing parameters. They never change at runtime.
type Constants struct {
	Genesis  time.Time
	Epoch    time.Duration
	Subcycle time.Duration
	Gap      time.Duration
}

// Validate rejects constants that cannot describe a consistent schedule.
func (c Constants) Validate() error {
	if c.Genesis.IsZero() {
		return errors.New("schedule: genesis is required")
	}
	if c.Epoch <= 0 || c.Subcycle <= 0 || c.Gap <= 0 {
		return fmt.Errorf("schedule: durations must be positive (epoch=%s subcycle=%s gap=%s)", c.Epoch, c.Subcycle, c.Gap)
	}
	if c.Subcycle+c.Gap != c.Epoch {
		return fmt.Errorf("schedule: subcycle (%s) + gap (%s) must equal epoch (%s)", c.Subcycle, c.Gap, c.Epoch)
	}
	return nil
}

// Window is a computed time range for one kind. Seq is the number shown to
// users: one greater than the epoch it was derived from.
type Window struct {
	Kind  Kind      `json:"kind"`
	Seq   uint64    `json:"seq"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

func (w Window) String() string {
	return fmt.Sprintf("%s#%d [%s, %s)", w.Kind, w.Seq, w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

// Calculator computes windows for a fixed set of constants.
type Calculator struct {
	c Constants
}

func New(c Constants) (*Calculator, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Genesis = c.Genesis.UTC()
	return &Calculator{c: c}, nil
}

func (c *Calculator) Constants() Constants { return c.c }

// MaxEpoch is the largest epoch whose windows, and the start of the epoch
// after them, fit in a time.Duration offset from genesis.
func (c *Calculator) MaxEpoch() uint64 {
	return uint64(math.MaxInt64/int64(c.c.Epoch)) - 1
}

// CheckEpoch returns ErrEpochOutOfRange when e exceeds MaxEpoch.
func (c *Calculator) CheckEpoch(e uint64) error {
	if limit := c.MaxEpoch(); e > limit {
		return fmt.Errorf("%w: %d > %d", ErrEpochOutOfRange, e, limit)
	}
	return nil
}

// EpochWindow returns the window of the epoch after e. e must not exceed
// MaxEpoch; Window and Windows check it.
func (c *Calculator) EpochWindow(e uint64) Window {
	start := c.c.Genesis.Add(time.Duration(e) * c.c.Epoch)
	return Window{Kind: KindEpoch, Seq: e + 1, Start: start, End: start.Add(c.c.Epoch)}
}

// SubcycleWindow returns the sub-cycle that ends where EpochWindow(e) ends,
// which is the start of the epoch after it.
func (c *Calculator) SubcycleWindow(e uint64) Window {
	ep := c.EpochWindow(e)
	return Window{Kind: KindSubcycle, Seq: e + 1, Start: ep.End.Add(-c.c.Gap), End: ep.End}
}

// GapWindow returns the gap immediately preceding SubcycleWindow(e).
func (c *Calculator) GapWindow(e uint64) Window {
	sub := c.SubcycleWindow(e)
	return Window{Kind: KindGap, Seq: e + 1, Start: sub.Start.Add(-c.c.Gap), End: sub.Start}
}

func (c *Calculator) Window(kind Kind, e uint64) (Window, error) {
	if err := c.CheckEpoch(e); err != nil {
		return Window{}, err
	}
	switch kind {
	case KindEpoch:
		return c.EpochWindow(e), nil
	case KindSubcycle:
		return c.SubcycleWindow(e), nil
	case KindGap:
		return c.GapWindow(e), nil
	default:
		return Window{}, fmt.Errorf("unknown event kind %q", kind)
	}
}

// Windows returns the three windows for e in reconciliation order.
func (c *Calculator) Windows(e uint64) ([]Window, error) {
	if err := c.CheckEpoch(e); err != nil {
		return nil, err
	}
	return []Window{c.EpochWindow(e), c.SubcycleWindow(e), c.GapWindow(e)}, nil
}

// NominalEpoch is the epoch number wall-clock arithmetic predicts for now.
// It is only used to report drift against the observed epoch.
func (c *Calculator) NominalEpoch(now time.Time) uint64 {
	if now.Before(c.c.Genesis) {
		return 0
	}
	return uint64(now.Sub(c.c.Genesis)/c.c.Epoch) + 1
}
