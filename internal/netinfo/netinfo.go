// Package netinfo fetches and parses the network-info endpoint.
package netinfo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// PriceOffline is the sentinel the upstream reports when no market price is
// available.
const PriceOffline = -1

// Info is the parsed payload. Amounts are raw protocol units: smidge for
// currency, space units for storage.
type Info struct {
	Epoch                   uint64
	Layer                   uint64
	EffectiveUnitsCommitted uint64
	CirculatingSupply       uint64
	Price                   float64
	HasPrice                bool
	MarketCap               float64
	TotalAccounts           uint64
	TotalActiveSmeshers     uint64
	EpochSubsidy            uint64
	Rewards                 uint64
	Vested                  uint64
	NextEpoch               *NextEpoch
	FetchedAt               time.Time
}

type NextEpoch struct {
	Epoch                   uint64
	EffectiveUnitsCommitted uint64
	TotalActiveSmeshers     uint64
}

// PriceOnline reports whether the upstream supplied a usable price.
func (i *Info) PriceOnline() bool {
	return i.HasPrice && i.Price != PriceOffline && i.Price >= 0
}

// ParseError reports a missing or malformed field.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string { return "netinfo: field " + e.Field + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// number accepts a JSON number or a numeric string.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	if len(b) == 0 {
		return fmt.Errorf("empty number")
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("not a number: %q", b)
	}
	*n = number(b)
	return nil
}

func (n number) uint() (uint64, error) {
	if v, err := strconv.ParseUint(string(n), 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative value %s", n)
	}
	if f != math.Trunc(f) || f > math.MaxUint64 {
		return 0, fmt.Errorf("not an unsigned integer: %s", n)
	}
	return uint64(f), nil
}

func (n number) float() (float64, error) { return strconv.ParseFloat(string(n), 64) }

type rawNextEpoch struct {
	Epoch                   *number `json:"epoch"`
	EffectiveUnitsCommitted *number `json:"effectiveUnitsCommited"`
	TotalActiveSmeshers     *number `json:"totalActiveSmeshers"`
}

type rawInfo struct {
	Epoch                   *number       `json:"epoch"`
	Layer                   *number       `json:"layer"`
	EffectiveUnitsCommitted *number       `json:"effectiveUnitsCommited"`
	CirculatingSupply       *number       `json:"circulatingSupply"`
	Price                   *number       `json:"price"`
	MarketCap               *number       `json:"marketCap"`
	TotalAccounts           *number       `json:"totalAccounts"`
	TotalActiveSmeshers     *number       `json:"totalActiveSmeshers"`
	EpochSubsidy            *number       `json:"epochSubsidy"`
	Rewards                 *number       `json:"rewards"`
	Vested                  *number       `json:"vested"`
	NextEpoch               *rawNextEpoch `json:"nextEpoch"`
}

// Parse decodes a network-info document. The epoch is required; every other
// field is optional and defaults to zero.
func Parse(raw []byte) (*Info, error) {
	var r rawInfo
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &ParseError{Field: "$", Err: err}
	}
	if r.Epoch == nil {
		return nil, &ParseError{Field: "epoch", Err: fmt.Errorf("missing")}
	}

	p := parser{}
	info := &Info{
		Epoch:                   p.uint("epoch", r.Epoch),
		Layer:                   p.uint("layer", r.Layer),
		EffectiveUnitsCommitted: p.uint("effectiveUnitsCommited", r.EffectiveUnitsCommitted),
		CirculatingSupply:       p.uint("circulatingSupply", r.CirculatingSupply),
		MarketCap:               p.float("marketCap", r.MarketCap),
		TotalAccounts:           p.uint("totalAccounts", r.TotalAccounts),
		TotalActiveSmeshers:     p.uint("totalActiveSmeshers", r.TotalActiveSmeshers),
		EpochSubsidy:            p.uint("epochSubsidy", r.EpochSubsidy),
		Rewards:                 p.uint("rewards", r.Rewards),
		Vested:                  p.uint("vested", r.Vested),
	}
	if r.Price != nil {
		info.Price = p.float("price", r.Price)
		info.HasPrice = true
	}
	if r.NextEpoch != nil {
		info.NextEpoch = &NextEpoch{
			Epoch:                   p.uint("nextEpoch.epoch", r.NextEpoch.Epoch),
			EffectiveUnitsCommitted: p.uint("nextEpoch.effectiveUnitsCommited", r.NextEpoch.EffectiveUnitsCommitted),
			TotalActiveSmeshers:     p.uint("nextEpoch.totalActiveSmeshers", r.NextEpoch.TotalActiveSmeshers),
		}
		if r.NextEpoch.Epoch == nil {
			info.NextEpoch.Epoch = info.Epoch + 1
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return info, nil
}

// parser keeps the first field error.
type parser struct{ err error }

func (p *parser) uint(field string, n *number) uint64 {
	if n == nil || p.err != nil {
		return 0
	}
	v, err := n.uint()
	if err != nil {
		p.err = &ParseError{Field: field, Err: err}
	}
	return v
}

func (p *parser) float(field string, n *number) float64 {
	if n == nil || p.err != nil {
		return 0
	}
	v, err := n.float()
	if err != nil {
		p.err = &ParseError{Field: field, Err: err}
	}
	return v
}
