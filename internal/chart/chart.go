// Package chart renders small text bar charts for chat messages.
package chart

import (
	"math"
	"strings"
)

const (
	Bar   = '█'
	Blank = ' '
)

// Resample reduces values to at most width buckets by averaging adjacent
// samples. Shorter inputs are returned unchanged.
func Resample(values []float64, width int) []float64 {
	if width <= 0 || len(values) <= width {
		return values
	}
	out := make([]float64, width)
	for i := range out {
		lo := i * len(values) / width
		hi := (i + 1) * len(values) / width
		sum := 0.0
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// Render draws values as a bar chart of height rows and at most width
// columns, top row first. Every column gets at least one bar; a flat series
// renders at half height.
func Render(values []float64, width, height int) string {
	if len(values) == 0 || width <= 0 || height <= 0 {
		return ""
	}
	cols := Resample(values, width)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range cols {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	levels := make([]int, len(cols))
	for i, v := range cols {
		if hi == lo {
			levels[i] = max(1, (height+1)/2)
			continue
		}
		levels[i] = 1 + int(math.Round((v-lo)/(hi-lo)*float64(height-1)))
	}

	rows := make([]string, 0, height)
	for row := height; row >= 1; row-- {
		var b strings.Builder
		for _, lvl := range levels {
			if lvl >= row {
				b.WriteRune(Bar)
			} else {
				b.WriteRune(Blank)
			}
		}
		rows = append(rows, strings.TrimRight(b.String(), string(Blank)))
	}
	return strings.Join(rows, "\n")
}

// Change is the percentage change from first to last. ok is false when the
// change is undefined.
func Change(first, last float64) (pct float64, ok bool) {
	if first == 0 || math.IsNaN(first) || math.IsNaN(last) {
		return 0, false
	}
	return (last - first) / first * 100, true
}

// Arrow marks the direction of a change.
func Arrow(pct float64) string {
	switch {
	case pct > 0:
		return "▲"
	case pct < 0:
		return "▼"
	default:
		return "■"
	}
}
