package units

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Count renders an integer with thousands separators: 109,517.
func Count(n uint64) string {
	if n > 1<<63-1 {
		return strconv.FormatUint(n, 10)
	}
	return humanize.Comma(int64(n))
}

// Amount renders v with thousands separators and at most digits decimals.
func Amount(v float64, digits int) string {
	return humanize.CommafWithDigits(Round(v, digits), digits)
}

// USD renders a dollar amount with thousands separators and cents: $1,234.50.
func USD(v float64) string {
	whole := humanize.Comma(int64(Round(v, 2)))
	cents := int64(Round(v*100, 0)) % 100
	if cents < 0 {
		cents = -cents
	}
	return fmt.Sprintf("$%s.%02d", whole, cents)
}

// Millions renders v in millions with the given decimals: 1.5M.
func Millions(v float64, digits int) string {
	return strconv.FormatFloat(v/1e6, 'f', digits, 64) + "M"
}

// Fixed renders v with exactly digits decimals.
func Fixed(v float64, digits int) string {
	return strconv.FormatFloat(v, 'f', digits, 64)
}
