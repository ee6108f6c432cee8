package present

import (
	"fmt"
	"html"
	"strings"
	"time"

	"spudbot/internal/chart"
	"spudbot/internal/storage"
	"spudbot/internal/units"
)

// Metric names of the stored series.
const (
	MetricPrice    = "price"
	MetricNetspace = "netspace"
)

// PanelData is everything the summary panel shows.
type PanelData struct {
	Stats      units.Stats
	Price      units.PriceView
	Chart      []storage.Point // price samples for the graph window
	Trend      []storage.Point // price samples for the trend window
	ChartHours int
	TrendHours int
	Width      int
	Height     int
}

// RenderPanel renders the HTML summary message.
func RenderPanel(d PanelData) string {
	var b strings.Builder
	s := d.Stats

	b.WriteString("<b>Spacemesh Network Statistics</b>\n\n")

	fmt.Fprintf(&b, "<b>Price Graph (Last %d Hours)</b>\n", d.ChartHours)
	vals := values(d.Chart)
	if len(vals) < 2 {
		b.WriteString("<i>Not enough price data yet</i>\n")
	} else {
		b.WriteString("<pre>")
		b.WriteString(html.EscapeString(chart.Render(vals, d.Width, d.Height)))
		b.WriteString("</pre>\n")
	}

	fmt.Fprintf(&b, "\n<b>%dh Price Trend</b>\n", d.TrendHours)
	b.WriteString(trendLine(d))
	b.WriteString("\n")

	b.WriteString("\n<b>Epoch Statistics</b>\n")
	fmt.Fprintf(&b, "Epoch: %d\n", s.Epoch)
	fmt.Fprintf(&b, "Layer: %s\n", units.Count(s.Layer))
	fmt.Fprintf(&b, "Epoch Subsidy: %s SMH\n", units.Amount(s.EpochSubsidySMH, 2))

	b.WriteString("\n<b>Network Statistics</b>\n")
	fmt.Fprintf(&b, "Netspace: %s EiB\n", units.Fixed(s.NetspaceEiB, 2))
	fmt.Fprintf(&b, "Active Smeshers: %s\n", units.Millions(float64(s.ActiveSmeshers), 1))
	fmt.Fprintf(&b, "Accounts: %s\n", units.Count(s.TotalAccounts))
	fmt.Fprintf(&b, "Circulating Supply: %s SMH (%s%%)\n", units.Count(uint64(s.CirculatingSMH)), units.Fixed(s.PercentTotalSupply, 2))
	if d.Price.Known {
		fmt.Fprintf(&b, "Market Cap: %s\n", units.USD(units.MarketCap(s.CirculatingSMH, d.Price.Price)))
	}
	fmt.Fprintf(&b, "Rewards: %s SMH\n", units.Amount(s.RewardsSMH, 2))

	b.WriteString("\n<b>Vesting Statistics</b>\n")
	fmt.Fprintf(&b, "Vested: %s SMH\n", units.Amount(s.VestedSMH, 0))
	fmt.Fprintf(&b, "Remaining Vaulted: %s SMH\n", units.Amount(s.RemainingVaultedSMH, 0))

	if n := s.Next; n != nil {
		b.WriteString("\n<b>Next Epoch</b>\n")
		fmt.Fprintf(&b, "Epoch: %d\n", n.Epoch)
		fmt.Fprintf(&b, "Netspace: %s PiB\n", units.Amount(n.NetspacePiB, 2))
		fmt.Fprintf(&b, "Active Smeshers: %s\n", units.Millions(float64(n.ActiveSmeshers), 1))
	}

	if !s.FetchedAt.IsZero() {
		fmt.Fprintf(&b, "\n<i>Updated %s</i>", s.FetchedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func trendLine(d PanelData) string {
	if !d.Price.Known {
		return "Price data unavailable"
	}
	cur := units.USD(d.Price.Price)
	if d.Price.Outdated {
		cur += " (outdated)"
	}
	vals := values(d.Trend)
	if len(vals) < 2 {
		return "n/a | Current Price: " + cur
	}
	pct, ok := chart.Change(vals[0], vals[len(vals)-1])
	if !ok {
		return "n/a | Current Price: " + cur
	}
	return fmt.Sprintf("%s %+.2f%% | Current Price: %s", chart.Arrow(pct), pct, cur)
}

func values(pts []storage.Point) []float64 {
	out := make([]float64, 0, len(pts))
	for _, p := range pts {
		out = append(out, p.Value)
	}
	return out
}

func hours(d time.Duration) int {
	h := int(d / time.Hour)
	if h < 1 {
		h = 1
	}
	return h
}
