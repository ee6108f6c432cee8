package present

import (
	"strconv"
	"strings"

	"spudbot/internal/units"
)

// Stat names one chat whose title shows a single figure.
type Stat string

const (
	StatPrice     Stat = "price"
	StatEpoch     Stat = "epoch"
	StatLayer     Stat = "layer"
	StatNetspace  Stat = "netspace"
	StatSmeshers  Stat = "smeshers"
	StatSupply    Stat = "supply"
	StatMarketCap Stat = "marketcap"
	StatPercent   Stat = "percent"
)

// Stats returns every stat in display order.
func Stats() []Stat {
	return []Stat{StatPrice, StatEpoch, StatLayer, StatNetspace, StatSmeshers, StatSupply, StatMarketCap, StatPercent}
}

func ParseStat(s string) (Stat, bool) {
	st := Stat(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Stats() {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// Title renders the chat title for one stat.
func Title(stat Stat, s units.Stats, pv units.PriceView) string {
	switch stat {
	case StatPrice:
		return priceTitle(pv)
	case StatEpoch:
		return "Epoch: " + strconv.FormatUint(s.Epoch, 10)
	case StatLayer:
		return "Layer: " + strconv.FormatUint(s.Layer, 10)
	case StatNetspace:
		return "Netspace: " + units.Fixed(s.NetspaceEiB, 2) + " EiB"
	case StatSmeshers:
		return "Active Smeshers: " + units.Millions(float64(s.ActiveSmeshers), 1)
	case StatSupply:
		return "C.Supply: " + units.Count(uint64(s.CirculatingSMH)) + " SMH"
	case StatMarketCap:
		return marketCapTitle(s, pv)
	case StatPercent:
		return "% Total Supply: " + units.Fixed(s.PercentTotalSupply, 2) + "%"
	default:
		return ""
	}
}

func priceTitle(pv units.PriceView) string {
	switch {
	case !pv.Known:
		return "Price data unavailable"
	case pv.Outdated:
		return "Price: " + units.USD(pv.Price) + " (outdated)"
	}
	t := "Price: " + units.USD(pv.Price)
	if a := pv.Trend.Arrow(); a != "" {
		t += " " + a
	}
	return t
}

func marketCapTitle(s units.Stats, pv units.PriceView) string {
	if !pv.Known {
		return "Pending price data"
	}
	mc := units.USD(units.MarketCap(s.CirculatingSMH, pv.Price))
	if pv.Outdated {
		return "M.Cap: est ~" + mc
	}
	return "M.Cap: " + mc
}

// StatusTitle is the name of the status chat for the given liveness.
func StatusTitle(name string, online bool) string {
	if online {
		return name + " (Online)"
	}
	return name + " (Offline)"
}
