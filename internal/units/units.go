// Package units converts raw protocol amounts into display values.
package units

import (
	"math"
	"time"

	"spudbot/internal/netinfo"
)

const (
	// SmidgePerSMH is the number of smidge in one SMH.
	SmidgePerSMH = 1e9
	// VaultedSMH is the genesis vault allocation.
	VaultedSMH = 150_000_000
	// GiBPerUnit is the storage one space unit commits.
	GiBPerUnit = 64
)

func SMH(smidge uint64) float64 { return float64(smidge) / SmidgePerSMH }

// PiB converts space units to pebibytes.
func PiB(units uint64) float64 { return float64(units) * GiBPerUnit / (1 << 20) }

// EiB converts space units to exbibytes.
func EiB(units uint64) float64 { return float64(units) * GiBPerUnit / (1 << 30) }

func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// SupplyPercent is circulating as a share of circulating plus vaulted, in
// percent rounded to two places.
func SupplyPercent(circulatingSMH, vaultedSMH float64) float64 {
	total := circulatingSMH + vaultedSMH
	if total <= 0 {
		return 0
	}
	return Round(circulatingSMH/total*100, 2)
}

// Stats is one normalized poll result.
type Stats struct {
	Epoch uint64 `json:"epoch"`
	Layer uint64 `json:"layer"`

	// Price is the upstream price rounded to cents; only meaningful when
	// PriceOnline is set.
	Price       float64 `json:"price"`
	PriceOnline bool    `json:"price_online"`

	CirculatingSMH      float64 `json:"circulating_smh"`
	PercentTotalSupply  float64 `json:"percent_total_supply"`
	EpochSubsidySMH     float64 `json:"epoch_subsidy_smh"`
	RewardsSMH          float64 `json:"rewards_smh"`
	VestedSMH           float64 `json:"vested_smh"`
	RemainingVaultedSMH float64 `json:"remaining_vaulted_smh"`

	NetspaceEiB    float64 `json:"netspace_eib"`
	ActiveSmeshers uint64  `json:"active_smeshers"`
	TotalAccounts  uint64  `json:"total_accounts"`

	Next *NextStats `json:"next,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

type NextStats struct {
	Epoch          uint64  `json:"epoch"`
	NetspacePiB    float64 `json:"netspace_pib"`
	ActiveSmeshers uint64  `json:"active_smeshers"`
}

// Normalize converts a parsed payload. vaultedSMH of zero means VaultedSMH.
func Normalize(info *netinfo.Info, vaultedSMH float64) Stats {
	if vaultedSMH <= 0 {
		vaultedSMH = VaultedSMH
	}
	circ := math.Round(SMH(info.CirculatingSupply))
	vested := SMH(info.Vested)
	s := Stats{
		Epoch:               info.Epoch,
		Layer:               info.Layer,
		PriceOnline:         info.PriceOnline(),
		CirculatingSMH:      circ,
		PercentTotalSupply:  SupplyPercent(circ, vaultedSMH),
		EpochSubsidySMH:     SMH(info.EpochSubsidy),
		RewardsSMH:          SMH(info.Rewards),
		VestedSMH:           vested,
		RemainingVaultedSMH: math.Max(0, vaultedSMH-vested),
		NetspaceEiB:         EiB(info.EffectiveUnitsCommitted),
		ActiveSmeshers:      info.TotalActiveSmeshers,
		TotalAccounts:       info.TotalAccounts,
		FetchedAt:           info.FetchedAt,
	}
	if s.PriceOnline {
		s.Price = Round(info.Price, 2)
	}
	if n := info.NextEpoch; n != nil {
		s.Next = &NextStats{
			Epoch:          n.Epoch,
			NetspacePiB:    Round(PiB(n.EffectiveUnitsCommitted), 2),
			ActiveSmeshers: n.TotalActiveSmeshers,
		}
	}
	return s
}

// MarketCap is circulating supply valued at price, rounded to cents.
func MarketCap(circulatingSMH, price float64) float64 {
	return Round(circulatingSMH*price, 2)
}
