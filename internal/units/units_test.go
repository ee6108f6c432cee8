package units

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"spudbot/internal/netinfo"
)

func TestConversions(t *testing.T) {
	assert.Equal(t, 1.5, SMH(1_500_000_000))
	assert.Equal(t, 1.0, PiB(16384))           // 16384 * 64 GiB = 1 PiB
	assert.Equal(t, 1.0, EiB(16*1024*1024))    // 2^24 * 64 GiB = 1 EiB
	assert.Equal(t, 2.35, Round(2.345001, 2))
	assert.Equal(t, 25.0, SupplyPercent(50_000_000, 150_000_000))
	assert.Equal(t, 0.0, SupplyPercent(0, 0))
}

func TestNormalize(t *testing.T) {
	info := &netinfo.Info{
		Epoch:                   27,
		Layer:                   109517,
		EffectiveUnitsCommitted: 33554432, // 2 EiB
		CirculatingSupply:       50_000_000_400_000_000,
		Price:                   0.954,
		HasPrice:                true,
		TotalActiveSmeshers:     1_520_000,
		Vested:                  10_000_000 * 1e9,
		NextEpoch:               &netinfo.NextEpoch{Epoch: 28, EffectiveUnitsCommitted: 16384 * 3, TotalActiveSmeshers: 7},
	}
	s := Normalize(info, 0)

	assert.Equal(t, uint64(27), s.Epoch)
	assert.True(t, s.PriceOnline)
	assert.Equal(t, 0.95, s.Price)
	assert.Equal(t, 50_000_000.0, s.CirculatingSMH)
	assert.Equal(t, 25.0, s.PercentTotalSupply)
	assert.Equal(t, 2.0, s.NetspaceEiB)
	assert.Equal(t, 10_000_000.0, s.VestedSMH)
	assert.Equal(t, 140_000_000.0, s.RemainingVaultedSMH)
	if assert.NotNil(t, s.Next) {
		assert.Equal(t, uint64(28), s.Next.Epoch)
		assert.Equal(t, 3.0, s.Next.NetspacePiB)
	}
	assert.Equal(t, 47_500_000.0, MarketCap(s.CirculatingSMH, s.Price))
}

func TestNormalizeOfflinePrice(t *testing.T) {
	s := Normalize(&netinfo.Info{Epoch: 1, Price: netinfo.PriceOffline, HasPrice: true}, 0)
	assert.False(t, s.PriceOnline)
	assert.Equal(t, 0.0, s.Price)
	assert.Nil(t, s.Next)
}

func TestPriceTracker(t *testing.T) {
	var tr PriceTracker

	v := tr.Observe(Stats{PriceOnline: false})
	assert.False(t, v.Known)
	assert.False(t, v.Outdated)

	v = tr.Observe(Stats{PriceOnline: true, Price: 1.00})
	assert.Equal(t, PriceView{Price: 1.00, Known: true, Trend: TrendFlat}, v)

	v = tr.Observe(Stats{PriceOnline: true, Price: 1.10})
	assert.Equal(t, TrendUp, v.Trend)
	assert.Equal(t, "🔼", v.Trend.Arrow())

	v = tr.Observe(Stats{PriceOnline: false})
	assert.True(t, v.Outdated)
	assert.Equal(t, 1.10, v.Price)
	assert.Equal(t, TrendFlat, v.Trend)

	v = tr.Observe(Stats{PriceOnline: true, Price: 1.05})
	assert.Equal(t, TrendDown, v.Trend)
	assert.False(t, v.Outdated)

	last, ok := tr.Last()
	assert.True(t, ok)
	assert.Equal(t, 1.05, last)
}

func TestPriceTrackerSeed(t *testing.T) {
	var tr PriceTracker
	tr.Seed(2.5)
	tr.Seed(9.9)
	v := tr.Observe(Stats{PriceOnline: true, Price: 2.0})
	assert.Equal(t, TrendDown, v.Trend)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "109,517", Count(109517))
	assert.Equal(t, "$1,234.50", USD(1234.5))
	assert.Equal(t, "$0.95", USD(0.95))
	assert.Equal(t, "1.5M", Millions(1_520_000, 1))
	assert.Equal(t, "9.10", Fixed(9.1, 2))
	assert.Equal(t, "1,234.57", Amount(1234.5678, 2))
}
