package present

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spudbot/internal/storage"
	"spudbot/internal/transport"
	"spudbot/internal/units"
	logx "spudbot/pkg/logx"
)

type fakeDisplay struct {
	mu      sync.Mutex
	nextID  int
	titles  map[int64]string
	renames int
	sent    []string
	edits   int
	pinned  []transport.MessageRef
	editErr error
}

func newFakeDisplay() *fakeDisplay { return &fakeDisplay{titles: map[int64]string{}, nextID: 100} }

func (f *fakeDisplay) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}, nil
}

func (f *fakeDisplay) EditText(_ context.Context, _ transport.MessageRef, _ string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	return f.editErr
}

func (f *fakeDisplay) SetTitle(_ context.Context, chatID int64, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames++
	f.titles[chatID] = title
	return nil
}

func (f *fakeDisplay) Pin(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, ref)
	return nil
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "present.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleStats() units.Stats {
	return units.Stats{
		Epoch:              24,
		Layer:              98765,
		Price:              1.23,
		PriceOnline:        true,
		CirculatingSMH:     51234567,
		PercentTotalSupply: 25.46,
		EpochSubsidySMH:    1234567.891,
		VestedSMH:          20000000,
		NetspaceEiB:        12.3456,
		ActiveSmeshers:     1523456,
		TotalAccounts:      109517,
		Next:               &units.NextStats{Epoch: 25, NetspacePiB: 12345.67, ActiveSmeshers: 1600000},
		FetchedAt:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTitles(t *testing.T) {
	s := sampleStats()
	live := units.PriceView{Price: 1.23, Known: true, Trend: units.TrendUp}

	cases := []struct {
		stat Stat
		pv   units.PriceView
		want string
	}{
		{StatPrice, live, "Price: $1.23 🔼"},
		{StatPrice, units.PriceView{Price: 1.23, Known: true}, "Price: $1.23"},
		{StatPrice, units.PriceView{Price: 1.1, Known: true, Outdated: true}, "Price: $1.10 (outdated)"},
		{StatPrice, units.PriceView{}, "Price data unavailable"},
		{StatEpoch, live, "Epoch: 24"},
		{StatLayer, live, "Layer: 98765"},
		{StatNetspace, live, "Netspace: 12.35 EiB"},
		{StatSmeshers, live, "Active Smeshers: 1.5M"},
		{StatSupply, live, "C.Supply: 51,234,567 SMH"},
		{StatMarketCap, live, "M.Cap: $63,018,517.41"},
		{StatMarketCap, units.PriceView{Price: 1.23, Known: true, Outdated: true}, "M.Cap: est ~$63,018,517.41"},
		{StatMarketCap, units.PriceView{}, "Pending price data"},
		{StatPercent, live, "% Total Supply: 25.46%"},
	}
	for _, tc := range cases {
		t.Run(string(tc.stat)+"/"+tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, Title(tc.stat, s, tc.pv))
		})
	}
}

func TestParseStat(t *testing.T) {
	st, ok := ParseStat(" MarketCap ")
	assert.True(t, ok)
	assert.Equal(t, StatMarketCap, st)
	_, ok = ParseStat("volume")
	assert.False(t, ok)
}

func TestApplyTitlesOnlyRenamesChanges(t *testing.T) {
	ctx := context.Background()
	disp := newFakeDisplay()
	p := New(disp, testStore(t), Config{Titles: map[Stat]int64{StatEpoch: -1001, StatPrice: -1002}}, logx.Nop())

	s := sampleStats()
	pv := units.PriceView{Price: 1.23, Known: true}

	n, err := p.ApplyTitles(ctx, s, pv)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Epoch: 24", disp.titles[-1001])

	n, err = p.ApplyTitles(ctx, s, pv)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, disp.renames)

	s.Epoch = 25
	n, err = p.ApplyTitles(ctx, s, pv)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Epoch: 25", disp.titles[-1001])
}

func TestPanelPostedPinnedThenEdited(t *testing.T) {
	ctx := context.Background()
	disp := newFakeDisplay()
	st := testStore(t)
	p := New(disp, st, Config{Panel: transport.ChatTarget{ChatID: -2000}, PinPanel: true}, logx.Nop())

	s := sampleStats()
	pv := units.PriceView{Price: 1.23, Known: true}
	require.NoError(t, p.RefreshPanel(ctx, s, pv))
	require.Len(t, disp.sent, 1)
	require.Len(t, disp.pinned, 1)
	assert.Equal(t, 101, disp.pinned[0].MessageID)

	require.NoError(t, p.RefreshPanel(ctx, s, pv))
	assert.Len(t, disp.sent, 1)
	assert.Equal(t, 1, disp.edits)

	disp.editErr = transport.ErrNotModified
	require.NoError(t, p.RefreshPanel(ctx, s, pv))
	assert.Len(t, disp.sent, 1)

	disp.editErr = transport.ErrMessageNotFound
	require.NoError(t, p.RefreshPanel(ctx, s, pv))
	assert.Len(t, disp.sent, 2)
	assert.Len(t, disp.pinned, 2)

	ref, err := p.panelRef(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.MessageRef{ChatID: -2000, MessageID: 102}, ref)
}

func TestPanelContent(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var pts []storage.Point
	for i := 0; i < 48; i++ {
		pts = append(pts, storage.Point{Metric: MetricPrice, At: now.Add(-24*time.Hour + time.Duration(i)*30*time.Minute), Value: 1 + float64(i)/100})
	}
	require.NoError(t, st.AppendPoints(ctx, pts...))

	p := New(newFakeDisplay(), st, Config{}, logx.Nop())
	p.now = func() time.Time { return now }

	text, err := p.Panel(ctx, sampleStats(), units.PriceView{Price: 1.47, Known: true})
	require.NoError(t, err)
	assert.Contains(t, text, "<b>Price Graph (Last 12 Hours)</b>")
	assert.Contains(t, text, "<pre>")
	assert.Contains(t, text, "<b>24h Price Trend</b>\n▲ +47.00% | Current Price: $1.47")
	assert.Contains(t, text, "Layer: 98,765")
	assert.Contains(t, text, "Circulating Supply: 51,234,567 SMH (25.46%)")
	assert.Contains(t, text, "<b>Next Epoch</b>\nEpoch: 25")
	assert.Contains(t, text, "Updated 2024-05-01 12:00 UTC")
	assert.False(t, strings.HasSuffix(text, "\n"))
}

func TestPanelWithoutPrice(t *testing.T) {
	text := RenderPanel(PanelData{Stats: sampleStats(), ChartHours: 12, TrendHours: 24, Width: 10, Height: 4})
	assert.Contains(t, text, "Not enough price data yet")
	assert.Contains(t, text, "<b>24h Price Trend</b>\nPrice data unavailable")
	assert.NotContains(t, text, "Market Cap")
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	disp := newFakeDisplay()
	p := New(disp, testStore(t), Config{StatusChatID: -3000}, logx.Nop())

	require.NoError(t, p.SetStatus(ctx, true))
	assert.Equal(t, "🥔 Spudbot 9000 🥔 (Online)", disp.titles[-3000])
	require.NoError(t, p.SetStatus(ctx, false))
	assert.Equal(t, "🥔 Spudbot 9000 🥔 (Offline)", disp.titles[-3000])
}

func TestRefCodec(t *testing.T) {
	ref := transport.MessageRef{ChatID: -100123, ThreadID: 7, MessageID: 42}
	got, err := decodeRef(encodeRef(ref))
	require.NoError(t, err)
	assert.Equal(t, ref, got)
	_, err = decodeRef("garbage")
	assert.Error(t, err)
}
