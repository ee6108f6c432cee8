package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "spudbot/pkg/logx"
)

func openTest(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testDrivers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			return openTest(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "spudbot.db")})
		},
		"file": func(t *testing.T) Store {
			return openTest(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "spudbot.json")})
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			return openTest(t, Config{Driver: "redis", URL: "redis://" + mr.Addr(), KeyPrefix: "test:"})
		},
	}
}

func TestEventStore(t *testing.T) {
	for name, open := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			_, ok, err := st.GetEvent(ctx, "epoch")
			require.NoError(t, err)
			assert.False(t, ok)

			at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, st.PutEvent(ctx, EventRecord{Kind: "epoch", Handle: "h1", Seq: 6, UpdatedAt: at}))
			require.NoError(t, st.PutEvent(ctx, EventRecord{Kind: "gap", Handle: "h3", Seq: 6, UpdatedAt: at}))

			rec, ok, err := st.GetEvent(ctx, "epoch")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "h1", rec.Handle)
			assert.Equal(t, uint64(6), rec.Seq)
			assert.True(t, rec.UpdatedAt.Equal(at))

			// Upsert replaces the handle and sequence.
			require.NoError(t, st.PutEvent(ctx, EventRecord{Kind: "epoch", Handle: "h1b", Seq: 7}))
			rec, _, err = st.GetEvent(ctx, "epoch")
			require.NoError(t, err)
			assert.Equal(t, "h1b", rec.Handle)
			assert.Equal(t, uint64(7), rec.Seq)
			assert.False(t, rec.UpdatedAt.IsZero())

			list, err := st.ListEvents(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "epoch", list[0].Kind)
			assert.Equal(t, "gap", list[1].Kind)

			require.NoError(t, st.DeleteEvent(ctx, "gap"))
			require.NoError(t, st.DeleteEvent(ctx, "gap"))
			list, err = st.ListEvents(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestSeriesStore(t *testing.T) {
	for name, open := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

			require.NoError(t, st.AppendPoints(ctx,
				Point{Metric: "price", At: base.Add(2 * time.Hour), Value: 1.5},
				Point{Metric: "price", At: base, Value: 1.25},
				Point{Metric: "price", At: base.Add(time.Hour), Value: 1.25},
				Point{Metric: "netspace", At: base, Value: 9.1},
			))
			require.NoError(t, st.AppendPoints(ctx))

			pts, err := st.RangePoints(ctx, "price", base)
			require.NoError(t, err)
			require.Len(t, pts, 3)
			assert.True(t, pts[0].At.Equal(base))
			assert.True(t, pts[2].At.Equal(base.Add(2*time.Hour)))
			assert.Equal(t, 1.5, pts[2].Value)

			pts, err = st.RangePoints(ctx, "price", base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Len(t, pts, 1)

			n, err := st.PrunePoints(ctx, "price", base.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			pts, err = st.RangePoints(ctx, "price", time.Time{})
			require.NoError(t, err)
			assert.Len(t, pts, 2)

			other, err := st.RangePoints(ctx, "netspace", time.Time{})
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestStateStore(t *testing.T) {
	for name, open := range testDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			_, ok, err := st.GetState(ctx, "summary.ref")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.PutState(ctx, "summary.ref", "-100:42"))
			require.NoError(t, st.PutState(ctx, "summary.ref", "-100:43"))
			v, ok, err := st.GetState(ctx, "summary.ref")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "-100:43", v)

			require.NoError(t, st.Ping(ctx))
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spudbot.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutEvent(ctx, EventRecord{Kind: "subcycle", Handle: "abc", Seq: 9}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	rec, ok, err := st.GetEvent(ctx, "subcycle")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", rec.Handle)
}

func TestFileStoreReplaysJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spudbot.json")
	ctx := context.Background()

	st, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	fs := st.(*fileStore)
	require.NoError(t, fs.PutEvent(ctx, EventRecord{Kind: "epoch", Handle: "h1", Seq: 3}))
	require.NoError(t, fs.PutState(ctx, "k", "v"))
	require.NoError(t, fs.AppendPoints(ctx, Point{Metric: "price", At: time.Unix(100, 0), Value: 2}))

	// Simulate a crash: close the journal without compacting.
	fs.mu.Lock()
	require.NoError(t, fs.journal.Close())
	fs.journal = nil
	fs.mu.Unlock()

	st, err = openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	rec, ok, err := st.GetEvent(ctx, "epoch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h1", rec.Handle)
	v, ok, _ := st.GetState(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	pts, _ := st.RangePoints(ctx, "price", time.Time{})
	assert.Len(t, pts, 1)
}

func TestFileStoreCompacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spudbot.json")
	ctx := context.Background()

	st, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	fs := st.(*fileStore)
	fs.compactEvery = 3
	for i := 0; i < 7; i++ {
		require.NoError(t, fs.PutEvent(ctx, EventRecord{Kind: "epoch", Handle: "h", Seq: uint64(i)}))
	}
	require.NoError(t, st.Close())

	st, err = openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	rec, ok, err := st.GetEvent(ctx, "epoch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(6), rec.Seq)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	err = st.PutEvent(context.Background(), EventRecord{Kind: "epoch", Handle: "h"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
}

func TestRedisMemberCodec(t *testing.T) {
	p := Point{Metric: "price", At: time.UnixMilli(1700000000123).UTC(), Value: 1.75}
	got, err := decodeMember("price", encodeMember(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	for _, bad := range []string{"", "nocolon", "x:1", "1:y"} {
		_, err := decodeMember("price", bad)
		assert.Error(t, err, bad)
	}
}
