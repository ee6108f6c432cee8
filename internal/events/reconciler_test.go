package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spudbot/internal/calendar"
	"spudbot/internal/schedule"
	"spudbot/internal/storage"
	logx "spudbot/pkg/logx"
)

var (
	genesis = time.Date(2023, 7, 14, 8, 0, 0, 0, time.UTC)
	// Before every window derived from epoch 5.
	beforeEpoch5 = time.Date(2023, 9, 20, 0, 0, 0, 0, time.UTC)
)

func testCalc(t *testing.T) *schedule.Calculator {
	t.Helper()
	calc, err := schedule.New(schedule.Constants{
		Genesis:  genesis,
		Epoch:    336 * time.Hour,
		Subcycle: 324 * time.Hour,
		Gap:      12 * time.Hour,
	})
	require.NoError(t, err)
	return calc
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "events.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTest(t *testing.T, store storage.EventStore, cal calendar.Calendar, opts ...Option) *Reconciler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return beforeEpoch5 })}, opts...)
	r, err := New(testCalc(t), store, cal, logx.Nop(), opts...)
	require.NoError(t, err)
	return r
}

func actions(rep Report) []Action {
	out := make([]Action, 0, len(rep.Results))
	for _, res := range rep.Results {
		out = append(out, res.Action)
	}
	return out
}

// flakyStore fails selected calls of the wrapped store.
type flakyStore struct {
	storage.EventStore
	failGet atomic.Int32
	failPut map[string]int
}

func (s *flakyStore) GetEvent(ctx context.Context, kind string) (storage.EventRecord, bool, error) {
	if s.failGet.Load() > 0 {
		s.failGet.Add(-1)
		return storage.EventRecord{}, false, &storage.Error{Driver: "test", Op: "get", Err: errors.New("disk on fire")}
	}
	return s.EventStore.GetEvent(ctx, kind)
}

func (s *flakyStore) PutEvent(ctx context.Context, rec storage.EventRecord) error {
	if s.failPut[rec.Kind] > 0 {
		s.failPut[rec.Kind]--
		return &storage.Error{Driver: "test", Op: "put", Err: errors.New("disk full")}
	}
	return s.EventStore.PutEvent(ctx, rec)
}

func TestReconcileCreatesMissingEntries(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	cal := calendar.NewMemory()
	r := newTest(t, st, cal)

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, []Action{ActionCreate, ActionCreate, ActionCreate}, actions(rep))
	assert.Empty(t, rep.Warnings)
	assert.NotEmpty(t, rep.Pass)
	assert.Equal(t, calendar.Calls{Create: 3, List: 1}, cal.Calls())

	recs, err := r.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, k := range schedule.Kinds() {
		rec := recs[k]
		assert.Equal(t, uint64(6), rec.Seq, k)
		e, ok := cal.Get(rec.Handle)
		require.True(t, ok, k)
		w, err := testCalc(t).Window(k, 5)
		require.NoError(t, err)
		assert.Equal(t, EntryFor(w), e)
	}

	e, _ := cal.Get(recs[schedule.KindGap].Handle)
	assert.Equal(t, "Cycle Gap 6", e.Name)
	assert.True(t, e.Start.Equal(time.Date(2023, 10, 5, 8, 0, 0, 0, time.UTC)))
	assert.True(t, e.End.Equal(time.Date(2023, 10, 5, 20, 0, 0, 0, time.UTC)))
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	r := newTest(t, testStore(t), cal)

	_, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	cal.ResetCalls()

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionNone, ActionNone, ActionNone}, actions(rep))
	assert.Zero(t, cal.Calls().Total())
	assert.Zero(t, rep.Changed())
}

func TestReconcileUpdatesStaleEntries(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	r := newTest(t, testStore(t), cal)

	first, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	cal.ResetCalls()

	rep, err := r.Reconcile(ctx, 6)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, []Action{ActionUpdate, ActionUpdate, ActionUpdate}, actions(rep))
	assert.Equal(t, calendar.Calls{Update: 3}, cal.Calls())

	for i, res := range rep.Results {
		assert.Equal(t, first.Results[i].Handle, res.Handle, "handle is kept on update")
		assert.Equal(t, uint64(7), res.Seq)
	}
	e, ok := cal.Get(rep.Results[0].Handle)
	require.True(t, ok)
	assert.Equal(t, "Epoch 7 Start", e.Name)
	assert.Len(t, cal.Entries(), 3)
}

func TestReconcileRecreatesEntryDeletedUpstream(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	r := newTest(t, testStore(t), cal)

	first, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	require.True(t, cal.Delete(first.Results[1].Handle))
	cal.ResetCalls()

	rep, err := r.Reconcile(ctx, 6)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, []Action{ActionUpdate, ActionRecreate, ActionUpdate}, actions(rep))
	assert.Equal(t, calendar.Calls{Update: 3, Create: 1, List: 1}, cal.Calls())
	assert.NotEqual(t, first.Results[1].Handle, rep.Results[1].Handle)

	recs, err := r.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep.Results[1].Handle, recs[schedule.KindSubcycle].Handle)
	assert.Equal(t, uint64(7), recs[schedule.KindSubcycle].Seq)
}

func TestReconcileAdoptsEntryAfterLostWrite(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	st := &flakyStore{EventStore: testStore(t), failPut: map[string]int{"epoch": 1}}
	r := newTest(t, st, cal)

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	require.Error(t, rep.Err())
	assert.ErrorIs(t, rep.Results[0].Err, storage.ErrUnavailable)
	assert.Equal(t, ActionFailed, rep.Results[0].Action)
	assert.Equal(t, 2, rep.Changed())
	assert.Len(t, cal.Entries(), 3)

	_, ok, err := st.GetEvent(ctx, "epoch")
	require.NoError(t, err)
	assert.False(t, ok, "record must not exist after a failed write")
	cal.ResetCalls()

	rep, err = r.Reconcile(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, []Action{ActionAdopt, ActionNone, ActionNone}, actions(rep))
	assert.Equal(t, calendar.Calls{List: 1}, cal.Calls(), "no duplicate is created")
	assert.Len(t, cal.Entries(), 3)
}

func TestReconcileUpdateWithFailedWriteIsNotAChange(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	st := &flakyStore{EventStore: testStore(t), failPut: map[string]int{}}
	r := newTest(t, st, cal)

	_, err := r.Reconcile(ctx, 4)
	require.NoError(t, err)
	st.failPut["epoch"] = 1
	cal.ResetCalls()

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionFailed, ActionUpdate, ActionUpdate}, actions(rep))
	assert.ErrorIs(t, rep.Results[0].Err, storage.ErrUnavailable)
	assert.Equal(t, 2, rep.Changed())
	assert.Equal(t, 3, cal.Calls().Update)

	rec, ok, err := st.GetEvent(ctx, "epoch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), rec.Seq, "record keeps the previous sequence")
}

func TestReconcileRejectsEpochOutOfRange(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	r := newTest(t, testStore(t), cal, WithLastEpoch(5))

	for _, e := range []uint64{testCalc(t).MaxEpoch() + 1, 9223372036854775813} {
		rep, err := r.Reconcile(ctx, e)
		var iw *InvariantError
		require.ErrorAs(t, err, &iw)
		assert.Equal(t, CheckEpochRange, iw.Check)
		assert.Empty(t, rep.Results)
		require.Len(t, rep.Warnings, 1)
	}
	assert.Equal(t, calendar.Calls{}, cal.Calls())
	assert.Empty(t, cal.Entries())

	last, ok := r.LastEpoch()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), last)
}

func TestReconcileAdoptRealignsTimes(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	w := testCalc(t).EpochWindow(5)
	cal.Put("manual-1", calendar.Entry{Name: EntryFor(w).Name, Start: w.Start.Add(time.Hour), End: w.End})
	r := newTest(t, testStore(t), cal)

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, ActionAdopt, rep.Results[0].Action)
	assert.Equal(t, "manual-1", rep.Results[0].Handle)
	assert.Equal(t, calendar.Calls{List: 1, Update: 1, Create: 2}, cal.Calls())

	e, _ := cal.Get("manual-1")
	assert.True(t, e.Start.Equal(w.Start))
}

func TestReconcileContainsFailuresPerKind(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	cal.FailNext(calendar.OpCreate, &calendar.APIError{Status: 503})
	r := newTest(t, testStore(t), cal)

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionFailed, ActionCreate, ActionCreate}, actions(rep))
	require.Error(t, rep.Err())
	assert.NotErrorIs(t, rep.Results[0].Err, calendar.ErrNotFound)

	_, ok, err := r.store.GetEvent(ctx, "epoch")
	require.NoError(t, err)
	assert.False(t, ok)

	cal.ResetCalls()
	rep, err = r.Reconcile(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, []Action{ActionCreate, ActionNone, ActionNone}, actions(rep))
	assert.Equal(t, calendar.Calls{List: 1, Create: 1}, cal.Calls())
}

func TestReconcileListFailureSkipsCreate(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	cal.FailNext(calendar.OpList, errors.New("connection reset"))
	r := newTest(t, testStore(t), cal)

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionFailed, ActionCreate, ActionCreate}, actions(rep))
	assert.Equal(t, 2, cal.Calls().Create)
}

func TestReconcilePermissionDenied(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	r := newTest(t, testStore(t), cal)
	_, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)

	cal.FailNext(calendar.OpUpdate, &calendar.APIError{Status: 403, Message: "Missing Permissions"})
	rep, err := r.Reconcile(ctx, 6)
	require.NoError(t, err)
	assert.ErrorIs(t, rep.Results[0].Err, calendar.ErrPermission)
	assert.Equal(t, []Action{ActionFailed, ActionUpdate, ActionUpdate}, actions(rep))

	rec, ok, err := r.store.GetEvent(ctx, "epoch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(6), rec.Seq, "record untouched after a rejected update")
}

func TestReconcileStoreReadFailure(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	st := &flakyStore{EventStore: testStore(t)}
	st.failGet.Store(1)
	r := newTest(t, st, cal)

	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	assert.ErrorIs(t, rep.Results[0].Err, storage.ErrUnavailable)
	assert.Equal(t, []Action{ActionFailed, ActionCreate, ActionCreate}, actions(rep))
}

func TestResyncThenReconcileHeals(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	r := newTest(t, testStore(t), cal)

	first, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	gone := first.Results[0].Handle
	require.True(t, cal.Delete(gone))

	rs, err := r.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schedule.Kind{schedule.KindEpoch}, rs.Purged)
	assert.Equal(t, 2, rs.External)
	assert.Equal(t, 3, rs.Local)

	cal.ResetCalls()
	rep, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionCreate, ActionNone, ActionNone}, actions(rep))
	assert.Equal(t, 1, cal.Calls().Create)

	recs, err := r.Records(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, gone, recs[schedule.KindEpoch].Handle)
	assert.Equal(t, uint64(6), recs[schedule.KindEpoch].Seq)
}

func TestResyncKeepsRecordsOnListFailure(t *testing.T) {
	ctx := context.Background()
	cal := calendar.NewMemory()
	r := newTest(t, testStore(t), cal)
	_, err := r.Reconcile(ctx, 5)
	require.NoError(t, err)

	cal.FailNext(calendar.OpList, errors.New("timeout"))
	_, err = r.Resync(ctx)
	require.Error(t, err)

	recs, err := r.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestReconcileWarnings(t *testing.T) {
	ctx := context.Background()

	t.Run("epoch decreased", func(t *testing.T) {
		r := newTest(t, testStore(t), calendar.NewMemory(), WithLastEpoch(6))
		rep, err := r.Reconcile(ctx, 5)
		require.NoError(t, err)
		require.Len(t, rep.Warnings, 1)
		assert.Equal(t, CheckEpochDecreased, rep.Warnings[0].Check)
		last, ok := r.LastEpoch()
		assert.True(t, ok)
		assert.Equal(t, uint64(5), last)
	})

	t.Run("window in past", func(t *testing.T) {
		late := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		cal := calendar.NewMemory()
		r := newTest(t, testStore(t), cal, WithClock(func() time.Time { return late }))
		rep, err := r.Reconcile(ctx, 5)
		require.NoError(t, err)
		require.Len(t, rep.Warnings, 3)
		for _, w := range rep.Warnings {
			assert.Equal(t, CheckWindowInPast, w.Check)
		}
		assert.Equal(t, 3, cal.Calls().Create, "pass proceeds")
	})
}

// gateCalendar blocks List until released.
type gateCalendar struct {
	*calendar.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gateCalendar) List(ctx context.Context) ([]calendar.Listed, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.Memory.List(ctx)
}

func TestReconcileDoesNotOverlap(t *testing.T) {
	ctx := context.Background()
	cal := &gateCalendar{Memory: calendar.NewMemory(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := newTest(t, testStore(t), cal)

	done := make(chan error, 1)
	go func() {
		_, err := r.Reconcile(ctx, 5)
		done <- err
	}()
	<-cal.entered

	_, err := r.Reconcile(ctx, 5)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = r.Resync(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	close(cal.release)
	require.NoError(t, <-done)
	assert.Len(t, cal.Entries(), 3)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, testStore(t), calendar.NewMemory(), logx.Nop())
	assert.Error(t, err)
	_, err = New(testCalc(t), nil, calendar.NewMemory(), logx.Nop())
	assert.Error(t, err)
	_, err = New(testCalc(t), testStore(t), nil, logx.Nop())
	assert.Error(t, err)
}

func TestEntryFor(t *testing.T) {
	calc := testCalc(t)
	cases := map[schedule.Kind]string{
		schedule.KindEpoch:    "Epoch 6 Start",
		schedule.KindSubcycle: "PoET Cycle 6 Start",
		schedule.KindGap:      "Cycle Gap 6",
	}
	for kind, want := range cases {
		w, err := calc.Window(kind, 5)
		require.NoError(t, err)
		e := EntryFor(w)
		assert.Equal(t, want, e.Name)
		assert.NotEmpty(t, e.Description)
		assert.Equal(t, time.UTC, e.Start.Location())
	}
}
