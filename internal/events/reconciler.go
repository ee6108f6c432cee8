// Package events keeps one calendar entry per schedule kind in step with the
// latest observed epoch.
//
// A pass computes the target window for every kind, compares it with the
// stored record and creates, updates or leaves the calendar entry alone. The
// local store is only written after the calendar confirmed the change, so an
// interrupted pass is repaired by the next one.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spudbot/internal/calendar"
	"spudbot/internal/schedule"
	"spudbot/internal/storage"
	logx "spudbot/pkg/logx"
)

// ErrBusy is returned when a pass is requested while another one is running.
var ErrBusy = errors.New("reconcile already running")

// Action is what a pass did for one kind.
type Action string

const (
	ActionNone     Action = "noop"
	ActionCreate   Action = "create"
	ActionAdopt    Action = "adopt"
	ActionUpdate   Action = "update"
	ActionRecreate Action = "recreate"
	ActionFailed   Action = "failed"
)

// Result is the outcome for one kind.
type Result struct {
	Kind   schedule.Kind `json:"kind"`
	Action Action        `json:"action"`
	Seq    uint64        `json:"seq"`
	Handle string        `json:"handle,omitempty"`
	Err    error         `json:"-"`
}

// Report summarizes one pass.
type Report struct {
	Pass     string            `json:"pass"`
	Epoch    uint64            `json:"epoch"`
	Started  time.Time         `json:"started"`
	Took     time.Duration     `json:"took"`
	Results  []Result          `json:"results"`
	Warnings []*InvariantError `json:"-"`
}

// Err joins the per-kind errors.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Kind, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Changed counts kinds whose calendar entry and record were both written.
func (r Report) Changed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			continue
		}
		switch res.Action {
		case ActionCreate, ActionAdopt, ActionUpdate, ActionRecreate:
			n++
		}
	}
	return n
}

// InvariantError describes an anomaly in the observed input. It never stops
// a pass.
type InvariantError struct {
	Check  string
	Kind   schedule.Kind
	Detail string
}

const (
	CheckEpochDecreased = "epoch_decreased"
	CheckWindowInPast   = "window_in_past"
	CheckEpochRange     = "epoch_out_of_range"
)

func (e *InvariantError) Error() string {
	if e.Kind != "" {
		return "invariant " + e.Check + " (" + string(e.Kind) + "): " + e.Detail
	}
	return "invariant " + e.Check + ": " + e.Detail
}

// ResyncReport lists the local records dropped by Resync.
type ResyncReport struct {
	External int             `json:"external"`
	Local    int             `json:"local"`
	Purged   []schedule.Kind `json:"purged"`
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLastEpoch seeds the value used for the epoch-decreased check, e.g.
// from persisted state after a restart.
func WithLastEpoch(e uint64) Option {
	return func(r *Reconciler) {
		r.last = e
		r.seen = true
	}
}

// Reconciler is safe for concurrent use; passes never overlap.
type Reconciler struct {
	calc  *schedule.Calculator
	store storage.EventStore
	cal   calendar.Calendar
	log   logx.Logger
	now   func() time.Time

	running sync.Mutex

	mu   sync.Mutex
	last uint64
	seen bool
}

func New(calc *schedule.Calculator, store storage.EventStore, cal calendar.Calendar, log logx.Logger, opts ...Option) (*Reconciler, error) {
	if calc == nil {
		return nil, errors.New("events: calculator is required")
	}
	if store == nil {
		return nil, errors.New("events: event store is required")
	}
	if cal == nil {
		return nil, errors.New("events: calendar is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reconciler{
		calc:  calc,
		store: store,
		cal:   cal,
		log:   log.With(logx.String("comp", "events")),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// LastEpoch returns the most recent epoch handed to Reconcile.
func (r *Reconciler) LastEpoch() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.seen
}

// Reconcile runs one pass for epoch. Per-kind failures are reported in the
// Report and do not stop the other kinds; the returned error is only
// non-nil when the pass could not run at all (ErrBusy, cancelled context,
// or an epoch beyond the calculator's range).
func (r *Reconciler) Reconcile(ctx context.Context, epoch uint64) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrBusy
	}
	defer r.running.Unlock()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	rep := Report{Pass: uuid.NewString(), Epoch: epoch, Started: r.now()}
	log := r.log.With(logx.String("pass", rep.Pass), logx.Uint64("epoch", epoch))

	windows, err := r.calc.Windows(epoch)
	if err != nil {
		// The epoch is not recorded as last seen, so one bad reading does not
		// turn every later epoch into a regression.
		iw := &InvariantError{Check: CheckEpochRange, Detail: err.Error()}
		rep.Warnings = append(rep.Warnings, iw)
		log.Error("epoch rejected; pass skipped", logx.Err(err))
		return rep, iw
	}

	if w := r.observe(epoch); w != nil {
		rep.Warnings = append(rep.Warnings, w)
	}

	pc := &passCache{}
	for _, w := range windows {
		if !w.Start.After(rep.Started) {
			iw := &InvariantError{
				Check:  CheckWindowInPast,
				Kind:   w.Kind,
				Detail: fmt.Sprintf("start %s is not after %s", w.Start.UTC().Format(time.RFC3339), rep.Started.UTC().Format(time.RFC3339)),
			}
			rep.Warnings = append(rep.Warnings, iw)
		}
		res := r.reconcileKind(ctx, log, pc, w)
		rep.Results = append(rep.Results, res)
		if ctx.Err() != nil {
			break
		}
	}
	rep.Took = r.now().Sub(rep.Started)

	for _, w := range rep.Warnings {
		log.Warn("schedule anomaly", logx.String("check", w.Check), logx.String("kind", string(w.Kind)), logx.String("detail", w.Detail))
	}
	log.Info("reconcile pass done",
		logx.Int("changed", rep.Changed()),
		logx.Bool("ok", rep.Err() == nil),
		logx.Duration("took", rep.Took),
	)
	return rep, nil
}

func (r *Reconciler) observe(epoch uint64) *InvariantError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var w *InvariantError
	if r.seen && epoch < r.last {
		w = &InvariantError{Check: CheckEpochDecreased, Detail: fmt.Sprintf("observed %d after %d", epoch, r.last)}
	}
	r.last = epoch
	r.seen = true
	return w
}

// passCache holds the calendar listing for the duration of one pass so the
// collision check costs at most one List call when it succeeds.
type passCache struct {
	listing []calendar.Listed
	ok      bool
}

func (p *passCache) list(ctx context.Context, cal calendar.Calendar) ([]calendar.Listed, error) {
	if p.ok {
		return p.listing, nil
	}
	l, err := cal.List(ctx)
	if err != nil {
		return nil, err
	}
	p.listing, p.ok = l, true
	return l, nil
}

func (p *passCache) add(l calendar.Listed) {
	if p.ok {
		p.listing = append(p.listing, l)
	}
}

func (r *Reconciler) reconcileKind(ctx context.Context, log logx.Logger, pc *passCache, w schedule.Window) Result {
	res := Result{Kind: w.Kind, Seq: w.Seq}
	log = log.With(logx.String("kind", string(w.Kind)), logx.Uint64("seq", w.Seq))

	rec, ok, err := r.store.GetEvent(ctx, string(w.Kind))
	if err != nil {
		return r.fail(log, res, fmt.Errorf("read record: %w", err))
	}
	if ok && rec.Seq == w.Seq {
		res.Action = ActionNone
		res.Handle = rec.Handle
		log.Debug("event current", logx.String("handle", rec.Handle))
		return res
	}

	entry := EntryFor(w)
	action := ActionCreate
	if ok {
		err := r.cal.Update(ctx, rec.Handle, entry)
		switch {
		case err == nil:
			res.Action = ActionUpdate
			res.Handle = rec.Handle
			return r.commit(ctx, log, res, rec.Seq)
		case errors.Is(err, calendar.ErrNotFound):
			log.Info("event removed upstream; recreating", logx.String("handle", rec.Handle))
			action = ActionRecreate
		default:
			return r.fail(log, res, fmt.Errorf("update %s: %w", rec.Handle, err))
		}
	}

	handle, adopted, err := r.createOrAdopt(ctx, pc, entry)
	if err != nil {
		return r.fail(log, res, err)
	}
	res.Handle = handle
	res.Action = action
	if adopted {
		res.Action = ActionAdopt
	}
	prev := uint64(0)
	if ok {
		prev = rec.Seq
	}
	return r.commit(ctx, log, res, prev)
}

// createOrAdopt creates entry unless the calendar already holds one with the
// same name, which happens when a previous pass created it but never stored
// the handle.
func (r *Reconciler) createOrAdopt(ctx context.Context, pc *passCache, entry calendar.Entry) (string, bool, error) {
	listing, err := pc.list(ctx, r.cal)
	if err != nil {
		return "", false, fmt.Errorf("list before create: %w", err)
	}
	for _, l := range listing {
		if l.Name != entry.Name {
			continue
		}
		if !l.SameTimes(entry) {
			if err := r.cal.Update(ctx, l.Handle, entry); err != nil {
				return "", false, fmt.Errorf("update adopted %s: %w", l.Handle, err)
			}
		}
		return l.Handle, true, nil
	}
	handle, err := r.cal.Create(ctx, entry)
	if err != nil {
		return "", false, fmt.Errorf("create: %w", err)
	}
	pc.add(calendar.Listed{Handle: handle, Name: entry.Name, Start: entry.Start, End: entry.End})
	return handle, false, nil
}

func (r *Reconciler) commit(ctx context.Context, log logx.Logger, res Result, prevSeq uint64) Result {
	rec := storage.EventRecord{Kind: string(res.Kind), Handle: res.Handle, Seq: res.Seq, UpdatedAt: r.now().UTC()}
	if err := r.store.PutEvent(ctx, rec); err != nil {
		// The calendar already changed; the next pass adopts the entry by name.
		log = log.With(logx.String("applied", string(res.Action)))
		res.Action = ActionFailed
		return r.fail(log, res, fmt.Errorf("store record: %w", err))
	}
	log.Info("event synced",
		logx.String("action", string(res.Action)),
		logx.String("handle", res.Handle),
		logx.Uint64("prev_seq", prevSeq),
	)
	return res
}

func (r *Reconciler) fail(log logx.Logger, res Result, err error) Result {
	res.Err = err
	if res.Action == "" {
		res.Action = ActionFailed
	}
	switch {
	case errors.Is(err, calendar.ErrPermission):
		log.Error("calendar rejected credentials; check bot permissions and guild id", logx.Err(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("event sync interrupted", logx.Err(err))
	default:
		log.Warn("event sync failed; retrying next pass", logx.Err(err))
	}
	return res
}

// Resync drops local records whose handle no longer exists in the calendar.
// The following pass recreates them.
func (r *Reconciler) Resync(ctx context.Context) (ResyncReport, error) {
	if !r.running.TryLock() {
		return ResyncReport{}, ErrBusy
	}
	defer r.running.Unlock()

	listing, err := r.cal.List(ctx)
	if err != nil {
		return ResyncReport{}, fmt.Errorf("resync list calendar: %w", err)
	}
	recs, err := r.store.ListEvents(ctx)
	if err != nil {
		return ResyncReport{}, fmt.Errorf("resync list records: %w", err)
	}
	upstream := make(map[string]struct{}, len(listing))
	for _, l := range listing {
		upstream[l.Handle] = struct{}{}
	}

	rep := ResyncReport{External: len(listing), Local: len(recs)}
	var errs []error
	for _, rec := range recs {
		if _, ok := upstream[rec.Handle]; ok {
			continue
		}
		if err := r.store.DeleteEvent(ctx, rec.Kind); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", rec.Kind, err))
			continue
		}
		rep.Purged = append(rep.Purged, schedule.Kind(rec.Kind))
		r.log.Info("purged record missing upstream", logx.String("kind", rec.Kind), logx.String("handle", rec.Handle))
	}
	return rep, errors.Join(errs...)
}

// Records returns the stored records keyed by kind.
func (r *Reconciler) Records(ctx context.Context) (map[schedule.Kind]storage.EventRecord, error) {
	recs, err := r.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[schedule.Kind]storage.EventRecord, len(recs))
	for _, rec := range recs {
		out[schedule.Kind(rec.Kind)] = rec
	}
	return out, nil
}
