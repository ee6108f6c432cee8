package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "spudbot/pkg/logx"
)

const driverFile = "file"

// fileStore keeps everything in memory and persists it as
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (operations since the last snapshot)
//
// The journal is replayed over the snapshot on open and folded into it every
// compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	data         fileData
	writes       int
	compactEvery int
}

type fileData struct {
	Events map[string]EventRecord `json:"events"`
	State  map[string]string      `json:"state"`
	Series map[string][]Point     `json:"series"`
}

type journalOp struct {
	Op     string       `json:"op"`
	Event  *EventRecord `json:"event,omitempty"`
	Kind   string       `json:"kind,omitempty"`
	Key    string       `json:"key,omitempty"`
	Value  string       `json:"value,omitempty"`
	Metric string       `json:"metric,omitempty"`
	Points []Point      `json:"points,omitempty"`
	Before time.Time    `json:"before,omitempty"`
}

const (
	opPutEvent    = "put_event"
	opDeleteEvent = "delete_event"
	opPutState    = "put_state"
	opAppend      = "append"
	opPrune       = "prune"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		data:         newFileData(),
		compactEvery: 500,
	}
	if err := loadSnapshot(s.snapshotPath, &s.data); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrap(driverFile, "load snapshot", err)
	}
	journalPath := prefix + ".journal.jsonl"
	skipped, err := replayJournal(journalPath, &s.data)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrap(driverFile, "replay journal", err)
	}
	if skipped > 0 {
		log.Warn("skipped unreadable journal lines", logx.Int("count", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, wrap(driverFile, "open journal", err)
	}
	s.journal = jf
	return s, nil
}

func newFileData() fileData {
	return fileData{Events: map[string]EventRecord{}, State: map[string]string{}, Series: map[string][]Point{}}
}

func (d *fileData) apply(op journalOp) {
	switch op.Op {
	case opPutEvent:
		if op.Event != nil {
			d.Events[op.Event.Kind] = *op.Event
		}
	case opDeleteEvent:
		delete(d.Events, op.Kind)
	case opPutState:
		d.State[op.Key] = op.Value
	case opAppend:
		for _, p := range op.Points {
			d.Series[p.Metric] = insertPoint(d.Series[p.Metric], p)
		}
	case opPrune:
		d.Series[op.Metric] = prunePoints(d.Series[op.Metric], op.Before)
	}
}

func insertPoint(pts []Point, p Point) []Point {
	i := sort.Search(len(pts), func(i int) bool { return pts[i].At.After(p.At) })
	pts = append(pts, Point{})
	copy(pts[i+1:], pts[i:])
	pts[i] = p
	return pts
}

func prunePoints(pts []Point, before time.Time) []Point {
	i := sort.Search(len(pts), func(i int) bool { return !pts[i].At.Before(before) })
	return append([]Point(nil), pts[i:]...)
}

func (s *fileStore) Driver() string { return driverFile }

func (s *fileStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return wrap(driverFile, "ping", ErrClosed)
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return wrap(driverFile, "close", err)
}

// commitLocked journals op and applies it. durable forces an fsync.
func (s *fileStore) commitLocked(op journalOp, durable bool) error {
	if s.journal == nil {
		return wrap(driverFile, op.Op, ErrClosed)
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return wrap(driverFile, op.Op, err)
	}
	if durable {
		if err := s.journal.Sync(); err != nil {
			return wrap(driverFile, op.Op, err)
		}
	}
	s.data.apply(op)
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) GetEvent(_ context.Context, kind string) (EventRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Events[kind]
	return rec, ok, nil
}

func (s *fileStore) PutEvent(_ context.Context, rec EventRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(journalOp{Op: opPutEvent, Event: &rec}, true)
}

func (s *fileStore) DeleteEvent(_ context.Context, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Events[kind]; !ok {
		return nil
	}
	return s.commitLocked(journalOp{Op: opDeleteEvent, Kind: kind}, true)
}

func (s *fileStore) ListEvents(context.Context) ([]EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventRecord, 0, len(s.data.Events))
	for _, rec := range s.data.Events {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *fileStore) AppendPoints(_ context.Context, pts ...Point) error {
	if len(pts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(journalOp{Op: opAppend, Points: pts}, false)
}

func (s *fileStore) PrunePoints(_ context.Context, metric string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := len(s.data.Series[metric])
	kept := len(prunePoints(s.data.Series[metric], before))
	if kept == prev {
		return 0, nil
	}
	if err := s.commitLocked(journalOp{Op: opPrune, Metric: metric, Before: before}, false); err != nil {
		return 0, err
	}
	return int64(prev - kept), nil
}

func (s *fileStore) RangePoints(_ context.Context, metric string, since time.Time) ([]Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return prunePoints(s.data.Series[metric], since), nil
}

func (s *fileStore) GetState(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.State[key]
	return v, ok, nil
}

func (s *fileStore) PutState(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data.State[key]; ok && cur == value {
		return nil
	}
	return s.commitLocked(journalOp{Op: opPutState, Key: key, Value: value}, true)
}

func loadSnapshot(path string, out *fileData) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var d fileData
	if err := json.NewDecoder(f).Decode(&d); err != nil {
		return err
	}
	for k, v := range d.Events {
		out.Events[k] = v
	}
	for k, v := range d.State {
		out.State[k] = v
	}
	for k, v := range d.Series {
		out.Series[k] = v
	}
	return nil
}

// replayJournal applies every readable line and returns the number skipped.
// A torn final line from a crash is skipped rather than failing the open.
func replayJournal(path string, out *fileData) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil || op.Op == "" {
			skipped++
			continue
		}
		out.apply(op)
	}
	return skipped, sc.Err()
}
