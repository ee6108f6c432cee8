package calendar

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Op names a Calendar method for call accounting and fault injection.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpList   Op = "list"
)

// Calls counts invocations per operation.
type Calls struct {
	Create int
	Update int
	List   int
}

func (c Calls) Total() int { return c.Create + c.Update + c.List }

// Memory is an in-process Calendar used for dry runs and tests.
type Memory struct {
	mu       sync.Mutex
	seq      int
	entries  map[string]Entry
	calls    Calls
	failures map[Op][]error
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}, failures: map[Op][]error{}}
}

// FailNext queues err as the result of the next call to op.
func (m *Memory) FailNext(op Op, err error) {
	m.mu.Lock()
	m.failures[op] = append(m.failures[op], err)
	m.mu.Unlock()
}

func (m *Memory) popFailureLocked(op Op) error {
	q := m.failures[op]
	if len(q) == 0 {
		return nil
	}
	m.failures[op] = q[1:]
	return q[0]
}

func (m *Memory) Create(ctx context.Context, e Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Create++
	if err := m.popFailureLocked(OpCreate); err != nil {
		return "", err
	}
	m.seq++
	h := "mem-" + strconv.Itoa(m.seq)
	m.entries[h] = e
	return h, nil
}

func (m *Memory) Update(ctx context.Context, handle string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Update++
	if err := m.popFailureLocked(OpUpdate); err != nil {
		return err
	}
	if _, ok := m.entries[handle]; !ok {
		return ErrNotFound
	}
	m.entries[handle] = e
	return nil
}

func (m *Memory) List(ctx context.Context) ([]Listed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.List++
	if err := m.popFailureLocked(OpList); err != nil {
		return nil, err
	}
	return m.snapshotLocked(), nil
}

func (m *Memory) snapshotLocked() []Listed {
	out := make([]Listed, 0, len(m.entries))
	for h, e := range m.entries {
		out = append(out, Listed{Handle: h, Name: e.Name, Start: e.Start, End: e.End})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Delete removes an entry out of band, the way a human moderator would.
func (m *Memory) Delete(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[handle]
	delete(m.entries, handle)
	return ok
}

// Put inserts an entry under a caller-chosen handle, bypassing call accounting.
func (m *Memory) Put(handle string, e Entry) {
	m.mu.Lock()
	m.entries[handle] = e
	m.mu.Unlock()
}

func (m *Memory) Get(handle string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[handle]
	return e, ok
}

// Entries returns every entry without counting a List call.
func (m *Memory) Entries() []Listed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) ResetCalls() {
	m.mu.Lock()
	m.calls = Calls{}
	m.mu.Unlock()
}
