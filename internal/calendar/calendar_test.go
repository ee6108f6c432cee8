package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		status     int
		notFound   bool
		permission bool
	}{
		{http.StatusNotFound, true, false},
		{http.StatusUnauthorized, false, true},
		{http.StatusForbidden, false, true},
		{http.StatusTooManyRequests, false, false},
		{http.StatusBadGateway, false, false},
	}
	for _, tc := range cases {
		err := fmt.Errorf("update: %w", &APIError{Status: tc.status})
		assert.Equal(t, tc.notFound, errors.Is(err, ErrNotFound), "status %d", tc.status)
		assert.Equal(t, tc.permission, errors.Is(err, ErrPermission), "status %d", tc.status)
	}
}

func TestMemoryCalendar(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	h, err := m.Create(ctx, Entry{Name: "Epoch 1 Start", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, h, Entry{Name: "Epoch 2 Start", Start: start, End: start.Add(2 * time.Hour)}))
	e, ok := m.Get(h)
	require.True(t, ok)
	assert.Equal(t, "Epoch 2 Start", e.Name)

	assert.True(t, m.Delete(h))
	err = m.Update(ctx, h, e)
	assert.ErrorIs(t, err, ErrNotFound)

	m.FailNext(OpList, ErrPermission)
	_, err = m.List(ctx)
	assert.ErrorIs(t, err, ErrPermission)
	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Equal(t, Calls{Create: 1, Update: 2, List: 2}, m.Calls())
}

func TestInstrumentReportsEveryCall(t *testing.T) {
	ctx := context.Background()
	var seen []Op
	var errs int
	c := Instrument(NewMemory(), func(op Op, err error, _ time.Duration) {
		seen = append(seen, op)
		if err != nil {
			errs++
		}
	})

	h, err := c.Create(ctx, Entry{Name: "x"})
	require.NoError(t, err)
	_ = c.Update(ctx, "missing", Entry{})
	_ = c.Update(ctx, h, Entry{})
	_, _ = c.List(ctx)

	assert.Equal(t, []Op{OpCreate, OpUpdate, OpUpdate, OpList}, seen)
	assert.Equal(t, 1, errs)
}
