package calendar

import (
	"context"
	"time"
)

// ObserveFunc receives the outcome of every calendar call.
type ObserveFunc func(op Op, err error, took time.Duration)

type instrumented struct {
	next    Calendar
	observe ObserveFunc
}

// Instrument wraps c so every call is reported to observe.
func Instrument(c Calendar, observe ObserveFunc) Calendar {
	if observe == nil {
		return c
	}
	return &instrumented{next: c, observe: observe}
}

func (i *instrumented) Create(ctx context.Context, e Entry) (string, error) {
	start := time.Now()
	h, err := i.next.Create(ctx, e)
	i.observe(OpCreate, err, time.Since(start))
	return h, err
}

func (i *instrumented) Update(ctx context.Context, handle string, e Entry) error {
	start := time.Now()
	err := i.next.Update(ctx, handle, e)
	i.observe(OpUpdate, err, time.Since(start))
	return err
}

func (i *instrumented) List(ctx context.Context) ([]Listed, error) {
	start := time.Now()
	out, err := i.next.List(ctx)
	i.observe(OpList, err, time.Since(start))
	return out, err
}
