package app

import (
	"context"
	"errors"
	"time"

	"spudbot/internal/calendar"
	"spudbot/internal/events"
	"spudbot/internal/metrics"
	"spudbot/internal/storage"
)

func observeCalendar(op calendar.Op, err error, took time.Duration) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, calendar.ErrNotFound):
		result = "not_found"
	case errors.Is(err, calendar.ErrPermission):
		result = "permission"
	default:
		result = "error"
	}
	metrics.CalendarRequests.WithLabelValues(string(op), result).Inc()
	metrics.CalendarDuration.WithLabelValues(string(op)).Observe(took.Seconds())
}

// errClass buckets a per-kind failure for the errors counter.
func errClass(err error) string {
	switch {
	case errors.Is(err, calendar.ErrPermission):
		return "permission"
	case errors.Is(err, calendar.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, storage.ErrClosed):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transient"
	}
}

func observeReport(rep events.Report) {
	failed := 0
	for _, res := range rep.Results {
		metrics.ReconcileActions.WithLabelValues(string(res.Kind), string(res.Action)).Inc()
		if res.Err != nil {
			failed++
			metrics.ReconcileErrors.WithLabelValues(string(res.Kind), errClass(res.Err)).Inc()
		}
	}
	for _, w := range rep.Warnings {
		metrics.InvariantWarnings.WithLabelValues(w.Check).Inc()
	}
	outcome := "ok"
	switch {
	case failed == 0:
	case failed < len(rep.Results):
		outcome = "partial"
	default:
		outcome = "failed"
	}
	metrics.ReconcilePasses.WithLabelValues(outcome).Inc()
	metrics.LastEpoch.Set(float64(rep.Epoch))
}

func observeBusy() { metrics.ReconcilePasses.WithLabelValues("busy").Inc() }

func observeRejected(iw *events.InvariantError) {
	metrics.InvariantWarnings.WithLabelValues(iw.Check).Inc()
	metrics.ReconcilePasses.WithLabelValues("rejected").Inc()
}
