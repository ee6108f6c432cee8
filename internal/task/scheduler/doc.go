// Package scheduler triggers named jobs on cron expressions or fixed
// intervals (robfig/cron).
//
// Every job is guarded so a trigger that fires while the previous run is
// still in flight is skipped instead of queued. Runs get a per-job timeout
// and are recorded for Snapshot.
package scheduler
