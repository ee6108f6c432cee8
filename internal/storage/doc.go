// Package storage persists the bot's durable state.
//
// It holds three small datasets behind one Store:
//   - event records: one calendar handle per tracked kind
//   - metric series: timestamped samples with per-metric retention
//   - state: short string values (message references, applied titles)
//
// Drivers: "sqlite" (default), "file", "redis" and "postgres".
package storage
