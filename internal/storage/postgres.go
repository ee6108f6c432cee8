package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "spudbot/pkg/logx"
)

const driverPostgres = "postgres"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS spudbot_events (
    kind       TEXT PRIMARY KEY,
    handle     TEXT NOT NULL,
    seq        BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS spudbot_series (
    metric TEXT NOT NULL,
    at     TIMESTAMPTZ NOT NULL,
    value  DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS spudbot_series_metric_at ON spudbot_series (metric, at);

CREATE TABLE IF NOT EXISTS spudbot_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("storage.url is required for postgres driver")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("storage.url: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap(driverPostgres, "ping", err)
	}
	s := &postgresStore{pool: pool, log: log}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, wrap(driverPostgres, "migrate", err)
	}
	log.Debug("postgres store opened")
	return s, nil
}

func (s *postgresStore) Driver() string { return driverPostgres }

func (s *postgresStore) Ping(ctx context.Context) error {
	return wrap(driverPostgres, "ping", s.pool.Ping(ctx))
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) GetEvent(ctx context.Context, kind string) (EventRecord, bool, error) {
	var (
		rec EventRecord
		seq int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT kind, handle, seq, updated_at FROM spudbot_events WHERE kind = $1`, kind,
	).Scan(&rec.Kind, &rec.Handle, &seq, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return EventRecord{}, false, nil
	}
	if err != nil {
		return EventRecord{}, false, wrap(driverPostgres, "get event", err)
	}
	rec.Seq = uint64(seq)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, true, nil
}

func (s *postgresStore) PutEvent(ctx context.Context, rec EventRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spudbot_events (kind, handle, seq, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind) DO UPDATE SET handle = EXCLUDED.handle, seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at`,
		rec.Kind, rec.Handle, int64(rec.Seq), rec.UpdatedAt,
	)
	return wrap(driverPostgres, "put event", err)
}

func (s *postgresStore) DeleteEvent(ctx context.Context, kind string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM spudbot_events WHERE kind = $1`, kind)
	return wrap(driverPostgres, "delete event", err)
}

func (s *postgresStore) ListEvents(ctx context.Context) ([]EventRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, handle, seq, updated_at FROM spudbot_events ORDER BY kind`)
	if err != nil {
		return nil, wrap(driverPostgres, "list events", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec EventRecord
			seq int64
		)
		if err := rows.Scan(&rec.Kind, &rec.Handle, &seq, &rec.UpdatedAt); err != nil {
			return nil, wrap(driverPostgres, "list events", err)
		}
		rec.Seq = uint64(seq)
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		out = append(out, rec)
	}
	return out, wrap(driverPostgres, "list events", rows.Err())
}

func (s *postgresStore) AppendPoints(ctx context.Context, pts ...Point) error {
	if len(pts) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range pts {
			if _, err := tx.Exec(ctx,
				`INSERT INTO spudbot_series (metric, at, value) VALUES ($1, $2, $3)`,
				p.Metric, p.At.UTC(), p.Value,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap(driverPostgres, "append points", err)
}

func (s *postgresStore) PrunePoints(ctx context.Context, metric string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM spudbot_series WHERE metric = $1 AND at < $2`, metric, before.UTC())
	if err != nil {
		return 0, wrap(driverPostgres, "prune points", err)
	}
	return tag.RowsAffected(), nil
}

func (s *postgresStore) RangePoints(ctx context.Context, metric string, since time.Time) ([]Point, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT at, value FROM spudbot_series WHERE metric = $1 AND at >= $2 ORDER BY at`, metric, since.UTC())
	if err != nil {
		return nil, wrap(driverPostgres, "range points", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		p := Point{Metric: metric}
		if err := rows.Scan(&p.At, &p.Value); err != nil {
			return nil, wrap(driverPostgres, "range points", err)
		}
		p.At = p.At.UTC()
		out = append(out, p)
	}
	return out, wrap(driverPostgres, "range points", rows.Err())
}

func (s *postgresStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM spudbot_state WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(driverPostgres, "get state", err)
	}
	return v, true, nil
}

func (s *postgresStore) PutState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spudbot_state (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return wrap(driverPostgres, "put state", err)
}
