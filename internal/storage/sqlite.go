package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "spudbot/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

const driverSQLite = "sqlite"

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	retry retryConfig
}

func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, retry: defaultRetry}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, wrap(driverSQLite, "migrate", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Driver() string { return driverSQLite }

func (s *sqliteStore) Ping(ctx context.Context) error {
	return wrap(driverSQLite, "ping", s.db.PingContext(ctx))
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOp(ctx, s.retry, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, wrap(driverSQLite, op, err)
}

func (s *sqliteStore) GetEvent(ctx context.Context, kind string) (EventRecord, bool, error) {
	var (
		rec     EventRecord
		seq     int64
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, handle, seq, updated_at FROM events WHERE kind = ?`, kind,
	).Scan(&rec.Kind, &rec.Handle, &seq, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, false, nil
	}
	if err != nil {
		return EventRecord{}, false, wrap(driverSQLite, "get event", err)
	}
	rec.Seq = uint64(seq)
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, true, nil
}

func (s *sqliteStore) PutEvent(ctx context.Context, rec EventRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx, "put event",
		`INSERT INTO events(kind, handle, seq, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(kind) DO UPDATE SET handle=excluded.handle, seq=excluded.seq, updated_at=excluded.updated_at`,
		rec.Kind, rec.Handle, int64(rec.Seq), rec.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, kind string) error {
	_, err := s.exec(ctx, "delete event", `DELETE FROM events WHERE kind = ?`, kind)
	return err
}

func (s *sqliteStore) ListEvents(ctx context.Context) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, handle, seq, updated_at FROM events ORDER BY kind`)
	if err != nil {
		return nil, wrap(driverSQLite, "list events", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec          EventRecord
			seq, updated int64
		)
		if err := rows.Scan(&rec.Kind, &rec.Handle, &seq, &updated); err != nil {
			return nil, wrap(driverSQLite, "list events", err)
		}
		rec.Seq = uint64(seq)
		rec.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, rec)
	}
	return out, wrap(driverSQLite, "list events", rows.Err())
}

func (s *sqliteStore) AppendPoints(ctx context.Context, pts ...Point) error {
	if len(pts) == 0 {
		return nil
	}
	err := retryOp(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO series(metric, at, value) VALUES(?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range pts {
			if _, err := stmt.ExecContext(ctx, p.Metric, p.At.UnixMilli(), p.Value); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return wrap(driverSQLite, "append points", err)
}

func (s *sqliteStore) PrunePoints(ctx context.Context, metric string, before time.Time) (int64, error) {
	res, err := s.exec(ctx, "prune points", `DELETE FROM series WHERE metric = ? AND at < ?`, metric, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqliteStore) RangePoints(ctx context.Context, metric string, since time.Time) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, value FROM series WHERE metric = ? AND at >= ? ORDER BY at`, metric, since.UnixMilli())
	if err != nil {
		return nil, wrap(driverSQLite, "range points", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			at int64
			v  float64
		)
		if err := rows.Scan(&at, &v); err != nil {
			return nil, wrap(driverSQLite, "range points", err)
		}
		out = append(out, Point{Metric: metric, At: time.UnixMilli(at).UTC(), Value: v})
	}
	return out, wrap(driverSQLite, "range points", rows.Err())
}

func (s *sqliteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(driverSQLite, "get state", err)
	}
	return v, true, nil
}

func (s *sqliteStore) PutState(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, "put state",
		`INSERT INTO state(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	return err
}
