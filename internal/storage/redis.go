package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "spudbot/pkg/logx"
)

const driverRedis = "redis"

// redisStore layout under prefix:
//   - <prefix>events          hash kind -> JSON EventRecord
//   - <prefix>state           hash key -> value
//   - <prefix>series:<metric> sorted set scored by unix millis
type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("storage.url is required for redis driver")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("storage.url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, wrap(driverRedis, "ping", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "spudbot:"
	}
	log.Debug("redis store opened", logx.String("addr", opts.Addr), logx.String("prefix", prefix))
	return &redisStore{rdb: rdb, prefix: prefix, log: log}, nil
}

func (s *redisStore) eventsKey() string             { return s.prefix + "events" }
func (s *redisStore) stateKey() string              { return s.prefix + "state" }
func (s *redisStore) seriesKey(metric string) string { return s.prefix + "series:" + metric }

func (s *redisStore) Driver() string { return driverRedis }

func (s *redisStore) Ping(ctx context.Context) error {
	return wrap(driverRedis, "ping", s.rdb.Ping(ctx).Err())
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) GetEvent(ctx context.Context, kind string) (EventRecord, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.eventsKey(), kind).Result()
	if errors.Is(err, redis.Nil) {
		return EventRecord{}, false, nil
	}
	if err != nil {
		return EventRecord{}, false, wrap(driverRedis, "get event", err)
	}
	var rec EventRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return EventRecord{}, false, wrap(driverRedis, "get event", err)
	}
	return rec, true, nil
}

func (s *redisStore) PutEvent(ctx context.Context, rec EventRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return wrap(driverRedis, "put event", s.rdb.HSet(ctx, s.eventsKey(), rec.Kind, string(b)).Err())
}

func (s *redisStore) DeleteEvent(ctx context.Context, kind string) error {
	return wrap(driverRedis, "delete event", s.rdb.HDel(ctx, s.eventsKey(), kind).Err())
}

func (s *redisStore) ListEvents(ctx context.Context) ([]EventRecord, error) {
	all, err := s.rdb.HGetAll(ctx, s.eventsKey()).Result()
	if err != nil {
		return nil, wrap(driverRedis, "list events", err)
	}
	out := make([]EventRecord, 0, len(all))
	for kind, raw := range all {
		var rec EventRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("skipping unreadable event record", logx.String("kind", kind), logx.Err(err))
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// encodeMember keeps members unique per timestamp so equal values at
// different times are not collapsed by the sorted set.
func encodeMember(p Point) string {
	return strconv.FormatInt(p.At.UnixMilli(), 10) + ":" + strconv.FormatFloat(p.Value, 'g', -1, 64)
}

func decodeMember(metric, member string) (Point, error) {
	ts, val, ok := strings.Cut(member, ":")
	if !ok {
		return Point{}, fmt.Errorf("malformed series member %q", member)
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Point{}, fmt.Errorf("malformed series member %q: %w", member, err)
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return Point{}, fmt.Errorf("malformed series member %q: %w", member, err)
	}
	return Point{Metric: metric, At: time.UnixMilli(ms).UTC(), Value: v}, nil
}

func (s *redisStore) AppendPoints(ctx context.Context, pts ...Point) error {
	if len(pts) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range pts {
			pipe.ZAdd(ctx, s.seriesKey(p.Metric), redis.Z{Score: float64(p.At.UnixMilli()), Member: encodeMember(p)})
		}
		return nil
	})
	return wrap(driverRedis, "append points", err)
}

func (s *redisStore) PrunePoints(ctx context.Context, metric string, before time.Time) (int64, error) {
	n, err := s.rdb.ZRemRangeByScore(ctx, s.seriesKey(metric), "-inf", "("+strconv.FormatInt(before.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, wrap(driverRedis, "prune points", err)
	}
	return n, nil
}

func (s *redisStore) RangePoints(ctx context.Context, metric string, since time.Time) ([]Point, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.seriesKey(metric), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, wrap(driverRedis, "range points", err)
	}
	out := make([]Point, 0, len(members))
	for _, m := range members {
		p, err := decodeMember(metric, m)
		if err != nil {
			s.log.Warn("skipping unreadable series member", logx.String("metric", metric), logx.Err(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *redisStore) GetState(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.stateKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(driverRedis, "get state", err)
	}
	return v, true, nil
}

func (s *redisStore) PutState(ctx context.Context, key, value string) error {
	return wrap(driverRedis, "put state", s.rdb.HSet(ctx, s.stateKey(), key, value).Err())
}
