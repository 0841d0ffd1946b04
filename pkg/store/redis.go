package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on go-redis. Time series are sorted sets scored by timestamp
// whose members are "<ts>:<value>", so two different values at one timestamp never
// coexist after TSAdd.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis returns a Store whose keys are all prefixed with prefix (may be empty).
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) k(key string) string { return r.prefix + key }

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, r.k(key)).Result()
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, r.k(key), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return r.rdb.HSet(ctx, r.k(key), hashArgs(values)).Err()
}

func (r *Redis) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return r.rdb.HSetNX(ctx, r.k(key), field, value).Result()
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.rdb.SAdd(ctx, r.k(key), toArgs(members)...).Err()
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.rdb.SRem(ctx, r.k(key), toArgs(members)...).Err()
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.rdb.SIsMember(ctx, r.k(key), member).Result()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.rdb.SMembers(ctx, r.k(key)).Result()
}

func (r *Redis) SDiff(ctx context.Context, key string, minus ...string) ([]string, error) {
	keys := make([]string, 0, len(minus)+1)
	keys = append(keys, r.k(key))
	for _, m := range minus {
		keys = append(keys, r.k(m))
	}
	return r.rdb.SDiff(ctx, keys...).Result()
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.k(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, r.k(key), value, 0).Err()
}

func (r *Redis) TSAdd(ctx context.Context, key string, ts int64, value string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.tsadd(ctx, pipe, key, ts, value)
		return nil
	})
	return err
}

// tsadd queues the replacement of whatever sample sits at ts.
func (r *Redis) tsadd(ctx context.Context, pipe redis.Pipeliner, key string, ts int64, value string) {
	score := strconv.FormatInt(ts, 10)
	pipe.ZRemRangeByScore(ctx, r.k(key), score, score)
	pipe.ZAdd(ctx, r.k(key), redis.Z{Score: float64(ts), Member: score + ":" + value})
}

// Apply sends ops in one MULTI/EXEC.
func (r *Redis) Apply(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range ops {
			switch o.kind {
			case opHSet:
				if len(o.values) > 0 {
					pipe.HSet(ctx, r.k(o.key), hashArgs(o.values))
				}
			case opHSetNX:
				pipe.HSetNX(ctx, r.k(o.key), o.field, o.value)
			case opSAdd:
				if len(o.members) > 0 {
					pipe.SAdd(ctx, r.k(o.key), toArgs(o.members)...)
				}
			case opSRem:
				if len(o.members) > 0 {
					pipe.SRem(ctx, r.k(o.key), toArgs(o.members)...)
				}
			case opSet:
				pipe.Set(ctx, r.k(o.key), o.value, 0)
			case opTSAdd:
				r.tsadd(ctx, pipe, o.key, o.ts, o.value)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %d ops: %w", len(ops), err)
	}
	return nil
}

func (r *Redis) TSLatest(ctx context.Context, key string, atOrBefore int64) (Sample, bool, error) {
	zs, err := r.rdb.ZRevRangeByScoreWithScores(ctx, r.k(key), &redis.ZRangeBy{
		Max:   strconv.FormatInt(atOrBefore, 10),
		Min:   "-inf",
		Count: 1,
	}).Result()
	if err != nil {
		return Sample{}, false, err
	}
	if len(zs) == 0 {
		return Sample{}, false, nil
	}
	s, err := decodeMember(zs[0])
	if err != nil {
		return Sample{}, false, err
	}
	return s, true, nil
}

func (r *Redis) TSRange(ctx context.Context, key string, after, to int64) ([]Sample, error) {
	if to <= after {
		return nil, nil
	}
	zs, err := r.rdb.ZRangeByScoreWithScores(ctx, r.k(key), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(after, 10),
		Max: strconv.FormatInt(to, 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Sample, 0, len(zs))
	for _, z := range zs {
		s, err := decodeMember(z)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeMember(z redis.Z) (Sample, error) {
	m, ok := z.Member.(string)
	if !ok {
		return Sample{}, fmt.Errorf("unexpected sorted set member %T", z.Member)
	}
	ts, value, found := strings.Cut(m, ":")
	if !found {
		return Sample{}, fmt.Errorf("malformed sample %q", m)
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("malformed sample timestamp %q: %w", m, err)
	}
	return Sample{Ts: n, Value: value}, nil
}

func toArgs(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func hashArgs(values map[string]string) map[string]interface{} {
	args := make(map[string]interface{}, len(values))
	for f, v := range values {
		args[f] = v
	}
	return args
}
