// Package store is the mutable state layer behind the ledger, the price caches and the
// checkpoints. Every method is a single atomic command on the backing store. Writes that
// must land together are staged in an Overlay and committed with Apply.
package store

import "context"

// Sample is one point of a last-value-wins time series. Ts is a unix millisecond
// timestamp for price series and a block height for measure history.
type Sample struct {
	Ts    int64
	Value string
}

// Store exposes hashes, sets, strings and per-key sorted time series.
// Misses are reported through the boolean of (value, ok, err) triples, never as errors.
type Store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key string, values map[string]string) error
	// HSetNX sets field only when absent and reports whether it wrote.
	HSetNX(ctx context.Context, key, field, value string) (bool, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	// SDiff returns members of key absent from every set in minus.
	SDiff(ctx context.Context, key string, minus ...string) ([]string, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error

	// TSAdd writes value at ts, replacing any sample already stored at exactly ts.
	TSAdd(ctx context.Context, key string, ts int64, value string) error
	// TSLatest returns the most recent sample with Ts <= atOrBefore.
	TSLatest(ctx context.Context, key string, atOrBefore int64) (Sample, bool, error)
	// TSRange returns samples with after < Ts <= to in ascending order.
	TSRange(ctx context.Context, key string, after, to int64) ([]Sample, error)

	// Apply performs ops in order as one atomic unit.
	Apply(ctx context.Context, ops []Op) error
}
