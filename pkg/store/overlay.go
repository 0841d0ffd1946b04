package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Overlay stages writes in memory on top of a base Store. Reads see the staged writes;
// the base sees nothing until Commit applies them in one Apply call. Discarding an
// Overlay rolls the batch back.
type Overlay struct {
	base Store

	mu     sync.RWMutex
	hashes map[string]map[string]string
	// sets holds true for staged adds and false for staged removals.
	sets    map[string]map[string]bool
	strings map[string]string
	series  map[string]map[int64]string
	ops     []Op
}

func NewOverlay(base Store) *Overlay {
	o := &Overlay{base: base}
	o.clear()
	return o
}

func (o *Overlay) clear() {
	o.hashes = make(map[string]map[string]string)
	o.sets = make(map[string]map[string]bool)
	o.strings = make(map[string]string)
	o.series = make(map[string]map[int64]string)
	o.ops = nil
}

// Pending is the number of staged writes.
func (o *Overlay) Pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.ops)
}

// Commit applies the staged writes to the base and empties the overlay. On error the
// writes stay staged, so Commit can be retried.
func (o *Overlay) Commit(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.ops) == 0 {
		return nil
	}
	if err := o.base.Apply(ctx, o.ops); err != nil {
		return fmt.Errorf("commit staged writes: %w", err)
	}
	o.clear()
	return nil
}

func (o *Overlay) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out, err := o.base.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]string)
	}
	for f, v := range o.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (o *Overlay) HGet(ctx context.Context, key, field string) (string, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.hget(ctx, key, field)
}

func (o *Overlay) hget(ctx context.Context, key, field string) (string, bool, error) {
	if v, ok := o.hashes[key][field]; ok {
		return v, true, nil
	}
	return o.base.HGet(ctx, key, field)
}

func (o *Overlay) HSet(_ context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hset(key, values)
	cp := make(map[string]string, len(values))
	for f, v := range values {
		cp[f] = v
	}
	o.ops = append(o.ops, Op{kind: opHSet, key: key, values: cp})
	return nil
}

func (o *Overlay) hset(key string, values map[string]string) {
	h, ok := o.hashes[key]
	if !ok {
		h = make(map[string]string, len(values))
		o.hashes[key] = h
	}
	for f, v := range values {
		h[f] = v
	}
}

func (o *Overlay) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, exists, err := o.hget(ctx, key, field)
	if err != nil || exists {
		return false, err
	}
	o.hset(key, map[string]string{field: value})
	o.ops = append(o.ops, Op{kind: opHSetNX, key: key, field: field, value: value})
	return true, nil
}

func (o *Overlay) SAdd(_ context.Context, key string, members ...string) error {
	return o.stageMembers(opSAdd, key, members, true)
}

func (o *Overlay) SRem(_ context.Context, key string, members ...string) error {
	return o.stageMembers(opSRem, key, members, false)
}

func (o *Overlay) stageMembers(kind opKind, key string, members []string, present bool) error {
	if len(members) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sets[key]
	if !ok {
		s = make(map[string]bool, len(members))
		o.sets[key] = s
	}
	for _, m := range members {
		s[m] = present
	}
	o.ops = append(o.ops, Op{kind: kind, key: key, members: append([]string(nil), members...)})
	return nil
}

func (o *Overlay) SIsMember(ctx context.Context, key, member string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if present, ok := o.sets[key][member]; ok {
		return present, nil
	}
	return o.base.SIsMember(ctx, key, member)
}

func (o *Overlay) SMembers(ctx context.Context, key string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	set, err := o.members(ctx, key)
	if err != nil {
		return nil, err
	}
	return sortedKeys(set), nil
}

func (o *Overlay) members(ctx context.Context, key string) (map[string]struct{}, error) {
	base, err := o.base.SMembers(ctx, key)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(base))
	for _, m := range base {
		set[m] = struct{}{}
	}
	for m, present := range o.sets[key] {
		if present {
			set[m] = struct{}{}
		} else {
			delete(set, m)
		}
	}
	return set, nil
}

func (o *Overlay) SDiff(ctx context.Context, key string, minus ...string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	set, err := o.members(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, other := range minus {
		sub, err := o.members(ctx, other)
		if err != nil {
			return nil, err
		}
		for m := range sub {
			delete(set, m)
		}
	}
	return sortedKeys(set), nil
}

func (o *Overlay) Get(ctx context.Context, key string) (string, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.strings[key]; ok {
		return v, true, nil
	}
	return o.base.Get(ctx, key)
}

func (o *Overlay) Set(_ context.Context, key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strings[key] = value
	o.ops = append(o.ops, Op{kind: opSet, key: key, value: value})
	return nil
}

func (o *Overlay) TSAdd(_ context.Context, key string, ts int64, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.series[key]
	if !ok {
		s = make(map[int64]string)
		o.series[key] = s
	}
	s[ts] = value
	o.ops = append(o.ops, Op{kind: opTSAdd, key: key, ts: ts, value: value})
	return nil
}

func (o *Overlay) TSLatest(ctx context.Context, key string, atOrBefore int64) (Sample, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	best, found, err := o.base.TSLatest(ctx, key, atOrBefore)
	if err != nil {
		return Sample{}, false, err
	}
	for ts, v := range o.series[key] {
		if ts <= atOrBefore && (!found || ts >= best.Ts) {
			best = Sample{Ts: ts, Value: v}
			found = true
		}
	}
	return best, found, nil
}

func (o *Overlay) TSRange(ctx context.Context, key string, after, to int64) ([]Sample, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	base, err := o.base.TSRange(ctx, key, after, to)
	if err != nil {
		return nil, err
	}
	staged := o.series[key]
	if len(staged) == 0 {
		return base, nil
	}
	byTs := make(map[int64]string, len(base)+len(staged))
	for _, s := range base {
		byTs[s.Ts] = s.Value
	}
	for ts, v := range staged {
		if ts > after && ts <= to {
			byTs[ts] = v
		}
	}
	out := make([]Sample, 0, len(byTs))
	for ts, v := range byTs {
		out = append(out, Sample{Ts: ts, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out, nil
}

// Apply stages ops as if each had been called on the overlay.
func (o *Overlay) Apply(ctx context.Context, ops []Op) error {
	for _, op := range ops {
		if err := op.applyTo(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
