package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store. It is used by tests and by one-shot runs that do not
// need state to survive a restart.
type Memory struct {
	mu      sync.RWMutex
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	strings map[string]string
	series  map[string]map[int64]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		strings: make(map[string]string),
		series:  make(map[string]map[int64]string),
	}
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *Memory) HSet(_ context.Context, key string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hset(key, values)
	return nil
}

func (m *Memory) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hsetnx(key, field, value), nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sadd(key, members)
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range members {
		delete(m.sets[key], mem)
	}
	return nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[key]))
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SDiff(_ context.Context, key string, minus ...string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[key]))
outer:
	for mem := range m.sets[key] {
		for _, other := range minus {
			if _, ok := m.sets[other][mem]; ok {
				continue outer
			}
		}
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	return nil
}

func (m *Memory) TSAdd(_ context.Context, key string, ts int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tsadd(key, ts, value)
	return nil
}

func (m *Memory) TSLatest(_ context.Context, key string, atOrBefore int64) (Sample, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  Sample
		found bool
	)
	for ts, v := range m.series[key] {
		if ts <= atOrBefore && (!found || ts > best.Ts) {
			best = Sample{Ts: ts, Value: v}
			found = true
		}
	}
	return best, found, nil
}

func (m *Memory) TSRange(_ context.Context, key string, after, to int64) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Sample
	for ts, v := range m.series[key] {
		if ts > after && ts <= to {
			out = append(out, Sample{Ts: ts, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out, nil
}

// Apply holds the write lock for the whole batch, so readers never see part of it.
func (m *Memory) Apply(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range ops {
		switch o.kind {
		case opHSet:
			m.hset(o.key, o.values)
		case opHSetNX:
			m.hsetnx(o.key, o.field, o.value)
		case opSAdd:
			m.sadd(o.key, o.members)
		case opSRem:
			for _, mem := range o.members {
				delete(m.sets[o.key], mem)
			}
		case opSet:
			m.strings[o.key] = o.value
		case opTSAdd:
			m.tsadd(o.key, o.ts, o.value)
		}
	}
	return nil
}

func (m *Memory) hset(key string, values map[string]string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(values))
		m.hashes[key] = h
	}
	for f, v := range values {
		h[f] = v
	}
}

func (m *Memory) hsetnx(key, field, value string) bool {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return false
	}
	h[field] = value
	return true
}

func (m *Memory) sadd(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
}

func (m *Memory) tsadd(key string, ts int64, value string) {
	s, ok := m.series[key]
	if !ok {
		s = make(map[int64]string)
		m.series[key] = s
	}
	s[ts] = value
}
