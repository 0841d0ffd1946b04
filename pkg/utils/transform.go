package utils

import (
	"strings"
)

// Dedup removes duplicates preserving first-seen order. Trailing slashes are
// trimmed so endpoint lists compare equal regardless of how they were written.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimRight(e, "/")
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// FloorTo rounds ts down to a multiple of step. A non-positive step returns ts.
func FloorTo(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	r := ts % step
	if r < 0 {
		r += step
	}
	return ts - r
}
