package enrich

import (
	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/shopspring/decimal"
)

// TWA is a time-weighted average price over the covered part of a window.
type TWA struct {
	Price     decimal.Decimal
	CoveredMs int64
	Samples   int
}

// ComputeTWA integrates a step-function price series over [start, end). carry is the
// latest sample at or before start, if any. points are the samples in (start, end] in
// ascending order. Without a carry-in, coverage starts at the first point. It returns
// false when no sample covers any part of the window.
func ComputeTWA(carry *cache.PricePoint, points []cache.PricePoint, start, end int64) (TWA, bool) {
	var (
		sum      decimal.Decimal
		covered  int64
		samples  int
		curTs    int64
		curPrice decimal.Decimal
		has      bool
	)
	if carry != nil {
		curTs, curPrice, has = start, carry.Price, true
		samples++
	}
	for _, p := range points {
		if p.Ts <= start || p.Ts > end {
			continue
		}
		if has {
			d := p.Ts - curTs
			sum = sum.Add(curPrice.Mul(decimal.NewFromInt(d)))
			covered += d
		}
		curTs, curPrice, has = p.Ts, p.Price, true
		samples++
	}
	if !has {
		return TWA{}, false
	}
	if d := end - curTs; d > 0 {
		sum = sum.Add(curPrice.Mul(decimal.NewFromInt(d)))
		covered += d
	}
	if covered == 0 {
		return TWA{}, false
	}
	return TWA{
		Price:     sum.DivRound(decimal.NewFromInt(covered), 18),
		CoveredMs: covered,
		Samples:   samples,
	}, true
}
