package cache

import (
	"context"
	"fmt"

	"github.com/canopy-network/exposure/pkg/store"
	"github.com/canopy-network/exposure/pkg/utils"
	"github.com/shopspring/decimal"
)

// PricePoint is one USD price sample.
type PricePoint struct {
	Ts    int64
	Price decimal.Decimal
}

// PriceCache stores per-asset USD price time series. Writes are keyed by
// (asset, exact timestamp) and are last-write-wins, so concurrent writers are safe.
type PriceCache struct {
	store store.Store
}

func NewPriceCache(s store.Store) *PriceCache {
	return &PriceCache{store: s}
}

// Put records price for asset at ts.
func (c *PriceCache) Put(ctx context.Context, asset string, ts int64, price decimal.Decimal) error {
	if err := c.store.TSAdd(ctx, priceKey(asset), ts, price.String()); err != nil {
		return fmt.Errorf("store price %s@%d: %w", asset, ts, err)
	}
	return nil
}

// Lookup returns the price current for atMs: the latest sample at or before atMs that
// falls in the same bucket of width bucketMs. With bucketMs <= 0 only an exact sample hits.
func (c *PriceCache) Lookup(ctx context.Context, asset string, atMs, bucketMs int64) (decimal.Decimal, bool, error) {
	p, ok, err := c.Latest(ctx, asset, atMs)
	if err != nil || !ok {
		return decimal.Decimal{}, false, err
	}
	floor := atMs
	if bucketMs > 0 {
		floor = utils.FloorTo(atMs, bucketMs)
	}
	if p.Ts < floor {
		return decimal.Decimal{}, false, nil
	}
	return p.Price, true, nil
}

// Latest returns the most recent sample at or before atMs.
func (c *PriceCache) Latest(ctx context.Context, asset string, atMs int64) (PricePoint, bool, error) {
	s, ok, err := c.store.TSLatest(ctx, priceKey(asset), atMs)
	if err != nil {
		return PricePoint{}, false, fmt.Errorf("load price %s@%d: %w", asset, atMs, err)
	}
	if !ok {
		return PricePoint{}, false, nil
	}
	p, err := toPoint(s)
	if err != nil {
		return PricePoint{}, false, fmt.Errorf("price %s: %w", asset, err)
	}
	return p, true, nil
}

// Range returns samples with after < Ts <= to in ascending order.
func (c *PriceCache) Range(ctx context.Context, asset string, after, to int64) ([]PricePoint, error) {
	samples, err := c.store.TSRange(ctx, priceKey(asset), after, to)
	if err != nil {
		return nil, fmt.Errorf("load prices %s (%d,%d]: %w", asset, after, to, err)
	}
	out := make([]PricePoint, 0, len(samples))
	for _, s := range samples {
		p, err := toPoint(s)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", asset, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func toPoint(s store.Sample) (PricePoint, error) {
	d, err := decimal.NewFromString(s.Value)
	if err != nil {
		return PricePoint{}, fmt.Errorf("bad sample %q at %d: %w", s.Value, s.Ts, err)
	}
	return PricePoint{Ts: s.Ts, Price: d}, nil
}
