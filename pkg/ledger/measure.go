package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/shopspring/decimal"
)

// MeasureDelta adds delta to a non-USD measure of asset (for example position liquidity)
// and records the resulting value at ev.Height.
func (l *Ledger) MeasureDelta(ctx context.Context, asset, metric string, delta decimal.Decimal, ev EventContext) error {
	asset = chain.Canonical(asset)
	cur, _, err := l.measure(ctx, asset, metric)
	if err != nil {
		return err
	}
	next := cur.Add(delta).String()
	if err := l.kv().HSet(ctx, measureKey(asset), map[string]string{metric: next}); err != nil {
		return fmt.Errorf("save measure %s/%s: %w", asset, metric, err)
	}
	if err := l.kv().TSAdd(ctx, measureSeriesKey(asset, metric), ev.Height, next); err != nil {
		return fmt.Errorf("append measure %s/%s: %w", asset, metric, err)
	}
	return nil
}

// MeasureAt returns the value of a measure after all deltas at or before height.
// A height of zero returns the current value.
func (l *Ledger) MeasureAt(ctx context.Context, asset, metric string, height int64) (decimal.Decimal, bool, error) {
	asset = chain.Canonical(asset)
	if height <= 0 {
		return l.measure(ctx, asset, metric)
	}
	s, ok, err := l.kv().TSLatest(ctx, measureSeriesKey(asset, metric), height)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	v, err := decimal.NewFromString(s.Value)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("measure %s/%s at %s: %w", asset, metric, strconv.FormatInt(s.Ts, 10), err)
	}
	return v, true, nil
}

func (l *Ledger) measure(ctx context.Context, asset, metric string) (decimal.Decimal, bool, error) {
	raw, ok, err := l.kv().HGet(ctx, measureKey(asset), metric)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("load measure %s/%s: %w", asset, metric, err)
	}
	if !ok {
		return decimal.Zero, false, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("measure %s/%s %q: %w", asset, metric, raw, err)
	}
	return v, true, nil
}
