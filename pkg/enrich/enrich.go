// Package enrich attaches USD values to the windows and actions of a batch.
package enrich

import (
	"context"
	"fmt"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stats counts what enrichment kept and dropped.
type Stats struct {
	Windows          int
	UnpricedWindows  int
	Actions          int
	DuplicateActions int
	UnpricedActions  int
}

// Enricher values windows by the time-weighted average of the price cache and actions by
// the latest sample at or before them.
type Enricher struct {
	prices   *cache.PriceCache
	metadata *cache.MetadataCache
	logger   *zap.Logger
}

func New(prices *cache.PriceCache, metadata *cache.MetadataCache, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{prices: prices, metadata: metadata, logger: logger}
}

// Windows values every window. Windows without any price sample, or whose asset has no
// metadata, are unpriced and dropped.
func (e *Enricher) Windows(ctx context.Context, windows []models.RawBalanceWindow) ([]models.EnrichedWindow, int, error) {
	out := make([]models.EnrichedWindow, 0, len(windows))
	dropped := 0
	for _, w := range windows {
		ew, ok, err := e.window(ctx, w)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			dropped++
			e.logger.Debug("dropping unpriced window",
				zap.String("asset", w.Asset),
				zap.String("user", w.User),
				zap.Int64("startTs", w.StartTs),
				zap.Int64("endTs", w.EndTs))
			continue
		}
		out = append(out, ew)
	}
	return out, dropped, nil
}

func (e *Enricher) window(ctx context.Context, w models.RawBalanceWindow) (models.EnrichedWindow, bool, error) {
	var carry *cache.PricePoint
	p, ok, err := e.prices.Latest(ctx, w.Asset, w.StartTs)
	if err != nil {
		return models.EnrichedWindow{}, false, err
	}
	if ok {
		carry = &p
	}
	points, err := e.prices.Range(ctx, w.Asset, w.StartTs, w.EndTs)
	if err != nil {
		return models.EnrichedWindow{}, false, err
	}
	twa, ok := ComputeTWA(carry, points, w.StartTs, w.EndTs)
	if !ok {
		return models.EnrichedWindow{}, false, nil
	}

	md, ok, err := e.metadata.Get(ctx, w.Asset)
	if err != nil || !ok {
		return models.EnrichedWindow{}, false, err
	}
	raw, err := decimal.NewFromString(w.RawBefore)
	if err != nil {
		return models.EnrichedWindow{}, false, fmt.Errorf("window %s/%s rawBefore %q: %w", w.Asset, w.User, w.RawBefore, err)
	}

	return models.EnrichedWindow{
		RawBalanceWindow: w,
		Decimals:         md.Decimals,
		TwaPrice:         twa.Price,
		ValueUsd:         raw.Shift(-md.Decimals).Mul(twa.Price),
		CoveredMs:        twa.CoveredMs,
		Samples:          twa.Samples,
		DurationMs:       w.DurationMs(),
	}, true, nil
}

// Actions collapses actions sharing a key to the first one and values the priceable ones.
// Priceable actions without a price sample are dropped; other actions pass with no value.
func (e *Enricher) Actions(ctx context.Context, actions []models.RawAction) ([]models.EnrichedAction, Stats, error) {
	var stats Stats
	seen := make(map[string]bool, len(actions))
	out := make([]models.EnrichedAction, 0, len(actions))
	for _, a := range actions {
		if seen[a.Key] {
			stats.DuplicateActions++
			continue
		}
		seen[a.Key] = true

		if !a.Priceable || a.Asset == "" {
			out = append(out, models.EnrichedAction{RawAction: a})
			continue
		}

		p, ok, err := e.prices.Latest(ctx, a.Asset, a.Ts)
		if err != nil {
			return nil, stats, err
		}
		md, mdOK, err := e.metadata.Get(ctx, a.Asset)
		if err != nil {
			return nil, stats, err
		}
		if !ok || !mdOK {
			stats.UnpricedActions++
			continue
		}

		ea := models.EnrichedAction{RawAction: a}
		price := p.Price
		ea.PriceUsd = &price
		if a.Amount != "" {
			amt, err := decimal.NewFromString(a.Amount)
			if err != nil {
				return nil, stats, fmt.Errorf("action %s amount %q: %w", a.Key, a.Amount, err)
			}
			v := amt.Shift(-md.Decimals).Mul(price)
			ea.ValueUsd = &v
		}
		out = append(out, ea)
	}
	stats.Actions = len(out)
	return out, stats, nil
}

// Batch enriches a whole batch and logs a summary.
func (e *Enricher) Batch(ctx context.Context, windows []models.RawBalanceWindow, actions []models.RawAction) ([]models.EnrichedWindow, []models.EnrichedAction, Stats, error) {
	ew, dropped, err := e.Windows(ctx, windows)
	if err != nil {
		return nil, nil, Stats{}, err
	}
	ea, stats, err := e.Actions(ctx, actions)
	if err != nil {
		return nil, nil, Stats{}, err
	}
	stats.Windows = len(ew)
	stats.UnpricedWindows = dropped
	if dropped > 0 || stats.UnpricedActions > 0 {
		e.logger.Warn("dropped unpriced records",
			zap.Int("windows", dropped),
			zap.Int("actions", stats.UnpricedActions))
	}
	return ew, ea, stats, nil
}
