package feeds

import (
	"context"
	"time"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/shopspring/decimal"
)

type dailyQuote struct {
	Price decimal.Decimal `json:"price"`
}

// ExternalSpot prices an asset from a daily historical quote. Quotes are cached per
// (identifier, UTC day), independently of the price cache buckets.
type ExternalSpot struct {
	source SpotSource
	meta   *cache.HandlerMetaCache
}

func NewExternalSpot(source SpotSource, meta *cache.HandlerMetaCache) *ExternalSpot {
	return &ExternalSpot{source: source, meta: meta}
}

func (s *ExternalSpot) Price(ctx context.Context, req pricing.FeedRequest) (decimal.Decimal, error) {
	id := req.Config.PriceFeed.ExternalID
	day := time.UnixMilli(req.At.AtMs).UTC().Truncate(24 * time.Hour)
	key := id + ":" + day.Format(time.DateOnly)

	var q dailyQuote
	ok, err := s.meta.Load(ctx, string(pricing.FeedExternalSpot), key, &q)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if ok {
		return q.Price, nil
	}

	price, err := s.source.DailyPrice(ctx, id, day)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if err := s.meta.Store(ctx, string(pricing.FeedExternalSpot), key, dailyQuote{Price: price}); err != nil {
		return decimal.Decimal{}, err
	}
	return price, nil
}
