package feeds

import (
	"context"

	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/shopspring/decimal"
)

// Pegged returns the configured constant.
type Pegged struct{}

func (Pegged) Price(_ context.Context, req pricing.FeedRequest) (decimal.Decimal, error) {
	return decimal.NewFromString(req.Config.PriceFeed.Value)
}
