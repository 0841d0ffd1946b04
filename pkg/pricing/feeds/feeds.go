// Package feeds implements the price feed kinds and metadata resolvers registered with
// a pricing.Registry.
package feeds

import (
	"context"
	"math/big"
	"time"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SpotSource serves daily historical USD prices for external identifiers.
type SpotSource interface {
	DailyPrice(ctx context.Context, id string, day time.Time) (decimal.Decimal, error)
}

// MeasureReader recovers a non-USD measure (such as position liquidity) at a height.
type MeasureReader interface {
	MeasureAt(ctx context.Context, asset, metric string, height int64) (decimal.Decimal, bool, error)
}

// Deps are the collaborators of the built-in feeds. Nil members disable the feeds that need them.
type Deps struct {
	Reader   chain.Reader
	Spot     SpotSource
	Meta     *cache.HandlerMetaCache
	Measures MeasureReader
	Logger   *zap.Logger
}

// Register installs every built-in feed and metadata resolver whose dependencies are present.
func Register(reg *pricing.Registry, d Deps) *pricing.Registry {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg.RegisterFeed(pricing.FeedPegged, Pegged{})
	reg.RegisterMetadata(pricing.AssetTypeStatic, StaticMetadata{})
	if d.Spot != nil && d.Meta != nil {
		reg.RegisterFeed(pricing.FeedExternalSpot, NewExternalSpot(d.Spot, d.Meta))
	}
	if d.Reader != nil {
		reg.RegisterMetadata(pricing.AssetTypeERC20, NewERC20Metadata(d.Reader))
		if d.Meta != nil {
			reg.RegisterFeed(pricing.FeedPoolNAV, NewPoolNAV(d.Reader, d.Meta))
			reg.RegisterFeed(pricing.FeedCLPosition, NewCLPosition(d.Reader, d.Meta, d.Measures, logger))
		}
		reg.RegisterFeed(pricing.FeedIndexScaled, NewIndexed(d.Reader))
	}
	return reg
}

// fromBase converts a base-unit integer into whole units.
func fromBase(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}

// divPrecision is the scale kept by divisions in price math.
const divPrecision = 18
