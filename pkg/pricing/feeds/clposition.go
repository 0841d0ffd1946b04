package feeds

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// PositionLabelKind labels a position key with its pool and tick range.
	PositionLabelKind = "cl-position"
	// PoolStateLabelKind labels a pool address with its most recently observed price.
	PoolStateLabelKind = "cl-pool-state"
	// LiquidityMetric is the measure adapters maintain for position liquidity.
	LiquidityMetric = "liquidity"
)

// PositionLabel is the static shape of a concentrated liquidity position.
type PositionLabel struct {
	Pool      string `json:"pool"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	TickLower int64  `json:"tickLower"`
	TickUpper int64  `json:"tickUpper"`
}

// PoolStateLabel is a pool price observed from an event at Height.
type PoolStateLabel struct {
	SqrtPriceX96 string `json:"sqrtPriceX96"`
	Tick         int64  `json:"tick"`
	Height       int64  `json:"height"`
}

// CLPosition values a whole concentrated liquidity position in USD. The asset key ends
// with ":<tokenId>". Only the configured priced side is resolved through the feed tree;
// the other side is derived from the pool's own price.
type CLPosition struct {
	reader   chain.Reader
	meta     *cache.HandlerMetaCache
	measures MeasureReader
	logger   *zap.Logger
}

func NewCLPosition(reader chain.Reader, meta *cache.HandlerMetaCache, measures MeasureReader, logger *zap.Logger) *CLPosition {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLPosition{reader: reader, meta: meta, measures: measures, logger: logger}
}

func (c *CLPosition) Price(ctx context.Context, req pricing.FeedRequest) (decimal.Decimal, error) {
	feed := req.Config.PriceFeed
	height := req.At.Height

	tokenID, err := positionTokenID(req.AssetKey)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var onchain *chain.Position
	readPosition := func() (*chain.Position, error) {
		if onchain != nil {
			return onchain, nil
		}
		pos, err := c.reader.Position(ctx, common.HexToAddress(feed.Manager), tokenID, height)
		if err != nil {
			return nil, fmt.Errorf("read position %s: %w", req.AssetKey, err)
		}
		onchain = &pos
		return onchain, nil
	}

	label, err := c.positionLabel(ctx, req.AssetKey, feed, readPosition)
	if err != nil {
		return decimal.Decimal{}, err
	}

	liquidity, err := c.liquidity(ctx, req.AssetKey, height, readPosition)
	if err != nil {
		return decimal.Decimal{}, err
	}

	sp, err := c.sqrtPrice(ctx, label.Pool, height)
	if err != nil {
		return decimal.Decimal{}, err
	}

	md0, err := req.Describe(ctx, *feed.Token0, label.Token0)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("token0 %s: %w", label.Token0, err)
	}
	md1, err := req.Describe(ctx, *feed.Token1, label.Token1)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("token1 %s: %w", label.Token1, err)
	}

	raw0, raw1 := positionAmounts(liquidity, sp, sqrtRatioAtTick(label.TickLower), sqrtRatioAtTick(label.TickUpper))
	amount0 := floatToDecimal(raw0, md0.Decimals)
	amount1 := floatToDecimal(raw1, md1.Decimals)

	// price of one whole token0 in whole token1
	ratio := floatToDecimal(new(big.Float).SetPrec(clPrec).Mul(sp, sp), 0).Shift(md0.Decimals - md1.Decimals)
	if ratio.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("pool %s has zero price", label.Pool)
	}

	var price0, price1 decimal.Decimal
	if feed.PricedSide == "token0" {
		r, err := req.Recurse(ctx, *feed.Token0, label.Token0)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("token0 %s: %w", label.Token0, err)
		}
		price0 = r.Price
		price1 = price0.DivRound(ratio, divPrecision)
	} else {
		r, err := req.Recurse(ctx, *feed.Token1, label.Token1)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("token1 %s: %w", label.Token1, err)
		}
		price1 = r.Price
		price0 = ratio.Mul(price1)
	}

	return amount0.Mul(price0).Add(amount1.Mul(price1)), nil
}

func (c *CLPosition) positionLabel(ctx context.Context, key string, feed pricing.FeedSelector, read func() (*chain.Position, error)) (PositionLabel, error) {
	var label PositionLabel
	ok, err := c.meta.Load(ctx, PositionLabelKind, key, &label)
	if err != nil || ok {
		return label, err
	}

	if feed.Factory == "" {
		return PositionLabel{}, fmt.Errorf("position %s has no label and no factory to derive its pool", key)
	}
	pos, err := read()
	if err != nil {
		return PositionLabel{}, err
	}
	pool, err := c.reader.PoolAddress(ctx, common.HexToAddress(feed.Factory), pos.Token0, pos.Token1, pos.Fee)
	if err != nil {
		return PositionLabel{}, fmt.Errorf("pool of position %s: %w", key, err)
	}
	label = PositionLabel{
		Pool:      chain.Canonical(pool.Hex()),
		Token0:    chain.Canonical(pos.Token0.Hex()),
		Token1:    chain.Canonical(pos.Token1.Hex()),
		TickLower: pos.TickLower,
		TickUpper: pos.TickUpper,
	}
	if err := c.meta.Store(ctx, PositionLabelKind, key, label); err != nil {
		return PositionLabel{}, err
	}
	c.logger.Debug("derived position label from chain", zap.String("position", key), zap.String("pool", label.Pool))
	return label, nil
}

func (c *CLPosition) liquidity(ctx context.Context, key string, height int64, read func() (*chain.Position, error)) (*big.Int, error) {
	if c.measures != nil {
		v, ok, err := c.measures.MeasureAt(ctx, key, LiquidityMetric, height)
		if err != nil {
			return nil, err
		}
		if ok {
			return v.BigInt(), nil
		}
	}
	pos, err := read()
	if err != nil {
		return nil, err
	}
	if pos.Liquidity == nil {
		return new(big.Int), nil
	}
	return pos.Liquidity, nil
}

func (c *CLPosition) sqrtPrice(ctx context.Context, pool string, height int64) (*big.Float, error) {
	var state PoolStateLabel
	ok, err := c.meta.Load(ctx, PoolStateLabelKind, pool, &state)
	if err != nil {
		return nil, err
	}
	if ok && (height == 0 || state.Height <= height) {
		if x, ok := new(big.Int).SetString(state.SqrtPriceX96, 10); ok && x.Sign() > 0 {
			return sqrtPriceFromX96(x), nil
		}
		return sqrtRatioAtTick(state.Tick), nil
	}

	slot, err := c.reader.Slot0(ctx, common.HexToAddress(pool), height)
	if err != nil {
		return nil, fmt.Errorf("slot0 %s: %w", pool, err)
	}
	if slot.SqrtPriceX96 != nil && slot.SqrtPriceX96.Sign() > 0 {
		return sqrtPriceFromX96(slot.SqrtPriceX96), nil
	}
	return sqrtRatioAtTick(slot.Tick), nil
}

func positionTokenID(key string) (*big.Int, error) {
	raw := key[strings.LastIndex(key, ":")+1:]
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("position key %q does not end with a token id", key)
	}
	return id, nil
}
