package feeds

import (
	"context"
	"fmt"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PoolInfo is the cached static shape of a constant-product pool.
type PoolInfo struct {
	Token0     string `json:"token0"`
	Token1     string `json:"token1"`
	LPDecimals int32  `json:"lpDecimals"`
}

// PoolNAV values one LP share of a constant-product pool:
// (reserve0*price0 + reserve1*price1) / totalSupply, all in whole units.
type PoolNAV struct {
	reader chain.Reader
	meta   *cache.HandlerMetaCache
}

func NewPoolNAV(reader chain.Reader, meta *cache.HandlerMetaCache) *PoolNAV {
	return &PoolNAV{reader: reader, meta: meta}
}

func (p *PoolNAV) Price(ctx context.Context, req pricing.FeedRequest) (decimal.Decimal, error) {
	if !common.IsHexAddress(req.AssetKey) {
		return decimal.Decimal{}, fmt.Errorf("pool-nav asset %q is not a pool address", req.AssetKey)
	}
	pool := common.HexToAddress(req.AssetKey)

	info, err := p.poolInfo(ctx, pool, req)
	if err != nil {
		return decimal.Decimal{}, err
	}

	r0, r1, err := p.reader.Reserves(ctx, pool, req.At.Height)
	if err != nil {
		return decimal.Decimal{}, err
	}
	supply, err := p.reader.TotalSupply(ctx, pool, req.At.Height)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if supply.Sign() == 0 {
		return decimal.Decimal{}, fmt.Errorf("pool %s has zero supply at %d", req.AssetKey, req.At.Height)
	}

	feed := req.Config.PriceFeed
	t0, err := req.Recurse(ctx, *feed.Token0, info.Token0)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("token0 %s: %w", info.Token0, err)
	}
	t1, err := req.Recurse(ctx, *feed.Token1, info.Token1)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("token1 %s: %w", info.Token1, err)
	}

	tvl := fromBase(r0, t0.Metadata.Decimals).Mul(t0.Price).
		Add(fromBase(r1, t1.Metadata.Decimals).Mul(t1.Price))
	return tvl.DivRound(fromBase(supply, info.LPDecimals), divPrecision), nil
}

func (p *PoolNAV) poolInfo(ctx context.Context, pool common.Address, req pricing.FeedRequest) (PoolInfo, error) {
	kind := string(pricing.FeedPoolNAV)
	var info PoolInfo
	ok, err := p.meta.Load(ctx, kind, req.AssetKey, &info)
	if err != nil || ok {
		return info, err
	}
	t0, t1, err := p.reader.PairTokens(ctx, pool)
	if err != nil {
		return PoolInfo{}, err
	}
	info = PoolInfo{
		Token0:     chain.Canonical(t0.Hex()),
		Token1:     chain.Canonical(t1.Hex()),
		LPDecimals: req.Metadata.Decimals,
	}
	if err := p.meta.Store(ctx, kind, req.AssetKey, info); err != nil {
		return PoolInfo{}, err
	}
	return info, nil
}
