package feeds

import (
	"context"
	"math"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	poolAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token0Addr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token1Addr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	managerAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
	factoryAddr = common.HexToAddress("0x5555555555555555555555555555555555555555")
	sourceAddr  = common.HexToAddress("0x6666666666666666666666666666666666666666")
)

type fakeReader struct {
	chain.Reader

	reserve0, reserve1 *big.Int
	supply             *big.Int
	slot0              chain.PoolState
	position           chain.Position
	index              *big.Int

	positionCalls atomic.Int32
	slot0Calls    atomic.Int32
	indexCalls    atomic.Int32
}

func (f *fakeReader) Decimals(context.Context, common.Address) (uint8, error) { return 18, nil }

func (f *fakeReader) PairTokens(context.Context, common.Address) (common.Address, common.Address, error) {
	return token0Addr, token1Addr, nil
}

func (f *fakeReader) Reserves(context.Context, common.Address, int64) (*big.Int, *big.Int, error) {
	return f.reserve0, f.reserve1, nil
}

func (f *fakeReader) TotalSupply(context.Context, common.Address, int64) (*big.Int, error) {
	return f.supply, nil
}

func (f *fakeReader) Slot0(context.Context, common.Address, int64) (chain.PoolState, error) {
	f.slot0Calls.Add(1)
	return f.slot0, nil
}

func (f *fakeReader) Position(context.Context, common.Address, *big.Int, int64) (chain.Position, error) {
	f.positionCalls.Add(1)
	return f.position, nil
}

func (f *fakeReader) PoolAddress(context.Context, common.Address, common.Address, common.Address, *big.Int) (common.Address, error) {
	return poolAddr, nil
}

func (f *fakeReader) NormalizedIndex(context.Context, common.Address, common.Address, string, int64) (*big.Int, error) {
	f.indexCalls.Add(1)
	return f.index, nil
}

type fakeMeasures map[string]decimal.Decimal

func (f fakeMeasures) MeasureAt(_ context.Context, asset, metric string, _ int64) (decimal.Decimal, bool, error) {
	v, ok := f[asset+"/"+metric]
	return v, ok, nil
}

type fakeSpot struct {
	calls atomic.Int32
	price decimal.Decimal
}

func (f *fakeSpot) DailyPrice(context.Context, string, time.Time) (decimal.Decimal, error) {
	f.calls.Add(1)
	return f.price, nil
}

type fixture struct {
	resolver *pricing.Resolver
	meta     *cache.HandlerMetaCache
}

func newFixture(t *testing.T, d Deps) fixture {
	s := store.NewMemory()
	d.Meta = cache.NewHandlerMetaCache(s)
	d.Logger = zaptest.NewLogger(t)
	reg := Register(pricing.NewRegistry(), d)
	return fixture{
		resolver: pricing.NewResolver(reg, cache.NewMetadataCache(s), cache.NewPriceCache(s), d.Logger),
		meta:     d.Meta,
	}
}

func decimals(n int32) *int32 { return &n }

func pegged(value string, dec int32) *pricing.AssetConfig {
	return &pricing.AssetConfig{
		AssetType: pricing.AssetTypeStatic,
		Decimals:  decimals(dec),
		PriceFeed: pricing.FeedSelector{Kind: pricing.FeedPegged, Value: value},
	}
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func TestPoolNAV(t *testing.T) {
	reader := &fakeReader{
		reserve0: new(big.Int).Mul(big.NewInt(200), pow10(6)),
		reserve1: pow10(18),
		supply:   new(big.Int).Mul(big.NewInt(10), pow10(18)),
	}
	f := newFixture(t, Deps{Reader: reader})

	cfg := pricing.AssetConfig{
		AssetType: pricing.AssetTypeERC20,
		PriceFeed: pricing.FeedSelector{
			Kind:   pricing.FeedPoolNAV,
			Token0: pegged("1", 6),
			Token1: pegged("2000", 18),
		},
	}
	key := chain.Canonical(poolAddr.Hex())
	res, err := f.resolver.Resolve(context.Background(), cfg, key, pricing.PriceContext{AtMs: 1000, Height: 10})
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(decimal.NewFromInt(220)), res.Price.String())
	assert.Equal(t, int32(18), res.Metadata.Decimals)

	var info PoolInfo
	ok, err := f.meta.Load(context.Background(), string(pricing.FeedPoolNAV), key, &info)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chain.Canonical(token0Addr.Hex()), info.Token0)
	assert.Equal(t, int32(18), info.LPDecimals)
}

func TestPoolNAVZeroSupply(t *testing.T) {
	reader := &fakeReader{reserve0: big.NewInt(1), reserve1: big.NewInt(1), supply: big.NewInt(0)}
	f := newFixture(t, Deps{Reader: reader})

	cfg := pricing.AssetConfig{
		AssetType: pricing.AssetTypeERC20,
		PriceFeed: pricing.FeedSelector{Kind: pricing.FeedPoolNAV, Token0: pegged("1", 6), Token1: pegged("1", 6)},
	}
	_, err := f.resolver.Resolve(context.Background(), cfg, chain.Canonical(poolAddr.Hex()), pricing.PriceContext{AtMs: 1, Height: 1})
	require.Error(t, err)
}

func clConfig(side string) pricing.AssetConfig {
	return pricing.AssetConfig{
		AssetType: pricing.AssetTypeStatic,
		Decimals:  decimals(0),
		PriceFeed: pricing.FeedSelector{
			Kind:       pricing.FeedCLPosition,
			Token0:     pegged("1", 18),
			Token1:     pegged("1", 18),
			Manager:    managerAddr.Hex(),
			Factory:    factoryAddr.Hex(),
			PricedSide: side,
		},
	}
}

func symmetricValue() float64 {
	sb := math.Pow(1.0001, 300)
	return 2 * (1 - 1/sb)
}

func TestCLPositionFromLabels(t *testing.T) {
	key := chain.Canonical(managerAddr.Hex()) + ":42"
	reader := &fakeReader{}
	f := newFixture(t, Deps{Reader: reader, Measures: fakeMeasures{key + "/" + LiquidityMetric: decimal.New(1, 18)}})
	ctx := context.Background()

	require.NoError(t, f.meta.Store(ctx, PositionLabelKind, key, PositionLabel{
		Pool:      chain.Canonical(poolAddr.Hex()),
		Token0:    chain.Canonical(token0Addr.Hex()),
		Token1:    chain.Canonical(token1Addr.Hex()),
		TickLower: -600,
		TickUpper: 600,
	}))
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	require.NoError(t, f.meta.Store(ctx, PoolStateLabelKind, chain.Canonical(poolAddr.Hex()), PoolStateLabel{
		SqrtPriceX96: q96.String(),
		Height:       5,
	}))

	for _, side := range []string{"token0", "token1"} {
		res, err := f.resolver.Resolve(ctx, clConfig(side), key, pricing.PriceContext{AtMs: 1000, Height: 10, Bypass: true})
		require.NoError(t, err)
		assert.InDelta(t, symmetricValue(), res.Price.InexactFloat64(), 1e-9, side)
	}
	assert.Zero(t, reader.positionCalls.Load())
	assert.Zero(t, reader.slot0Calls.Load())
}

func TestCLPositionFallsBackToChain(t *testing.T) {
	key := chain.Canonical(managerAddr.Hex()) + ":7"
	reader := &fakeReader{
		slot0: chain.PoolState{Tick: 0},
		position: chain.Position{
			Token0:    token0Addr,
			Token1:    token1Addr,
			Fee:       big.NewInt(3000),
			TickLower: -600,
			TickUpper: 600,
			Liquidity: pow10(18),
		},
	}
	f := newFixture(t, Deps{Reader: reader})
	ctx := context.Background()

	res, err := f.resolver.Resolve(ctx, clConfig("token1"), key, pricing.PriceContext{AtMs: 1000, Height: 10})
	require.NoError(t, err)
	assert.InDelta(t, symmetricValue(), res.Price.InexactFloat64(), 1e-9)
	assert.Equal(t, int32(1), reader.positionCalls.Load())
	assert.Equal(t, int32(1), reader.slot0Calls.Load())

	var label PositionLabel
	ok, err := f.meta.Load(ctx, PositionLabelKind, key, &label)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chain.Canonical(poolAddr.Hex()), label.Pool)
	assert.Equal(t, int64(600), label.TickUpper)
}

func TestPositionAmountsOutOfRange(t *testing.T) {
	l := pow10(18)
	sa, sb := sqrtRatioAtTick(100), sqrtRatioAtTick(200)

	a0, a1 := positionAmounts(l, sqrtRatioAtTick(0), sa, sb)
	assert.Positive(t, a0.Sign())
	assert.Zero(t, a1.Sign())

	a0, a1 = positionAmounts(l, sqrtRatioAtTick(300), sa, sb)
	assert.Zero(t, a0.Sign())
	assert.Positive(t, a1.Sign())
}

func TestIndexScaled(t *testing.T) {
	reader := &fakeReader{index: new(big.Int).Mul(big.NewInt(105), pow10(25))}
	f := newFixture(t, Deps{Reader: reader})

	cfg := pricing.AssetConfig{
		AssetType: pricing.AssetTypeStatic,
		Decimals:  decimals(6),
		PriceFeed: pricing.FeedSelector{
			Kind:            pricing.FeedIndexScaled,
			Underlying:      pegged("2", 6),
			UnderlyingAsset: token0Addr.Hex(),
			IndexSource:     sourceAddr.Hex(),
			IndexMethod:     "getReserveNormalizedVariableDebt",
		},
	}
	ctx := context.Background()
	for _, key := range []string{"debt-a", "debt-b"} {
		res, err := f.resolver.Resolve(ctx, cfg, key, pricing.PriceContext{AtMs: 1000, Height: 10})
		require.NoError(t, err)
		assert.True(t, res.Price.Equal(decimal.RequireFromString("2.1")), res.Price.String())
	}
	assert.Equal(t, int32(1), reader.indexCalls.Load())

	_, err := f.resolver.Resolve(ctx, cfg, "debt-a", pricing.PriceContext{AtMs: 2000, Height: 11})
	require.NoError(t, err)
	assert.Equal(t, int32(2), reader.indexCalls.Load())
}

func TestExternalSpotCachesPerDay(t *testing.T) {
	spot := &fakeSpot{price: decimal.RequireFromString("3012.5")}
	f := newFixture(t, Deps{Spot: spot})

	cfg := pricing.AssetConfig{
		AssetType: pricing.AssetTypeStatic,
		Decimals:  decimals(18),
		PriceFeed: pricing.FeedSelector{Kind: pricing.FeedExternalSpot, ExternalID: "ethereum"},
	}
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	for _, at := range []int64{day + 1000, day + 3_600_000} {
		res, err := f.resolver.Resolve(ctx, cfg, "weth", pricing.PriceContext{AtMs: at, Bypass: true})
		require.NoError(t, err)
		assert.True(t, res.Price.Equal(spot.price))
	}
	assert.Equal(t, int32(1), spot.calls.Load())

	_, err := f.resolver.Resolve(ctx, cfg, "weth", pricing.PriceContext{AtMs: day + 86_400_000, Bypass: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), spot.calls.Load())
}

func TestERC20MetadataPinnedDecimals(t *testing.T) {
	m := NewERC20Metadata(&fakeReader{})
	md, err := m.Metadata(context.Background(), "not-an-address", pricing.AssetConfig{Decimals: decimals(8)})
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, int32(8), md.Decimals)

	md, err = m.Metadata(context.Background(), "not-an-address", pricing.AssetConfig{})
	require.NoError(t, err)
	assert.Nil(t, md)

	md, err = m.Metadata(context.Background(), chain.Canonical(token0Addr.Hex()), pricing.AssetConfig{})
	require.NoError(t, err)
	assert.Equal(t, int32(18), md.Decimals)
}
