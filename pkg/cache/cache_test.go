package cache

import (
	"context"
	"testing"

	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPriceCacheBucketLookup(t *testing.T) {
	ctx := context.Background()
	c := NewPriceCache(store.NewMemory())
	require.NoError(t, c.Put(ctx, "tok", 1_000, decimal.NewFromInt(2)))

	p, ok, err := c.Lookup(ctx, "tok", 1_400, 500)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Equal(decimal.NewFromInt(2)))

	// 1_600 is in the next bucket, the sample at 1_000 is stale for it.
	_, ok, err = c.Lookup(ctx, "tok", 1_600, 500)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Lookup(ctx, "tok", 1_001, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPriceCacheRange(t *testing.T) {
	ctx := context.Background()
	c := NewPriceCache(store.NewMemory())
	for i, v := range []int64{1, 2, 3} {
		require.NoError(t, c.Put(ctx, "tok", int64(i+1)*100, decimal.NewFromInt(v)))
	}
	pts, err := c.Range(ctx, "tok", 100, 300)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	require.Equal(t, int64(200), pts[0].Ts)
	require.Equal(t, int64(300), pts[1].Ts)
}

func TestMetadataCacheWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	c := NewMetadataCache(s)

	_, ok, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, "tok", models.AssetMetadata{Decimals: 6, Symbol: "USDC"}))
	require.NoError(t, c.Put(ctx, "tok", models.AssetMetadata{Decimals: 18}))

	// A fresh cache over the same store sees the first write only.
	md, ok, err := NewMetadataCache(s).Get(ctx, "tok")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(6), md.Decimals)
	require.Equal(t, "USDC", md.Symbol)
}

func TestHandlerMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewHandlerMetaCache(store.NewMemory())
	type poolTokens struct {
		Token0 string `json:"token0"`
		Token1 string `json:"token1"`
	}
	var out poolTokens
	ok, err := c.Load(ctx, "pool-nav", "0xpool", &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Store(ctx, "pool-nav", "0xpool", poolTokens{Token0: "0xa", Token1: "0xb"}))
	ok, err = c.Load(ctx, "pool-nav", "0xpool", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, poolTokens{Token0: "0xa", Token1: "0xb"}, out)
}
