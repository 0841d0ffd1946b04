package feeds

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
)

const (
	// defaultIndexBase is the ray unit used by lending pool indexes.
	defaultIndexBase = "1e27"
	// maxIndexMemo bounds the memo before older heights are pruned.
	maxIndexMemo = 4096
)

type indexEntry struct {
	height int64
	index  *big.Int
}

// Indexed prices an interest-bearing token as (index / base) * underlying price, reading
// the normalization index once per (source, method, underlying, height).
type Indexed struct {
	reader chain.Reader
	memo   *xsync.Map[string, indexEntry]
}

func NewIndexed(reader chain.Reader) *Indexed {
	return &Indexed{reader: reader, memo: xsync.NewMap[string, indexEntry]()}
}

func (x *Indexed) Price(ctx context.Context, req pricing.FeedRequest) (decimal.Decimal, error) {
	feed := req.Config.PriceFeed

	base := feed.IndexBase
	if base == "" {
		base = defaultIndexBase
	}
	baseDec, err := decimal.NewFromString(base)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("index base %q: %w", base, err)
	}

	index, err := x.index(ctx, feed, req.At.Height)
	if err != nil {
		return decimal.Decimal{}, err
	}

	underlying, err := req.Recurse(ctx, *feed.Underlying, chain.Canonical(feed.UnderlyingAsset))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("underlying %s: %w", feed.UnderlyingAsset, err)
	}

	return decimal.NewFromBigInt(index, 0).DivRound(baseDec, divPrecision).Mul(underlying.Price), nil
}

func (x *Indexed) index(ctx context.Context, feed pricing.FeedSelector, height int64) (*big.Int, error) {
	key := chain.Canonical(feed.IndexSource) + "|" + feed.IndexMethod + "|" + chain.Canonical(feed.UnderlyingAsset) + "@" + strconv.FormatInt(height, 10)
	if height > 0 {
		if e, ok := x.memo.Load(key); ok {
			return e.index, nil
		}
	}

	index, err := x.reader.NormalizedIndex(ctx, common.HexToAddress(feed.IndexSource), common.HexToAddress(feed.UnderlyingAsset), feed.IndexMethod, height)
	if err != nil {
		return nil, fmt.Errorf("normalized index %s at %d: %w", feed.IndexSource, height, err)
	}
	if height > 0 {
		x.memo.Store(key, indexEntry{height: height, index: index})
		x.prune(height)
	}
	return index, nil
}

// prune drops heights below the newest one once the memo grows past its bound.
func (x *Indexed) prune(newest int64) {
	if x.memo.Size() <= maxIndexMemo {
		return
	}
	x.memo.Range(func(key string, e indexEntry) bool {
		if e.height < newest {
			x.memo.Delete(key)
		}
		return true
	})
}
