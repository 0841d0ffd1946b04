package pricing

import (
	"context"
	"fmt"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxResolveDepth is above any tree Validate accepts; reaching it means an unvalidated
// config loops back on itself.
const maxResolveDepth = 16

// PriceContext pins a resolution to a moment.
type PriceContext struct {
	AtMs     int64
	Height   int64
	BucketMs int64
	// Bypass skips the price cache lookup for the requested asset (not its constituents).
	Bypass bool
}

// Result is a resolved USD price with the asset's metadata.
type Result struct {
	Price    decimal.Decimal
	Metadata models.AssetMetadata
}

// Resolver prices arbitrary composed assets by dispatching to feed handlers that may
// recurse into their constituents.
type Resolver struct {
	registry *Registry
	metadata *cache.MetadataCache
	prices   *cache.PriceCache
	logger   *zap.Logger
}

func NewResolver(registry *Registry, metadata *cache.MetadataCache, prices *cache.PriceCache, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{registry: registry, metadata: metadata, prices: prices, logger: logger}
}

// Resolve returns the USD price of one whole unit of assetKey at pc, caching the result.
func (r *Resolver) Resolve(ctx context.Context, cfg AssetConfig, assetKey string, pc PriceContext) (Result, error) {
	return r.resolve(ctx, cfg, assetKey, pc, 0)
}

// Metadata returns the metadata of assetKey, resolving and caching it on a miss.
func (r *Resolver) Metadata(ctx context.Context, cfg AssetConfig, assetKey string) (models.AssetMetadata, error) {
	if md, ok, err := r.metadata.Get(ctx, assetKey); err != nil || ok {
		return md, err
	}
	resolver, ok := r.registry.Metadata(cfg.AssetType)
	if !ok {
		return models.AssetMetadata{}, fmt.Errorf("%w for asset type %q (%s)", ErrNoMetadataResolver, cfg.AssetType, assetKey)
	}
	md, err := resolver.Metadata(ctx, assetKey, cfg)
	if err != nil {
		return models.AssetMetadata{}, fmt.Errorf("resolve metadata %s: %w", assetKey, err)
	}
	if md == nil {
		return models.AssetMetadata{}, fmt.Errorf("%w for %s", ErrNoMetadataFound, assetKey)
	}
	if err := r.metadata.Put(ctx, assetKey, *md); err != nil {
		return models.AssetMetadata{}, err
	}
	return *md, nil
}

func (r *Resolver) resolve(ctx context.Context, cfg AssetConfig, assetKey string, pc PriceContext, depth int) (Result, error) {
	if depth > maxResolveDepth {
		return Result{}, fmt.Errorf("%w resolving %s", ErrMaxDepth, assetKey)
	}

	md, err := r.Metadata(ctx, cfg, assetKey)
	if err != nil {
		return Result{}, err
	}

	if !pc.Bypass {
		price, ok, err := r.prices.Lookup(ctx, assetKey, pc.AtMs, pc.BucketMs)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{Price: price, Metadata: md}, nil
		}
	}

	handler, ok := r.registry.Feed(cfg.PriceFeed.Kind)
	if !ok {
		return Result{}, fmt.Errorf("%w for kind %q (%s)", ErrNoFeedHandler, cfg.PriceFeed.Kind, assetKey)
	}

	inner := pc
	inner.Bypass = false
	price, err := handler.Price(ctx, FeedRequest{
		Config:   cfg,
		AssetKey: assetKey,
		At:       pc,
		Metadata: md,
		Recurse: func(ctx context.Context, sub AssetConfig, subKey string) (Result, error) {
			return r.resolve(ctx, sub, subKey, inner, depth+1)
		},
		Describe: r.Metadata,
	})
	if err != nil {
		return Result{}, fmt.Errorf("price %s via %s: %w", assetKey, cfg.PriceFeed.Kind, err)
	}

	if err := r.prices.Put(ctx, assetKey, pc.AtMs, price); err != nil {
		return Result{}, err
	}
	r.logger.Debug("resolved price",
		zap.String("asset", assetKey),
		zap.String("kind", string(cfg.PriceFeed.Kind)),
		zap.Int64("atMs", pc.AtMs),
		zap.Int64("height", pc.Height),
		zap.String("price", price.String()))
	return Result{Price: price, Metadata: md}, nil
}
