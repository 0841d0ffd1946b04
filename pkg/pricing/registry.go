package pricing

import (
	"context"

	"github.com/canopy-network/exposure/pkg/models"
	"github.com/shopspring/decimal"
)

// Recurse prices a constituent asset within the resolution that invoked the handler.
type Recurse func(ctx context.Context, cfg AssetConfig, assetKey string) (Result, error)

// Describe resolves only the metadata of a constituent asset.
type Describe func(ctx context.Context, cfg AssetConfig, assetKey string) (models.AssetMetadata, error)

// FeedRequest is everything a feed handler receives.
type FeedRequest struct {
	Config   AssetConfig
	AssetKey string
	At       PriceContext
	Metadata models.AssetMetadata
	Recurse  Recurse
	Describe Describe
}

// FeedHandler computes the USD price of one unit of an asset.
type FeedHandler interface {
	Price(ctx context.Context, req FeedRequest) (decimal.Decimal, error)
}

// FeedFunc adapts a function to FeedHandler.
type FeedFunc func(ctx context.Context, req FeedRequest) (decimal.Decimal, error)

func (f FeedFunc) Price(ctx context.Context, req FeedRequest) (decimal.Decimal, error) {
	return f(ctx, req)
}

// MetadataResolver looks up the static facts of an asset. A nil result means not found.
type MetadataResolver interface {
	Metadata(ctx context.Context, assetKey string, cfg AssetConfig) (*models.AssetMetadata, error)
}

// MetadataFunc adapts a function to MetadataResolver.
type MetadataFunc func(ctx context.Context, assetKey string, cfg AssetConfig) (*models.AssetMetadata, error)

func (f MetadataFunc) Metadata(ctx context.Context, assetKey string, cfg AssetConfig) (*models.AssetMetadata, error) {
	return f(ctx, assetKey, cfg)
}

// Registry maps feed kinds to handlers and asset types to metadata resolvers.
// It is filled once at startup and only read afterwards.
type Registry struct {
	feeds    map[FeedKind]FeedHandler
	metadata map[AssetType]MetadataResolver
}

func NewRegistry() *Registry {
	return &Registry{
		feeds:    make(map[FeedKind]FeedHandler),
		metadata: make(map[AssetType]MetadataResolver),
	}
}

func (r *Registry) RegisterFeed(kind FeedKind, h FeedHandler) *Registry {
	r.feeds[kind] = h
	return r
}

func (r *Registry) RegisterMetadata(t AssetType, m MetadataResolver) *Registry {
	r.metadata[t] = m
	return r
}

func (r *Registry) Feed(kind FeedKind) (FeedHandler, bool) {
	h, ok := r.feeds[kind]
	return h, ok
}

func (r *Registry) Metadata(t AssetType) (MetadataResolver, bool) {
	m, ok := r.metadata[t]
	return m, ok
}
