package engine

import (
	"context"
	"errors"

	"github.com/canopy-network/exposure/pkg/backfill"
	"github.com/canopy-network/exposure/pkg/enrich"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/pricing"
)

// ErrFinished is returned by Run once the configured final height has been processed.
var ErrFinished = errors.New("indexer reached final height")

// Adapter decodes protocol logs into ledger operations through Hooks.
type Adapter interface {
	Name() string
	HandleLog(ctx context.Context, h *Hooks, log models.Log) error
}

// TxAdapter is implemented by adapters that also consume transactions.
type TxAdapter interface {
	HandleTransaction(ctx context.Context, h *Hooks, tx models.Transaction) error
}

// Source yields ordered batches of finalized blocks. An empty batch means nothing new yet.
type Source interface {
	Next(ctx context.Context) ([]models.Block, error)
}

// Sink receives whole enriched batches.
type Sink interface {
	WriteWindows(ctx context.Context, windows []models.EnrichedWindow) error
	WriteActions(ctx context.Context, actions []models.EnrichedAction) error
	Close() error
}

// Catalog finds the price config of an asset.
type Catalog interface {
	Lookup(asset string) (pricing.AssetConfig, bool)
}

// Backfiller writes price samples for a batch.
type Backfiller interface {
	Run(ctx context.Context, blocks []models.Header) (backfill.Stats, error)
}

// BatchStats summarizes one processed batch.
type BatchStats struct {
	FromHeight int64
	ToHeight   int64
	Logs       int
	Backfill   backfill.Stats
	Enrich     enrich.Stats
}

// Resolver prices an asset.
type Resolver interface {
	Resolve(ctx context.Context, cfg pricing.AssetConfig, assetKey string, pc pricing.PriceContext) (pricing.Result, error)
}
