// Package backfill writes price samples for every tracked asset at the representative
// blocks of a batch, so enrichment finds a sample in each flush window.
package backfill

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/canopy-network/exposure/pkg/utils"
	"go.uber.org/zap"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 32

// Catalog finds the config of an asset.
type Catalog interface {
	Lookup(asset string) (pricing.AssetConfig, bool)
}

// Tracker lists every asset ever observed with its birth height.
type Tracker interface {
	TrackedAssets(ctx context.Context) (map[string]int64, error)
}

// PriceResolver is satisfied by *pricing.Resolver.
type PriceResolver interface {
	Resolve(ctx context.Context, cfg pricing.AssetConfig, assetKey string, pc pricing.PriceContext) (pricing.Result, error)
}

// Task prices one asset at one block.
type Task struct {
	Asset  string
	Config pricing.AssetConfig
	Block  models.Header
}

// Stats summarizes one backfill run.
type Stats struct {
	Blocks   int
	Tasks    int
	Priced   int
	Failed   int
	Duration time.Duration
	// ConfigErrors counts the failed tasks whose asset config cannot be priced at all.
	ConfigErrors int
}

// Backfiller drains pricing tasks on a fixed-size worker pool. A failed task is logged
// and skipped, so windows it would have priced may be written unpriced. Configuration errors
// are logged at error level since retrying will not fix them.
type Backfiller struct {
	resolver   PriceResolver
	catalog    Catalog
	tracker    Tracker
	intervalMs int64
	pool       pond.Pool
	logger     *zap.Logger
}

// New builds a Backfiller. interval is the flush interval and also the price bucket width.
func New(resolver PriceResolver, catalog Catalog, tracker Tracker, interval time.Duration, workers int, logger *zap.Logger) *Backfiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Backfiller{
		resolver:   resolver,
		catalog:    catalog,
		tracker:    tracker,
		intervalMs: interval.Milliseconds(),
		pool:       pond.NewPool(workers, pond.WithQueueSize(workers*64)),
		logger:     logger,
	}
}

// Close waits for running tasks and stops the pool.
func (b *Backfiller) Close() {
	b.pool.StopAndWait()
}

// RepresentativeBlocks picks the first block of each flush window observed in blocks,
// plus the last block. Blocks must be in height order.
func RepresentativeBlocks(blocks []models.Header, intervalMs int64) []models.Header {
	if len(blocks) == 0 {
		return nil
	}
	seen := make(map[int64]bool)
	out := make([]models.Header, 0, 4)
	for _, h := range blocks {
		start := utils.FloorTo(h.TimestampMs, intervalMs)
		if seen[start] {
			continue
		}
		seen[start] = true
		out = append(out, h)
	}
	last := blocks[len(blocks)-1]
	if out[len(out)-1].Height != last.Height {
		out = append(out, last)
	}
	return out
}

// Plan expands the representative blocks into one task per eligible tracked asset.
func (b *Backfiller) Plan(ctx context.Context, blocks []models.Header) ([]Task, error) {
	tracked, err := b.tracker.TrackedAssets(ctx)
	if err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(tracked))
	for a := range tracked {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	var tasks []Task
	unconfigured := 0
	for _, blk := range RepresentativeBlocks(blocks, b.intervalMs) {
		for _, asset := range assets {
			if tracked[asset] > blk.Height {
				continue
			}
			cfg, ok := b.catalog.Lookup(asset)
			if !ok {
				unconfigured++
				continue
			}
			if !cfg.Eligible(blk.Height, blk.TimestampMs) {
				continue
			}
			tasks = append(tasks, Task{Asset: asset, Config: cfg, Block: blk})
		}
	}
	if unconfigured > 0 {
		b.logger.Debug("tracked assets without price config", zap.Int("skipped", unconfigured))
	}
	return tasks, nil
}

// Run plans and executes the backfill for a batch.
func (b *Backfiller) Run(ctx context.Context, blocks []models.Header) (Stats, error) {
	start := time.Now()
	tasks, err := b.Plan(ctx, blocks)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Blocks: len(RepresentativeBlocks(blocks, b.intervalMs)), Tasks: len(tasks)}
	if len(tasks) == 0 {
		return stats, nil
	}

	var priced, failed, misconfigured atomic.Int32
	group := b.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, task := range tasks {
		t := task
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			_, err := b.resolver.Resolve(groupCtx, t.Config, t.Asset, pricing.PriceContext{
				AtMs:     t.Block.TimestampMs,
				Height:   t.Block.Height,
				BucketMs: b.intervalMs,
			})
			if pricing.IsConfigError(err) {
				b.logger.Error("price config cannot be resolved",
					zap.String("asset", t.Asset),
					zap.Int64("height", t.Block.Height),
					zap.Error(err))
				misconfigured.Add(1)
				failed.Add(1)
				return
			}
			if err != nil {
				b.logger.Warn("price backfill task failed",
					zap.String("asset", t.Asset),
					zap.Int64("height", t.Block.Height),
					zap.Int64("atMs", t.Block.TimestampMs),
					zap.Error(err))
				failed.Add(1)
				return
			}
			priced.Add(1)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		b.logger.Warn("price backfill group encountered error", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	stats.Priced = int(priced.Load())
	stats.Failed = int(failed.Load())
	stats.ConfigErrors = int(misconfigured.Load())
	stats.Duration = time.Since(start)
	b.logger.Info("price backfill",
		zap.Int("blocks", stats.Blocks),
		zap.Int("tasks", stats.Tasks),
		zap.Int("priced", stats.Priced),
		zap.Int("failed", stats.Failed),
		zap.Int("configErrors", stats.ConfigErrors),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}
