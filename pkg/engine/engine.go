// Package engine drives batches of blocks through adapters, the ledger, price backfill,
// enrichment and the sinks.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/enrich"
	"github.com/canopy-network/exposure/pkg/ledger"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/retry"
	"github.com/canopy-network/exposure/pkg/store"
	"go.uber.org/zap"
)

const cursorPrefix = "cursor:"

// CursorKey is where the last fully processed height of an indexer is stored.
func CursorKey(indexerID string) string { return cursorPrefix + indexerID }

// Config controls the batch loop.
type Config struct {
	IndexerID     string
	FlushInterval time.Duration
	FinalHeight   int64
	// PollInterval is the wait after an empty batch.
	PollInterval time.Duration
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Resolver Resolver
	Catalog  Catalog
	Meta     *cache.HandlerMetaCache
	Backfill Backfiller
	Enricher *enrich.Enricher
	Sink     Sink
	Adapters []Adapter
	Logger   *zap.Logger
}

// Engine processes one batch at a time. It is not safe for concurrent use.
type Engine struct {
	cfg      Config
	store    store.Store
	ledger   *ledger.Ledger
	resolver Resolver
	catalog  Catalog
	meta     *cache.HandlerMetaCache
	backfill Backfiller
	enricher *enrich.Enricher
	sink     Sink
	adapters []Adapter
	logger   *zap.Logger
}

func New(cfg Config, d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		store:    d.Store,
		ledger:   d.Ledger,
		resolver: d.Resolver,
		catalog:  d.Catalog,
		meta:     d.Meta,
		backfill: d.Backfill,
		enricher: d.Enricher,
		sink:     d.Sink,
		adapters: d.Adapters,
		logger:   logger,
	}
}

// Cursor returns the last fully processed height.
func (e *Engine) Cursor(ctx context.Context) (int64, bool, error) {
	raw, ok, err := e.store.Get(ctx, CursorKey(e.cfg.IndexerID))
	if err != nil || !ok {
		return 0, false, err
	}
	h, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cursor %q: %w", raw, err)
	}
	return h, true, nil
}

// ProcessBatch applies blocks in order, then flushes, backfills prices, enriches and
// writes to the sink. Ledger writes are staged for the whole batch and committed
// together with the cursor only after the sink accepted the output, so a failed batch
// leaves the store as it was and can be replayed.
func (e *Engine) ProcessBatch(ctx context.Context, blocks []models.Block) (BatchStats, error) {
	if len(blocks) == 0 {
		return BatchStats{}, nil
	}
	tx := e.ledger.Begin()
	defer e.ledger.Reset()

	stats := BatchStats{FromHeight: blocks[0].Header.Height, ToHeight: blocks[len(blocks)-1].Header.Height}
	headers := make([]models.Header, 0, len(blocks))
	for _, blk := range blocks {
		headers = append(headers, blk.Header)
		n, err := e.applyBlock(ctx, blk)
		if err != nil {
			return stats, fmt.Errorf("block %d: %w", blk.Header.Height, err)
		}
		stats.Logs += n
	}

	last := headers[len(headers)-1]
	if err := e.ledger.Flush(ctx, last.TimestampMs, last.Height); err != nil {
		return stats, fmt.Errorf("flush at %d: %w", last.Height, err)
	}

	bf, err := e.backfill.Run(ctx, headers)
	if err != nil {
		return stats, fmt.Errorf("price backfill: %w", err)
	}
	stats.Backfill = bf

	windows, actions, es, err := e.enricher.Batch(ctx, e.ledger.Windows(), e.ledger.Actions())
	if err != nil {
		return stats, fmt.Errorf("enrich: %w", err)
	}
	stats.Enrich = es

	if len(windows) > 0 {
		if err := e.sink.WriteWindows(ctx, windows); err != nil {
			return stats, fmt.Errorf("write windows: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := e.sink.WriteActions(ctx, actions); err != nil {
			return stats, fmt.Errorf("write actions: %w", err)
		}
	}

	if err := tx.Set(ctx, CursorKey(e.cfg.IndexerID), strconv.FormatInt(last.Height, 10)); err != nil {
		return stats, fmt.Errorf("stage cursor: %w", err)
	}
	err = retry.WithBackoff(ctx, retry.CheckpointConfig(), e.logger, "commit batch", func() error {
		return tx.Commit(ctx)
	})
	if err != nil {
		return stats, fmt.Errorf("commit batch %d-%d: %w", stats.FromHeight, stats.ToHeight, err)
	}

	e.logger.Info("processed batch",
		zap.Int64("from", stats.FromHeight),
		zap.Int64("to", stats.ToHeight),
		zap.Int("logs", stats.Logs),
		zap.Int("windows", es.Windows),
		zap.Int("unpricedWindows", es.UnpricedWindows),
		zap.Int("actions", es.Actions),
		zap.Int("priceTasks", bf.Tasks))
	return stats, nil
}

func (e *Engine) applyBlock(ctx context.Context, blk models.Block) (int, error) {
	for _, log := range blk.Logs {
		idx := log.LogIndex
		h := &Hooks{engine: e, ev: ledger.EventContext{
			TsMs:     blk.Header.TimestampMs,
			Height:   blk.Header.Height,
			TxHash:   log.TransactionHash,
			LogIndex: &idx,
		}}
		for _, a := range e.adapters {
			if err := a.HandleLog(ctx, h, log); err != nil {
				return 0, fmt.Errorf("adapter %s log %s:%d: %w", a.Name(), log.TransactionHash, log.LogIndex, err)
			}
		}
	}
	for _, tx := range blk.Transactions {
		h := &Hooks{engine: e, ev: ledger.EventContext{
			TsMs:   blk.Header.TimestampMs,
			Height: blk.Header.Height,
			TxHash: tx.Hash,
		}}
		for _, a := range e.adapters {
			ta, ok := a.(TxAdapter)
			if !ok {
				continue
			}
			if err := ta.HandleTransaction(ctx, h, tx); err != nil {
				return 0, fmt.Errorf("adapter %s tx %s: %w", a.Name(), tx.Hash, err)
			}
		}
	}
	return len(blk.Logs), nil
}

// Run processes batches from src until ctx is done, an error occurs, or the final
// height is processed, in which case it returns ErrFinished.
func (e *Engine) Run(ctx context.Context, src Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		blocks, err := src.Next(ctx)
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}
		if len(blocks) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}
		stats, err := e.ProcessBatch(ctx, blocks)
		if err != nil {
			return err
		}
		if e.cfg.FinalHeight > 0 && stats.ToHeight >= e.cfg.FinalHeight {
			e.logger.Info("final height processed", zap.Int64("height", stats.ToHeight))
			return ErrFinished
		}
	}
}

// Close closes the sink.
func (e *Engine) Close() error {
	return e.sink.Close()
}
