package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/exposure/pkg/backfill"
	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/enrich"
	"github.com/canopy-network/exposure/pkg/ledger"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/canopy-network/exposure/pkg/pricing/feeds"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// deltaAdapter reads the user from topic 0 and a signed delta from the data.
type deltaAdapter struct{}

func (deltaAdapter) Name() string { return "delta" }

func (deltaAdapter) HandleLog(ctx context.Context, h *Hooks, log models.Log) error {
	delta, err := decimal.NewFromString(string(log.Data))
	if err != nil {
		return err
	}
	if err := h.BalanceDelta(ctx, log.Topics[0], log.Address, delta); err != nil {
		return err
	}
	if delta.IsPositive() {
		return h.Action(ctx, models.RawAction{User: log.Topics[0], Priceable: true, Asset: log.Address, Amount: delta.String()})
	}
	return nil
}

type failingAdapter struct{}

func (failingAdapter) Name() string { return "failing" }

func (failingAdapter) HandleLog(context.Context, *Hooks, models.Log) error {
	return errors.New("decode failed")
}

type memorySink struct {
	mu      sync.Mutex
	windows []models.EnrichedWindow
	actions []models.EnrichedAction
	closed  bool
	// failWindows is the number of upcoming window writes to reject.
	failWindows int
}

func (s *memorySink) WriteWindows(_ context.Context, w []models.EnrichedWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWindows > 0 {
		s.failWindows--
		return errors.New("sink unavailable")
	}
	s.windows = append(s.windows, w...)
	return nil
}

func (s *memorySink) WriteActions(_ context.Context, a []models.EnrichedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a...)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

type sliceSource struct {
	batches [][]models.Block
}

func (s *sliceSource) Next(context.Context) ([]models.Block, error) {
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func block(height, ts int64, logs ...models.Log) models.Block {
	for i := range logs {
		logs[i].LogIndex = int64(i)
		logs[i].TransactionHash = "0xtx" + string(rune('a'+height))
	}
	return models.Block{Header: models.Header{Height: height, TimestampMs: ts}, Logs: logs}
}

func delta(user, value string) models.Log {
	return models.Log{Address: "tok", Topics: []string{user}, Data: []byte(value)}
}

type harness struct {
	engine *Engine
	sink   *memorySink
	store  *store.Memory
}

func newHarness(t *testing.T, finalHeight int64, adapters ...Adapter) harness {
	logger := zaptest.NewLogger(t)
	s := store.NewMemory()
	interval := time.Second

	zero := int32(0)
	catalog, err := pricing.NewCatalog(map[string]pricing.AssetConfig{
		"tok": {
			AssetType: pricing.AssetTypeStatic,
			Decimals:  &zero,
			PriceFeed: pricing.FeedSelector{Kind: pricing.FeedPegged, Value: "2"},
		},
	})
	require.NoError(t, err)

	meta := cache.NewHandlerMetaCache(s)
	metadata := cache.NewMetadataCache(s)
	prices := cache.NewPriceCache(s)
	reg := feeds.Register(pricing.NewRegistry(), feeds.Deps{Meta: meta, Logger: logger})
	resolver := pricing.NewResolver(reg, metadata, prices, logger)

	l := ledger.New(s, ledger.Config{IndexerID: "t", FlushInterval: interval, FinalHeight: finalHeight}, logger)
	bf := backfill.New(resolver, catalog, l, interval, 4, logger)
	t.Cleanup(bf.Close)

	sink := &memorySink{}
	e := New(Config{IndexerID: "t", FlushInterval: interval, FinalHeight: finalHeight, PollInterval: time.Millisecond}, Deps{
		Store:    s,
		Ledger:   l,
		Resolver: resolver,
		Catalog:  catalog,
		Meta:     meta,
		Backfill: bf,
		Enricher: enrich.New(prices, metadata, logger),
		Sink:     sink,
		Adapters: adapters,
		Logger:   logger,
	})
	return harness{engine: e, sink: sink, store: s}
}

func TestRunToFinalHeight(t *testing.T) {
	h := newHarness(t, 3, deltaAdapter{})
	src := &sliceSource{batches: [][]models.Block{
		{block(1, 0, delta("alice", "100")), block(2, 1000, delta("alice", "-40"))},
		{block(3, 2500)},
	}}

	err := h.engine.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrFinished)

	require.Len(t, h.sink.windows, 2)
	first, final := h.sink.windows[0], h.sink.windows[1]
	assert.Equal(t, models.TriggerBalanceDelta, first.Trigger)
	assert.True(t, first.ValueUsd.Equal(decimal.NewFromInt(200)), first.ValueUsd.String())
	assert.Equal(t, models.TriggerFinal, final.Trigger)
	assert.Equal(t, int64(1000), final.StartTs)
	assert.Equal(t, int64(2500), final.EndTs)
	assert.True(t, final.ValueUsd.Equal(decimal.NewFromInt(120)), final.ValueUsd.String())

	require.Len(t, h.sink.actions, 1)
	require.NotNil(t, h.sink.actions[0].ValueUsd)
	assert.True(t, h.sink.actions[0].ValueUsd.Equal(decimal.NewFromInt(200)))

	cursor, ok, err := h.engine.Cursor(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), cursor)

	require.NoError(t, h.engine.Close())
	assert.True(t, h.sink.closed)
}

func TestFailedBatchKeepsCursor(t *testing.T) {
	h := newHarness(t, 0, failingAdapter{})
	_, err := h.engine.ProcessBatch(context.Background(), []models.Block{block(1, 0, delta("alice", "1"))})
	require.Error(t, err)

	_, ok, err := h.engine.Cursor(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplayAfterSinkFailure(t *testing.T) {
	h := newHarness(t, 0, deltaAdapter{})
	ctx := context.Background()

	_, err := h.engine.ProcessBatch(ctx, []models.Block{block(1, 0, delta("alice", "100"))})
	require.NoError(t, err)

	second := []models.Block{block(2, 1000, delta("alice", "-40"))}
	h.sink.failWindows = 1
	_, err = h.engine.ProcessBatch(ctx, second)
	require.Error(t, err)
	assert.Empty(t, h.sink.windows)

	cursor, ok, err := h.engine.Cursor(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), cursor)
	rec, found, err := h.engine.ledger.Balance(ctx, "tok", "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "100", rec.Amount.String())
	boundary, ok, err := h.engine.ledger.FlushBoundary(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), boundary)

	_, err = h.engine.ProcessBatch(ctx, second)
	require.NoError(t, err)

	rec, _, err = h.engine.ledger.Balance(ctx, "tok", "alice")
	require.NoError(t, err)
	assert.Equal(t, "60", rec.Amount.String())
	require.Len(t, h.sink.windows, 1)
	w := h.sink.windows[0]
	assert.Equal(t, int64(0), w.StartTs)
	assert.Equal(t, int64(1000), w.EndTs)
	assert.Equal(t, "100", w.RawBefore)
	assert.True(t, w.ValueUsd.Equal(decimal.NewFromInt(200)), w.ValueUsd.String())

	cursor, _, err = h.engine.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)
}

func TestRunStopsOnContext(t *testing.T) {
	h := newHarness(t, 0, deltaAdapter{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.engine.Run(ctx, &sliceSource{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHooksLabelAndReprice(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	hooks := &Hooks{engine: h.engine, ev: ledger.EventContext{TsMs: 1234, Height: 5}}

	require.NoError(t, hooks.Label(ctx, feeds.PoolStateLabelKind, "pool", feeds.PoolStateLabel{Tick: 7, Height: 5}))
	var label feeds.PoolStateLabel
	ok, err := h.engine.meta.Load(ctx, feeds.PoolStateLabelKind, "pool", &label)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), label.Tick)

	require.NoError(t, hooks.Reprice(ctx, "tok"))
	require.NoError(t, hooks.Reprice(ctx, "unconfigured"))
	raw, ok, err := h.store.TSLatest(ctx, "price:tok", 1234)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1234), raw.Ts)
}
