package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mapCatalog map[string]pricing.AssetConfig

func (m mapCatalog) Lookup(asset string) (pricing.AssetConfig, bool) {
	cfg, ok := m[asset]
	return cfg, ok
}

type staticTracker map[string]int64

func (s staticTracker) TrackedAssets(context.Context) (map[string]int64, error) { return s, nil }

type recordingResolver struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recordingResolver) Resolve(_ context.Context, _ pricing.AssetConfig, asset string, pc pricing.PriceContext) (pricing.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s@%d", asset, pc.Height))
	if err := r.fail[asset]; err != nil {
		return pricing.Result{}, err
	}
	return pricing.Result{Price: decimal.NewFromInt(1)}, nil
}

func (r *recordingResolver) sorted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.calls...)
	sort.Strings(out)
	return out
}

func headers(ts ...int64) []models.Header {
	out := make([]models.Header, len(ts))
	for i, t := range ts {
		out[i] = models.Header{Height: int64(i + 1), TimestampMs: t}
	}
	return out
}

func TestRepresentativeBlocks(t *testing.T) {
	blocks := headers(100, 400, 1100, 1900, 2050, 2600)
	reps := RepresentativeBlocks(blocks, 1000)
	heights := []int64{}
	for _, h := range reps {
		heights = append(heights, h.Height)
	}
	assert.Equal(t, []int64{1, 3, 5, 6}, heights)

	assert.Len(t, RepresentativeBlocks(headers(100, 200), 1000), 2)
	assert.Len(t, RepresentativeBlocks(headers(100), 1000), 1)
	assert.Nil(t, RepresentativeBlocks(nil, 1000))
}

func TestRunSchedulesEligibleAssets(t *testing.T) {
	catalog := mapCatalog{
		"a": {},
		"b": {PriceFromHeight: 3},
		"c": {},
	}
	tracker := staticTracker{"a": 1, "b": 1, "c": 3, "unconfigured": 1}
	r := &recordingResolver{}
	b := New(r, catalog, tracker, time.Second, 4, zaptest.NewLogger(t))
	defer b.Close()

	stats, err := b.Run(context.Background(), headers(100, 1100, 1200))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Blocks)
	assert.Equal(t, []string{"a@1", "a@2", "a@3", "b@3", "c@3"}, r.sorted())
	assert.Equal(t, 5, stats.Priced)
}

func TestRunSkipsTransientFailures(t *testing.T) {
	r := &recordingResolver{fail: map[string]error{"a": errors.New("rate limited")}}
	b := New(r, mapCatalog{"a": {}, "b": {}}, staticTracker{"a": 1, "b": 1}, time.Second, 2, zaptest.NewLogger(t))
	defer b.Close()

	stats, err := b.Run(context.Background(), headers(100))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Priced)
	assert.Equal(t, 1, stats.Failed)
}

func TestRunSkipsConfigurationErrors(t *testing.T) {
	r := &recordingResolver{fail: map[string]error{"a": fmt.Errorf("%w for kind x", pricing.ErrNoFeedHandler)}}
	b := New(r, mapCatalog{"a": {}, "b": {}}, staticTracker{"a": 1, "b": 1}, time.Second, 2, zaptest.NewLogger(t))
	defer b.Close()

	stats, err := b.Run(context.Background(), headers(100))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Priced)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.ConfigErrors)
	assert.Equal(t, []string{"a@1", "b@1"}, r.sorted())
}
