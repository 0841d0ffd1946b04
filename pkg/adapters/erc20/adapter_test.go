package erc20

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/canopy-network/exposure/pkg/backfill"
	"github.com/canopy-network/exposure/pkg/cache"
	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/engine"
	"github.com/canopy-network/exposure/pkg/enrich"
	"github.com/canopy-network/exposure/pkg/ledger"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	tokenAddr = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	alice     = "0x1111111111111111111111111111111111111111"
	bob       = "0x2222222222222222222222222222222222222222"
)

type captureSink struct {
	actions []models.EnrichedAction
}

func (s *captureSink) WriteWindows(context.Context, []models.EnrichedWindow) error { return nil }

func (s *captureSink) WriteActions(_ context.Context, a []models.EnrichedAction) error {
	s.actions = append(s.actions, a...)
	return nil
}

func (s *captureSink) Close() error { return nil }

func transfer(from, to string, value int64) models.Log {
	return models.Log{
		Address: tokenAddr,
		Topics: []string{
			TransferTopic.Hex(),
			common.BytesToHash(common.HexToAddress(from).Bytes()).Hex(),
			common.BytesToHash(common.HexToAddress(to).Bytes()).Hex(),
		},
		Data:            common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		TransactionHash: "0xfeed",
	}
}

func TestTransfersMoveBalances(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	s := store.NewMemory()
	catalog, err := pricing.NewCatalog(nil)
	require.NoError(t, err)

	l := ledger.New(s, ledger.Config{IndexerID: "t", FlushInterval: time.Hour}, logger)
	bf := backfill.New(nil, catalog, l, time.Hour, 1, logger)
	defer bf.Close()
	sink := &captureSink{}
	prices, metadata := cache.NewPriceCache(s), cache.NewMetadataCache(s)

	e := engine.New(engine.Config{IndexerID: "t", FlushInterval: time.Hour}, engine.Deps{
		Store:    s,
		Ledger:   l,
		Catalog:  catalog,
		Meta:     cache.NewHandlerMetaCache(s),
		Backfill: bf,
		Enricher: enrich.New(prices, metadata, logger),
		Sink:     sink,
		Adapters: []engine.Adapter{New([]string{tokenAddr}, logger)},
		Logger:   logger,
	})

	mint := transfer(chain.ZeroAddress, alice, 500)
	send := transfer(alice, bob, 200)
	send.LogIndex = 1
	other := transfer(alice, bob, 1)
	other.Address = "0x9999999999999999999999999999999999999999"
	other.LogIndex = 2

	_, err = e.ProcessBatch(ctx, []models.Block{{
		Header: models.Header{Height: 1, TimestampMs: 1000},
		Logs:   []models.Log{mint, send, other},
		Transactions: []models.Transaction{
			{Hash: "0xfeed", From: alice, To: tokenAddr, GasUsed: "52000", GasPrice: "1000000000"},
			{Hash: "0xbeef", From: alice, To: bob},
		},
	}})
	require.NoError(t, err)

	rec, ok, err := l.Balance(ctx, tokenAddr, alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "300", rec.Amount.String())

	rec, ok, err = l.Balance(ctx, tokenAddr, bob)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "200", rec.Amount.String())

	_, ok, err = l.Balance(ctx, tokenAddr, chain.ZeroAddress)
	require.NoError(t, err)
	assert.False(t, ok)

	// transfers are unpriced without a price config; the gas action passes through
	require.Len(t, sink.actions, 1)
	assert.Equal(t, "0xfeed:gas", sink.actions[0].Key)
	assert.Equal(t, "52000", sink.actions[0].GasUsed)
}

func TestIgnoresNonTransferLogs(t *testing.T) {
	a := New([]string{tokenAddr}, nil)
	approval := transfer(alice, bob, 1)
	approval.Topics[0] = common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925").Hex()
	require.NoError(t, a.HandleLog(context.Background(), nil, approval))

	nft := transfer(alice, bob, 1)
	nft.Topics = append(nft.Topics, common.BigToHash(big.NewInt(7)).Hex())
	require.NoError(t, a.HandleLog(context.Background(), nil, nft))

	assert.Len(t, a.Addresses(), 1)
}
