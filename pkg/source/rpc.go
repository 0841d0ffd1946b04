// Package source pulls ordered batches of confirmed blocks from an EVM JSON-RPC node.
package source

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Client is the subset of ethclient.Client the source uses.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config selects the range and contents of the batches.
type Config struct {
	// From is the first height to emit.
	From int64
	// To is the last height to emit. Zero follows the head.
	To            int64
	BatchSize     int64
	Confirmations int64
	Addresses     []common.Address
	// Transactions includes transactions sent to Addresses, with receipt gas data.
	Transactions bool
	// ChainID signs sender recovery for Transactions.
	ChainID *big.Int
	// Workers bounds concurrent header and receipt reads.
	Workers int
}

// RPC is a Source over a JSON-RPC client.
type RPC struct {
	client Client
	cfg    Config
	next   int64
	pool   pond.Pool
	logger *zap.Logger
}

func NewRPC(client Client, cfg Config, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.From < 0 {
		cfg.From = 0
	}
	return &RPC{client: client, cfg: cfg, next: cfg.From, pool: pond.NewPool(cfg.Workers), logger: logger}
}

// Close stops the read pool.
func (r *RPC) Close() { r.pool.StopAndWait() }

// NextHeight is the first height of the next batch.
func (r *RPC) NextHeight() int64 { return r.next }

// Next returns the next batch, or nothing when no confirmed block is available yet.
// A batch never crosses To.
func (r *RPC) Next(ctx context.Context) ([]models.Block, error) {
	latest, err := r.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	head := int64(latest) - r.cfg.Confirmations
	if r.cfg.To > 0 && head > r.cfg.To {
		head = r.cfg.To
	}
	if r.next > head {
		return nil, nil
	}
	end := r.next + r.cfg.BatchSize - 1
	if end > head {
		end = head
	}

	blocks, err := r.fetch(ctx, r.next, end)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("fetched batch", zap.Int64("from", r.next), zap.Int64("to", end), zap.Int64("head", head))
	r.next = end + 1
	return blocks, nil
}

func (r *RPC) fetch(ctx context.Context, from, to int64) ([]models.Block, error) {
	// An empty address filter matches every contract on the chain.
	var logs []types.Log
	if len(r.cfg.Addresses) > 0 {
		var err error
		logs, err = r.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: big.NewInt(from),
			ToBlock:   big.NewInt(to),
			Addresses: r.cfg.Addresses,
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
		}
	}

	blocks := make([]models.Block, to-from+1)
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := range blocks {
		height := from + int64(i)
		idx := i
		group.SubmitErr(func() error {
			blk, err := r.block(groupCtx, height)
			if err != nil {
				return err
			}
			blocks[idx] = blk
			return nil
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}

	for _, l := range logs {
		if l.Removed {
			continue
		}
		i := int64(l.BlockNumber) - from
		if i < 0 || i >= int64(len(blocks)) {
			continue
		}
		blocks[i].Logs = append(blocks[i].Logs, convertLog(l))
	}
	for i := range blocks {
		sort.Slice(blocks[i].Logs, func(a, b int) bool { return blocks[i].Logs[a].LogIndex < blocks[i].Logs[b].LogIndex })
	}
	return blocks, nil
}

func (r *RPC) block(ctx context.Context, height int64) (models.Block, error) {
	if !r.cfg.Transactions {
		h, err := r.client.HeaderByNumber(ctx, big.NewInt(height))
		if err != nil {
			return models.Block{}, fmt.Errorf("header %d: %w", height, err)
		}
		return models.Block{Header: convertHeader(h)}, nil
	}

	b, err := r.client.BlockByNumber(ctx, big.NewInt(height))
	if err != nil {
		return models.Block{}, fmt.Errorf("block %d: %w", height, err)
	}
	out := models.Block{Header: convertHeader(b.Header())}
	watched := make(map[common.Address]bool, len(r.cfg.Addresses))
	for _, a := range r.cfg.Addresses {
		watched[a] = true
	}
	signer := types.LatestSignerForChainID(r.cfg.ChainID)
	for _, tx := range b.Transactions() {
		if tx.To() == nil || !watched[*tx.To()] {
			continue
		}
		from, err := types.Sender(signer, tx)
		if err != nil {
			return models.Block{}, fmt.Errorf("sender of %s: %w", tx.Hash().Hex(), err)
		}
		receipt, err := r.client.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return models.Block{}, fmt.Errorf("receipt of %s: %w", tx.Hash().Hex(), err)
		}
		gasPrice := receipt.EffectiveGasPrice
		if gasPrice == nil {
			gasPrice = tx.GasPrice()
		}
		out.Transactions = append(out.Transactions, models.Transaction{
			Hash:     tx.Hash().Hex(),
			From:     chain.Canonical(from.Hex()),
			To:       chain.Canonical(tx.To().Hex()),
			GasUsed:  fmt.Sprintf("%d", receipt.GasUsed),
			GasPrice: gasPrice.String(),
			Status:   receipt.Status,
		})
	}
	return out, nil
}

func convertHeader(h *types.Header) models.Header {
	return models.Header{
		Height:      h.Number.Int64(),
		TimestampMs: int64(h.Time) * 1000,
		Hash:        h.Hash().Hex(),
	}
}

func convertLog(l types.Log) models.Log {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	return models.Log{
		Address:         chain.Canonical(l.Address.Hex()),
		Topics:          topics,
		Data:            l.Data,
		TransactionHash: l.TxHash.Hex(),
		LogIndex:        int64(l.Index),
	}
}
