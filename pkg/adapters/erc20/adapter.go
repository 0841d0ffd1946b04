// Package erc20 turns ERC-20 Transfer logs into balance deltas and transfer actions, and
// transactions sent to tracked tokens into gas actions.
package erc20

import (
	"context"
	"math/big"

	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/engine"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransferTopic is the topic0 of Transfer(address,address,uint256).
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Adapter tracks balances of a fixed set of tokens.
type Adapter struct {
	tokens map[string]bool
	logger *zap.Logger
}

func New(tokens []string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[chain.Canonical(t)] = true
	}
	return &Adapter{tokens: set, logger: logger}
}

func (a *Adapter) Name() string { return "erc20" }

// Addresses returns the tracked token contracts, for log filtering.
func (a *Adapter) Addresses() []common.Address {
	out := make([]common.Address, 0, len(a.tokens))
	for t := range a.tokens {
		out = append(out, common.HexToAddress(t))
	}
	return out
}

func (a *Adapter) HandleLog(ctx context.Context, h *engine.Hooks, log models.Log) error {
	token := chain.Canonical(log.Address)
	if !a.tokens[token] {
		return nil
	}
	// ERC-721 transfers share the signature but index the token id as a fourth topic.
	if len(log.Topics) != 3 || common.HexToHash(log.Topics[0]) != TransferTopic {
		return nil
	}
	if len(log.Data) != 32 {
		a.logger.Debug("skipping malformed transfer", zap.String("tx", log.TransactionHash), zap.Int64("logIndex", log.LogIndex))
		return nil
	}

	from := topicAddress(log.Topics[1])
	to := topicAddress(log.Topics[2])
	value := new(big.Int).SetBytes(log.Data)
	amount := decimal.NewFromBigInt(value, 0)

	if err := h.BalanceDelta(ctx, from, token, amount.Neg()); err != nil {
		return err
	}
	if err := h.BalanceDelta(ctx, to, token, amount); err != nil {
		return err
	}
	return h.Action(ctx, models.RawAction{
		Key:       h.Event().Ref(),
		User:      from,
		Priceable: true,
		Asset:     token,
		Amount:    value.String(),
		From:      from,
		To:        to,
		Meta:      map[string]string{"type": "transfer"},
	})
}

func (a *Adapter) HandleTransaction(ctx context.Context, h *engine.Hooks, tx models.Transaction) error {
	if !a.tokens[chain.Canonical(tx.To)] {
		return nil
	}
	return h.Action(ctx, models.RawAction{
		Key:      tx.Hash + ":gas",
		User:     tx.From,
		GasUsed:  tx.GasUsed,
		GasPrice: tx.GasPrice,
		From:     tx.From,
		To:       tx.To,
		Meta:     map[string]string{"type": "gas"},
	})
}

func topicAddress(topic string) string {
	return chain.Canonical(common.BytesToAddress(common.HexToHash(topic).Bytes()).Hex())
}
