package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolState is the current price of a concentrated liquidity pool.
type PoolState struct {
	SqrtPriceX96 *big.Int
	Tick         int64
}

// Position is a concentrated liquidity position as stored by its manager contract.
type Position struct {
	Token0    common.Address
	Token1    common.Address
	Fee       *big.Int
	TickLower int64
	TickUpper int64
	Liquidity *big.Int
}

// Reader captures the contract reads the price feeds need. A height of 0 reads latest state.
type Reader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	PairTokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error)
	Reserves(ctx context.Context, pool common.Address, height int64) (*big.Int, *big.Int, error)
	TotalSupply(ctx context.Context, token common.Address, height int64) (*big.Int, error)
	Slot0(ctx context.Context, pool common.Address, height int64) (PoolState, error)
	Position(ctx context.Context, manager common.Address, tokenID *big.Int, height int64) (Position, error)
	PoolAddress(ctx context.Context, factory, token0, token1 common.Address, fee *big.Int) (common.Address, error)
	NormalizedIndex(ctx context.Context, source, underlying common.Address, method string, height int64) (*big.Int, error)
}
