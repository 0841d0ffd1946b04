package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const contractsABI = `[
 {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[
   {"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
 {"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[
   {"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},
   {"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},
   {"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}]},
 {"name":"positions","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[
   {"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},{"name":"token0","type":"address"},
   {"name":"token1","type":"address"},{"name":"fee","type":"uint24"},{"name":"tickLower","type":"int24"},
   {"name":"tickUpper","type":"int24"},{"name":"liquidity","type":"uint128"},
   {"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},
   {"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}]},
 {"name":"getPool","type":"function","stateMutability":"view","inputs":[
   {"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],
   "outputs":[{"name":"","type":"address"}]},
 {"name":"getReserveNormalizedIncome","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
 {"name":"getReserveNormalizedVariableDebt","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// Caller is the subset of ethclient.Client used for contract reads.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthReader implements Reader with eth_call against an archive-capable node.
type EthReader struct {
	caller Caller
	abi    abi.ABI
	logger *zap.Logger
}

// NewEthReader builds a reader over caller (typically *ethclient.Client).
func NewEthReader(caller Caller, logger *zap.Logger) (*EthReader, error) {
	parsed, err := abi.JSON(strings.NewReader(contractsABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EthReader{caller: caller, abi: parsed, logger: logger}, nil
}

func (r *EthReader) call(ctx context.Context, to common.Address, height int64, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	var block *big.Int
	if height > 0 {
		block = big.NewInt(height)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s at %d: %w", method, to.Hex(), height, err)
	}
	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s from %s: %w", method, to.Hex(), err)
	}
	r.logger.Debug("contract call",
		zap.String("method", method),
		zap.String("to", to.Hex()),
		zap.Int64("height", height))
	return values, nil
}

func (r *EthReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	v, err := r.call(ctx, token, 0, "decimals")
	if err != nil {
		return 0, err
	}
	return v[0].(uint8), nil
}

func (r *EthReader) PairTokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	t0, err := r.call(ctx, pool, 0, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	t1, err := r.call(ctx, pool, 0, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return t0[0].(common.Address), t1[0].(common.Address), nil
}

func (r *EthReader) Reserves(ctx context.Context, pool common.Address, height int64) (*big.Int, *big.Int, error) {
	v, err := r.call(ctx, pool, height, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	return v[0].(*big.Int), v[1].(*big.Int), nil
}

func (r *EthReader) TotalSupply(ctx context.Context, token common.Address, height int64) (*big.Int, error) {
	v, err := r.call(ctx, token, height, "totalSupply")
	if err != nil {
		return nil, err
	}
	return v[0].(*big.Int), nil
}

func (r *EthReader) Slot0(ctx context.Context, pool common.Address, height int64) (PoolState, error) {
	v, err := r.call(ctx, pool, height, "slot0")
	if err != nil {
		return PoolState{}, err
	}
	return PoolState{SqrtPriceX96: v[0].(*big.Int), Tick: v[1].(*big.Int).Int64()}, nil
}

func (r *EthReader) Position(ctx context.Context, manager common.Address, tokenID *big.Int, height int64) (Position, error) {
	v, err := r.call(ctx, manager, height, "positions", tokenID)
	if err != nil {
		return Position{}, err
	}
	return Position{
		Token0:    v[2].(common.Address),
		Token1:    v[3].(common.Address),
		Fee:       v[4].(*big.Int),
		TickLower: v[5].(*big.Int).Int64(),
		TickUpper: v[6].(*big.Int).Int64(),
		Liquidity: v[7].(*big.Int),
	}, nil
}

func (r *EthReader) PoolAddress(ctx context.Context, factory, token0, token1 common.Address, fee *big.Int) (common.Address, error) {
	v, err := r.call(ctx, factory, 0, "getPool", token0, token1, fee)
	if err != nil {
		return common.Address{}, err
	}
	return v[0].(common.Address), nil
}

// NormalizedIndex reads a lending pool's normalization index for underlying. method is
// getReserveNormalizedIncome for deposit tokens or getReserveNormalizedVariableDebt for debt tokens.
func (r *EthReader) NormalizedIndex(ctx context.Context, source, underlying common.Address, method string, height int64) (*big.Int, error) {
	switch method {
	case "getReserveNormalizedIncome", "getReserveNormalizedVariableDebt":
	default:
		return nil, fmt.Errorf("unsupported index method %q", method)
	}
	v, err := r.call(ctx, source, height, method, underlying)
	if err != nil {
		return nil, err
	}
	return v[0].(*big.Int), nil
}
