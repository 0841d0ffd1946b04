package models

import (
	"github.com/shopspring/decimal"
)

// Trigger names the reason a balance window was closed.
type Trigger string

const (
	TriggerBalanceDelta     Trigger = "BALANCE_DELTA"
	TriggerPositionUpdate   Trigger = "POSITION_UPDATE"
	TriggerExhausted        Trigger = "EXHAUSTED"
	TriggerFinal            Trigger = "FINAL"
	TriggerInactivePosition Trigger = "INACTIVE_POSITION"
)

// DefaultActivity labels windows whose adapter did not name one.
const DefaultActivity = "hold"

// BalanceRecord is the persisted state of one (asset, user) pair.
// Amount is in base units and is never negative in normal operation.
type BalanceRecord struct {
	Amount          decimal.Decimal
	UpdatedAtMs     int64
	UpdatedAtHeight int64
	LastEventRef    string
	Activity        string
}

// RawBalanceWindow records a balance held constant over [StartTs, EndTs).
// StartTs < EndTs always holds for emitted windows.
type RawBalanceWindow struct {
	User        string            `json:"user"`
	Asset       string            `json:"asset"`
	Activity    string            `json:"activity"`
	StartTs     int64             `json:"startTs"`
	EndTs       int64             `json:"endTs"`
	StartHeight int64             `json:"startHeight"`
	EndHeight   int64             `json:"endHeight"`
	Trigger     Trigger           `json:"trigger"`
	RawBefore   string            `json:"rawBefore"`
	RawAfter    string            `json:"rawAfter"`
	StartTxRef  string            `json:"startTxRef"`
	EndTxRef    string            `json:"endTxRef,omitempty"`
	LogIndex    *int64            `json:"logIndex,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// DurationMs is the length of the window.
func (w RawBalanceWindow) DurationMs() int64 { return w.EndTs - w.StartTs }

// RawAction is a point-in-time event. Actions sharing Key collapse to the first one.
type RawAction struct {
	Key       string            `json:"key"`
	User      string            `json:"user"`
	Priceable bool              `json:"priceable"`
	Asset     string            `json:"asset,omitempty"`
	Amount    string            `json:"amount,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Ts        int64             `json:"ts"`
	Height    int64             `json:"height"`
	TxHash    string            `json:"txHash"`
	LogIndex  *int64            `json:"logIndex,omitempty"`
	GasUsed   string            `json:"gasUsed,omitempty"`
	GasPrice  string            `json:"gasPrice,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
}

// EnrichedWindow is a window with its time-weighted USD valuation attached.
type EnrichedWindow struct {
	RawBalanceWindow
	Decimals   int32           `json:"decimals"`
	TwaPrice   decimal.Decimal `json:"twaPrice"`
	ValueUsd   decimal.Decimal `json:"valueUsd"`
	CoveredMs  int64           `json:"coveredMs"`
	Samples    int             `json:"samples"`
	DurationMs int64           `json:"durationMs"`
}

// EnrichedAction is a deduplicated action, valued when priceable.
// ValueUsd is nil for actions that are not priceable.
type EnrichedAction struct {
	RawAction
	PriceUsd *decimal.Decimal `json:"priceUsd,omitempty"`
	ValueUsd *decimal.Decimal `json:"valueUsd,omitempty"`
}
