// Package ledger keeps per-(asset, user) balances in the state store and turns every change
// of a held balance into a RawBalanceWindow.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config controls flushing.
type Config struct {
	IndexerID string
	// FlushInterval is the width of the periodic windows closed in live mode.
	FlushInterval time.Duration
	// FinalHeight is the last height of a bounded run. Zero means live.
	FinalHeight int64
	// RecentHorizon skips live flushes for blocks older than this behind the wall clock.
	// Zero disables the check.
	RecentHorizon time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// EventContext locates the event being applied.
type EventContext struct {
	TsMs     int64
	Height   int64
	TxHash   string
	LogIndex *int64
	// Activity labels the balance from this event on. Empty keeps the previous label.
	Activity string
	Meta     map[string]string
}

// Ref is the transaction reference recorded on windows, "<txHash>:<logIndex>" for logs.
func (e EventContext) Ref() string {
	if e.LogIndex == nil {
		return e.TxHash
	}
	return e.TxHash + ":" + strconv.FormatInt(*e.LogIndex, 10)
}

// Ledger is mutated by one goroutine at a time, in event order. The buffers are
// drained by the batch driver once per batch. Between Begin and Reset every write is
// staged in the batch overlay instead of the base store.
type Ledger struct {
	base   store.Store
	tx     atomic.Pointer[store.Overlay]
	cfg    Config
	logger *zap.Logger

	windows []models.RawBalanceWindow
	actions []models.RawAction
}

func New(s store.Store, cfg Config, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Ledger{base: s, cfg: cfg, logger: logger}
}

// Windows returns the windows emitted since the last Reset.
func (l *Ledger) Windows() []models.RawBalanceWindow { return l.windows }

// Actions returns the actions buffered since the last Reset.
func (l *Ledger) Actions() []models.RawAction { return l.actions }

// Begin starts a batch. Writes until Reset go to the returned overlay, which the caller
// commits once the batch output is durable.
func (l *Ledger) Begin() *store.Overlay {
	tx := store.NewOverlay(l.base)
	l.tx.Store(tx)
	return tx
}

// Reset clears the per-batch buffers and detaches the batch overlay. Uncommitted writes
// are dropped.
func (l *Ledger) Reset() {
	l.windows = nil
	l.actions = nil
	l.tx.Store(nil)
}

func (l *Ledger) kv() store.Store {
	if tx := l.tx.Load(); tx != nil {
		return tx
	}
	return l.base
}

// Balance returns the persisted record of (asset, user).
func (l *Ledger) Balance(ctx context.Context, asset, user string) (models.BalanceRecord, bool, error) {
	return l.load(ctx, chain.Canonical(asset), chain.Canonical(user))
}

// TrackedAssets returns every asset ever observed with the height it was first seen at.
func (l *Ledger) TrackedAssets(ctx context.Context) (map[string]int64, error) {
	raw, err := l.kv().HGetAll(ctx, trackedAssetsKey)
	if err != nil {
		return nil, fmt.Errorf("load tracked assets: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for asset, v := range raw {
		birth, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tracked asset %s birth %q: %w", asset, v, err)
		}
		out[asset] = birth
	}
	return out, nil
}

// ActiveKeys returns the (asset, user) pairs holding a positive balance and not marked
// inactive, sorted.
func (l *Ledger) ActiveKeys(ctx context.Context) ([][2]string, error) {
	members, err := l.kv().SMembers(ctx, activeKey)
	if err != nil {
		return nil, fmt.Errorf("load active balances: %w", err)
	}
	sort.Strings(members)
	out := make([][2]string, 0, len(members))
	for _, m := range members {
		asset, user := splitMember(m)
		out = append(out, [2]string{asset, user})
	}
	return out, nil
}

func (l *Ledger) track(ctx context.Context, asset string, height int64) error {
	if _, err := l.kv().HSetNX(ctx, trackedAssetsKey, asset, strconv.FormatInt(height, 10)); err != nil {
		return fmt.Errorf("track asset %s: %w", asset, err)
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, asset, user string) (models.BalanceRecord, bool, error) {
	fields, err := l.kv().HGetAll(ctx, balanceKey(asset, user))
	if err != nil {
		return models.BalanceRecord{}, false, fmt.Errorf("load balance %s/%s: %w", asset, user, err)
	}
	if len(fields) == 0 {
		return models.BalanceRecord{}, false, nil
	}
	rec := models.BalanceRecord{LastEventRef: fields["txRef"], Activity: fields["activity"]}
	if rec.Amount, err = decimal.NewFromString(fields["amount"]); err != nil {
		return rec, false, fmt.Errorf("balance %s/%s amount %q: %w", asset, user, fields["amount"], err)
	}
	if rec.UpdatedAtMs, err = strconv.ParseInt(fields["updatedTs"], 10, 64); err != nil {
		return rec, false, fmt.Errorf("balance %s/%s updatedTs: %w", asset, user, err)
	}
	if rec.UpdatedAtHeight, err = strconv.ParseInt(fields["updatedHeight"], 10, 64); err != nil {
		return rec, false, fmt.Errorf("balance %s/%s updatedHeight: %w", asset, user, err)
	}
	return rec, true, nil
}

func (l *Ledger) save(ctx context.Context, asset, user string, rec models.BalanceRecord) error {
	err := l.kv().HSet(ctx, balanceKey(asset, user), map[string]string{
		"amount":        rec.Amount.String(),
		"updatedTs":     strconv.FormatInt(rec.UpdatedAtMs, 10),
		"updatedHeight": strconv.FormatInt(rec.UpdatedAtHeight, 10),
		"txRef":         rec.LastEventRef,
		"activity":      rec.Activity,
	})
	if err != nil {
		return fmt.Errorf("save balance %s/%s: %w", asset, user, err)
	}
	return nil
}

func (l *Ledger) isInactive(ctx context.Context, asset, user string) (bool, error) {
	inactive, err := l.kv().SIsMember(ctx, inactiveKey, member(asset, user))
	if err != nil {
		return false, fmt.Errorf("load inactive flag %s/%s: %w", asset, user, err)
	}
	return inactive, nil
}

// emit buffers a window unless it would be empty.
func (l *Ledger) emit(w models.RawBalanceWindow) {
	if w.StartTs >= w.EndTs {
		return
	}
	if w.Activity == "" {
		w.Activity = models.DefaultActivity
	}
	l.windows = append(l.windows, w)
}
