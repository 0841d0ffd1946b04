package ledger

import (
	"context"
	"fmt"

	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApplyBalanceDelta adds delta (base units) to the balance of (asset, user) and closes the
// window the previous balance was held over. The zero address is the mint/burn sentinel
// and is ignored.
func (l *Ledger) ApplyBalanceDelta(ctx context.Context, user, asset string, delta decimal.Decimal, ev EventContext, trigger models.Trigger) error {
	user, asset = chain.Canonical(user), chain.Canonical(asset)
	if user == "" || chain.IsZero(user) {
		return nil
	}

	rec, found, err := l.load(ctx, asset, user)
	if err != nil {
		return err
	}
	if !found {
		rec = models.BalanceRecord{Amount: decimal.Zero, UpdatedAtMs: ev.TsMs, UpdatedAtHeight: ev.Height}
	}

	inactive, err := l.isInactive(ctx, asset, user)
	if err != nil {
		return err
	}

	newAmount := rec.Amount.Add(delta)
	if !inactive && rec.Amount.IsPositive() && rec.UpdatedAtMs < ev.TsMs {
		l.emit(models.RawBalanceWindow{
			User:        user,
			Asset:       asset,
			Activity:    rec.Activity,
			StartTs:     rec.UpdatedAtMs,
			EndTs:       ev.TsMs,
			StartHeight: rec.UpdatedAtHeight,
			EndHeight:   ev.Height,
			Trigger:     trigger,
			RawBefore:   rec.Amount.String(),
			RawAfter:    newAmount.String(),
			StartTxRef:  rec.LastEventRef,
			EndTxRef:    ev.Ref(),
			LogIndex:    ev.LogIndex,
			Meta:        ev.Meta,
		})
	}
	if newAmount.IsNegative() {
		l.logger.Warn("balance went negative",
			zap.String("asset", asset),
			zap.String("user", user),
			zap.String("amount", newAmount.String()),
			zap.Int64("height", ev.Height),
			zap.String("txRef", ev.Ref()))
	}

	rec.Amount = newAmount
	if ev.TsMs > rec.UpdatedAtMs {
		rec.UpdatedAtMs = ev.TsMs
	}
	rec.UpdatedAtHeight = ev.Height
	rec.LastEventRef = ev.Ref()
	if ev.Activity != "" {
		rec.Activity = ev.Activity
	}
	if err := l.save(ctx, asset, user, rec); err != nil {
		return err
	}

	if err := l.index(ctx, asset, user, newAmount.IsPositive(), !inactive); err != nil {
		return err
	}
	return l.track(ctx, asset, ev.Height)
}

// PositionUpdate splits the current window at ev without changing the balance.
func (l *Ledger) PositionUpdate(ctx context.Context, user, asset string, ev EventContext) error {
	return l.ApplyBalanceDelta(ctx, user, asset, decimal.Zero, ev, models.TriggerPositionUpdate)
}

// PositionStatusChange marks (asset, user) active or inactive. Inactive balances keep
// their amount but are not windowed. Repeating the current state is a no-op.
func (l *Ledger) PositionStatusChange(ctx context.Context, user, asset string, active bool, ev EventContext) error {
	user, asset = chain.Canonical(user), chain.Canonical(asset)
	if user == "" || chain.IsZero(user) {
		return nil
	}

	inactive, err := l.isInactive(ctx, asset, user)
	if err != nil {
		return err
	}

	switch {
	case inactive && active:
		if err := l.kv().SRem(ctx, inactiveKey, member(asset, user)); err != nil {
			return fmt.Errorf("clear inactive flag %s/%s: %w", asset, user, err)
		}
		rec, found, err := l.load(ctx, asset, user)
		if err != nil || !found {
			return err
		}
		rec.UpdatedAtMs = ev.TsMs
		rec.UpdatedAtHeight = ev.Height
		rec.LastEventRef = ev.Ref()
		if err := l.save(ctx, asset, user, rec); err != nil {
			return err
		}
		return l.index(ctx, asset, user, rec.Amount.IsPositive(), true)

	case !inactive && !active:
		rec, found, err := l.load(ctx, asset, user)
		if err != nil {
			return err
		}
		if found {
			if rec.Amount.IsPositive() && rec.UpdatedAtMs < ev.TsMs {
				l.emit(models.RawBalanceWindow{
					User:        user,
					Asset:       asset,
					Activity:    rec.Activity,
					StartTs:     rec.UpdatedAtMs,
					EndTs:       ev.TsMs,
					StartHeight: rec.UpdatedAtHeight,
					EndHeight:   ev.Height,
					Trigger:     models.TriggerInactivePosition,
					RawBefore:   rec.Amount.String(),
					RawAfter:    rec.Amount.String(),
					StartTxRef:  rec.LastEventRef,
					EndTxRef:    ev.Ref(),
					LogIndex:    ev.LogIndex,
					Meta:        ev.Meta,
				})
				rec.UpdatedAtMs = ev.TsMs
			}
			rec.UpdatedAtHeight = ev.Height
			rec.LastEventRef = ev.Ref()
			if err := l.save(ctx, asset, user, rec); err != nil {
				return err
			}
		}
		if err := l.kv().SAdd(ctx, inactiveKey, member(asset, user)); err != nil {
			return fmt.Errorf("set inactive flag %s/%s: %w", asset, user, err)
		}
		if err := l.kv().SRem(ctx, activeKey, member(asset, user)); err != nil {
			return fmt.Errorf("clear active flag %s/%s: %w", asset, user, err)
		}
	}
	return nil
}

// index keeps balances:gt0 and activebalances in line with the balance. A balance is
// active when it is positive and its position is not inactive.
func (l *Ledger) index(ctx context.Context, asset, user string, positive, activePosition bool) error {
	m := member(asset, user)
	var err error
	if positive {
		err = l.kv().SAdd(ctx, hasBalanceKey, m)
	} else {
		err = l.kv().SRem(ctx, hasBalanceKey, m)
	}
	if err != nil {
		return fmt.Errorf("update balance set %s/%s: %w", asset, user, err)
	}
	if positive && activePosition {
		err = l.kv().SAdd(ctx, activeKey, m)
	} else {
		err = l.kv().SRem(ctx, activeKey, m)
	}
	if err != nil {
		return fmt.Errorf("update active set %s/%s: %w", asset, user, err)
	}
	return nil
}
