package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/canopy-network/exposure/pkg/utils"
	"go.uber.org/zap"
)

// Flush closes windows of every active balance at a time boundary. It runs once per
// batch with the timestamp and height of the batch's last block:
//
//   - height < FinalHeight: skipped while backfilling a bounded range.
//   - height == FinalHeight: every balance is closed at nowMs with trigger FINAL.
//   - FinalHeight == 0: balances are closed at the last FlushInterval boundary with
//     trigger EXHAUSTED, once per boundary, unless the block is older than RecentHorizon.
func (l *Ledger) Flush(ctx context.Context, nowMs, height int64) error {
	final := l.cfg.FinalHeight
	switch {
	case final > 0 && height < final:
		l.logger.Debug("flush skipped while backfilling", zap.Int64("height", height), zap.Int64("finalHeight", final))
		return nil
	case final > 0 && height == final:
		n, err := l.closeActive(ctx, nowMs, height, models.TriggerFinal)
		if err != nil {
			return err
		}
		l.logger.Info("final flush", zap.Int64("height", height), zap.Int64("nowMs", nowMs), zap.Int("windows", n))
		return nil
	case final > 0:
		return nil
	}

	if h := l.cfg.RecentHorizon; h > 0 {
		if lag := l.cfg.Clock().UnixMilli() - nowMs; lag > h.Milliseconds() {
			l.logger.Debug("flush skipped for stale block", zap.Int64("height", height), zap.Int64("lagMs", lag))
			return nil
		}
	}
	interval := l.cfg.FlushInterval.Milliseconds()
	if interval <= 0 {
		return nil
	}

	boundary := utils.FloorTo(nowMs, interval)
	last, ok, err := flushBoundary(ctx, l.kv(), l.cfg.IndexerID)
	if err != nil {
		return err
	}
	if ok && last >= boundary {
		return nil
	}

	n, err := l.closeActive(ctx, boundary, height, models.TriggerExhausted)
	if err != nil {
		return err
	}

	if err := l.kv().Set(ctx, FlushBoundaryKey(l.cfg.IndexerID), strconv.FormatInt(boundary, 10)); err != nil {
		return fmt.Errorf("save flush boundary: %w", err)
	}
	l.logger.Info("periodic flush", zap.Int64("boundary", boundary), zap.Int64("height", height), zap.Int("windows", n))
	return nil
}

// FlushBoundary returns the last committed flush boundary.
func (l *Ledger) FlushBoundary(ctx context.Context) (int64, bool, error) {
	return flushBoundary(ctx, l.base, l.cfg.IndexerID)
}

func flushBoundary(ctx context.Context, s store.Store, indexerID string) (int64, bool, error) {
	raw, ok, err := s.Get(ctx, FlushBoundaryKey(indexerID))
	if err != nil {
		return 0, false, fmt.Errorf("load flush boundary: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("flush boundary %q: %w", raw, err)
	}
	return v, true, nil
}

// closeActive emits [updatedAtMs, endMs) for every active balance that started before
// endMs and advances it to endMs.
func (l *Ledger) closeActive(ctx context.Context, endMs, height int64, trigger models.Trigger) (int, error) {
	keys, err := l.ActiveKeys(ctx)
	if err != nil {
		return 0, err
	}
	emitted := 0
	for _, k := range keys {
		asset, user := k[0], k[1]
		rec, found, err := l.load(ctx, asset, user)
		if err != nil {
			return emitted, err
		}
		if !found || !rec.Amount.IsPositive() || rec.UpdatedAtMs >= endMs {
			continue
		}
		l.emit(models.RawBalanceWindow{
			User:        user,
			Asset:       asset,
			Activity:    rec.Activity,
			StartTs:     rec.UpdatedAtMs,
			EndTs:       endMs,
			StartHeight: rec.UpdatedAtHeight,
			EndHeight:   height,
			Trigger:     trigger,
			RawBefore:   rec.Amount.String(),
			RawAfter:    rec.Amount.String(),
			StartTxRef:  rec.LastEventRef,
		})
		emitted++
		rec.UpdatedAtMs = endMs
		rec.UpdatedAtHeight = height
		if err := l.save(ctx, asset, user, rec); err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}
