package engine

import (
	"context"

	"github.com/canopy-network/exposure/pkg/ledger"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Hooks is the callback surface handed to adapters for one event. Every call is applied
// at the event's timestamp, height and transaction reference.
type Hooks struct {
	engine *Engine
	ev     ledger.EventContext
}

// Event returns the context the hooks apply at.
func (h *Hooks) Event() ledger.EventContext { return h.ev }

// WithActivity returns hooks that label balances with activity and attach meta to the
// windows they close.
func (h *Hooks) WithActivity(activity string, meta map[string]string) *Hooks {
	ev := h.ev
	ev.Activity = activity
	ev.Meta = meta
	return &Hooks{engine: h.engine, ev: ev}
}

func (h *Hooks) BalanceDelta(ctx context.Context, user, asset string, delta decimal.Decimal) error {
	return h.engine.ledger.ApplyBalanceDelta(ctx, user, asset, delta, h.ev, models.TriggerBalanceDelta)
}

func (h *Hooks) PositionUpdate(ctx context.Context, user, asset string) error {
	return h.engine.ledger.PositionUpdate(ctx, user, asset, h.ev)
}

func (h *Hooks) PositionStatusChange(ctx context.Context, user, asset string, active bool) error {
	return h.engine.ledger.PositionStatusChange(ctx, user, asset, active, h.ev)
}

func (h *Hooks) MeasureDelta(ctx context.Context, asset, metric string, delta decimal.Decimal) error {
	return h.engine.ledger.MeasureDelta(ctx, asset, metric, delta, h.ev)
}

func (h *Hooks) Action(ctx context.Context, a models.RawAction) error {
	return h.engine.ledger.ApplyAction(ctx, a, h.ev)
}

// Reprice writes a fresh price sample for asset at the event, ignoring cached samples.
// Failures are logged and never fail the batch.
func (h *Hooks) Reprice(ctx context.Context, asset string) error {
	e := h.engine
	cfg, ok := e.catalog.Lookup(asset)
	if !ok {
		e.logger.Debug("reprice of unconfigured asset", zap.String("asset", asset))
		return nil
	}
	_, err := e.resolver.Resolve(ctx, cfg, asset, pricing.PriceContext{
		AtMs:     h.ev.TsMs,
		Height:   h.ev.Height,
		BucketMs: e.cfg.FlushInterval.Milliseconds(),
		Bypass:   true,
	})
	switch {
	case pricing.IsConfigError(err):
		e.logger.Error("price config cannot be resolved", zap.String("asset", asset), zap.Int64("height", h.ev.Height), zap.Error(err))
	case err != nil:
		e.logger.Warn("reprice failed", zap.String("asset", asset), zap.Int64("height", h.ev.Height), zap.Error(err))
	}
	return nil
}

// Label stores handler metadata such as position bounds or a pool's latest price.
func (h *Hooks) Label(ctx context.Context, kind, key string, value any) error {
	return h.engine.meta.Store(ctx, kind, key, value)
}
