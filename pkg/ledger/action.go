package ledger

import (
	"context"

	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/models"
)

// ApplyAction stamps a with the event location and buffers it. Duplicates are resolved at
// enrichment.
func (l *Ledger) ApplyAction(ctx context.Context, a models.RawAction, ev EventContext) error {
	a.User = chain.Canonical(a.User)
	a.Asset = chain.Canonical(a.Asset)
	a.From = chain.Canonical(a.From)
	a.To = chain.Canonical(a.To)
	a.Ts = ev.TsMs
	a.Height = ev.Height
	if a.TxHash == "" {
		a.TxHash = ev.TxHash
	}
	if a.LogIndex == nil {
		a.LogIndex = ev.LogIndex
	}
	if a.Key == "" {
		a.Key = ev.Ref()
	}
	if a.Asset != "" {
		if err := l.track(ctx, a.Asset, ev.Height); err != nil {
			return err
		}
	}
	l.actions = append(l.actions, a)
	return nil
}
