package store

import "context"

type opKind uint8

const (
	opHSet opKind = iota + 1
	opHSetNX
	opSAdd
	opSRem
	opSet
	opTSAdd
)

// Op is one staged write. Every kind is idempotent, so a batch of ops can be re-applied
// after an ambiguous failure.
type Op struct {
	kind    opKind
	key     string
	values  map[string]string
	field   string
	value   string
	members []string
	ts      int64
}

// applyTo replays the op through the public methods of s.
func (o Op) applyTo(ctx context.Context, s Store) error {
	switch o.kind {
	case opHSet:
		return s.HSet(ctx, o.key, o.values)
	case opHSetNX:
		_, err := s.HSetNX(ctx, o.key, o.field, o.value)
		return err
	case opSAdd:
		return s.SAdd(ctx, o.key, o.members...)
	case opSRem:
		return s.SRem(ctx, o.key, o.members...)
	case opSet:
		return s.Set(ctx, o.key, o.value)
	case opTSAdd:
		return s.TSAdd(ctx, o.key, o.ts, o.value)
	}
	return nil
}
