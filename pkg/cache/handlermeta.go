package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canopy-network/exposure/pkg/store"
)

// HandlerMetaCache keeps auxiliary state of feed handlers, keyed by (feed kind, key),
// for example the constituent tokens of a pool or the bounds of a position.
type HandlerMetaCache struct {
	store store.Store
}

func NewHandlerMetaCache(s store.Store) *HandlerMetaCache {
	return &HandlerMetaCache{store: s}
}

// Load decodes the value stored under (kind, key) into out.
func (c *HandlerMetaCache) Load(ctx context.Context, kind, key string, out any) (bool, error) {
	raw, ok, err := c.store.HGet(ctx, handlerMetaKey(kind, key), "value")
	if err != nil {
		return false, fmt.Errorf("load handler meta %s/%s: %w", kind, key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode handler meta %s/%s: %w", kind, key, err)
	}
	return true, nil
}

// Store encodes v as JSON under (kind, key), replacing any previous value.
func (c *HandlerMetaCache) Store(ctx context.Context, kind, key string, v any) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode handler meta %s/%s: %w", kind, key, err)
	}
	if err := c.store.HSet(ctx, handlerMetaKey(kind, key), map[string]string{"value": string(bz)}); err != nil {
		return fmt.Errorf("store handler meta %s/%s: %w", kind, key, err)
	}
	return nil
}
