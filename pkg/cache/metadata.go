package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/store"
	"github.com/puzpuzpuz/xsync/v4"
)

// MetadataCache maps an asset key to its static metadata. Entries are written once and
// memoized in process, since they never change after the first write.
type MetadataCache struct {
	store store.Store
	memo  *xsync.Map[string, models.AssetMetadata]
}

func NewMetadataCache(s store.Store) *MetadataCache {
	return &MetadataCache{store: s, memo: xsync.NewMap[string, models.AssetMetadata]()}
}

// Get returns the cached metadata of asset.
func (c *MetadataCache) Get(ctx context.Context, asset string) (models.AssetMetadata, bool, error) {
	if md, ok := c.memo.Load(asset); ok {
		return md, true, nil
	}
	fields, err := c.store.HGetAll(ctx, metadataKey(asset))
	if err != nil {
		return models.AssetMetadata{}, false, fmt.Errorf("load metadata %s: %w", asset, err)
	}
	raw, ok := fields["decimals"]
	if !ok {
		return models.AssetMetadata{}, false, nil
	}
	dec, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return models.AssetMetadata{}, false, fmt.Errorf("metadata %s: bad decimals %q: %w", asset, raw, err)
	}
	md := models.AssetMetadata{Decimals: int32(dec), Symbol: fields["symbol"]}
	c.memo.Store(asset, md)
	return md, true, nil
}

// Put stores metadata for asset unless some is already present.
func (c *MetadataCache) Put(ctx context.Context, asset string, md models.AssetMetadata) error {
	if _, ok := c.memo.Load(asset); ok {
		return nil
	}
	wrote, err := c.store.HSetNX(ctx, metadataKey(asset), "decimals", strconv.FormatInt(int64(md.Decimals), 10))
	if err != nil {
		return fmt.Errorf("store metadata %s: %w", asset, err)
	}
	if !wrote {
		// Another writer got there first; the stored value stays authoritative.
		_, _, err = c.Get(ctx, asset)
		return err
	}
	if md.Symbol != "" {
		if err := c.store.HSet(ctx, metadataKey(asset), map[string]string{"symbol": md.Symbol}); err != nil {
			return fmt.Errorf("store metadata %s: %w", asset, err)
		}
	}
	c.memo.Store(asset, md)
	return nil
}
