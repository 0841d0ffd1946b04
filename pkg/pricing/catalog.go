package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/canopy-network/exposure/pkg/chain"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Assets map[string]AssetConfig `yaml:"assets"`
}

type prefixEntry struct {
	prefix string
	cfg    AssetConfig
}

// Catalog maps asset keys to their configs. A key ending in "*" matches every asset key
// with that prefix, which is how families such as position NFTs are configured.
type Catalog struct {
	exact    map[string]AssetConfig
	prefixes []prefixEntry
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset catalog: %w", err)
	}
	return ParseCatalog(bz)
}

// ParseCatalog decodes and validates a YAML catalog:
//
//	assets:
//	  "0xa0b8...":
//	    assetType: erc20
//	    priceFeed: {kind: external-spot, externalId: usd-coin}
func ParseCatalog(bz []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(bz, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return NewCatalog(f.Assets)
}

// NewCatalog validates every config and indexes them by canonical key.
func NewCatalog(assets map[string]AssetConfig) (*Catalog, error) {
	c := &Catalog{exact: make(map[string]AssetConfig, len(assets))}
	for key, cfg := range assets {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("asset %s: %w", key, err)
		}
		if p, ok := strings.CutSuffix(key, "*"); ok {
			c.prefixes = append(c.prefixes, prefixEntry{prefix: chain.Canonical(p), cfg: cfg})
			continue
		}
		c.exact[chain.Canonical(key)] = cfg
	}
	// Longest prefix wins.
	sort.Slice(c.prefixes, func(i, j int) bool { return len(c.prefixes[i].prefix) > len(c.prefixes[j].prefix) })
	return c, nil
}

// Lookup returns the config for a canonical asset key.
func (c *Catalog) Lookup(asset string) (AssetConfig, bool) {
	if cfg, ok := c.exact[asset]; ok {
		return cfg, true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(asset, p.prefix) {
			return p.cfg, true
		}
	}
	return AssetConfig{}, false
}

// Len returns the number of configured entries.
func (c *Catalog) Len() int { return len(c.exact) + len(c.prefixes) }
