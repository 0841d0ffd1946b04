package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetType selects the metadata resolver of an asset.
type AssetType string

const (
	AssetTypeERC20  AssetType = "erc20"
	AssetTypeStatic AssetType = "static"
)

// FeedKind is the discriminator of FeedSelector.
type FeedKind string

const (
	FeedPegged       FeedKind = "pegged"
	FeedExternalSpot FeedKind = "external-spot"
	FeedPoolNAV      FeedKind = "pool-nav"
	FeedCLPosition   FeedKind = "cl-position"
	FeedIndexScaled  FeedKind = "index-scaled"
)

// Lending pool methods an index-scaled feed may read its index through.
const (
	IndexMethodIncome       = "getReserveNormalizedIncome"
	IndexMethodVariableDebt = "getReserveNormalizedVariableDebt"
)

// maxConfigDepth bounds how deeply feed selectors may nest constituent configs.
const maxConfigDepth = 8

// AssetConfig describes how to value one asset.
type AssetConfig struct {
	AssetType AssetType    `yaml:"assetType"`
	Decimals  *int32       `yaml:"decimals,omitempty"`
	PriceFeed FeedSelector `yaml:"priceFeed"`

	// Pricing eligibility. Backfill skips the asset before either threshold.
	PriceFromHeight int64     `yaml:"priceFromHeight,omitempty"`
	PriceFrom       time.Time `yaml:"priceFrom,omitempty"`
}

// FeedSelector is a tagged union on Kind. Only the fields of the selected kind are read.
type FeedSelector struct {
	Kind FeedKind `yaml:"kind"`

	// pegged
	Value string `yaml:"value,omitempty"`

	// external-spot
	ExternalID string `yaml:"externalId,omitempty"`

	// pool-nav and cl-position constituents
	Token0 *AssetConfig `yaml:"token0,omitempty"`
	Token1 *AssetConfig `yaml:"token1,omitempty"`

	// cl-position
	Manager    string `yaml:"manager,omitempty"`
	Factory    string `yaml:"factory,omitempty"`
	PricedSide string `yaml:"pricedSide,omitempty"`

	// index-scaled
	Underlying      *AssetConfig `yaml:"underlying,omitempty"`
	UnderlyingAsset string       `yaml:"underlyingAsset,omitempty"`
	IndexSource     string       `yaml:"indexSource,omitempty"`
	IndexMethod     string       `yaml:"indexMethod,omitempty"`
	IndexBase       string       `yaml:"indexBase,omitempty"`
}

// Eligible reports whether the asset may be priced at (height, atMs).
func (c AssetConfig) Eligible(height, atMs int64) bool {
	if c.PriceFromHeight > 0 && height < c.PriceFromHeight {
		return false
	}
	if !c.PriceFrom.IsZero() && atMs < c.PriceFrom.UnixMilli() {
		return false
	}
	return true
}

// Validate checks the required fields of every selector in the tree and rejects
// shared or cyclic constituent pointers and trees deeper than maxConfigDepth.
func (c *AssetConfig) Validate() error {
	return c.validate(map[*AssetConfig]bool{}, 0)
}

func (c *AssetConfig) validate(seen map[*AssetConfig]bool, depth int) error {
	if depth > maxConfigDepth {
		return fmt.Errorf("%w: feed tree deeper than %d", ErrInvalidConfig, maxConfigDepth)
	}
	if seen[c] {
		return fmt.Errorf("%w: feed tree references the same config twice", ErrInvalidConfig)
	}
	seen[c] = true

	switch c.AssetType {
	case AssetTypeERC20:
	case AssetTypeStatic:
		if c.Decimals == nil {
			return fmt.Errorf("%w: static asset requires decimals", ErrInvalidConfig)
		}
	case "":
		return fmt.Errorf("%w: assetType is required", ErrInvalidConfig)
	}

	f := c.PriceFeed
	children := []*AssetConfig{}
	switch f.Kind {
	case FeedPegged:
		if _, err := decimal.NewFromString(f.Value); err != nil {
			return fmt.Errorf("%w: pegged value %q: %v", ErrInvalidConfig, f.Value, err)
		}
	case FeedExternalSpot:
		if f.ExternalID == "" {
			return fmt.Errorf("%w: external-spot requires externalId", ErrInvalidConfig)
		}
	case FeedPoolNAV:
		if f.Token0 == nil || f.Token1 == nil {
			return fmt.Errorf("%w: pool-nav requires token0 and token1", ErrInvalidConfig)
		}
		children = append(children, f.Token0, f.Token1)
	case FeedCLPosition:
		if f.Token0 == nil || f.Token1 == nil {
			return fmt.Errorf("%w: cl-position requires token0 and token1", ErrInvalidConfig)
		}
		if f.PricedSide != "token0" && f.PricedSide != "token1" {
			return fmt.Errorf("%w: cl-position pricedSide must be token0 or token1", ErrInvalidConfig)
		}
		if f.Manager == "" {
			return fmt.Errorf("%w: cl-position requires manager", ErrInvalidConfig)
		}
		children = append(children, f.Token0, f.Token1)
	case FeedIndexScaled:
		if f.Underlying == nil || f.UnderlyingAsset == "" || f.IndexSource == "" {
			return fmt.Errorf("%w: index-scaled requires underlying, underlyingAsset and indexSource", ErrInvalidConfig)
		}
		if f.IndexMethod != IndexMethodIncome && f.IndexMethod != IndexMethodVariableDebt {
			return fmt.Errorf("%w: index-scaled indexMethod %q must be %s or %s",
				ErrInvalidConfig, f.IndexMethod, IndexMethodIncome, IndexMethodVariableDebt)
		}
		if f.IndexBase != "" {
			if _, err := decimal.NewFromString(f.IndexBase); err != nil {
				return fmt.Errorf("%w: indexBase %q: %v", ErrInvalidConfig, f.IndexBase, err)
			}
		}
		children = append(children, f.Underlying)
	default:
		return fmt.Errorf("%w: unknown feed kind %q", ErrInvalidConfig, f.Kind)
	}

	for _, child := range children {
		if err := child.validate(seen, depth+1); err != nil {
			return err
		}
	}
	return nil
}
