package feeds

import (
	"context"

	"github.com/canopy-network/exposure/pkg/chain"
	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/pricing"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20Metadata reads decimals from the token contract unless the config pins them.
type ERC20Metadata struct {
	reader chain.Reader
}

func NewERC20Metadata(reader chain.Reader) *ERC20Metadata {
	return &ERC20Metadata{reader: reader}
}

func (m *ERC20Metadata) Metadata(ctx context.Context, assetKey string, cfg pricing.AssetConfig) (*models.AssetMetadata, error) {
	if cfg.Decimals != nil {
		return &models.AssetMetadata{Decimals: *cfg.Decimals}, nil
	}
	if !common.IsHexAddress(assetKey) {
		return nil, nil
	}
	dec, err := m.reader.Decimals(ctx, common.HexToAddress(assetKey))
	if err != nil {
		return nil, err
	}
	return &models.AssetMetadata{Decimals: int32(dec)}, nil
}

// StaticMetadata serves assets whose metadata lives entirely in config.
type StaticMetadata struct{}

func (StaticMetadata) Metadata(_ context.Context, _ string, cfg pricing.AssetConfig) (*models.AssetMetadata, error) {
	if cfg.Decimals == nil {
		return nil, nil
	}
	return &models.AssetMetadata{Decimals: *cfg.Decimals}, nil
}
