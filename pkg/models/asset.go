package models

// AssetMetadata holds the static facts of an asset. It is immutable once cached.
type AssetMetadata struct {
	Decimals int32  `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
}
