package pricing

import "errors"

var (
	// ErrNoFeedHandler means no handler is registered for a feed kind.
	ErrNoFeedHandler = errors.New("no feed handler")
	// ErrNoMetadataResolver means no metadata resolver is registered for an asset type.
	ErrNoMetadataResolver = errors.New("no metadata resolver")
	// ErrNoMetadataFound means the metadata resolver returned nothing for an asset.
	ErrNoMetadataFound = errors.New("no metadata found")
	// ErrInvalidConfig is returned by AssetConfig.Validate and the catalog loader.
	ErrInvalidConfig = errors.New("invalid asset config")
	// ErrMaxDepth stops a resolution that nests deeper than any valid feed tree.
	ErrMaxDepth = errors.New("price resolution exceeded max depth")
)

// IsConfigError reports whether err comes from a deployment mistake rather than a
// transient failure. Such errors are not retried.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoFeedHandler) ||
		errors.Is(err, ErrNoMetadataResolver) ||
		errors.Is(err, ErrNoMetadataFound) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMaxDepth)
}
