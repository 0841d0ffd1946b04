// Package cache holds the leaf caches of the pricing engine: asset metadata, price
// samples and feed handler metadata. All of them persist through store.Store.
package cache

const (
	metadataPrefix    = "metadata:"
	pricePrefix       = "price:"
	handlerMetaPrefix = "handlerMeta:"
)

func metadataKey(asset string) string { return metadataPrefix + asset }

func priceKey(asset string) string { return pricePrefix + asset }

func handlerMetaKey(kind, key string) string { return handlerMetaPrefix + kind + ":" + key }
