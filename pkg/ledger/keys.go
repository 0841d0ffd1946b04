package ledger

import "strings"

const (
	hasBalanceKey    = "balances:gt0"
	activeKey        = "activebalances"
	inactiveKey      = "inactivebalances"
	trackedAssetsKey = "assets:tracked"
	balancePrefix    = "bal:"
	measurePrefix    = "measure:"
	flushPrefix      = "flush:boundary:"
)

// member is the set member of a balance, "<asset>:<user>". Asset keys may themselves
// contain ':' but canonical users never do, so the last ':' separates them.
func member(asset, user string) string { return asset + ":" + user }

func splitMember(m string) (asset, user string) {
	i := strings.LastIndex(m, ":")
	if i < 0 {
		return m, ""
	}
	return m[:i], m[i+1:]
}

func balanceKey(asset, user string) string { return balancePrefix + member(asset, user) }

func measureKey(asset string) string { return measurePrefix + asset }

func measureSeriesKey(asset, metric string) string { return measurePrefix + asset + ":" + metric }

// FlushBoundaryKey is where the last flushed boundary of an indexer is checkpointed.
func FlushBoundaryKey(indexerID string) string { return flushPrefix + indexerID }
