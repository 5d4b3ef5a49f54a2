package ingest

import "github.com/chainsafe/senate-indexer/pkg/governance"

// Batch width bounds. Chain sources measure width in blocks, Snapshot in records.
const (
	MaxChainSpeed    int64 = 1_000_000_000
	MinChainSpeed    int64 = 100
	MaxSnapshotSpeed int64 = 100
	MinSnapshotSpeed int64 = 10
)

func speedBounds(t governance.SourceType) (lo, hi int64) {
	if t.IsChain() {
		return MinChainSpeed, MaxChainSpeed
	}
	return MinSnapshotSpeed, MaxSnapshotSpeed
}

// GrowSpeed widens the batch by 10% after a successful refresh.
func GrowSpeed(t governance.SourceType, speed int64) int64 {
	lo, hi := speedBounds(t)
	next := speed + max(speed/10, 1)
	return min(max(next, lo), hi)
}

// ShrinkSpeed narrows the batch by 25% after a failed refresh.
func ShrinkSpeed(t governance.SourceType, speed int64) int64 {
	lo, hi := speedBounds(t)
	next := speed - speed/4
	return min(max(next, lo), hi)
}

// DefaultSpeed is the batch width of a newly seeded entity.
func DefaultSpeed(t governance.SourceType) int64 {
	if t.IsChain() {
		return 1_000_000
	}
	return MaxSnapshotSpeed
}
