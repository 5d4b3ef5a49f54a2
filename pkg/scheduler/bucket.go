package scheduler

import (
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// BucketVoters groups due voter cursors by the position of their cursor. The domain
// [0, domain] is split into count equal-width bins [x0, x1), the last one closed; cursors
// outside the domain fall into the first or last bin. Each bin keeps at most size voters in
// input order and empty bins are dropped.
func BucketVoters(cursors []governance.VoterCursor, position func(governance.VoterCursor) int64, domain int64, count, size int) [][]string {
	if count <= 0 || size <= 0 || domain <= 0 {
		return nil
	}

	bins := make([][]string, count)
	for _, c := range cursors {
		idx := binIndex(position(c), domain, count)
		if len(bins[idx]) >= size {
			continue
		}
		bins[idx] = append(bins[idx], c.Voter)
	}

	out := make([][]string, 0, count)
	for _, b := range bins {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

func binIndex(v, domain int64, count int) int {
	v = min(max(v, 0), domain)
	idx := int(v / binWidth(domain, count))
	return min(idx, count-1)
}

func binWidth(domain int64, count int) int64 {
	return max(domain/int64(count), 1)
}

// ChainPosition positions a voter by its block cursor.
func ChainPosition(c governance.VoterCursor) int64 {
	return c.ChainIndex
}

// SnapshotPosition positions a voter by its timestamp cursor in unix milliseconds.
func SnapshotPosition(c governance.VoterCursor) int64 {
	return c.SnapshotIndex.UnixMilli()
}
