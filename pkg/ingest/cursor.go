package ingest

import (
	"time"

	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// chainWindow computes the block range of a chain refresh. ok is false when there is nothing
// to scan yet. A positive maxRescan keeps from within that many blocks of the safe head.
func chainWindow(cursor, startBlock, speed, head, safety, maxRescan int64) (from, to int64, ok bool) {
	safeHead := max(head-safety, 0)
	from = max(cursor, startBlock)
	if maxRescan > 0 && safeHead-from > maxRescan {
		from = safeHead - maxRescan
	}
	to = min(from+max(speed, 1), safeHead)
	return from, to, from <= to
}

// nextChainCursor returns the next block to scan after [_, to]. Proposals still open at now pin
// the cursor to the earliest block among them so the straddling proposal is read again.
func nextChainCursor(proposals []governance.Proposal, to int64, now time.Time) int64 {
	next := to + 1
	for i := range proposals {
		if proposals[i].Open(now) && proposals[i].BlockCreated < next {
			next = proposals[i].BlockCreated
		}
	}
	return next
}

// nextSnapshotCursor returns the created_gt value of the next Snapshot page. An open proposal
// pins the cursor just before its creation time; an empty page jumps to now.
//
// The pin ignores page fullness. While the oldest proposal of a full page stays open the
// same page is read again on every refresh, so proposals created after that page are not
// ingested until the pinning proposal ends.
func nextSnapshotCursor(proposals []governance.Proposal, now time.Time) time.Time {
	if len(proposals) == 0 {
		return now.UTC().Truncate(time.Second)
	}

	var openMin, latest time.Time
	for i := range proposals {
		created := proposals[i].TimeCreated
		if created.After(latest) {
			latest = created
		}
		if proposals[i].Open(now) && (openMin.IsZero() || created.Before(openMin)) {
			openMin = created
		}
	}
	if !openMin.IsZero() {
		return openMin.Add(-time.Second).UTC()
	}
	return latest.UTC()
}

// nextVoterSnapshotCursor advances a voter past the newest vote of the page.
func nextVoterSnapshotCursor(votes []governance.Vote, pageLatest, now time.Time) time.Time {
	var latest time.Time
	for i := range votes {
		if votes[i].TimeCreated.After(latest) {
			latest = votes[i].TimeCreated
		}
	}
	switch {
	case !latest.IsZero():
		return latest.UTC()
	case !pageLatest.IsZero():
		return pageLatest.UTC()
	default:
		return now.UTC().Truncate(time.Second)
	}
}
