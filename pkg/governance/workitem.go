package governance

import "github.com/google/uuid"

// WorkKind names the refresh operation a work item asks for.
type WorkKind string

const (
	WorkChainProposals    WorkKind = "chain_proposals"
	WorkSnapshotProposals WorkKind = "snapshot_proposals"
	WorkChainVotes        WorkKind = "chain_votes"
	WorkSnapshotVotes     WorkKind = "snapshot_votes"
)

// IsVotes reports whether the work targets voter cursors.
func (k WorkKind) IsVotes() bool {
	return k == WorkChainVotes || k == WorkSnapshotVotes
}

// ProposalWork returns the proposal refresh kind for a source type.
func ProposalWork(t SourceType) WorkKind {
	if t.IsChain() {
		return WorkChainProposals
	}
	return WorkSnapshotProposals
}

// VoteWork returns the vote refresh kind for a source type.
func VoteWork(t SourceType) WorkKind {
	if t.IsChain() {
		return WorkChainVotes
	}
	return WorkSnapshotVotes
}

// WorkItem is one unit of refresh work. Items live only in the scheduler queue.
type WorkItem struct {
	Kind     WorkKind
	EntityID uuid.UUID
	Voters   []string
	Priority int64
	Seq      uint64
}
