// Package adapters reads proposals and votes from every supported governance source
// and normalizes them into the governance domain.
package adapters

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// Range bounds a fetch. Chain adapters read the inclusive block window
// [FromBlock, ToBlock] and route it using Head; the Snapshot adapter reads
// records created after From.
type Range struct {
	FromBlock uint64
	ToBlock   uint64
	Head      uint64
	From      time.Time
	To        time.Time
}

// ProposalAdapter fetches proposals of an entity.
type ProposalAdapter interface {
	FetchProposals(ctx context.Context, entity *governance.Entity, r Range) ([]governance.Proposal, error)
}

// VoteAdapter fetches the votes of a set of voters. The result holds one entry per requested voter.
type VoteAdapter interface {
	FetchVotes(ctx context.Context, entity *governance.Entity, r Range, voters []string) ([]governance.VoterVotes, error)
}

// SourceAdapter reads both proposals and votes of one protocol family.
type SourceAdapter interface {
	ProposalAdapter
	VoteAdapter
}

// EntityChecker is implemented by adapters that can tell up front whether they read an entity.
type EntityChecker interface {
	Check(entity *governance.Entity) error
}

// ProposalLookup resolves stored proposal ids by external id within an organization.
type ProposalLookup interface {
	ProposalIDs(ctx context.Context, orgID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error)
}

// voterSet tracks requested voters by checksummed address while preserving request order.
type voterSet struct {
	order []string
	votes map[string]*governance.VoterVotes
}

func newVoterSet(voters []string) *voterSet {
	vs := &voterSet{votes: make(map[string]*governance.VoterVotes, len(voters))}
	for _, v := range voters {
		addr := governance.ChecksumAddress(v)
		if _, ok := vs.votes[addr]; ok {
			continue
		}
		vs.order = append(vs.order, addr)
		vs.votes[addr] = &governance.VoterVotes{Voter: addr}
	}
	return vs
}

func (vs *voterSet) has(voter string) bool {
	_, ok := vs.votes[governance.ChecksumAddress(voter)]
	return ok
}

func (vs *voterSet) add(voter string, vote governance.Vote) {
	entry, ok := vs.votes[governance.ChecksumAddress(voter)]
	if !ok || entry.Err != nil {
		return
	}
	entry.Votes = append(entry.Votes, vote)
}

// fail marks voter as failed, dropping any votes collected for it in this batch.
func (vs *voterSet) fail(voter string, err error) {
	entry, ok := vs.votes[governance.ChecksumAddress(voter)]
	if !ok || entry.Err != nil {
		return
	}
	entry.Votes = nil
	entry.Err = err
}

func (vs *voterSet) result() []governance.VoterVotes {
	out := make([]governance.VoterVotes, 0, len(vs.order))
	for _, v := range vs.order {
		out = append(out, *vs.votes[v])
	}
	return out
}
