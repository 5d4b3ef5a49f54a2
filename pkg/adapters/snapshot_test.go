package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/snapshot"
)

func snapshotEntity() *governance.Entity {
	return governance.NewEntity(uuid.New(), "Aave", governance.SnapshotDecoder{Space: "aave.eth"}, 100)
}

func TestSnapshotAdapter_FetchProposalsMapsStates(t *testing.T) {
	hub := &fakeHub{proposals: []snapshot.Proposal{
		{ID: "0xa", Title: "Active", Created: 100, Start: 110, End: 200, State: "active", Choices: []string{"Yes", "No"}, Scores: []float64{1.5, 2}, ScoresTotal: 3.5},
		{ID: "0xb", Title: "Pending", Created: 101, State: "pending"},
		{ID: "0xc", Title: "Final", Created: 102, State: "closed", ScoresState: "final"},
		{ID: "0xd", Title: "Invalid", Created: 103, State: "closed", ScoresState: "invalid", Flagged: true},
	}}
	adapter := NewSnapshotAdapter(hub, &fakeLookup{}, zap.NewNop())

	from := time.Unix(99, 0)
	proposals, err := adapter.FetchProposals(context.Background(), snapshotEntity(), Range{From: from})
	require.NoError(t, err)
	require.Len(t, proposals, 4)
	assert.Equal(t, int64(99), hub.lastCreated)

	assert.Equal(t, governance.StateActive, proposals[0].State)
	assert.Equal(t, time.Unix(100, 0).UTC(), proposals[0].TimeCreated)
	assert.True(t, proposals[0].ScoresTotal.Equal(decimal.RequireFromString("3.5")))
	assert.True(t, proposals[0].Visible)

	assert.Equal(t, governance.StatePending, proposals[1].State)
	assert.Equal(t, governance.StateExecuted, proposals[2].State)
	assert.Equal(t, governance.StateHidden, proposals[3].State)
	assert.False(t, proposals[3].Visible)
}

func TestSnapshotAdapter_FetchVotesExpandsBallots(t *testing.T) {
	voter := "0x1111111111111111111111111111111111111111"
	other := "0x2222222222222222222222222222222222222222"

	vote := func(id, voterAddr, proposal string, choice string) snapshot.Vote {
		v := snapshot.Vote{ID: id, Voter: voterAddr, Created: 500, Choice: json.RawMessage(choice), VP: 10}
		v.Proposal.ID = proposal
		v.Proposal.Choices = []string{"For", "Against", "Abstain"}
		return v
	}
	hub := &fakeHub{votes: []snapshot.Vote{
		vote("v1", voter, "0xa", `{"1": 2, "3": 1, "2": 0}`),
		vote("v2", other, "0xmissing", `1`),
	}}
	proposalID := uuid.New()
	adapter := NewSnapshotAdapter(hub, &fakeLookup{ids: map[string]uuid.UUID{"0xa": proposalID}}, zap.NewNop())

	result, err := adapter.FetchVotes(context.Background(), snapshotEntity(), Range{From: time.Unix(400, 0)}, []string{voter, other})
	require.NoError(t, err)
	require.Len(t, result, 2)

	require.NoError(t, result[0].Err)
	require.Len(t, result[0].Votes, 1)
	assert.Equal(t, []governance.VoteOption{
		{Option: "1", OptionName: "For"},
		{Option: "3", OptionName: "Abstain"},
	}, result[0].Votes[0].Options)
	assert.Equal(t, proposalID, result[0].Votes[0].ProposalID)

	assert.True(t, errors.Is(result[1].Err, governance.ErrProposalNotFound))
	assert.Len(t, hub.lastVoters, 2)
}

func TestSnapshotAdapter_PropagatesHubErrors(t *testing.T) {
	hub := &fakeHub{err: errors.New("hub down")}
	adapter := NewSnapshotAdapter(hub, &fakeLookup{}, zap.NewNop())
	_, err := adapter.FetchProposals(context.Background(), snapshotEntity(), Range{})
	require.Error(t, err)
}
