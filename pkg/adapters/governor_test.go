package adapters

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/ethereum/contracts"
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

var (
	governorAddr = common.HexToAddress("0xc0Da02939E1441F497fd74F78cE7Decb17B66529")
	voterA       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	voterB       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	outsider     = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func governorEntity(source governance.SourceType) *governance.Entity {
	return governance.NewEntity(uuid.New(), "Compound", governance.GovernorDecoder{
		Source:      source,
		Address:     governorAddr,
		ProposalURL: "https://gov.example/proposals/",
	}, 1000)
}

func proposalCreatedLog(t *testing.T, contractABI *abi.ABI, id int64, block uint64, start, end int64, description string) types.Log {
	t.Helper()
	return eventLog(t, contractABI, "ProposalCreated", governorAddr, block, 0, nil,
		big.NewInt(id),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		[]common.Address{},
		[]*big.Int{},
		[]string{},
		[][]byte{},
		big.NewInt(start),
		big.NewInt(end),
		description,
	)
}

func serveBravoTallies(t *testing.T, chain *fakeChain, forVotes, against, abstain int64, state uint8) {
	chain.handle(t, contracts.GovernorBravo, "proposals", func(args []any, _ *big.Int) ([]any, error) {
		id := args[0].(*big.Int)
		return []any{id, common.Address{}, big.NewInt(0), big.NewInt(0), big.NewInt(0),
			wei(forVotes), wei(against), wei(abstain), false, false}, nil
	})
	chain.handle(t, contracts.GovernorBravo, "quorumVotes", func([]any, *big.Int) ([]any, error) {
		return []any{wei(400_000)}, nil
	})
	chain.handle(t, contracts.GovernorBravo, "state", func([]any, *big.Int) ([]any, error) {
		return []any{state}, nil
	})
}

func TestGovernorAdapter_FetchProposalsClosedProposalAtRangeEnd(t *testing.T) {
	chain := newFakeChain(200)
	chain.addLog(proposalCreatedLog(t, contracts.GovernorBravo, 42, 105, 106, 110, "# Upgrade the oracle\n\nLong body"))
	chain.addLog(proposalCreatedLog(t, contracts.GovernorBravo, 41, 99, 100, 104, "Outside the range"))
	serveBravoTallies(t, chain, 3, 1, 0, 7)

	adapter := NewGovernorAdapter(newTestPool(chain), &fakeLookup{}, 4, zap.NewNop())
	entity := governorEntity(governance.SourceCompound)

	proposals, err := adapter.FetchProposals(context.Background(), entity, Range{FromBlock: 100, ToBlock: 105, Head: 200})
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, "42", p.ExternalID)
	assert.Equal(t, "Upgrade the oracle", p.Name)
	assert.Equal(t, int64(105), p.BlockCreated)
	assert.Equal(t, blockTime(105), p.TimeCreated)
	assert.Equal(t, blockTime(106), p.TimeStart)
	assert.Equal(t, blockTime(110), p.TimeEnd)
	assert.Equal(t, "https://gov.example/proposals/42", p.URL)
	assert.Equal(t, []string{"For", "Against", "Abstain"}, p.Choices)
	assert.Equal(t, governance.StateExecuted, p.State)
	assert.Equal(t, entity.ID, p.EntityID)
	assert.Equal(t, entity.OrgID, p.OrgID)

	require.Len(t, p.Scores, 3)
	assert.True(t, p.Scores[0].Equal(decimal.NewFromInt(3)), "for = %s", p.Scores[0])
	assert.True(t, p.Scores[1].Equal(decimal.NewFromInt(1)), "against = %s", p.Scores[1])
	assert.True(t, p.ScoresTotal.Equal(decimal.NewFromInt(4)))
	assert.True(t, p.Quorum.Equal(decimal.NewFromInt(400_000)))
}

func TestGovernorAdapter_TallyFailureDegradesToUnknown(t *testing.T) {
	chain := newFakeChain(200)
	chain.addLog(proposalCreatedLog(t, contracts.GovernorBravo, 7, 150, 151, 160, ""))

	adapter := NewGovernorAdapter(newTestPool(chain), &fakeLookup{}, 2, zap.NewNop())
	proposals, err := adapter.FetchProposals(context.Background(), governorEntity(governance.SourceUniswap),
		Range{FromBlock: 100, ToBlock: 199, Head: 200})
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	assert.Equal(t, governance.StateUnknown, proposals[0].State)
	assert.Empty(t, proposals[0].Scores)
	assert.Equal(t, untitledProposal, proposals[0].Name)
}

func TestGovernorAdapter_SkipsUndecodableLogs(t *testing.T) {
	chain := newFakeChain(200)
	bad := proposalCreatedLog(t, contracts.GovernorBravo, 8, 120, 121, 130, "ok")
	bad.Data = bad.Data[:10]
	chain.addLog(bad)
	chain.addLog(proposalCreatedLog(t, contracts.GovernorBravo, 9, 121, 122, 130, "Second"))
	serveBravoTallies(t, chain, 0, 0, 0, 1)

	adapter := NewGovernorAdapter(newTestPool(chain), &fakeLookup{}, 2, zap.NewNop())
	proposals, err := adapter.FetchProposals(context.Background(), governorEntity(governance.SourceCompound),
		Range{FromBlock: 100, ToBlock: 199, Head: 200})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "9", proposals[0].ExternalID)
	assert.Equal(t, governance.StateActive, proposals[0].State)
}

func TestGovernorAdapter_FetchVotesBravo(t *testing.T) {
	chain := newFakeChain(300)
	chain.addLog(eventLog(t, contracts.GovernorBravo, "VoteCast", governorAddr, 210, 1,
		[]common.Hash{addressTopic(voterA.Hex())},
		big.NewInt(42), uint8(1), wei(12), "looks good"))
	chain.addLog(eventLog(t, contracts.GovernorBravo, "VoteCast", governorAddr, 211, 0,
		[]common.Hash{addressTopic(voterB.Hex())},
		big.NewInt(43), uint8(0), wei(5), ""))
	chain.addLog(eventLog(t, contracts.GovernorBravo, "VoteCast", governorAddr, 212, 0,
		[]common.Hash{addressTopic(outsider.Hex())},
		big.NewInt(42), uint8(2), wei(1), ""))

	proposalID := uuid.New()
	lookup := &fakeLookup{ids: map[string]uuid.UUID{"42": proposalID}}
	adapter := NewGovernorAdapter(newTestPool(chain), lookup, 2, zap.NewNop())
	entity := governorEntity(governance.SourceCompound)

	result, err := adapter.FetchVotes(context.Background(), entity, Range{FromBlock: 200, ToBlock: 250, Head: 300},
		[]string{voterA.Hex(), voterB.Hex()})
	require.NoError(t, err)
	require.Len(t, result, 2)

	a := result[0]
	assert.Equal(t, voterA.Hex(), a.Voter)
	require.NoError(t, a.Err)
	require.Len(t, a.Votes, 1)
	vote := a.Votes[0]
	assert.Equal(t, proposalID, vote.ProposalID)
	assert.Equal(t, []governance.VoteOption{{Option: "1", OptionName: "For"}}, vote.Options)
	assert.True(t, vote.VotingPower.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, "looks good", vote.Reason)
	assert.Equal(t, int64(210), vote.BlockCreated)
	assert.Equal(t, blockTime(210), vote.TimeCreated)

	b := result[1]
	assert.Empty(t, b.Votes)
	assert.True(t, errors.Is(b.Err, governance.ErrProposalNotFound), "got %v", b.Err)

	require.NotEmpty(t, chain.queries)
	require.Len(t, chain.queries[0].Topics, 2, "voters are filtered by topic")
}

func TestGovernorAdapter_FetchVotesAlphaFiltersClientSide(t *testing.T) {
	chain := newFakeChain(300)
	chain.addLog(eventLog(t, contracts.GovernorAlpha, "VoteCast", governorAddr, 220, 0, nil,
		voterA, big.NewInt(5), false, wei(9)))
	chain.addLog(eventLog(t, contracts.GovernorAlpha, "VoteCast", governorAddr, 221, 0, nil,
		outsider, big.NewInt(5), true, wei(100)))

	proposalID := uuid.New()
	adapter := NewGovernorAdapter(newTestPool(chain), &fakeLookup{ids: map[string]uuid.UUID{"5": proposalID}}, 2, zap.NewNop())
	entity := governorEntity(governance.SourceGitcoin)

	result, err := adapter.FetchVotes(context.Background(), entity, Range{FromBlock: 200, ToBlock: 250, Head: 300},
		[]string{voterA.Hex()})
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.NoError(t, result[0].Err)
	require.Len(t, result[0].Votes, 1)
	assert.Equal(t, []governance.VoteOption{{Option: "2", OptionName: "Against"}}, result[0].Votes[0].Options)
	assert.True(t, result[0].Votes[0].VotingPower.Equal(decimal.NewFromInt(9)))

	require.Len(t, chain.queries[0].Topics, 1, "alpha voters are not indexed")
}

func TestGovernorAdapter_DecodeErrorFailsOnlyThatVoter(t *testing.T) {
	chain := newFakeChain(300)
	broken := eventLog(t, contracts.GovernorOZ, "VoteCast", governorAddr, 230, 0,
		[]common.Hash{addressTopic(voterA.Hex())},
		big.NewInt(1), uint8(1), wei(1), "")
	broken.Data = broken.Data[:31]
	chain.addLog(broken)
	chain.addLog(eventLog(t, contracts.GovernorOZ, "VoteCast", governorAddr, 231, 0,
		[]common.Hash{addressTopic(voterB.Hex())},
		big.NewInt(1), uint8(2), wei(4), "abstaining"))

	adapter := NewGovernorAdapter(newTestPool(chain), &fakeLookup{ids: map[string]uuid.UUID{"1": uuid.New()}}, 2, zap.NewNop())
	result, err := adapter.FetchVotes(context.Background(), governorEntity(governance.SourceENS),
		Range{FromBlock: 200, ToBlock: 250, Head: 300}, []string{voterA.Hex(), voterB.Hex()})
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.True(t, governance.IsDecodeError(result[0].Err))
	require.NoError(t, result[1].Err)
	require.Len(t, result[1].Votes, 1)
	assert.Equal(t, "3", result[1].Votes[0].Options[0].Option)
}

func TestGovernorAdapter_RejectsForeignDecoder(t *testing.T) {
	adapter := NewGovernorAdapter(newTestPool(newFakeChain(1)), &fakeLookup{}, 1, zap.NewNop())
	entity := governance.NewEntity(uuid.New(), "Maker", governance.MakerPollDecoder{}, 100)
	_, err := adapter.FetchProposals(context.Background(), entity, Range{})
	require.Error(t, err)
}

func TestGovernorTitle(t *testing.T) {
	assert.Equal(t, "Title", governorTitle("# Title\nbody"))
	assert.Equal(t, untitledProposal, governorTitle("   "))
	long := governorTitle(strings.Repeat("x", 300))
	assert.Len(t, []rune(long), maxGovernorTitleLen)
}
