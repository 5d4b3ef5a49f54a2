package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/adapters"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/store/storetest"
)

const (
	voterA = "0x1111111111111111111111111111111111111111"
	voterB = "0x2222222222222222222222222222222222222222"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeHeads struct {
	head uint64
	err  error
}

func (h fakeHeads) CurrentBlock(context.Context) (uint64, error) {
	return h.head, h.err
}

// fakeAdapter returns canned batches and records the ranges it was asked for.
type fakeAdapter struct {
	mu        sync.Mutex
	proposals []governance.Proposal
	votes     []governance.VoterVotes
	err       error
	ranges    []adapters.Range
	voters    [][]string
}

func (a *fakeAdapter) FetchProposals(_ context.Context, _ *governance.Entity, r adapters.Range) ([]governance.Proposal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ranges = append(a.ranges, r)
	return a.proposals, a.err
}

func (a *fakeAdapter) FetchVotes(_ context.Context, _ *governance.Entity, r adapters.Range, voters []string) ([]governance.VoterVotes, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ranges = append(a.ranges, r)
	a.voters = append(a.voters, voters)
	return a.votes, a.err
}

type fixture struct {
	store   *storetest.Memory
	adapter *fakeAdapter
	facade  *Facade
}

func newFixture(t *testing.T, source governance.SourceType, heads fakeHeads, cfg Config) *fixture {
	t.Helper()
	st := storetest.NewMemory()
	adapter := &fakeAdapter{}
	registry := adapters.NewRegistry()
	registry.Register(source, adapter)
	return &fixture{
		store:   st,
		adapter: adapter,
		facade:  NewFacade(st, registry, heads, cfg, zap.NewNop(), WithClock(func() time.Time { return now })),
	}
}

func chainEntity(orgID uuid.UUID, cursor, speed int64) *governance.Entity {
	e := governance.NewEntity(orgID, "Uniswap", governance.GovernorDecoder{
		Source:  governance.SourceUniswap,
		Address: common.HexToAddress("0x408ED6354d4973f66138C91495F2f2FCbd8724C3"),
	}, speed)
	e.ChainIndex = cursor
	return e
}

func snapshotEntity(orgID uuid.UUID, cursor time.Time) *governance.Entity {
	e := governance.NewEntity(orgID, "Uniswap", governance.SnapshotDecoder{Space: "uniswap"}, DefaultSpeed(governance.SourceSnapshot))
	e.SnapshotIndex = cursor
	return e
}

func proposalAt(entity *governance.Entity, ext string, block int64, created, end time.Time) governance.Proposal {
	return governance.Proposal{
		ExternalID:   ext,
		OrgID:        entity.OrgID,
		EntityID:     entity.ID,
		Name:         "Proposal " + ext,
		TimeCreated:  created,
		TimeStart:    created,
		TimeEnd:      end,
		BlockCreated: block,
		State:        governance.StateActive,
		Visible:      true,
	}
}

func TestRefreshChainProposals_OpenProposalPinsCursor(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 100, 1000)
	f.store.PutEntity(entity)
	f.adapter.proposals = []governance.Proposal{
		proposalAt(entity, "1", 106, now.Add(-time.Hour), now.Add(time.Hour)),
		proposalAt(entity, "2", 150, now.Add(-2*time.Hour), now.Add(-time.Minute)),
	}

	out, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, out.Result)

	require.Len(t, f.adapter.ranges, 1)
	assert.Equal(t, uint64(100), f.adapter.ranges[0].FromBlock)
	assert.Equal(t, uint64(1100), f.adapter.ranges[0].ToBlock)
	assert.Equal(t, uint64(5000), f.adapter.ranges[0].Head)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(106), got.ChainIndex)
	assert.Equal(t, governance.StatusDone, got.RefreshStatus)
	assert.Equal(t, now, got.LastRefresh)
	assert.Equal(t, int64(1100), got.RefreshSpeed)

	has, err := f.store.HasProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRefreshChainProposals_ClosedBatchAdvancesPastWindow(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 100, 1000)
	f.store.PutEntity(entity)
	f.adapter.proposals = []governance.Proposal{
		proposalAt(entity, "1", 106, now.Add(-time.Hour), now.Add(-time.Minute)),
	}

	_, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1101), got.ChainIndex)
}

func TestRefreshChainProposals_WindowStopsAtSafeHead(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 500}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 100, 1000)
	f.store.PutEntity(entity)

	_, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)

	require.Len(t, f.adapter.ranges, 1)
	assert.Equal(t, uint64(490), f.adapter.ranges[0].ToBlock)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(491), got.ChainIndex)
}

func TestRefreshChainProposals_UpToDate(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 500}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 491, 1000)
	f.store.PutEntity(entity)

	out, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, out.Result)
	assert.Empty(t, f.adapter.ranges)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(491), got.ChainIndex)
	assert.Equal(t, governance.StatusDone, got.RefreshStatus)
	assert.Equal(t, int64(1000), got.RefreshSpeed)
}

func TestRefreshChainProposals_FailureRestartsWindow(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10, StartBlock: 300})
	entity := chainEntity(uuid.New(), 0, 1000)
	entity.RefreshStatus = governance.StatusPending
	f.store.PutEntity(entity)
	f.adapter.err = errors.New("rpc unavailable")

	out, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultNOK, out.Result)
	assert.ErrorContains(t, out.Err, "rpc unavailable")

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.ChainIndex)
	assert.Equal(t, governance.StatusNew, got.RefreshStatus)
	assert.Equal(t, int64(750), got.RefreshSpeed)
}

func TestRefreshChainProposals_HeadFailure(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{err: errors.New("no provider")}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 700, 1000)
	f.store.PutEntity(entity)

	out, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultNOK, out.Result)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.ChainIndex)
	assert.Equal(t, governance.StatusNew, got.RefreshStatus)
}

func TestRefreshChainProposals_CommitFailureKeepsCursor(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 100, 1000)
	f.store.PutEntity(entity)
	f.adapter.proposals = []governance.Proposal{
		proposalAt(entity, "1", 106, now.Add(-time.Hour), now.Add(-time.Minute)),
	}
	f.store.FailTx = errors.New("serialization failure")

	out, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultNOK, out.Result)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ChainIndex)
	assert.Equal(t, governance.StatusNew, got.RefreshStatus)

	has, err := f.store.HasProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRefreshChainProposals_RescanBound(t *testing.T) {
	cfg := Config{SafetyBlocks: 10, StartBlock: 100, MaxRescanBlocks: 500}

	t.Run("initial backfill is unbounded", func(t *testing.T) {
		f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 10_010}, cfg)
		entity := chainEntity(uuid.New(), 0, 1000)
		f.store.PutEntity(entity)

		_, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
		require.NoError(t, err)
		require.Len(t, f.adapter.ranges, 1)
		assert.Equal(t, uint64(100), f.adapter.ranges[0].FromBlock)
	})

	t.Run("reset entity with proposals rescans a bounded window", func(t *testing.T) {
		f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 10_010}, cfg)
		entity := chainEntity(uuid.New(), 0, 1000)
		f.store.PutEntity(entity)
		require.NoError(t, f.store.UpsertProposals(context.Background(), []governance.Proposal{
			proposalAt(entity, "9", 50, now.Add(-48*time.Hour), now.Add(-24*time.Hour)),
		}))

		_, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
		require.NoError(t, err)
		require.Len(t, f.adapter.ranges, 1)
		assert.Equal(t, uint64(9500), f.adapter.ranges[0].FromBlock)
		assert.Equal(t, uint64(10_000), f.adapter.ranges[0].ToBlock)
	})
}

func TestRefreshChainProposals_ResetsSnapshotSibling(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	orgID := uuid.New()
	entity := chainEntity(orgID, 100, 1000)
	sibling := snapshotEntity(orgID, now.Add(-time.Hour))
	f.store.PutEntity(entity)
	f.store.PutEntity(sibling)

	_, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.NoError(t, err)

	got, err := f.store.GetEntity(context.Background(), sibling.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.Epoch, got.SnapshotIndex)
}

func TestRefreshChainProposals_RejectsSnapshotEntity(t *testing.T) {
	f := newFixture(t, governance.SourceSnapshot, fakeHeads{head: 5000}, Config{})
	entity := snapshotEntity(uuid.New(), governance.Epoch)
	f.store.PutEntity(entity)

	_, err := f.facade.RefreshChainProposals(context.Background(), entity.ID)
	require.Error(t, err)
}

func TestRefreshProposals_UnknownEntity(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{})

	_, err := f.facade.RefreshProposals(context.Background(), uuid.New())
	require.ErrorIs(t, err, governance.ErrEntityNotFound)
}

func TestRefreshSnapshotProposals_EmptyPageJumpsToNow(t *testing.T) {
	f := newFixture(t, governance.SourceSnapshot, fakeHeads{}, Config{})
	entity := snapshotEntity(uuid.New(), now.Add(-72*time.Hour))
	f.store.PutEntity(entity)

	out, err := f.facade.RefreshProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, out.Result)

	require.Len(t, f.adapter.ranges, 1)
	assert.Equal(t, now.Add(-72*time.Hour), f.adapter.ranges[0].From)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, now, got.SnapshotIndex)
	assert.Equal(t, governance.StatusDone, got.RefreshStatus)
	assert.Equal(t, MaxSnapshotSpeed, got.RefreshSpeed)
}

func TestRefreshSnapshotProposals_OpenProposalPinsCursor(t *testing.T) {
	f := newFixture(t, governance.SourceSnapshot, fakeHeads{}, Config{})
	orgID := uuid.New()
	entity := snapshotEntity(orgID, governance.Epoch)
	sibling := chainEntity(orgID, 900, 1000)
	f.store.PutEntity(entity)
	f.store.PutEntity(sibling)

	openCreated := now.Add(-10 * time.Hour)
	f.adapter.proposals = []governance.Proposal{
		proposalAt(entity, "0xa", 0, now.Add(-20*time.Hour), now.Add(-15*time.Hour)),
		proposalAt(entity, "0xb", 0, openCreated, now.Add(time.Hour)),
		proposalAt(entity, "0xc", 0, now.Add(-5*time.Hour), now.Add(-time.Hour)),
	}

	_, err := f.facade.RefreshSnapshotProposals(context.Background(), entity.ID)
	require.NoError(t, err)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, openCreated.Add(-time.Second), got.SnapshotIndex)

	sib, err := f.store.GetEntity(context.Background(), sibling.ID)
	require.NoError(t, err)
	assert.Zero(t, sib.ChainIndex)
}

func TestRefreshSnapshotProposals_FailureKeepsCursor(t *testing.T) {
	f := newFixture(t, governance.SourceSnapshot, fakeHeads{}, Config{})
	cursor := now.Add(-time.Hour)
	entity := snapshotEntity(uuid.New(), cursor)
	entity.RefreshSpeed = 40
	f.store.PutEntity(entity)
	f.adapter.err = errors.New("hub returned 502")

	out, err := f.facade.RefreshSnapshotProposals(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultNOK, out.Result)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, cursor, got.SnapshotIndex)
	assert.Equal(t, governance.StatusNew, got.RefreshStatus)
	assert.Equal(t, int64(30), got.RefreshSpeed)
}

func TestRefreshVotes_PerVoterOutcomes(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 4000, 1000)
	entity.RefreshStatus = governance.StatusPending
	entity.LastRefresh = now.Add(-time.Minute)
	f.store.PutEntity(entity)

	cursorA := governance.NewVoterCursor(voterA, entity.ID)
	cursorA.ChainIndex = 200
	cursorB := governance.NewVoterCursor(voterB, entity.ID)
	cursorB.ChainIndex = 300
	f.store.PutVoterCursor(cursorA)
	f.store.PutVoterCursor(cursorB)

	proposalID := uuid.New()
	f.adapter.votes = []governance.VoterVotes{
		{
			Voter: cursorA.Voter,
			Votes: []governance.Vote{{
				VoterAddress: cursorA.Voter,
				OrgID:        entity.OrgID,
				ProposalID:   proposalID,
				EntityID:     entity.ID,
				Options:      []governance.VoteOption{{Option: "1", OptionName: "For"}},
				VotingPower:  decimal.NewFromInt(42),
				BlockCreated: 250,
				TimeCreated:  now.Add(-time.Hour),
			}},
		},
		{Voter: cursorB.Voter, Err: governance.ErrProposalNotFound},
	}

	outcomes, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA, voterB})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, Outcome{Target: cursorA.Voter, Result: ResultOK}, outcomes[0])
	assert.Equal(t, cursorB.Voter, outcomes[1].Target)
	assert.Equal(t, ResultNOK, outcomes[1].Result)
	assert.ErrorIs(t, outcomes[1].Err, governance.ErrProposalNotFound)

	require.Len(t, f.adapter.ranges, 1)
	assert.Equal(t, [][]string{{cursorA.Voter, cursorB.Voter}}, f.adapter.voters)
	assert.Equal(t, uint64(200), f.adapter.ranges[0].FromBlock)
	assert.Equal(t, uint64(1200), f.adapter.ranges[0].ToBlock)

	cursors, err := f.store.ListVoterCursors(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Len(t, cursors, 2)
	assert.Equal(t, int64(1200), cursors[0].ChainIndex)
	assert.Equal(t, governance.StatusDone, cursors[0].RefreshStatus)
	assert.Equal(t, int64(300), cursors[1].ChainIndex)
	assert.Equal(t, governance.StatusNew, cursors[1].RefreshStatus)

	votes, err := f.store.ListVotes(context.Background(), proposalID)
	require.NoError(t, err)
	assert.Len(t, votes, 1)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.StatusNew, got.RefreshStatus)
	assert.Equal(t, governance.Epoch, got.LastRefresh)
	assert.Equal(t, int64(4000), got.ChainIndex)
	assert.Equal(t, int64(1000), got.RefreshSpeed, "proposal batch width is tuned separately")
	assert.Equal(t, int64(750), got.VotersRefreshSpeed, "a failed voter narrows the vote batch")
}

func TestRefreshVotes_VoterErrorKeepsCursor(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 4000, 1000)
	entity.RefreshStatus = governance.StatusDone
	f.store.PutEntity(entity)

	cursor := governance.NewVoterCursor(voterA, entity.ID)
	cursor.ChainIndex = 900
	f.store.PutVoterCursor(cursor)
	f.adapter.votes = []governance.VoterVotes{{Voter: cursor.Voter, Err: errors.New("malformed log")}}

	outcomes, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ResultNOK, outcomes[0].Result)

	cursors, err := f.store.ListVoterCursors(context.Background(), entity.ID, voterA)
	require.NoError(t, err)
	require.Len(t, cursors, 1)
	assert.Equal(t, int64(900), cursors[0].ChainIndex)
	assert.Equal(t, governance.StatusNew, cursors[0].RefreshStatus)

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.StatusDone, got.RefreshStatus)
}

func TestRefreshVotes_FetchFailureResetsBatch(t *testing.T) {
	f := newFixture(t, governance.SourceSnapshot, fakeHeads{}, Config{})
	entity := snapshotEntity(uuid.New(), now)
	entity.VotersRefreshSpeed = 100
	f.store.PutEntity(entity)

	for _, v := range []string{voterA, voterB} {
		c := governance.NewVoterCursor(v, entity.ID)
		c.SnapshotIndex = now.Add(-time.Hour)
		c.RefreshStatus = governance.StatusPending
		f.store.PutVoterCursor(c)
	}
	f.adapter.err = errors.New("hub returned 429")

	outcomes, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA, voterB})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, ResultNOK, o.Result)
	}

	cursors, err := f.store.ListVoterCursors(context.Background(), entity.ID)
	require.NoError(t, err)
	for _, c := range cursors {
		assert.Equal(t, governance.Epoch, c.SnapshotIndex)
		assert.Equal(t, governance.StatusNew, c.RefreshStatus)
	}

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(75), got.VotersRefreshSpeed)
	assert.Equal(t, MaxSnapshotSpeed, got.RefreshSpeed)
}

func TestRefreshVotes_SnapshotCursorFollowsLatestVote(t *testing.T) {
	f := newFixture(t, governance.SourceSnapshot, fakeHeads{}, Config{})
	entity := snapshotEntity(uuid.New(), now)
	f.store.PutEntity(entity)

	start := now.Add(-48 * time.Hour)
	for _, v := range []string{voterA, voterB} {
		c := governance.NewVoterCursor(v, entity.ID)
		c.SnapshotIndex = start
		f.store.PutVoterCursor(c)
	}
	latest := now.Add(-3 * time.Hour)
	f.adapter.votes = []governance.VoterVotes{
		{
			Voter: governance.ChecksumAddress(voterA),
			Votes: []governance.Vote{{
				VoterAddress: voterA,
				OrgID:        entity.OrgID,
				ProposalID:   uuid.New(),
				EntityID:     entity.ID,
				TimeCreated:  latest,
			}},
		},
		{Voter: governance.ChecksumAddress(voterB)},
	}

	_, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA, voterB})
	require.NoError(t, err)

	require.Len(t, f.adapter.ranges, 1)
	assert.Equal(t, start, f.adapter.ranges[0].From)

	cursors, err := f.store.ListVoterCursors(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Len(t, cursors, 2)
	for _, c := range cursors {
		assert.Equal(t, latest, c.SnapshotIndex)
		assert.Equal(t, governance.StatusDone, c.RefreshStatus)
	}
}

func TestRefreshVotes_NoCursors(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{})
	entity := chainEntity(uuid.New(), 0, 1000)
	f.store.PutEntity(entity)

	outcomes, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA})
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Empty(t, f.adapter.ranges)
}

func TestRefreshVotes_FailureNotRecorded(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 0, 1000)
	f.store.PutEntity(entity)
	f.store.PutVoterCursor(governance.NewVoterCursor(voterA, entity.ID))
	f.adapter.votes = []governance.VoterVotes{{Voter: governance.ChecksumAddress(voterA)}}
	f.store.FailTx = errors.New("database is down")

	outcomes, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA})
	require.ErrorContains(t, err, "database is down")
	require.Len(t, outcomes, 1)
	assert.Equal(t, ResultNOK, outcomes[0].Result)
}

func TestRefreshVotes_SpeedIsIndependentOfProposals(t *testing.T) {
	f := newFixture(t, governance.SourceUniswap, fakeHeads{head: 5000}, Config{SafetyBlocks: 10})
	entity := chainEntity(uuid.New(), 4000, 2000)
	entity.VotersRefreshSpeed = 400
	f.store.PutEntity(entity)

	cursor := governance.NewVoterCursor(voterA, entity.ID)
	cursor.ChainIndex = 100
	f.store.PutVoterCursor(cursor)
	f.adapter.votes = []governance.VoterVotes{{Voter: cursor.Voter}}

	outcomes, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ResultOK, outcomes[0].Result)

	require.Len(t, f.adapter.ranges, 1)
	assert.Equal(t, uint64(100), f.adapter.ranges[0].FromBlock)
	assert.Equal(t, uint64(500), f.adapter.ranges[0].ToBlock, "window follows the voters speed")

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(440), got.VotersRefreshSpeed)
	assert.Equal(t, int64(2000), got.RefreshSpeed)
}

func TestRefreshVotes_PartialFailureShrinksSpeed(t *testing.T) {
	f := newFixture(t, governance.SourceSnapshot, fakeHeads{}, Config{})
	entity := snapshotEntity(uuid.New(), now)
	entity.VotersRefreshSpeed = 80
	f.store.PutEntity(entity)

	for _, v := range []string{voterA, voterB} {
		c := governance.NewVoterCursor(v, entity.ID)
		c.SnapshotIndex = now.Add(-time.Hour)
		f.store.PutVoterCursor(c)
	}
	f.adapter.votes = []governance.VoterVotes{
		{Voter: governance.ChecksumAddress(voterA)},
		{Voter: governance.ChecksumAddress(voterB), Err: errors.New("hub timeout")},
	}

	outcomes, err := f.facade.RefreshVotes(context.Background(), entity.ID, []string{voterA, voterB})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	results := map[string]Result{}
	for _, o := range outcomes {
		results[o.Target] = o.Result
	}
	assert.Equal(t, ResultOK, results[governance.ChecksumAddress(voterA)])
	assert.Equal(t, ResultNOK, results[governance.ChecksumAddress(voterB)])

	got, err := f.store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.VotersRefreshSpeed)
	assert.Equal(t, MaxSnapshotSpeed, got.RefreshSpeed)
}

func TestRefreshProposals_BlacklistAppliesToEverySource(t *testing.T) {
	tests := []struct {
		name   string
		source governance.SourceType
		entity func() *governance.Entity
	}{
		{
			name:   "chain",
			source: governance.SourceUniswap,
			entity: func() *governance.Entity { return chainEntity(uuid.New(), 100, 1000) },
		},
		{
			name:   "snapshot",
			source: governance.SourceSnapshot,
			entity: func() *governance.Entity { return snapshotEntity(uuid.New(), now.Add(-24*time.Hour)) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storetest.NewMemory()
			adapter := &fakeAdapter{}
			registry := adapters.NewRegistry()
			registry.Register(tt.source, adapter)
			blacklist := adapters.NewBlacklist(map[string][]string{string(tt.source): {"spam"}}, zap.NewNop())
			facade := NewFacade(st, registry, fakeHeads{head: 5000}, Config{SafetyBlocks: 10}, zap.NewNop(),
				WithClock(func() time.Time { return now }), WithBlacklist(blacklist))

			entity := tt.entity()
			st.PutEntity(entity)
			created := now.Add(-2 * time.Hour)
			adapter.proposals = []governance.Proposal{
				proposalAt(entity, "spam", 150, created, now.Add(-time.Hour)),
				proposalAt(entity, "real", 160, created, now.Add(-time.Hour)),
			}

			outcome, err := facade.RefreshProposals(context.Background(), entity.ID)
			require.NoError(t, err)
			require.Equal(t, ResultOK, outcome.Result)

			ids, err := st.ProposalIDs(context.Background(), entity.OrgID, []string{"spam", "real"})
			require.NoError(t, err)
			assert.Contains(t, ids, "real")
			assert.NotContains(t, ids, "spam")
			assert.Len(t, adapter.proposals, 2, "the adapter batch is not modified")
		})
	}
}
