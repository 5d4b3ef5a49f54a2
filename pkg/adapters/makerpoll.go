package adapters

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/senate-indexer/pkg/ethereum"
	"github.com/chainsafe/senate-indexer/pkg/ethereum/contracts"
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// PollTitler fetches poll titles from their published documents.
type PollTitler interface {
	PollTitle(ctx context.Context, url string) string
}

// MakerPollAdapter reads Maker polls and poll votes.
type MakerPollAdapter struct {
	chainBase
	titles    PollTitler
	blacklist *Blacklist
	now       func() time.Time
}

// NewMakerPollAdapter creates the polling emitter adapter.
func NewMakerPollAdapter(
	pool *ethereum.Pool,
	proposals ProposalLookup,
	titles PollTitler,
	blacklist *Blacklist,
	concurrency int,
	logger *zap.Logger,
) *MakerPollAdapter {
	return &MakerPollAdapter{
		chainBase: chainBase{
			pool:        pool,
			proposals:   proposals,
			concurrency: concurrency,
			logger:      logger.Named("maker_poll"),
		},
		titles:    titles,
		blacklist: blacklist,
		now:       time.Now,
	}
}

func makerPollDecoder(entity *governance.Entity) (governance.MakerPollDecoder, error) {
	dec, ok := entity.Decoder.(governance.MakerPollDecoder)
	if !ok {
		return governance.MakerPollDecoder{}, fmt.Errorf("entity %s has %T decoder, expected maker poll", entity.ID, entity.Decoder)
	}
	return dec, nil
}

// Check reports whether entity carries a poll decoder.
func (m *MakerPollAdapter) Check(entity *governance.Entity) error {
	_, err := makerPollDecoder(entity)
	return err
}

type pollCreated struct {
	log   types.Log
	id    string
	start time.Time
	end   time.Time
	url   string
}

func decodePollCreated(l types.Log) (pollCreated, error) {
	fields, err := unpackLog(contracts.PollingEmitter, "PollCreated", l)
	if err != nil {
		return pollCreated{}, err
	}
	start, err1 := bigField(fields, "startDate")
	end, err2 := bigField(fields, "endDate")
	url, err3 := stringField(fields, "url")
	if err := errors.Join(err1, err2, err3); err != nil {
		return pollCreated{}, err
	}
	return pollCreated{
		log:   l,
		id:    l.Topics[2].Big().String(),
		start: time.Unix(start.Int64(), 0).UTC(),
		end:   time.Unix(end.Int64(), 0).UTC(),
		url:   url,
	}, nil
}

func pollState(start, end, now time.Time) governance.ProposalState {
	switch {
	case now.Before(start):
		return governance.StatePending
	case now.Before(end):
		return governance.StateActive
	default:
		return governance.StateExecuted
	}
}

// FetchProposals reads PollCreated events, skipping blacklisted polls.
func (m *MakerPollAdapter) FetchProposals(ctx context.Context, entity *governance.Entity, r Range) ([]governance.Proposal, error) {
	dec, err := makerPollDecoder(entity)
	if err != nil {
		return nil, err
	}

	reader := m.reader(r)
	event := contracts.PollingEmitter.Events["PollCreated"]
	logs, err := m.filterLogs(ctx, reader, dec.CreateAddress, [][]common.Hash{{event.ID}}, r)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch poll logs: %w", err)
	}

	polls := make([]pollCreated, 0, len(logs))
	for _, l := range logs {
		p, err := decodePollCreated(l)
		if err != nil {
			m.decodeFailed(entity.Type, l, err)
			continue
		}
		if m.blacklist.Excluded(entity.Type, p.id) {
			continue
		}
		polls = append(polls, p)
	}
	if len(polls) == 0 {
		return nil, nil
	}

	times, err := m.blockTimes(ctx, reader, lo.Map(polls, func(p pollCreated, _ int) types.Log { return p.log }))
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	proposals := make([]governance.Proposal, len(polls))
	g, gctx := errgroup.WithContext(ctx)
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}
	for i, p := range polls {
		g.Go(func() error {
			proposals[i] = governance.Proposal{
				ExternalID:   p.id,
				OrgID:        entity.OrgID,
				EntityID:     entity.ID,
				Name:         governance.TruncateName(m.titles.PollTitle(gctx, p.url)),
				TimeCreated:  times[p.log.BlockNumber],
				TimeStart:    p.start,
				TimeEnd:      p.end,
				BlockCreated: int64(p.log.BlockNumber),
				URL:          dec.ProposalURL + p.id,
				Choices:      []string{"For", "Against"},
				Scores:       []decimal.Decimal{decimal.Zero, decimal.Zero},
				ScoresTotal:  decimal.Zero,
				State:        pollState(p.start, p.end, now),
				Visible:      true,
			}
			return nil
		})
	}
	_ = g.Wait()

	return proposals, nil
}

// PollIDs returns the ids of polls created and withdrawn in the range.
func (m *MakerPollAdapter) PollIDs(ctx context.Context, entity *governance.Entity, r Range) (created, withdrawn []string, err error) {
	dec, err := makerPollDecoder(entity)
	if err != nil {
		return nil, nil, err
	}

	reader := m.reader(r)
	createdEvent := contracts.PollingEmitter.Events["PollCreated"]
	withdrawnEvent := contracts.PollingEmitter.Events["PollWithdrawn"]
	logs, err := m.filterLogs(ctx, reader, dec.CreateAddress, [][]common.Hash{{createdEvent.ID, withdrawnEvent.ID}}, r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch poll logs: %w", err)
	}

	for _, l := range logs {
		switch l.Topics[0] {
		case createdEvent.ID:
			if len(l.Topics) < 3 {
				m.decodeFailed(entity.Type, l, errors.New("missing poll id topic"))
				continue
			}
			id := l.Topics[2].Big().String()
			if m.blacklist.Excluded(entity.Type, id) {
				continue
			}
			created = append(created, id)
		case withdrawnEvent.ID:
			fields, err := unpackLog(contracts.PollingEmitter, "PollWithdrawn", l)
			if err != nil {
				m.decodeFailed(entity.Type, l, err)
				continue
			}
			id, err := bigField(fields, "pollId")
			if err != nil {
				m.decodeFailed(entity.Type, l, err)
				continue
			}
			withdrawn = append(withdrawn, id.String())
		}
	}
	return lo.Uniq(created), lo.Uniq(withdrawn), nil
}

// FetchVotes reads Voted events of voters in the range.
func (m *MakerPollAdapter) FetchVotes(ctx context.Context, entity *governance.Entity, r Range, voters []string) ([]governance.VoterVotes, error) {
	dec, err := makerPollDecoder(entity)
	if err != nil {
		return nil, err
	}
	set := newVoterSet(voters)
	if len(set.order) == 0 {
		return nil, nil
	}

	reader := m.reader(r)
	event := contracts.PollingEmitter.Events["Voted"]
	logs, err := m.filterLogs(ctx, reader, dec.VoteAddress, [][]common.Hash{{event.ID}, voterTopics(set.order)}, r)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch poll vote logs: %w", err)
	}

	type pollVote struct {
		log    types.Log
		voter  string
		pollID string
		option *big.Int
	}
	var votes []pollVote
	for _, l := range logs {
		if len(l.Topics) < 4 {
			m.decodeFailed(entity.Type, l, fmt.Errorf("Voted log has %d topics, expected 4", len(l.Topics)))
			if len(l.Topics) >= 2 {
				voter := topicAddress(l.Topics[1])
				set.fail(voter, governance.NewDecodeError(string(entity.Type), errors.New("truncated Voted log")))
			}
			continue
		}
		voter := topicAddress(l.Topics[1])
		if !set.has(voter) {
			continue
		}
		pollID := l.Topics[2].Big().String()
		if m.blacklist.Excluded(entity.Type, pollID) {
			continue
		}
		votes = append(votes, pollVote{log: l, voter: voter, pollID: pollID, option: l.Topics[3].Big()})
	}
	if len(votes) == 0 {
		return set.result(), nil
	}

	stored, err := m.lookupProposals(ctx, entity.OrgID, lo.Map(votes, func(v pollVote, _ int) string { return v.pollID }))
	if err != nil {
		return nil, err
	}
	times, err := m.blockTimes(ctx, reader, lo.Map(votes, func(v pollVote, _ int) types.Log { return v.log }))
	if err != nil {
		return nil, err
	}

	for _, v := range votes {
		proposalID, ok := stored[v.pollID]
		if !ok {
			set.fail(v.voter, fmt.Errorf("%w: poll %s", governance.ErrProposalNotFound, v.pollID))
			continue
		}
		name := "No"
		if v.option.Sign() != 0 {
			name = "Yes"
		}
		set.add(v.voter, governance.Vote{
			ID:           uuid.New(),
			VoterAddress: v.voter,
			OrgID:        entity.OrgID,
			ProposalID:   proposalID,
			EntityID:     entity.ID,
			Options:      []governance.VoteOption{{Option: v.option.String(), OptionName: name}},
			VotingPower:  decimal.Zero,
			BlockCreated: int64(v.log.BlockNumber),
			TimeCreated:  times[v.log.BlockNumber],
		})
	}
	return set.result(), nil
}
