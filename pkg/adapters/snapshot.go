package adapters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/snapshot"
)

// SnapshotHub is the subset of the hub client used by the adapter.
type SnapshotHub interface {
	Proposals(ctx context.Context, space string, createdGt int64) ([]snapshot.Proposal, error)
	Votes(ctx context.Context, space string, voters []string, createdGt int64) ([]snapshot.Vote, error)
}

// SnapshotAdapter reads off-chain proposals and votes of a Snapshot space.
type SnapshotAdapter struct {
	hub       SnapshotHub
	proposals ProposalLookup
	logger    *zap.Logger
}

// NewSnapshotAdapter creates the Snapshot adapter.
func NewSnapshotAdapter(hub SnapshotHub, proposals ProposalLookup, logger *zap.Logger) *SnapshotAdapter {
	return &SnapshotAdapter{
		hub:       hub,
		proposals: proposals,
		logger:    logger.Named("snapshot"),
	}
}

func snapshotDecoder(entity *governance.Entity) (governance.SnapshotDecoder, error) {
	dec, ok := entity.Decoder.(governance.SnapshotDecoder)
	if !ok {
		return governance.SnapshotDecoder{}, fmt.Errorf("entity %s has %T decoder, expected snapshot", entity.ID, entity.Decoder)
	}
	return dec, nil
}

// Check reports whether entity carries a space decoder.
func (a *SnapshotAdapter) Check(entity *governance.Entity) error {
	_, err := snapshotDecoder(entity)
	return err
}

func snapshotState(p snapshot.Proposal) governance.ProposalState {
	switch p.State {
	case "active":
		return governance.StateActive
	case "pending":
		return governance.StatePending
	case "closed":
		if p.ScoresState == "final" {
			return governance.StateExecuted
		}
		return governance.StateHidden
	default:
		return governance.StateUnknown
	}
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// FetchProposals returns one page of proposals created after r.From, oldest first.
func (s *SnapshotAdapter) FetchProposals(ctx context.Context, entity *governance.Entity, r Range) ([]governance.Proposal, error) {
	dec, err := snapshotDecoder(entity)
	if err != nil {
		return nil, err
	}

	page, err := s.hub.Proposals(ctx, dec.Space, r.From.Unix())
	if err != nil {
		return nil, err
	}

	return lo.Map(page, func(p snapshot.Proposal, _ int) governance.Proposal {
		scores := lo.Map(p.Scores, func(v float64, _ int) decimal.Decimal { return decimal.NewFromFloat(v) })
		return governance.Proposal{
			ExternalID:  p.ID,
			OrgID:       entity.OrgID,
			EntityID:    entity.ID,
			Name:        governance.TruncateName(p.Title),
			TimeCreated: unixTime(p.Created),
			TimeStart:   unixTime(p.Start),
			TimeEnd:     unixTime(p.End),
			URL:         p.Link,
			Choices:     p.Choices,
			Scores:      scores,
			ScoresTotal: decimal.NewFromFloat(p.ScoresTotal),
			Quorum:      decimal.NewFromFloat(p.Quorum),
			State:       snapshotState(p),
			Visible:     !p.Flagged,
		}
	}), nil
}

// FetchVotes returns one page of votes of voters cast after r.From.
func (s *SnapshotAdapter) FetchVotes(ctx context.Context, entity *governance.Entity, r Range, voters []string) ([]governance.VoterVotes, error) {
	dec, err := snapshotDecoder(entity)
	if err != nil {
		return nil, err
	}
	set := newVoterSet(voters)
	if len(set.order) == 0 {
		return nil, nil
	}

	page, err := s.hub.Votes(ctx, dec.Space, set.order, r.From.Unix())
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return set.result(), nil
	}

	ids, err := s.proposals.ProposalIDs(ctx, entity.OrgID, lo.Uniq(lo.Map(page, func(v snapshot.Vote, _ int) string { return v.Proposal.ID })))
	if err != nil {
		return nil, fmt.Errorf("failed to look up proposals: %w", err)
	}

	for _, v := range page {
		voter := governance.ChecksumAddress(v.Voter)
		if !set.has(voter) {
			continue
		}
		proposalID, ok := ids[v.Proposal.ID]
		if !ok {
			set.fail(voter, fmt.Errorf("%w: %s", governance.ErrProposalNotFound, v.Proposal.ID))
			continue
		}
		choices, err := v.Choices()
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(string(entity.Type)).Inc()
			s.logger.Warn("Undecodable snapshot ballot", zap.String("vote", v.ID), zap.Error(err))
			set.fail(voter, governance.NewDecodeError(string(entity.Type), err))
			continue
		}
		set.add(voter, governance.Vote{
			ID:           uuid.New(),
			VoterAddress: voter,
			OrgID:        entity.OrgID,
			ProposalID:   proposalID,
			EntityID:     entity.ID,
			Options: lo.Map(choices, func(idx int, _ int) governance.VoteOption {
				return governance.VoteOption{
					Option:     strconv.Itoa(idx),
					OptionName: snapshot.ChoiceName(v.Proposal.Choices, idx),
				}
			}),
			VotingPower: decimal.NewFromFloat(v.VP),
			Reason:      v.Reason,
			TimeCreated: unixTime(v.Created),
		})
	}
	return set.result(), nil
}
