package adapters

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/senate-indexer/pkg/ethereum"
	"github.com/chainsafe/senate-indexer/pkg/ethereum/contracts"
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// GovernorAdapter reads Compound Bravo, Gitcoin Alpha and OpenZeppelin governors.
type GovernorAdapter struct {
	chainBase
}

// NewGovernorAdapter creates the governor adapter.
func NewGovernorAdapter(pool *ethereum.Pool, proposals ProposalLookup, concurrency int, logger *zap.Logger) *GovernorAdapter {
	return &GovernorAdapter{chainBase{
		pool:        pool,
		proposals:   proposals,
		concurrency: concurrency,
		logger:      logger.Named("governor"),
	}}
}

type governorDialect struct {
	abi     *abi.ABI
	choices []string
}

func dialectFor(v governance.GovernorVariant) (governorDialect, error) {
	switch v {
	case governance.VariantBravo:
		return governorDialect{abi: contracts.GovernorBravo, choices: []string{"For", "Against", "Abstain"}}, nil
	case governance.VariantOZ:
		return governorDialect{abi: contracts.GovernorOZ, choices: []string{"For", "Against", "Abstain"}}, nil
	case governance.VariantAlpha:
		return governorDialect{abi: contracts.GovernorAlpha, choices: []string{"For", "Against"}}, nil
	default:
		return governorDialect{}, fmt.Errorf("governor adapter does not handle variant %q", v)
	}
}

func governorDecoder(entity *governance.Entity) (governance.GovernorDecoder, governorDialect, error) {
	dec, ok := entity.Decoder.(governance.GovernorDecoder)
	if !ok {
		return governance.GovernorDecoder{}, governorDialect{}, fmt.Errorf("entity %s has %T decoder, expected governor", entity.ID, entity.Decoder)
	}
	dialect, err := dialectFor(dec.Variant())
	return dec, dialect, err
}

// Check reports whether entity is a Bravo, Alpha or OpenZeppelin governor.
func (a *GovernorAdapter) Check(entity *governance.Entity) error {
	_, _, err := governorDecoder(entity)
	return err
}

// FetchProposals reads ProposalCreated events in the range and enriches them with on-chain tallies.
func (a *GovernorAdapter) FetchProposals(ctx context.Context, entity *governance.Entity, r Range) ([]governance.Proposal, error) {
	dec, dialect, err := governorDecoder(entity)
	if err != nil {
		return nil, err
	}

	reader := a.reader(r)
	event := dialect.abi.Events["ProposalCreated"]
	logs, err := a.filterLogs(ctx, reader, dec.Address, [][]common.Hash{{event.ID}}, r)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proposal logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	times, err := a.blockTimes(ctx, reader, logs)
	if err != nil {
		return nil, err
	}

	proposals := make([]governance.Proposal, 0, len(logs))
	ids := make([]*big.Int, 0, len(logs))
	for _, l := range logs {
		fields, err := unpackLog(dialect.abi, "ProposalCreated", l)
		if err != nil {
			a.decodeFailed(entity.Type, l, err)
			continue
		}
		id, err := bigField(fields, "id")
		if err != nil {
			a.decodeFailed(entity.Type, l, err)
			continue
		}
		startBlock, err1 := bigField(fields, "startBlock")
		endBlock, err2 := bigField(fields, "endBlock")
		description, err3 := stringField(fields, "description")
		if err := errors.Join(err1, err2, err3); err != nil {
			a.decodeFailed(entity.Type, l, err)
			continue
		}

		created := times[l.BlockNumber]
		block := int64(l.BlockNumber)
		proposals = append(proposals, governance.Proposal{
			ExternalID:   id.String(),
			OrgID:        entity.OrgID,
			EntityID:     entity.ID,
			Name:         governance.TruncateName(governorTitle(description)),
			TimeCreated:  created,
			TimeStart:    ethereum.Extrapolate(created, block, startBlock.Int64()),
			TimeEnd:      ethereum.Extrapolate(created, block, endBlock.Int64()),
			BlockCreated: block,
			URL:          dec.ProposalURL + id.String(),
			Choices:      dialect.choices,
			State:        governance.StateUnknown,
			Visible:      true,
		})
		ids = append(ids, id)
	}

	a.fillTallies(ctx, reader, dec, dialect, proposals, ids)
	return proposals, nil
}

// fillTallies reads scores, quorum and state. Failures leave the proposal without tallies.
func (a *GovernorAdapter) fillTallies(
	ctx context.Context,
	reader ethereum.ChainReader,
	dec governance.GovernorDecoder,
	dialect governorDialect,
	proposals []governance.Proposal,
	ids []*big.Int,
) {
	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}

	var quorumOnce sync.Once
	var sharedQuorum decimal.Decimal
	var sharedQuorumErr error

	for i := range proposals {
		g.Go(func() error {
			p := &proposals[i]
			id := ids[i]

			scores, err := a.scores(ctx, reader, dec, id)
			if err != nil {
				a.logger.Warn("Failed to read proposal tallies",
					zap.String("entity", p.EntityID.String()),
					zap.String("proposal", p.ExternalID),
					zap.Error(err),
				)
			} else {
				p.Scores = scores
				p.ScoresTotal = governance.SumScores(scores)
			}

			if dec.Variant() == governance.VariantOZ {
				q, err := ethereum.CallBig(ctx, reader, dialect.abi, dec.Address, nil, "quorum", big.NewInt(p.BlockCreated))
				if err == nil {
					p.Quorum = tokens(q)
				}
			} else {
				quorumOnce.Do(func() {
					var q *big.Int
					q, sharedQuorumErr = ethereum.CallBig(ctx, reader, dialect.abi, dec.Address, nil, "quorumVotes")
					sharedQuorum = tokens(q)
				})
				if sharedQuorumErr == nil {
					p.Quorum = sharedQuorum
				}
			}

			out, err := ethereum.Call(ctx, reader, dialect.abi, dec.Address, nil, "state", id)
			if err == nil && len(out) > 0 {
				if idx, ok := out[0].(uint8); ok {
					p.State = stateAt(governorStates, idx)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (a *GovernorAdapter) scores(ctx context.Context, reader ethereum.ChainReader, dec governance.GovernorDecoder, id *big.Int) ([]decimal.Decimal, error) {
	switch dec.Variant() {
	case governance.VariantOZ:
		out, err := ethereum.Call(ctx, reader, contracts.GovernorOZ, dec.Address, nil, "proposalVotes", id)
		if err != nil {
			return nil, err
		}
		if len(out) < 3 {
			return nil, fmt.Errorf("proposalVotes returned %d values", len(out))
		}
		against, _ := out[0].(*big.Int)
		forVotes, _ := out[1].(*big.Int)
		abstain, _ := out[2].(*big.Int)
		return []decimal.Decimal{tokens(forVotes), tokens(against), tokens(abstain)}, nil

	case governance.VariantAlpha:
		out, err := ethereum.Call(ctx, reader, contracts.GovernorAlpha, dec.Address, nil, "proposals", id)
		if err != nil {
			return nil, err
		}
		if len(out) < 7 {
			return nil, fmt.Errorf("proposals returned %d values", len(out))
		}
		forVotes, _ := out[5].(*big.Int)
		against, _ := out[6].(*big.Int)
		return []decimal.Decimal{tokens(forVotes), tokens(against)}, nil

	default:
		out, err := ethereum.Call(ctx, reader, contracts.GovernorBravo, dec.Address, nil, "proposals", id)
		if err != nil {
			return nil, err
		}
		if len(out) < 8 {
			return nil, fmt.Errorf("proposals returned %d values", len(out))
		}
		forVotes, _ := out[5].(*big.Int)
		against, _ := out[6].(*big.Int)
		abstain, _ := out[7].(*big.Int)
		return []decimal.Decimal{tokens(forVotes), tokens(against), tokens(abstain)}, nil
	}
}

// FetchVotes reads VoteCast events of voters in the range.
func (a *GovernorAdapter) FetchVotes(ctx context.Context, entity *governance.Entity, r Range, voters []string) ([]governance.VoterVotes, error) {
	dec, dialect, err := governorDecoder(entity)
	if err != nil {
		return nil, err
	}
	set := newVoterSet(voters)
	if len(set.order) == 0 {
		return nil, nil
	}

	reader := a.reader(r)
	event := dialect.abi.Events["VoteCast"]
	topics := [][]common.Hash{{event.ID}}
	indexedVoter := dec.Variant() != governance.VariantAlpha
	if indexedVoter {
		topics = append(topics, voterTopics(set.order))
	}

	logs, err := a.filterLogs(ctx, reader, dec.Address, topics, r)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vote logs: %w", err)
	}

	type decoded struct {
		log        types.Log
		voter      string
		proposalID string
		option     governance.VoteOption
		power      decimal.Decimal
		reason     string
	}

	var votes []decoded
	for _, l := range logs {
		fields, err := unpackLog(dialect.abi, "VoteCast", l)
		var voter string
		switch {
		case indexedVoter && len(l.Topics) > 1:
			voter = topicAddress(l.Topics[1])
		case err == nil:
			if addr, ok := fields["voter"].(common.Address); ok {
				voter = addr.Hex()
			}
		}
		if voter != "" && !set.has(voter) {
			continue
		}
		if err != nil {
			a.decodeFailed(entity.Type, l, err)
			if voter != "" {
				set.fail(voter, governance.NewDecodeError(string(entity.Type), err))
			}
			continue
		}

		vote, err := decodeGovernorVote(dec.Variant(), fields)
		if err != nil {
			a.decodeFailed(entity.Type, l, err)
			set.fail(voter, governance.NewDecodeError(string(entity.Type), err))
			continue
		}
		votes = append(votes, decoded{
			log:        l,
			voter:      voter,
			proposalID: vote.proposalID,
			option:     vote.option,
			power:      vote.power,
			reason:     vote.reason,
		})
	}
	if len(votes) == 0 {
		return set.result(), nil
	}

	externalIDs := make([]string, 0, len(votes))
	voteLogs := make([]types.Log, 0, len(votes))
	for _, v := range votes {
		externalIDs = append(externalIDs, v.proposalID)
		voteLogs = append(voteLogs, v.log)
	}
	stored, err := a.lookupProposals(ctx, entity.OrgID, externalIDs)
	if err != nil {
		return nil, err
	}
	times, err := a.blockTimes(ctx, reader, voteLogs)
	if err != nil {
		return nil, err
	}

	for _, v := range votes {
		proposalID, ok := stored[v.proposalID]
		if !ok {
			set.fail(v.voter, fmt.Errorf("%w: %s", governance.ErrProposalNotFound, v.proposalID))
			continue
		}
		set.add(v.voter, governance.Vote{
			ID:           uuid.New(),
			VoterAddress: governance.ChecksumAddress(v.voter),
			OrgID:        entity.OrgID,
			ProposalID:   proposalID,
			EntityID:     entity.ID,
			Options:      []governance.VoteOption{v.option},
			VotingPower:  v.power,
			Reason:       v.reason,
			BlockCreated: int64(v.log.BlockNumber),
			TimeCreated:  times[v.log.BlockNumber],
		})
	}
	return set.result(), nil
}

type governorVote struct {
	proposalID string
	option     governance.VoteOption
	power      decimal.Decimal
	reason     string
}

func decodeGovernorVote(variant governance.GovernorVariant, fields map[string]any) (governorVote, error) {
	proposalID, err := bigField(fields, "proposalId")
	if err != nil {
		return governorVote{}, err
	}

	var (
		option governance.VoteOption
		power  *big.Int
	)
	switch variant {
	case governance.VariantAlpha:
		support, ok := fields["support"].(bool)
		if !ok {
			return governorVote{}, fmt.Errorf("field support is %T, expected bool", fields["support"])
		}
		option = boolOption(support)
		power, err = bigField(fields, "votes")
	default:
		support, ok := fields["support"].(uint8)
		if !ok {
			return governorVote{}, fmt.Errorf("field support is %T, expected uint8", fields["support"])
		}
		option, err = supportOption(support)
		if err != nil {
			return governorVote{}, err
		}
		weightField := "votes"
		if variant == governance.VariantOZ {
			weightField = "weight"
		}
		power, err = bigField(fields, weightField)
	}
	if err != nil {
		return governorVote{}, err
	}

	reason, _ := fields["reason"].(string)
	return governorVote{
		proposalID: proposalID.String(),
		option:     option,
		power:      tokens(power),
		reason:     reason,
	}, nil
}

func boolOption(support bool) governance.VoteOption {
	if support {
		return governance.VoteOption{Option: "1", OptionName: "For"}
	}
	return governance.VoteOption{Option: "2", OptionName: "Against"}
}

func supportOption(support uint8) (governance.VoteOption, error) {
	switch support {
	case 0:
		return governance.VoteOption{Option: "2", OptionName: "Against"}, nil
	case 1:
		return governance.VoteOption{Option: "1", OptionName: "For"}, nil
	case 2:
		return governance.VoteOption{Option: "3", OptionName: "Abstain"}, nil
	default:
		return governance.VoteOption{}, fmt.Errorf("unsupported vote type %d", support)
	}
}
