package adapters

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"

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

// TitleResolver resolves proposal titles from content-addressed metadata.
type TitleResolver interface {
	Title(ctx context.Context, digest [32]byte) string
}

// AaveAdapter reads Aave governance v2 and the dYdX governor.
type AaveAdapter struct {
	chainBase
	titles TitleResolver
}

// NewAaveAdapter creates the Aave style adapter.
func NewAaveAdapter(pool *ethereum.Pool, proposals ProposalLookup, titles TitleResolver, concurrency int, logger *zap.Logger) *AaveAdapter {
	return &AaveAdapter{
		chainBase: chainBase{
			pool:        pool,
			proposals:   proposals,
			concurrency: concurrency,
			logger:      logger.Named("aave"),
		},
		titles: titles,
	}
}

func aaveDecoder(entity *governance.Entity) (governance.GovernorDecoder, error) {
	dec, ok := entity.Decoder.(governance.GovernorDecoder)
	if !ok {
		return governance.GovernorDecoder{}, fmt.Errorf("entity %s has %T decoder, expected governor", entity.ID, entity.Decoder)
	}
	if v := dec.Variant(); v != governance.VariantAave && v != governance.VariantDydx {
		return governance.GovernorDecoder{}, fmt.Errorf("aave adapter does not handle variant %q", v)
	}
	return dec, nil
}

// Check reports whether entity is an Aave or dYdX governor.
func (a *AaveAdapter) Check(entity *governance.Entity) error {
	_, err := aaveDecoder(entity)
	return err
}

type aaveCreated struct {
	id       *big.Int
	executor common.Address
	strategy common.Address
	ipfsHash [32]byte
}

// FetchProposals reads ProposalCreated events and resolves titles, quorum, tallies and state.
func (a *AaveAdapter) FetchProposals(ctx context.Context, entity *governance.Entity, r Range) ([]governance.Proposal, error) {
	dec, err := aaveDecoder(entity)
	if err != nil {
		return nil, err
	}

	reader := a.reader(r)
	event := contracts.AaveGovernanceV2.Events["ProposalCreated"]
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
	created := make([]aaveCreated, 0, len(logs))
	for _, l := range logs {
		c, startBlock, endBlock, err := decodeAaveCreated(l)
		if err != nil {
			a.decodeFailed(entity.Type, l, err)
			continue
		}
		ts := times[l.BlockNumber]
		block := int64(l.BlockNumber)
		proposals = append(proposals, governance.Proposal{
			ExternalID:   c.id.String(),
			OrgID:        entity.OrgID,
			EntityID:     entity.ID,
			TimeCreated:  ts,
			TimeStart:    ethereum.Extrapolate(ts, block, startBlock),
			TimeEnd:      ethereum.Extrapolate(ts, block, endBlock),
			BlockCreated: block,
			URL:          dec.ProposalURL + c.id.String(),
			Choices:      []string{"For", "Against"},
			State:        governance.StateUnknown,
			Visible:      true,
		})
		created = append(created, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i := range proposals {
		g.Go(func() error {
			a.enrich(gctx, reader, dec, &proposals[i], created[i])
			return nil
		})
	}
	_ = g.Wait()

	return proposals, nil
}

func decodeAaveCreated(l types.Log) (aaveCreated, int64, int64, error) {
	fields, err := unpackLog(contracts.AaveGovernanceV2, "ProposalCreated", l)
	if err != nil {
		return aaveCreated{}, 0, 0, err
	}
	id, err1 := bigField(fields, "id")
	startBlock, err2 := bigField(fields, "startBlock")
	endBlock, err3 := bigField(fields, "endBlock")
	if err := errors.Join(err1, err2, err3); err != nil {
		return aaveCreated{}, 0, 0, err
	}
	strategy, ok := fields["strategy"].(common.Address)
	if !ok {
		return aaveCreated{}, 0, 0, fmt.Errorf("field strategy is %T, expected address", fields["strategy"])
	}
	hash, ok := fields["ipfsHash"].([32]byte)
	if !ok {
		return aaveCreated{}, 0, 0, fmt.Errorf("field ipfsHash is %T, expected bytes32", fields["ipfsHash"])
	}
	return aaveCreated{
		id:       id,
		executor: common.BytesToAddress(l.Topics[2].Bytes()),
		strategy: strategy,
		ipfsHash: hash,
	}, startBlock.Int64(), endBlock.Int64(), nil
}

func (a *AaveAdapter) enrich(ctx context.Context, reader ethereum.ChainReader, dec governance.GovernorDecoder, p *governance.Proposal, c aaveCreated) {
	p.Name = governance.TruncateName(a.titles.Title(ctx, c.ipfsHash))

	quorum, err := a.quorum(ctx, reader, p.BlockCreated, c)
	if err != nil {
		a.logger.Warn("Failed to read proposal quorum",
			zap.String("proposal", p.ExternalID),
			zap.Error(err),
		)
	} else {
		p.Quorum = quorum
	}

	out, err := ethereum.Call(ctx, reader, contracts.AaveGovernanceV2, dec.Address, nil, "getProposalById", c.id)
	if err == nil && len(out) > 0 {
		forVotes, err1 := tupleBig(out[0], "ForVotes")
		against, err2 := tupleBig(out[0], "AgainstVotes")
		if err := errors.Join(err1, err2); err == nil {
			p.Scores = []decimal.Decimal{tokens(forVotes), tokens(against)}
			p.ScoresTotal = governance.SumScores(p.Scores)
		} else {
			a.logger.Warn("Unexpected proposal tuple", zap.String("proposal", p.ExternalID), zap.Error(err))
		}
	} else if err != nil {
		a.logger.Warn("Failed to read proposal tallies", zap.String("proposal", p.ExternalID), zap.Error(err))
	}

	out, err = ethereum.Call(ctx, reader, contracts.AaveGovernanceV2, dec.Address, nil, "getProposalState", c.id)
	if err == nil && len(out) > 0 {
		if idx, ok := out[0].(uint8); ok {
			p.State = stateAt(aaveStates, idx)
		}
	}
}

// quorum is totalVotingSupplyAt(blockCreated) * MINIMUM_QUORUM / ONE_HUNDRED_WITH_PRECISION.
func (a *AaveAdapter) quorum(ctx context.Context, reader ethereum.ChainReader, blockCreated int64, c aaveCreated) (decimal.Decimal, error) {
	supply, err := ethereum.CallBig(ctx, reader, contracts.AaveStrategy, c.strategy, nil, "getTotalVotingSupplyAt", big.NewInt(blockCreated))
	if err != nil {
		return decimal.Zero, err
	}
	minQuorum, err := ethereum.CallBig(ctx, reader, contracts.AaveExecutor, c.executor, nil, "MINIMUM_QUORUM")
	if err != nil {
		return decimal.Zero, err
	}
	precision, err := ethereum.CallBig(ctx, reader, contracts.AaveExecutor, c.executor, nil, "ONE_HUNDRED_WITH_PRECISION")
	if err != nil {
		return decimal.Zero, err
	}
	if precision.Sign() == 0 {
		return decimal.Zero, errors.New("executor precision is zero")
	}
	q := new(big.Int).Mul(supply, minQuorum)
	q.Quo(q, precision)
	return tokens(q), nil
}

func tupleBig(tuple any, field string) (*big.Int, error) {
	v := reflect.ValueOf(tuple)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected tuple, got %T", tuple)
	}
	f := v.FieldByName(field)
	if !f.IsValid() {
		return nil, fmt.Errorf("tuple has no field %s", field)
	}
	out, ok := f.Interface().(*big.Int)
	if !ok {
		return nil, fmt.Errorf("tuple field %s is %s", field, f.Type())
	}
	return out, nil
}

// FetchVotes reads VoteEmitted events of voters in the range.
func (a *AaveAdapter) FetchVotes(ctx context.Context, entity *governance.Entity, r Range, voters []string) ([]governance.VoterVotes, error) {
	dec, err := aaveDecoder(entity)
	if err != nil {
		return nil, err
	}
	set := newVoterSet(voters)
	if len(set.order) == 0 {
		return nil, nil
	}

	reader := a.reader(r)
	event := contracts.AaveGovernanceV2.Events["VoteEmitted"]
	logs, err := a.filterLogs(ctx, reader, dec.Address, [][]common.Hash{{event.ID}, voterTopics(set.order)}, r)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vote logs: %w", err)
	}

	type decoded struct {
		log        types.Log
		voter      string
		proposalID string
		support    bool
		power      *big.Int
	}
	var votes []decoded
	for _, l := range logs {
		if len(l.Topics) < 2 {
			a.decodeFailed(entity.Type, l, errors.New("missing voter topic"))
			continue
		}
		voter := topicAddress(l.Topics[1])
		if !set.has(voter) {
			continue
		}
		fields, err := unpackLog(contracts.AaveGovernanceV2, "VoteEmitted", l)
		if err != nil {
			a.decodeFailed(entity.Type, l, err)
			set.fail(voter, governance.NewDecodeError(string(entity.Type), err))
			continue
		}
		id, err1 := bigField(fields, "id")
		power, err2 := bigField(fields, "votingPower")
		support, ok := fields["support"].(bool)
		if err := errors.Join(err1, err2); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("field support is %T, expected bool", fields["support"])
			}
			a.decodeFailed(entity.Type, l, err)
			set.fail(voter, governance.NewDecodeError(string(entity.Type), err))
			continue
		}
		votes = append(votes, decoded{log: l, voter: voter, proposalID: id.String(), support: support, power: power})
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
			VoterAddress: v.voter,
			OrgID:        entity.OrgID,
			ProposalID:   proposalID,
			EntityID:     entity.ID,
			Options:      []governance.VoteOption{boolOption(v.support)},
			VotingPower:  tokens(v.power),
			BlockCreated: int64(v.log.BlockNumber),
			TimeCreated:  times[v.log.BlockNumber],
		})
	}
	return set.result(), nil
}
