package adapters

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
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

// maxSlateSize bounds the slates(slate, i) walk.
const maxSlateSize = 64

// SpellSource resolves executive spell metadata and block heights.
type SpellSource interface {
	Spell(ctx context.Context, spell string) (SpellMetadata, error)
	BlockAt(ctx context.Context, ts time.Time) (uint64, error)
}

// MakerExecutiveAdapter reads executive spells voted on the DSChief.
type MakerExecutiveAdapter struct {
	chainBase
	spells SpellSource
	now    func() time.Time
}

// NewMakerExecutiveAdapter creates the DSChief adapter.
func NewMakerExecutiveAdapter(pool *ethereum.Pool, proposals ProposalLookup, spells SpellSource, concurrency int, logger *zap.Logger) *MakerExecutiveAdapter {
	return &MakerExecutiveAdapter{
		chainBase: chainBase{
			pool:        pool,
			proposals:   proposals,
			concurrency: concurrency,
			logger:      logger.Named("maker_executive"),
		},
		spells: spells,
		now:    time.Now,
	}
}

func makerExecutiveDecoder(entity *governance.Entity) (governance.MakerExecutiveDecoder, error) {
	dec, ok := entity.Decoder.(governance.MakerExecutiveDecoder)
	if !ok {
		return governance.MakerExecutiveDecoder{}, fmt.Errorf("entity %s has %T decoder, expected maker executive", entity.ID, entity.Decoder)
	}
	return dec, nil
}

// Check reports whether entity carries a DSChief decoder.
func (m *MakerExecutiveAdapter) Check(entity *governance.Entity) error {
	_, err := makerExecutiveDecoder(entity)
	return err
}

var (
	addressArrayArgs abi.Arguments
	bytes32Args      abi.Arguments
)

func init() {
	addressArray, err := abi.NewType("address[]", "", nil)
	if err != nil {
		panic(err)
	}
	bytes32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	addressArrayArgs = abi.Arguments{{Type: addressArray}}
	bytes32Args = abi.Arguments{{Type: bytes32}}
}

// ballot is one decoded DSChief vote call.
type ballot struct {
	log   types.Log
	voter string
	yays  []common.Address
	slate *[32]byte
}

func decodeBallot(l types.Log) (ballot, error) {
	fields, err := unpackLog(contracts.DSChief, "LogNote", l)
	if err != nil {
		return ballot{}, err
	}
	fax, ok := fields["fax"].([]byte)
	if !ok {
		return ballot{}, fmt.Errorf("field fax is %T, expected bytes", fields["fax"])
	}
	if len(fax) < 4 {
		return ballot{}, fmt.Errorf("fax too short: %d bytes", len(fax))
	}

	b := ballot{log: l, voter: topicAddress(l.Topics[1])}
	var selector [4]byte
	copy(selector[:], fax[:4])
	switch selector {
	case contracts.ChiefVoteYaysSelector:
		out, err := addressArrayArgs.Unpack(fax[4:])
		if err != nil {
			return ballot{}, fmt.Errorf("failed to decode yays: %w", err)
		}
		yays, ok := out[0].([]common.Address)
		if !ok {
			return ballot{}, fmt.Errorf("yays decoded as %T", out[0])
		}
		b.yays = yays
	case contracts.ChiefVoteSlateSelector:
		out, err := bytes32Args.Unpack(fax[4:])
		if err != nil {
			return ballot{}, fmt.Errorf("failed to decode slate: %w", err)
		}
		slate, ok := out[0].([32]byte)
		if !ok {
			return ballot{}, fmt.Errorf("slate decoded as %T", out[0])
		}
		b.slate = &slate
	default:
		return ballot{}, fmt.Errorf("unknown vote selector %x", selector)
	}
	return b, nil
}

// slateResolver caches slate contents for the duration of one fetch.
type slateResolver struct {
	reader ethereum.ChainReader
	chief  common.Address
	mu     sync.Mutex
	cache  map[[32]byte][]common.Address
}

func (s *slateResolver) resolve(ctx context.Context, slate [32]byte) ([]common.Address, error) {
	s.mu.Lock()
	cached, ok := s.cache[slate]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	var yays []common.Address
	for i := int64(0); i < maxSlateSize; i++ {
		out, err := ethereum.Call(ctx, s.reader, contracts.DSChief, s.chief, nil, "slates", slate, big.NewInt(i))
		if err != nil {
			if ethereum.IsRevert(err) {
				break
			}
			return nil, fmt.Errorf("failed to read slate %x[%d]: %w", slate, i, err)
		}
		addr, ok := out[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("slate entry decoded as %T", out[0])
		}
		yays = append(yays, addr)
	}

	s.mu.Lock()
	s.cache[slate] = yays
	s.mu.Unlock()
	return yays, nil
}

// spellsOf returns the deduplicated non-zero spells of b.
func (s *slateResolver) spellsOf(ctx context.Context, b ballot) ([]string, error) {
	yays := b.yays
	if b.slate != nil {
		var err error
		if yays, err = s.resolve(ctx, *b.slate); err != nil {
			return nil, err
		}
	}
	spells := lo.FilterMap(yays, func(a common.Address, _ int) (string, bool) {
		return a.Hex(), a != (common.Address{})
	})
	return lo.Uniq(spells), nil
}

func (m *MakerExecutiveAdapter) ballots(ctx context.Context, reader ethereum.ChainReader, dec governance.MakerExecutiveDecoder, r Range, voters []string, source governance.SourceType) ([]ballot, error) {
	topics := [][]common.Hash{{contracts.ChiefVoteYaysTopic, contracts.ChiefVoteSlateTopic}}
	if len(voters) > 0 {
		topics = append(topics, voterTopics(voters))
	}
	logs, err := m.filterLogs(ctx, reader, dec.Address, topics, r)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vote logs: %w", err)
	}
	out := make([]ballot, 0, len(logs))
	for _, l := range logs {
		b, err := decodeBallot(l)
		if err != nil {
			m.decodeFailed(source, l, err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// FetchProposals collects the spells voted in the range and resolves their metadata.
// A spell or slate that cannot be resolved is skipped without failing the batch.
func (m *MakerExecutiveAdapter) FetchProposals(ctx context.Context, entity *governance.Entity, r Range) ([]governance.Proposal, error) {
	dec, err := makerExecutiveDecoder(entity)
	if err != nil {
		return nil, err
	}

	reader := m.reader(r)
	ballots, err := m.ballots(ctx, reader, dec, r, nil, entity.Type)
	if err != nil {
		return nil, err
	}

	slates := &slateResolver{reader: reader, chief: dec.Address, cache: make(map[[32]byte][]common.Address)}
	var spells []string
	for _, b := range ballots {
		s, err := slates.spellsOf(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("Skipping ballot with unresolved slate",
				zap.String("voter", b.voter),
				zap.Uint64("block", b.log.BlockNumber),
				zap.Error(err),
			)
			continue
		}
		spells = append(spells, s...)
	}
	spells = lo.Uniq(spells)
	if len(spells) == 0 {
		return nil, nil
	}

	now := m.now().UTC()
	resolved := make([]*governance.Proposal, len(spells))
	g, gctx := errgroup.WithContext(ctx)
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}
	for i, spell := range spells {
		g.Go(func() error {
			p, err := m.spellProposal(gctx, entity, dec, spell, r, now)
			if err != nil {
				return err
			}
			resolved[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return lo.FilterMap(resolved, func(p *governance.Proposal, _ int) (governance.Proposal, bool) {
		if p == nil {
			return governance.Proposal{}, false
		}
		return *p, true
	}), nil
}

func (m *MakerExecutiveAdapter) spellProposal(
	ctx context.Context,
	entity *governance.Entity,
	dec governance.MakerExecutiveDecoder,
	spell string,
	r Range,
	now time.Time,
) (*governance.Proposal, error) {
	meta, err := m.spells.Spell(ctx, spell)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("Skipping spell with unavailable metadata", zap.String("spell", spell), zap.Error(err))
		return nil, nil
	}
	if meta.Title == UnknownTitle {
		m.logger.Debug("Skipping spell without metadata", zap.String("spell", spell))
		return nil, nil
	}

	block := r.ToBlock
	if resolvedBlock, err := m.spells.BlockAt(ctx, meta.Date); err != nil {
		m.logger.Warn("Falling back to range end for spell block",
			zap.String("spell", spell),
			zap.Uint64("block", block),
			zap.Error(err),
		)
	} else {
		block = resolvedBlock
	}

	support, err := decimal.NewFromString(meta.MKRSupport)
	if err != nil {
		m.logger.Warn("Invalid spell support", zap.String("spell", spell), zap.String("mkr_support", meta.MKRSupport))
		support = decimal.Zero
	}

	state := governance.StateActive
	switch {
	case meta.HasBeenCast:
		state = governance.StateExecuted
	case !meta.Expiration.After(now):
		state = governance.StateExpired
	}

	return &governance.Proposal{
		ExternalID:   spell,
		OrgID:        entity.OrgID,
		EntityID:     entity.ID,
		Name:         governance.TruncateName(meta.Title),
		TimeCreated:  meta.Date,
		TimeStart:    meta.Date,
		TimeEnd:      meta.Expiration,
		BlockCreated: int64(block),
		URL:          dec.ProposalURL + spell,
		Choices:      []string{"Yes"},
		Scores:       []decimal.Decimal{support},
		ScoresTotal:  support,
		State:        state,
		Visible:      true,
	}, nil
}

// FetchVotes turns every spell of a voter's ballots into a "Yes" vote. Spells
// that were never stored, such as those without published metadata, are skipped.
func (m *MakerExecutiveAdapter) FetchVotes(ctx context.Context, entity *governance.Entity, r Range, voters []string) ([]governance.VoterVotes, error) {
	dec, err := makerExecutiveDecoder(entity)
	if err != nil {
		return nil, err
	}
	set := newVoterSet(voters)
	if len(set.order) == 0 {
		return nil, nil
	}

	reader := m.reader(r)
	ballots, err := m.ballots(ctx, reader, dec, r, set.order, entity.Type)
	if err != nil {
		return nil, err
	}
	ballots = lo.Filter(ballots, func(b ballot, _ int) bool { return set.has(b.voter) })
	if len(ballots) == 0 {
		return set.result(), nil
	}

	slates := &slateResolver{reader: reader, chief: dec.Address, cache: make(map[[32]byte][]common.Address)}
	spellsByBallot := make([][]string, len(ballots))
	unresolved := make([]bool, len(ballots))
	var allSpells []string
	for i, b := range ballots {
		spells, err := slates.spellsOf(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			set.fail(b.voter, fmt.Errorf("failed to resolve ballot of %s: %w", b.voter, err))
			unresolved[i] = true
			continue
		}
		spellsByBallot[i] = spells
		allSpells = append(allSpells, spells...)
	}

	stored, err := m.lookupProposals(ctx, entity.OrgID, allSpells)
	if err != nil {
		return nil, err
	}
	logs := lo.Map(ballots, func(b ballot, _ int) types.Log { return b.log })
	times, err := m.blockTimes(ctx, reader, logs)
	if err != nil {
		return nil, err
	}

	for i, b := range ballots {
		if unresolved[i] {
			continue
		}
		power, err := ethereum.CallBig(ctx, reader, contracts.DSChief, dec.Address,
			new(big.Int).SetUint64(b.log.BlockNumber), "deposits", common.HexToAddress(b.voter))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			set.fail(b.voter, fmt.Errorf("failed to read deposits of %s: %w", b.voter, err))
			continue
		}
		for _, spell := range spellsByBallot[i] {
			proposalID, ok := stored[spell]
			if !ok {
				m.logger.Debug("Skipping vote for unknown spell",
					zap.String("voter", b.voter),
					zap.String("spell", spell),
				)
				continue
			}
			set.add(b.voter, governance.Vote{
				ID:           uuid.New(),
				VoterAddress: b.voter,
				OrgID:        entity.OrgID,
				ProposalID:   proposalID,
				EntityID:     entity.ID,
				Options:      []governance.VoteOption{{Option: "1", OptionName: "Yes"}},
				VotingPower:  tokens(power),
				BlockCreated: int64(b.log.BlockNumber),
				TimeCreated:  times[b.log.BlockNumber],
			})
		}
	}
	return set.result(), nil
}
