// Package ingest turns adapter batches into stored proposals, votes and cursors.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/adapters"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

// failureWriteTimeout bounds the write that records a failed batch after its context expired.
const failureWriteTimeout = 10 * time.Second

// Result tags the outcome of one refresh target.
type Result string

const (
	ResultOK  Result = "ok"
	ResultNOK Result = "nok"
)

// Outcome reports the result for one target: an entity for proposal refreshes, a voter for vote refreshes.
type Outcome struct {
	Target string
	Result Result
	Err    error
}

// HeadReader returns the current chain head.
type HeadReader interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// Config holds the chain window settings of the facade.
type Config struct {
	SafetyBlocks    int64
	StartBlock      int64
	MaxRescanBlocks int64
}

// Facade refreshes entities and voters: it fetches through the registered adapter, upserts the
// batch and moves cursors and refresh state in one transaction.
type Facade struct {
	store     store.Store
	registry  *adapters.Registry
	heads     HeadReader
	blacklist *adapters.Blacklist
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Facade.
type Option func(*Facade)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		f.now = now
	}
}

// WithBlacklist drops blacklisted proposals of every source type before they are stored.
func WithBlacklist(b *adapters.Blacklist) Option {
	return func(f *Facade) {
		f.blacklist = b
	}
}

// NewFacade creates an ingestion facade.
func NewFacade(st store.Store, registry *adapters.Registry, heads HeadReader, cfg Config, logger *zap.Logger, opts ...Option) *Facade {
	f := &Facade{
		store:    st,
		registry: registry,
		heads:    heads,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Facade) load(ctx context.Context, entityID uuid.UUID) (*governance.Entity, adapters.SourceAdapter, error) {
	entity, err := f.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := f.registry.For(entity)
	if err != nil {
		return nil, nil, err
	}
	return entity, adapter, nil
}

func (f *Facade) entityLogger(entity *governance.Entity) *zap.Logger {
	return f.logger.With(
		zap.String("entity", entity.ID.String()),
		zap.String("org", entity.OrgName),
		zap.String("source", string(entity.Type)))
}

// RefreshProposals refreshes the proposals of an entity of any source type.
func (f *Facade) RefreshProposals(ctx context.Context, entityID uuid.UUID) (Outcome, error) {
	entity, err := f.store.GetEntity(ctx, entityID)
	if err != nil {
		return Outcome{}, err
	}
	if entity.Type.IsChain() {
		return f.RefreshChainProposals(ctx, entityID)
	}
	return f.RefreshSnapshotProposals(ctx, entityID)
}

// RefreshChainProposals scans the next block window of a chain entity.
func (f *Facade) RefreshChainProposals(ctx context.Context, entityID uuid.UUID) (Outcome, error) {
	entity, adapter, err := f.load(ctx, entityID)
	if err != nil {
		return Outcome{}, err
	}
	if !entity.Type.IsChain() {
		return Outcome{}, fmt.Errorf("entity %s is not a chain source", entity.ID)
	}
	logger := f.entityLogger(entity)
	speed := entity.RefreshSpeed
	cursor := entity.ChainIndex

	head, err := f.heads.CurrentBlock(ctx)
	if err != nil {
		return f.failProposals(ctx, entity, speed, fmt.Errorf("failed to read head: %w", err), logger)
	}

	var maxRescan int64
	if f.cfg.MaxRescanBlocks > 0 {
		has, err := f.store.HasProposals(ctx, entity.ID)
		if err != nil {
			return f.failProposals(ctx, entity, speed, err, logger)
		}
		// the initial backfill of an entity is never bounded
		if has {
			maxRescan = f.cfg.MaxRescanBlocks
		}
	}

	from, to, ok := chainWindow(cursor, f.cfg.StartBlock, speed, int64(head), f.cfg.SafetyBlocks, maxRescan)
	now := f.now()
	if !ok {
		logger.Debug("Chain proposals up to date", zap.Int64("cursor", cursor), zap.Uint64("head", head))
		entity.RefreshStatus = governance.StatusDone
		entity.LastRefresh = now
		if err := f.store.UpdateEntityProgress(ctx, entity); err != nil {
			return Outcome{}, fmt.Errorf("failed to record refresh: %w", err)
		}
		return Outcome{Target: entity.ID.String(), Result: ResultOK}, nil
	}
	if from > cursor && cursor > 0 {
		logger.Warn("Rescan window bounded", zap.Int64("cursor", cursor), zap.Int64("from", from))
	}
	// a failed batch restarts from the beginning of this window
	entity.ChainIndex = from

	proposals, err := adapter.FetchProposals(ctx, entity, adapters.Range{
		FromBlock: uint64(from),
		ToBlock:   uint64(to),
		Head:      head,
	})
	if err != nil {
		return f.failProposals(ctx, entity, speed, err, logger)
	}
	proposals = f.blacklist.Filter(entity.Type, proposals)

	next := nextChainCursor(proposals, to, now)
	if err := f.commitProposals(ctx, entity, proposals, next, time.Time{}, speed, now); err != nil {
		entity.ChainIndex = from
		return f.failProposals(ctx, entity, speed, err, logger)
	}

	metrics.EntityCursor.WithLabelValues(entity.ID.String(), string(entity.Type)).Set(float64(next))
	logger.Info("Refreshed chain proposals",
		zap.Int64("from", from),
		zap.Int64("to", to),
		zap.Int("proposals", len(proposals)),
		zap.Int64("cursor", next))
	return Outcome{Target: entity.ID.String(), Result: ResultOK}, nil
}

// RefreshSnapshotProposals reads the next page of Snapshot proposals of an entity.
func (f *Facade) RefreshSnapshotProposals(ctx context.Context, entityID uuid.UUID) (Outcome, error) {
	entity, adapter, err := f.load(ctx, entityID)
	if err != nil {
		return Outcome{}, err
	}
	if entity.Type.IsChain() {
		return Outcome{}, fmt.Errorf("entity %s is not a snapshot source", entity.ID)
	}
	logger := f.entityLogger(entity)
	speed := entity.RefreshSpeed
	cursor := entity.SnapshotIndex
	now := f.now()

	proposals, err := adapter.FetchProposals(ctx, entity, adapters.Range{From: cursor, To: now})
	if err != nil {
		return f.failProposals(ctx, entity, speed, err, logger)
	}
	proposals = f.blacklist.Filter(entity.Type, proposals)

	next := nextSnapshotCursor(proposals, now)
	if err := f.commitProposals(ctx, entity, proposals, 0, next, speed, now); err != nil {
		entity.SnapshotIndex = cursor
		return f.failProposals(ctx, entity, speed, err, logger)
	}

	logger.Info("Refreshed snapshot proposals",
		zap.Time("from", cursor),
		zap.Int("proposals", len(proposals)),
		zap.Time("cursor", next))
	return Outcome{Target: entity.ID.String(), Result: ResultOK}, nil
}

// commitProposals stores a proposal batch, advances the entity and resets its sibling in one transaction.
func (f *Facade) commitProposals(
	ctx context.Context,
	entity *governance.Entity,
	proposals []governance.Proposal,
	chainCursor int64,
	snapshotCursor time.Time,
	speed int64,
	now time.Time,
) error {
	if entity.Type.IsChain() {
		entity.ChainIndex = chainCursor
	} else {
		entity.SnapshotIndex = snapshotCursor
	}
	entity.RefreshStatus = governance.StatusDone
	entity.LastRefresh = now
	entity.RefreshSpeed = GrowSpeed(entity.Type, speed)

	err := f.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertProposals(ctx, proposals); err != nil {
			return err
		}
		if err := tx.UpdateEntityProgress(ctx, entity); err != nil {
			return err
		}
		return tx.ResetSiblingCursors(ctx, entity)
	})
	if err != nil {
		return fmt.Errorf("failed to commit proposal batch: %w", err)
	}
	metrics.ProposalsIngested.WithLabelValues(string(entity.Type)).Add(float64(len(proposals)))
	return nil
}

// failProposals records a failed batch: the entity goes back to NEW with a narrower window and
// whatever cursor the caller left on it.
func (f *Facade) failProposals(
	ctx context.Context,
	entity *governance.Entity,
	speed int64,
	cause error,
	logger *zap.Logger,
) (Outcome, error) {
	entity.RefreshStatus = governance.StatusNew
	entity.LastRefresh = f.now()
	entity.RefreshSpeed = ShrinkSpeed(entity.Type, speed)

	logger.Error("Proposal refresh failed",
		zap.Int64("chain_index", entity.ChainIndex),
		zap.Time("snapshot_index", entity.SnapshotIndex),
		zap.Int64("speed", entity.RefreshSpeed),
		zap.Error(cause))

	out := Outcome{Target: entity.ID.String(), Result: ResultNOK, Err: cause}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := f.store.UpdateEntityProgress(wctx, entity); err != nil {
		return out, fmt.Errorf("failed to record refresh failure: %w", err)
	}
	return out, nil
}

// RefreshVotes refreshes the votes of a group of voters of one entity. Voters without a cursor
// are ignored. The returned outcomes follow the order of the stored cursors.
func (f *Facade) RefreshVotes(ctx context.Context, entityID uuid.UUID, voters []string) ([]Outcome, error) {
	entity, adapter, err := f.load(ctx, entityID)
	if err != nil {
		return nil, err
	}
	logger := f.entityLogger(entity)

	cursors, err := f.store.ListVoterCursors(ctx, entity.ID, voters...)
	if err != nil {
		return nil, err
	}
	if len(cursors) == 0 {
		return nil, nil
	}
	addresses := lo.Map(cursors, func(c governance.VoterCursor, _ int) string { return c.Voter })
	speed := entity.VotersRefreshSpeed
	now := f.now()

	var r adapters.Range
	var to int64
	if entity.Type.IsChain() {
		head, err := f.heads.CurrentBlock(ctx)
		if err != nil {
			return f.failVoters(ctx, entity, cursors, speed, fmt.Errorf("failed to read head: %w", err), logger)
		}
		low := lo.MinBy(cursors, func(a, b governance.VoterCursor) bool { return a.ChainIndex < b.ChainIndex }).ChainIndex
		var from int64
		var ok bool
		from, to, ok = chainWindow(low, f.cfg.StartBlock, speed, int64(head), f.cfg.SafetyBlocks, 0)
		if !ok {
			return f.markVotersDone(ctx, cursors, now)
		}
		r = adapters.Range{FromBlock: uint64(from), ToBlock: uint64(to), Head: head}
	} else {
		low := lo.MinBy(cursors, func(a, b governance.VoterCursor) bool { return a.SnapshotIndex.Before(b.SnapshotIndex) }).SnapshotIndex
		r = adapters.Range{From: low, To: now}
	}

	results, err := adapter.FetchVotes(ctx, entity, r, addresses)
	if err != nil {
		return f.failVoters(ctx, entity, cursors, speed, err, logger)
	}
	byVoter := lo.KeyBy(results, func(v governance.VoterVotes) string { return governance.ChecksumAddress(v.Voter) })

	var pageLatest time.Time
	for _, res := range results {
		for _, v := range res.Votes {
			if v.TimeCreated.After(pageLatest) {
				pageLatest = v.TimeCreated
			}
		}
	}

	var (
		votes     []governance.Vote
		outcomes  = make([]Outcome, 0, len(cursors))
		updated   = make([]governance.VoterCursor, 0, len(cursors))
		backfill  bool
		failedCnt int
	)
	for _, c := range cursors {
		res := byVoter[governance.ChecksumAddress(c.Voter)]
		c.LastRefresh = now

		if res.Err != nil {
			failedCnt++
			c.RefreshStatus = governance.StatusNew
			// the cursor stays put so the votes are read again on the next pass
			if errors.Is(res.Err, governance.ErrProposalNotFound) {
				backfill = true
			}
			logger.Warn("Voter refresh failed", zap.String("voter", c.Voter), zap.Error(res.Err))
			outcomes = append(outcomes, Outcome{Target: c.Voter, Result: ResultNOK, Err: res.Err})
			updated = append(updated, c)
			continue
		}

		votes = append(votes, res.Votes...)
		if entity.Type.IsChain() {
			c.ChainIndex = max(c.ChainIndex, to)
		} else if next := nextVoterSnapshotCursor(res.Votes, pageLatest, now); next.After(c.SnapshotIndex) {
			c.SnapshotIndex = next
		}
		c.RefreshStatus = governance.StatusDone
		outcomes = append(outcomes, Outcome{Target: c.Voter, Result: ResultOK})
		updated = append(updated, c)
	}

	err = f.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpsertVotes(ctx, votes); err != nil {
			return err
		}
		if err := tx.UpdateVoterCursors(ctx, updated); err != nil {
			return err
		}
		nextSpeed := GrowSpeed(entity.Type, speed)
		if failedCnt > 0 {
			nextSpeed = ShrinkSpeed(entity.Type, speed)
		}
		if err := tx.UpdateVotersSpeed(ctx, entity.ID, nextSpeed); err != nil {
			return err
		}
		if backfill {
			// votes reference proposals not stored yet: make the entity due right away
			return tx.SetEntityStatus(ctx, entity.ID, governance.StatusNew, governance.Epoch)
		}
		return nil
	})
	if err != nil {
		return f.failVoters(ctx, entity, cursors, speed, fmt.Errorf("failed to commit vote batch: %w", err), logger)
	}

	metrics.VotesIngested.WithLabelValues(string(entity.Type)).Add(float64(len(votes)))
	logger.Info("Refreshed votes",
		zap.Int("voters", len(cursors)),
		zap.Int("failed", failedCnt),
		zap.Int("votes", len(votes)),
		zap.Bool("proposal_backfill", backfill))
	return outcomes, nil
}

func (f *Facade) markVotersDone(ctx context.Context, cursors []governance.VoterCursor, now time.Time) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(cursors))
	for i := range cursors {
		cursors[i].RefreshStatus = governance.StatusDone
		cursors[i].LastRefresh = now
		outcomes = append(outcomes, Outcome{Target: cursors[i].Voter, Result: ResultOK})
	}
	if err := f.store.UpdateVoterCursors(ctx, cursors); err != nil {
		return nil, fmt.Errorf("failed to record vote refresh: %w", err)
	}
	return outcomes, nil
}

// failVoters resets every voter of a failed batch to the origin of its timeline.
func (f *Facade) failVoters(
	ctx context.Context,
	entity *governance.Entity,
	cursors []governance.VoterCursor,
	speed int64,
	cause error,
	logger *zap.Logger,
) ([]Outcome, error) {
	now := f.now()
	outcomes := make([]Outcome, 0, len(cursors))
	for i := range cursors {
		cursors[i].RefreshStatus = governance.StatusNew
		cursors[i].LastRefresh = now
		cursors[i].ChainIndex = 0
		cursors[i].SnapshotIndex = governance.Epoch
		outcomes = append(outcomes, Outcome{Target: cursors[i].Voter, Result: ResultNOK, Err: cause})
	}
	logger.Error("Vote refresh failed", zap.Int("voters", len(cursors)), zap.Error(cause))

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	err := f.store.InTx(wctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpdateVoterCursors(ctx, cursors); err != nil {
			return err
		}
		return tx.UpdateVotersSpeed(ctx, entity.ID, ShrinkSpeed(entity.Type, speed))
	})
	if err != nil {
		return outcomes, fmt.Errorf("failed to record vote refresh failure: %w", err)
	}
	return outcomes, nil
}
