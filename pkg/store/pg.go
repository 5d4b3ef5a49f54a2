package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/uptrace/bun"

	"github.com/chainsafe/senate-indexer/pkg/governance"
)

type pgStore struct {
	db     bun.IDB
	runner *TxRunner
	inTx   bool
}

// NewStore creates a new postgres implementation of the governance store
func NewStore(db *bun.DB, runner *TxRunner) *pgStore {
	return &pgStore{db: db, runner: runner}
}

func (s *pgStore) InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.runner.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &pgStore{db: tx, runner: s.runner, inTx: true})
	})
}

func (s *pgStore) SaveEntity(ctx context.Context, entity *governance.Entity) (*governance.Entity, error) {
	dao, err := toEntityDao(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}

	_, err = s.db.NewInsert().
		Model(dao).
		On("CONFLICT (org_id, type) DO UPDATE").
		Set("org_name = EXCLUDED.org_name").
		Set("decoder = EXCLUDED.decoder").
		Set("active = EXCLUDED.active").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to save entity: %w", err)
	}

	return fromEntityDao(dao)
}

func (s *pgStore) GetEntity(ctx context.Context, id uuid.UUID) (*governance.Entity, error) {
	dao := new(EntityDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, governance.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return fromEntityDao(dao)
}

func (s *pgStore) ListEntities(ctx context.Context, opts ...QueryOption) ([]*governance.Entity, error) {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var daos []EntityDao
	query := s.db.NewSelect().Model(&daos)
	if options.ActiveOnly {
		query = query.Where("active = TRUE")
	}
	if options.OrgID != nil {
		query = query.Where("org_id = ?", *options.OrgID)
	}
	if options.Type != nil {
		query = query.Where("type = ?", string(*options.Type))
	}

	if err := query.Order("org_name ASC", "type ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	entities := make([]*governance.Entity, 0, len(daos))
	for i := range daos {
		e, err := fromEntityDao(&daos[i])
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func (s *pgStore) UpdateEntityProgress(ctx context.Context, entity *governance.Entity) error {
	res, err := s.db.NewUpdate().
		Model((*EntityDao)(nil)).
		Set("chain_index = ?", entity.ChainIndex).
		Set("snapshot_index = ?", entity.SnapshotIndex.UTC()).
		Set("refresh_status = ?", string(entity.RefreshStatus)).
		Set("last_refresh = ?", entity.LastRefresh.UTC()).
		Set("refresh_speed = ?", entity.RefreshSpeed).
		Where("id = ?", entity.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update entity progress: %w", err)
	}
	return requireAffected(res, governance.ErrEntityNotFound)
}

func (s *pgStore) SetEntityStatus(ctx context.Context, id uuid.UUID, status governance.RefreshStatus, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*EntityDao)(nil)).
		Set("refresh_status = ?", string(status)).
		Set("last_refresh = ?", at.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set entity status: %w", err)
	}
	return requireAffected(res, governance.ErrEntityNotFound)
}

func (s *pgStore) UpdateVotersSpeed(ctx context.Context, id uuid.UUID, speed int64) error {
	res, err := s.db.NewUpdate().
		Model((*EntityDao)(nil)).
		Set("voters_refresh_speed = ?", speed).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update voters speed: %w", err)
	}
	return requireAffected(res, governance.ErrEntityNotFound)
}

func (s *pgStore) ResetSiblingCursors(ctx context.Context, entity *governance.Entity) error {
	query := s.db.NewUpdate().
		Model((*EntityDao)(nil)).
		Where("org_id = ?", entity.OrgID).
		Where("id <> ?", entity.ID)

	if entity.Type.IsChain() {
		query = query.Set("snapshot_index = ?", governance.Epoch).
			Where("type = ?", string(governance.SourceSnapshot))
	} else {
		query = query.Set("chain_index = 0").
			Where("type <> ?", string(governance.SourceSnapshot))
	}

	if _, err := query.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset sibling cursors: %w", err)
	}
	return nil
}

func (s *pgStore) UpsertProposals(ctx context.Context, proposals []governance.Proposal) error {
	if len(proposals) == 0 {
		return nil
	}

	// one row per key, last write wins; ON CONFLICT cannot touch a row twice
	unique := lo.UniqBy(lo.Reverse(append([]governance.Proposal(nil), proposals...)), func(p governance.Proposal) string {
		return p.OrgID.String() + "/" + p.ExternalID
	})
	daos := make([]*ProposalDao, 0, len(unique))
	for i := range unique {
		dao, err := toProposalDao(&unique[i])
		if err != nil {
			return err
		}
		daos = append(daos, dao)
	}

	_, err := s.db.NewInsert().
		Model(&daos).
		On("CONFLICT (external_id, org_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("time_start = EXCLUDED.time_start").
		Set("time_end = EXCLUDED.time_end").
		Set("url = EXCLUDED.url").
		Set("choices = EXCLUDED.choices").
		Set("scores = EXCLUDED.scores").
		Set("scores_total = EXCLUDED.scores_total").
		Set("quorum = EXCLUDED.quorum").
		Set("state = EXCLUDED.state").
		Set("visible = EXCLUDED.visible").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert proposals: %w", err)
	}
	return nil
}

func (s *pgStore) ProposalIDs(ctx context.Context, orgID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(externalIDs))
	if len(externalIDs) == 0 {
		return ids, nil
	}

	var rows []proposalRef
	err := s.db.NewSelect().
		Model((*ProposalDao)(nil)).
		Column("id", "external_id").
		Where("org_id = ?", orgID).
		Where("external_id IN (?)", bun.In(lo.Uniq(externalIDs))).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to look up proposals: %w", err)
	}

	for _, r := range rows {
		ids[r.ExternalID] = r.ID
	}
	return ids, nil
}

func (s *pgStore) GetProposal(ctx context.Context, orgID uuid.UUID, externalID string) (*governance.Proposal, error) {
	dao := new(ProposalDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("org_id = ?", orgID).
		Where("external_id = ?", externalID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, governance.ErrProposalNotFound
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return fromProposalDao(dao)
}

func (s *pgStore) HasProposals(ctx context.Context, entityID uuid.UUID) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*ProposalDao)(nil)).
		Where("entity_id = ?", entityID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check proposals: %w", err)
	}
	return exists, nil
}

func (s *pgStore) ProposalExternalIDs(ctx context.Context, entityID uuid.UUID, from, to time.Time) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*ProposalDao)(nil)).
		Column("external_id").
		Where("entity_id = ?", entityID).
		Where("time_created >= ?", from.UTC()).
		Where("time_created <= ?", to.UTC()).
		Order("external_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposal ids: %w", err)
	}
	return ids, nil
}

func (s *pgStore) DeleteProposals(ctx context.Context, entityID uuid.UUID, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}

	var rows []proposalRef
	err := s.db.NewSelect().
		Model((*ProposalDao)(nil)).
		Column("id", "external_id").
		Where("entity_id = ?", entityID).
		Where("external_id IN (?)", bun.In(externalIDs)).
		Order("external_id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find proposals to delete: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := lo.Map(rows, func(r proposalRef, _ int) uuid.UUID { return r.ID })

	voteIDs := s.db.NewSelect().
		Model((*VoteDao)(nil)).
		Column("id").
		Where("proposal_id IN (?)", bun.In(ids))
	if _, err := s.db.NewDelete().
		Model((*VoteOptionDao)(nil)).
		Where("vote_id IN (?)", voteIDs).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete vote options: %w", err)
	}
	if _, err := s.db.NewDelete().
		Model((*VoteDao)(nil)).
		Where("proposal_id IN (?)", bun.In(ids)).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete votes: %w", err)
	}
	if _, err := s.db.NewDelete().
		Model((*ProposalDao)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete proposals: %w", err)
	}

	deleted := make([]string, 0, len(rows))
	for _, r := range rows {
		deleted = append(deleted, r.ExternalID)
	}
	return deleted, nil
}

type proposalRef struct {
	ID         uuid.UUID `bun:"id"`
	ExternalID string    `bun:"external_id"`
}

type voteKey struct {
	ID           uuid.UUID `bun:"id"`
	VoterAddress string    `bun:"voter_address"`
	OrgID        uuid.UUID `bun:"org_id"`
	ProposalID   uuid.UUID `bun:"proposal_id"`
}

func (k voteKey) String() string {
	return k.VoterAddress + "/" + k.OrgID.String() + "/" + k.ProposalID.String()
}

func (s *pgStore) UpsertVotes(ctx context.Context, votes []governance.Vote) error {
	if len(votes) == 0 {
		return nil
	}

	keyOf := func(v governance.Vote) string {
		return voteKey{VoterAddress: governance.ChecksumAddress(v.VoterAddress), OrgID: v.OrgID, ProposalID: v.ProposalID}.String()
	}
	unique := lo.UniqBy(lo.Reverse(append([]governance.Vote(nil), votes...)), keyOf)
	daos := lo.Map(unique, func(v governance.Vote, _ int) *VoteDao { return toVoteDao(&v) })

	var keys []voteKey
	_, err := s.db.NewInsert().
		Model(&daos).
		On("CONFLICT (voter_address, org_id, proposal_id) DO UPDATE").
		Set("entity_id = EXCLUDED.entity_id").
		Set("voting_power = EXCLUDED.voting_power").
		Set("reason = EXCLUDED.reason").
		Set("block_created = EXCLUDED.block_created").
		Set("time_created = EXCLUDED.time_created").
		Set("updated_at = current_timestamp").
		Returning("id, voter_address, org_id, proposal_id").
		Exec(ctx, &keys)
	if err != nil {
		return fmt.Errorf("failed to upsert votes: %w", err)
	}

	stored := lo.SliceToMap(keys, func(k voteKey) (string, uuid.UUID) { return k.String(), k.ID })

	var options []*VoteOptionDao
	var kept []string
	voteIDs := make([]uuid.UUID, 0, len(unique))
	for _, v := range unique {
		id, ok := stored[keyOf(v)]
		if !ok {
			return fmt.Errorf("vote of %s on proposal %s was not stored", v.VoterAddress, v.ProposalID)
		}
		voteIDs = append(voteIDs, id)
		for _, o := range lo.UniqBy(v.Options, func(o governance.VoteOption) string { return o.Option }) {
			options = append(options, &VoteOptionDao{VoteID: id, Option: o.Option, OptionName: o.OptionName})
			kept = append(kept, id.String()+":"+o.Option)
		}
	}

	if len(options) > 0 {
		_, err = s.db.NewInsert().
			Model(&options).
			On("CONFLICT (vote_id, option) DO UPDATE").
			Set("option_name = EXCLUDED.option_name").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert vote options: %w", err)
		}
	}

	prune := s.db.NewDelete().
		Model((*VoteOptionDao)(nil)).
		Where("vote_id IN (?)", bun.In(voteIDs))
	if len(kept) > 0 {
		prune = prune.Where("vote_id::text || ':' || option NOT IN (?)", bun.In(kept))
	}
	if _, err := prune.Exec(ctx); err != nil {
		return fmt.Errorf("failed to prune vote options: %w", err)
	}
	return nil
}

func (s *pgStore) ListVotes(ctx context.Context, proposalID uuid.UUID) ([]*governance.Vote, error) {
	var daos []VoteDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("proposal_id = ?", proposalID).
		Order("voter_address ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	if len(daos) == 0 {
		return nil, nil
	}

	var options []VoteOptionDao
	err = s.db.NewSelect().
		Model(&options).
		Where("vote_id IN (?)", bun.In(lo.Map(daos, func(d VoteDao, _ int) uuid.UUID { return d.ID }))).
		Order("option ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vote options: %w", err)
	}
	byVote := lo.GroupBy(options, func(o VoteOptionDao) uuid.UUID { return o.VoteID })

	votes := make([]*governance.Vote, 0, len(daos))
	for i := range daos {
		votes = append(votes, fromVoteDao(&daos[i], byVote[daos[i].ID]))
	}
	return votes, nil
}

func (s *pgStore) TrackVoters(ctx context.Context, orgID uuid.UUID, voters []string) error {
	if len(voters) == 0 {
		return nil
	}
	daos := lo.Map(lo.Uniq(lo.Map(voters, func(v string, _ int) string { return governance.ChecksumAddress(v) })),
		func(v string, _ int) *TrackedVoterDao {
			return &TrackedVoterDao{Address: v, OrgID: orgID}
		})

	_, err := s.db.NewInsert().
		Model(&daos).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to track voters: %w", err)
	}
	return nil
}

func (s *pgStore) TrackedVoters(ctx context.Context, orgID uuid.UUID) ([]string, error) {
	var voters []string
	err := s.db.NewSelect().
		Model((*TrackedVoterDao)(nil)).
		Column("address").
		Where("org_id = ?", orgID).
		Order("address ASC").
		Scan(ctx, &voters)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked voters: %w", err)
	}
	return voters, nil
}

func (s *pgStore) EnsureVoterCursors(ctx context.Context, entity *governance.Entity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voter_cursors (voter, entity_id, chain_index, snapshot_index, refresh_status, last_refresh)
		SELECT tv.address, ?, 0, ?, ?, ?
		FROM tracked_voters AS tv
		WHERE tv.org_id = ?
		ON CONFLICT DO NOTHING`,
		entity.ID, governance.Epoch, string(governance.StatusNew), governance.Epoch, entity.OrgID)
	if err != nil {
		return fmt.Errorf("failed to create voter cursors: %w", err)
	}
	return nil
}

func (s *pgStore) ListVoterCursors(ctx context.Context, entityID uuid.UUID, voters ...string) ([]governance.VoterCursor, error) {
	var daos []VoterCursorDao
	query := s.db.NewSelect().
		Model(&daos).
		Where("entity_id = ?", entityID)
	if len(voters) > 0 {
		query = query.Where("voter IN (?)", bun.In(checksummed(voters)))
	}
	if err := query.Order("voter ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list voter cursors: %w", err)
	}
	return lo.Map(daos, func(d VoterCursorDao, _ int) governance.VoterCursor { return fromVoterCursorDao(&d) }), nil
}

func (s *pgStore) MarkVotersPending(ctx context.Context, entityID uuid.UUID, voters []string, now time.Time) error {
	if len(voters) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().
		Model((*VoterCursorDao)(nil)).
		Set("refresh_status = ?", string(governance.StatusPending)).
		Set("last_refresh = ?", now.UTC()).
		Where("entity_id = ?", entityID).
		Where("voter IN (?)", bun.In(checksummed(voters))).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark voters pending: %w", err)
	}
	return nil
}

func (s *pgStore) UpdateVoterCursors(ctx context.Context, cursors []governance.VoterCursor) error {
	if len(cursors) == 0 {
		return nil
	}
	unique := lo.UniqBy(cursors, func(c governance.VoterCursor) string {
		return governance.ChecksumAddress(c.Voter) + "/" + c.EntityID.String()
	})
	daos := lo.Map(unique, func(c governance.VoterCursor, _ int) *VoterCursorDao { return toVoterCursorDao(&c) })

	_, err := s.db.NewInsert().
		Model(&daos).
		On("CONFLICT (voter, entity_id) DO UPDATE").
		Set("chain_index = EXCLUDED.chain_index").
		Set("snapshot_index = EXCLUDED.snapshot_index").
		Set("refresh_status = EXCLUDED.refresh_status").
		Set("last_refresh = EXCLUDED.last_refresh").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update voter cursors: %w", err)
	}
	return nil
}

func checksummed(voters []string) []string {
	return lo.Map(voters, func(v string, _ int) string { return governance.ChecksumAddress(v) })
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
