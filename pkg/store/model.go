package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// EntityDao maps to the 'governance_entities' table.
type EntityDao struct {
	bun.BaseModel `bun:"table:governance_entities,alias:ge"`
	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	OrgID         uuid.UUID `bun:"org_id,notnull,type:uuid"`
	OrgName       string    `bun:"org_name,notnull,type:varchar(255)"`
	Type          string    `bun:"type,notnull,type:varchar(32)"`
	Decoder       string    `bun:"decoder,notnull,type:jsonb"`
	ChainIndex    int64     `bun:"chain_index,notnull,default:0"`
	SnapshotIndex time.Time `bun:"snapshot_index,notnull"`
	RefreshStatus string    `bun:"refresh_status,notnull,type:varchar(16)"`
	LastRefresh   time.Time `bun:"last_refresh,notnull"`
	RefreshSpeed  int64     `bun:"refresh_speed,notnull"`
	VotersSpeed   int64     `bun:"voters_refresh_speed,notnull,default:1000000"`
	Active        bool      `bun:"active,notnull,default:true"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func toEntityDao(e *governance.Entity) (*EntityDao, error) {
	raw, err := governance.MarshalDecoder(e.Decoder)
	if err != nil {
		return nil, err
	}
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &EntityDao{
		ID:            id,
		OrgID:         e.OrgID,
		OrgName:       e.OrgName,
		Type:          string(e.Type),
		Decoder:       string(raw),
		ChainIndex:    e.ChainIndex,
		SnapshotIndex: e.SnapshotIndex.UTC(),
		RefreshStatus: string(e.RefreshStatus),
		LastRefresh:   e.LastRefresh.UTC(),
		RefreshSpeed:  e.RefreshSpeed,
		VotersSpeed:   e.VotersRefreshSpeed,
		Active:        e.Active,
	}, nil
}

func fromEntityDao(dao *EntityDao) (*governance.Entity, error) {
	dec, err := governance.UnmarshalDecoder([]byte(dao.Decoder))
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", dao.ID, err)
	}
	return &governance.Entity{
		ID:            dao.ID,
		OrgID:         dao.OrgID,
		OrgName:       dao.OrgName,
		Type:          governance.SourceType(dao.Type),
		Decoder:       dec,
		ChainIndex:    dao.ChainIndex,
		SnapshotIndex: dao.SnapshotIndex.UTC(),
		RefreshStatus: governance.RefreshStatus(dao.RefreshStatus),
		LastRefresh:   dao.LastRefresh.UTC(),
		RefreshSpeed:       dao.RefreshSpeed,
		VotersRefreshSpeed: dao.VotersSpeed,
		Active:             dao.Active,
	}, nil
}

// ProposalDao maps to the 'proposals' table.
type ProposalDao struct {
	bun.BaseModel `bun:"table:proposals,alias:p"`
	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	ExternalID    string          `bun:"external_id,notnull,type:varchar(255)"`
	OrgID         uuid.UUID       `bun:"org_id,notnull,type:uuid"`
	EntityID      uuid.UUID       `bun:"entity_id,notnull,type:uuid"`
	Name          string          `bun:"name,notnull,type:varchar(1024)"`
	TimeStart     time.Time       `bun:"time_start,notnull"`
	TimeEnd       time.Time       `bun:"time_end,notnull"`
	TimeCreated   time.Time       `bun:"time_created,notnull"`
	BlockCreated  int64           `bun:"block_created,notnull,default:0"`
	URL           string          `bun:"url,notnull,type:text"`
	Choices       string          `bun:"choices,notnull,type:jsonb"`
	Scores        string          `bun:"scores,notnull,type:jsonb"`
	ScoresTotal   decimal.Decimal `bun:"scores_total,notnull,type:numeric"`
	Quorum        decimal.Decimal `bun:"quorum,notnull,type:numeric"`
	State         string          `bun:"state,notnull,type:varchar(16)"`
	Visible       bool            `bun:"visible,notnull,default:true"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func toProposalDao(p *governance.Proposal) (*ProposalDao, error) {
	choices, err := json.Marshal(lo.Ternary(p.Choices == nil, []string{}, p.Choices))
	if err != nil {
		return nil, fmt.Errorf("failed to encode choices: %w", err)
	}
	scores, err := json.Marshal(lo.Ternary(p.Scores == nil, []decimal.Decimal{}, p.Scores))
	if err != nil {
		return nil, fmt.Errorf("failed to encode scores: %w", err)
	}
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &ProposalDao{
		ID:           id,
		ExternalID:   p.ExternalID,
		OrgID:        p.OrgID,
		EntityID:     p.EntityID,
		Name:         governance.TruncateName(p.Name),
		TimeStart:    p.TimeStart.UTC(),
		TimeEnd:      p.TimeEnd.UTC(),
		TimeCreated:  p.TimeCreated.UTC(),
		BlockCreated: p.BlockCreated,
		URL:          p.URL,
		Choices:      string(choices),
		Scores:       string(scores),
		ScoresTotal:  p.ScoresTotal,
		Quorum:       p.Quorum,
		State:        string(p.State),
		Visible:      p.Visible,
	}, nil
}

func fromProposalDao(dao *ProposalDao) (*governance.Proposal, error) {
	p := &governance.Proposal{
		ID:           dao.ID,
		ExternalID:   dao.ExternalID,
		OrgID:        dao.OrgID,
		EntityID:     dao.EntityID,
		Name:         dao.Name,
		TimeStart:    dao.TimeStart.UTC(),
		TimeEnd:      dao.TimeEnd.UTC(),
		TimeCreated:  dao.TimeCreated.UTC(),
		BlockCreated: dao.BlockCreated,
		URL:          dao.URL,
		ScoresTotal:  dao.ScoresTotal,
		Quorum:       dao.Quorum,
		State:        governance.ProposalState(dao.State),
		Visible:      dao.Visible,
	}
	if err := json.Unmarshal([]byte(dao.Choices), &p.Choices); err != nil {
		return nil, fmt.Errorf("proposal %s has invalid choices: %w", dao.ID, err)
	}
	if err := json.Unmarshal([]byte(dao.Scores), &p.Scores); err != nil {
		return nil, fmt.Errorf("proposal %s has invalid scores: %w", dao.ID, err)
	}
	return p, nil
}

// VoteDao maps to the 'votes' table.
type VoteDao struct {
	bun.BaseModel `bun:"table:votes,alias:v"`
	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	VoterAddress  string          `bun:"voter_address,notnull,type:varchar(42)"`
	OrgID         uuid.UUID       `bun:"org_id,notnull,type:uuid"`
	ProposalID    uuid.UUID       `bun:"proposal_id,notnull,type:uuid"`
	EntityID      uuid.UUID       `bun:"entity_id,notnull,type:uuid"`
	VotingPower   decimal.Decimal `bun:"voting_power,notnull,type:numeric"`
	Reason        string          `bun:"reason,notnull,type:text"`
	BlockCreated  int64           `bun:"block_created,notnull,default:0"`
	TimeCreated   time.Time       `bun:"time_created,notnull"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func toVoteDao(v *governance.Vote) *VoteDao {
	id := v.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &VoteDao{
		ID:           id,
		VoterAddress: governance.ChecksumAddress(v.VoterAddress),
		OrgID:        v.OrgID,
		ProposalID:   v.ProposalID,
		EntityID:     v.EntityID,
		VotingPower:  v.VotingPower,
		Reason:       v.Reason,
		BlockCreated: v.BlockCreated,
		TimeCreated:  v.TimeCreated.UTC(),
	}
}

func fromVoteDao(dao *VoteDao, options []VoteOptionDao) *governance.Vote {
	return &governance.Vote{
		ID:           dao.ID,
		VoterAddress: dao.VoterAddress,
		OrgID:        dao.OrgID,
		ProposalID:   dao.ProposalID,
		EntityID:     dao.EntityID,
		Options: lo.Map(options, func(o VoteOptionDao, _ int) governance.VoteOption {
			return governance.VoteOption{Option: o.Option, OptionName: o.OptionName}
		}),
		VotingPower:  dao.VotingPower,
		Reason:       dao.Reason,
		BlockCreated: dao.BlockCreated,
		TimeCreated:  dao.TimeCreated.UTC(),
	}
}

// VoteOptionDao maps to the 'vote_options' table.
type VoteOptionDao struct {
	bun.BaseModel `bun:"table:vote_options,alias:vo"`
	ID            int64     `bun:"id,pk,autoincrement"`
	VoteID        uuid.UUID `bun:"vote_id,notnull,type:uuid"`
	Option        string    `bun:"option,notnull,type:varchar(64)"`
	OptionName    string    `bun:"option_name,notnull,type:text"`
}

// VoterCursorDao maps to the 'voter_cursors' table.
type VoterCursorDao struct {
	bun.BaseModel `bun:"table:voter_cursors,alias:vc"`
	Voter         string    `bun:"voter,pk,type:varchar(42)"`
	EntityID      uuid.UUID `bun:"entity_id,pk,type:uuid"`
	ChainIndex    int64     `bun:"chain_index,notnull,default:0"`
	SnapshotIndex time.Time `bun:"snapshot_index,notnull"`
	RefreshStatus string    `bun:"refresh_status,notnull,type:varchar(16)"`
	LastRefresh   time.Time `bun:"last_refresh,notnull"`
}

func toVoterCursorDao(c *governance.VoterCursor) *VoterCursorDao {
	return &VoterCursorDao{
		Voter:         governance.ChecksumAddress(c.Voter),
		EntityID:      c.EntityID,
		ChainIndex:    c.ChainIndex,
		SnapshotIndex: c.SnapshotIndex.UTC(),
		RefreshStatus: string(c.RefreshStatus),
		LastRefresh:   c.LastRefresh.UTC(),
	}
}

func fromVoterCursorDao(dao *VoterCursorDao) governance.VoterCursor {
	return governance.VoterCursor{
		Voter:         dao.Voter,
		EntityID:      dao.EntityID,
		ChainIndex:    dao.ChainIndex,
		SnapshotIndex: dao.SnapshotIndex.UTC(),
		RefreshStatus: governance.RefreshStatus(dao.RefreshStatus),
		LastRefresh:   dao.LastRefresh.UTC(),
	}
}

// TrackedVoterDao maps to the 'tracked_voters' table: the addresses followed per organization.
type TrackedVoterDao struct {
	bun.BaseModel `bun:"table:tracked_voters,alias:tv"`
	Address       string    `bun:"address,pk,type:varchar(42)"`
	OrgID         uuid.UUID `bun:"org_id,pk,type:uuid"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
