// Package store persists governance entities, proposals, votes and voter cursors in Postgres.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// EntityStore defines governance entity persistence.
type EntityStore interface {
	// SaveEntity creates an entity or updates the decoder and active flag of the entity that
	// already exists for the same organization and source type. Cursors are left untouched.
	SaveEntity(ctx context.Context, entity *governance.Entity) (*governance.Entity, error)
	GetEntity(ctx context.Context, id uuid.UUID) (*governance.Entity, error)
	ListEntities(ctx context.Context, opts ...QueryOption) ([]*governance.Entity, error)
	// UpdateEntityProgress writes the cursor and scheduler columns of an entity.
	UpdateEntityProgress(ctx context.Context, entity *governance.Entity) error
	// SetEntityStatus moves an entity to status, stamping last_refresh with at.
	SetEntityStatus(ctx context.Context, id uuid.UUID, status governance.RefreshStatus, at time.Time) error
	// UpdateVotersSpeed writes the vote batch width of an entity.
	UpdateVotersSpeed(ctx context.Context, id uuid.UUID, speed int64) error
	// ResetSiblingCursors moves the cursor of the other source type of an organization back
	// to its origin so the sibling entity rescans on its next refresh.
	ResetSiblingCursors(ctx context.Context, entity *governance.Entity) error
}

// ProposalStore defines proposal persistence.
type ProposalStore interface {
	UpsertProposals(ctx context.Context, proposals []governance.Proposal) error
	ProposalIDs(ctx context.Context, orgID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error)
	GetProposal(ctx context.Context, orgID uuid.UUID, externalID string) (*governance.Proposal, error)
	HasProposals(ctx context.Context, entityID uuid.UUID) (bool, error)
	// ProposalExternalIDs lists external ids of an entity's proposals created within [from, to].
	ProposalExternalIDs(ctx context.Context, entityID uuid.UUID, from, to time.Time) ([]string, error)
	// DeleteProposals removes proposals of an entity together with their votes.
	DeleteProposals(ctx context.Context, entityID uuid.UUID, externalIDs []string) ([]string, error)
}

// VoteStore defines vote persistence.
type VoteStore interface {
	UpsertVotes(ctx context.Context, votes []governance.Vote) error
	ListVotes(ctx context.Context, proposalID uuid.UUID) ([]*governance.Vote, error)
}

// VoterStore defines tracked voter and voter cursor persistence.
type VoterStore interface {
	TrackVoters(ctx context.Context, orgID uuid.UUID, voters []string) error
	TrackedVoters(ctx context.Context, orgID uuid.UUID) ([]string, error)
	// EnsureVoterCursors creates missing cursors for every tracked voter of the entity's organization.
	EnsureVoterCursors(ctx context.Context, entity *governance.Entity) error
	ListVoterCursors(ctx context.Context, entityID uuid.UUID, voters ...string) ([]governance.VoterCursor, error)
	MarkVotersPending(ctx context.Context, entityID uuid.UUID, voters []string, now time.Time) error
	UpdateVoterCursors(ctx context.Context, cursors []governance.VoterCursor) error
}

// Store defines the persistence surface of the ingestion pipeline.
type Store interface {
	EntityStore
	ProposalStore
	VoteStore
	VoterStore
	// InTx runs fn against a store bound to one retrying transaction. Calls nested in an
	// already transactional store join the outer transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// QueryOptions defines options for listing entities
type QueryOptions struct {
	ActiveOnly bool
	OrgID      *uuid.UUID
	Type       *governance.SourceType
}

// QueryOption is a functional option for listing entities
type QueryOption func(*QueryOptions)

// WithActive restricts the listing to active entities
func WithActive() QueryOption {
	return func(o *QueryOptions) {
		o.ActiveOnly = true
	}
}

// WithOrg sets the organization filter
func WithOrg(orgID uuid.UUID) QueryOption {
	return func(o *QueryOptions) {
		o.OrgID = &orgID
	}
}

// WithType sets the source type filter
func WithType(t governance.SourceType) QueryOption {
	return func(o *QueryOptions) {
		o.Type = &t
	}
}
