// Package storetest provides an in-memory store.Store for tests of the packages built on top of it.
package storetest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

type voteKey struct {
	voter      string
	orgID      uuid.UUID
	proposalID uuid.UUID
}

type cursorKey struct {
	voter    string
	entityID uuid.UUID
}

type state struct {
	entities  map[uuid.UUID]governance.Entity
	proposals map[string]governance.Proposal // org/external id
	votes     map[voteKey]governance.Vote
	tracked   map[uuid.UUID][]string
	cursors   map[cursorKey]governance.VoterCursor
}

func (s *state) clone() *state {
	c := &state{
		entities:  maps.Clone(s.entities),
		proposals: maps.Clone(s.proposals),
		votes:     maps.Clone(s.votes),
		tracked:   make(map[uuid.UUID][]string, len(s.tracked)),
		cursors:   maps.Clone(s.cursors),
	}
	for k, v := range s.tracked {
		c.tracked[k] = slices.Clone(v)
	}
	return c
}

// Memory is a goroutine-safe in-memory store.Store. Transactions are serialized and rolled back
// when the callback fails.
type Memory struct {
	mu   *sync.Mutex
	txMu *sync.Mutex
	st   *state
	inTx bool

	// FailTx, when set, is returned by InTx before the callback runs.
	FailTx error
	// TxCount counts InTx invocations that reached the callback.
	TxCount int
}

var _ store.Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		mu:   &sync.Mutex{},
		txMu: &sync.Mutex{},
		st: &state{
			entities:  map[uuid.UUID]governance.Entity{},
			proposals: map[string]governance.Proposal{},
			votes:     map[voteKey]governance.Vote{},
			tracked:   map[uuid.UUID][]string{},
			cursors:   map[cursorKey]governance.VoterCursor{},
		},
	}
}

func proposalKey(orgID uuid.UUID, externalID string) string {
	return orgID.String() + "/" + externalID
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, s store.Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	if m.FailTx != nil {
		return m.FailTx
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	m.TxCount++
	snapshot := m.st.clone()
	m.mu.Unlock()

	tx := &Memory{mu: m.mu, txMu: m.txMu, st: m.st, inTx: true}
	if err := fn(ctx, tx); err != nil {
		m.mu.Lock()
		*m.st = *snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) SaveEntity(_ context.Context, entity *governance.Entity) (*governance.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.st.entities {
		if e.OrgID == entity.OrgID && e.Type == entity.Type {
			e.OrgName = entity.OrgName
			e.Decoder = entity.Decoder
			e.Active = entity.Active
			m.st.entities[id] = e
			return &e, nil
		}
	}
	e := *entity
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.st.entities[e.ID] = e
	return &e, nil
}

// PutEntity stores an entity as-is.
func (m *Memory) PutEntity(e *governance.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.entities[e.ID] = *e
}

func (m *Memory) GetEntity(_ context.Context, id uuid.UUID) (*governance.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.entities[id]
	if !ok {
		return nil, governance.ErrEntityNotFound
	}
	return &e, nil
}

func (m *Memory) ListEntities(_ context.Context, opts ...store.QueryOption) ([]*governance.Entity, error) {
	options := &store.QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*governance.Entity
	for _, e := range m.st.entities {
		if options.ActiveOnly && !e.Active {
			continue
		}
		if options.OrgID != nil && e.OrgID != *options.OrgID {
			continue
		}
		if options.Type != nil && e.Type != *options.Type {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrgName != out[j].OrgName {
			return out[i].OrgName < out[j].OrgName
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (m *Memory) UpdateEntityProgress(_ context.Context, entity *governance.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.entities[entity.ID]
	if !ok {
		return governance.ErrEntityNotFound
	}
	e.ChainIndex = entity.ChainIndex
	e.SnapshotIndex = entity.SnapshotIndex
	e.RefreshStatus = entity.RefreshStatus
	e.LastRefresh = entity.LastRefresh
	e.RefreshSpeed = entity.RefreshSpeed
	m.st.entities[e.ID] = e
	return nil
}

func (m *Memory) SetEntityStatus(_ context.Context, id uuid.UUID, status governance.RefreshStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.entities[id]
	if !ok {
		return governance.ErrEntityNotFound
	}
	e.RefreshStatus = status
	e.LastRefresh = at
	m.st.entities[id] = e
	return nil
}

func (m *Memory) UpdateVotersSpeed(_ context.Context, id uuid.UUID, speed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.entities[id]
	if !ok {
		return governance.ErrEntityNotFound
	}
	e.VotersRefreshSpeed = speed
	m.st.entities[id] = e
	return nil
}

func (m *Memory) ResetSiblingCursors(_ context.Context, entity *governance.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.st.entities {
		if e.OrgID != entity.OrgID || id == entity.ID {
			continue
		}
		switch {
		case entity.Type.IsChain() && e.Type == governance.SourceSnapshot:
			e.SnapshotIndex = governance.Epoch
		case !entity.Type.IsChain() && e.Type.IsChain():
			e.ChainIndex = 0
		}
		m.st.entities[id] = e
	}
	return nil
}

func (m *Memory) UpsertProposals(_ context.Context, proposals []governance.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range proposals {
		key := proposalKey(p.OrgID, p.ExternalID)
		if existing, ok := m.st.proposals[key]; ok {
			p.ID = existing.ID
			p.EntityID = existing.EntityID
			p.TimeCreated = existing.TimeCreated
			p.BlockCreated = existing.BlockCreated
		} else if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.Name = governance.TruncateName(p.Name)
		m.st.proposals[key] = p
	}
	return nil
}

func (m *Memory) ProposalIDs(_ context.Context, orgID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]uuid.UUID, len(externalIDs))
	for _, ext := range externalIDs {
		if p, ok := m.st.proposals[proposalKey(orgID, ext)]; ok {
			ids[ext] = p.ID
		}
	}
	return ids, nil
}

func (m *Memory) GetProposal(_ context.Context, orgID uuid.UUID, externalID string) (*governance.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.proposals[proposalKey(orgID, externalID)]
	if !ok {
		return nil, governance.ErrProposalNotFound
	}
	return &p, nil
}

func (m *Memory) HasProposals(_ context.Context, entityID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.st.proposals {
		if p.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ProposalExternalIDs(_ context.Context, entityID uuid.UUID, from, to time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, p := range m.st.proposals {
		if p.EntityID == entityID && !p.TimeCreated.Before(from) && !p.TimeCreated.After(to) {
			ids = append(ids, p.ExternalID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) DeleteProposals(_ context.Context, entityID uuid.UUID, externalIDs []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []string
	for key, p := range m.st.proposals {
		if p.EntityID != entityID || !lo.Contains(externalIDs, p.ExternalID) {
			continue
		}
		for vk := range m.st.votes {
			if vk.proposalID == p.ID {
				delete(m.st.votes, vk)
			}
		}
		delete(m.st.proposals, key)
		deleted = append(deleted, p.ExternalID)
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (m *Memory) UpsertVotes(_ context.Context, votes []governance.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range votes {
		v.VoterAddress = governance.ChecksumAddress(v.VoterAddress)
		key := voteKey{voter: v.VoterAddress, orgID: v.OrgID, proposalID: v.ProposalID}
		if existing, ok := m.st.votes[key]; ok {
			v.ID = existing.ID
		} else if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		m.st.votes[key] = v
	}
	return nil
}

func (m *Memory) ListVotes(_ context.Context, proposalID uuid.UUID) ([]*governance.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*governance.Vote
	for _, v := range m.st.votes {
		if v.ProposalID == proposalID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterAddress < out[j].VoterAddress })
	return out, nil
}

func (m *Memory) TrackVoters(_ context.Context, orgID uuid.UUID, voters []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range voters {
		v = governance.ChecksumAddress(v)
		if !lo.Contains(m.st.tracked[orgID], v) {
			m.st.tracked[orgID] = append(m.st.tracked[orgID], v)
		}
	}
	sort.Strings(m.st.tracked[orgID])
	return nil
}

func (m *Memory) TrackedVoters(_ context.Context, orgID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.tracked[orgID]), nil
}

func (m *Memory) EnsureVoterCursors(_ context.Context, entity *governance.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.st.tracked[entity.OrgID] {
		key := cursorKey{voter: v, entityID: entity.ID}
		if _, ok := m.st.cursors[key]; !ok {
			m.st.cursors[key] = governance.NewVoterCursor(v, entity.ID)
		}
	}
	return nil
}

// PutVoterCursor stores a cursor as-is.
func (m *Memory) PutVoterCursor(c governance.VoterCursor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Voter = governance.ChecksumAddress(c.Voter)
	m.st.cursors[cursorKey{voter: c.Voter, entityID: c.EntityID}] = c
}

func (m *Memory) ListVoterCursors(_ context.Context, entityID uuid.UUID, voters ...string) ([]governance.VoterCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := lo.Map(voters, func(v string, _ int) string { return governance.ChecksumAddress(v) })
	var out []governance.VoterCursor
	for k, c := range m.st.cursors {
		if k.entityID != entityID {
			continue
		}
		if len(wanted) > 0 && !lo.Contains(wanted, k.voter) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Voter < out[j].Voter })
	return out, nil
}

func (m *Memory) MarkVotersPending(_ context.Context, entityID uuid.UUID, voters []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range voters {
		key := cursorKey{voter: governance.ChecksumAddress(v), entityID: entityID}
		if c, ok := m.st.cursors[key]; ok {
			c.RefreshStatus = governance.StatusPending
			c.LastRefresh = now
			m.st.cursors[key] = c
		}
	}
	return nil
}

func (m *Memory) UpdateVoterCursors(_ context.Context, cursors []governance.VoterCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cursors {
		c.Voter = governance.ChecksumAddress(c.Voter)
		m.st.cursors[cursorKey{voter: c.Voter, entityID: c.EntityID}] = c
	}
	return nil
}
