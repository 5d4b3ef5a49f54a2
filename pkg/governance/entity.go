// Package governance defines the normalized governance domain shared by the adapters,
// the ingestion facade and the refresh scheduler.
package governance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies the protocol family a governance entity is read from.
type SourceType string

const (
	SourceAave           SourceType = "aave_chain"
	SourceCompound       SourceType = "compound_chain"
	SourceUniswap        SourceType = "uniswap_chain"
	SourceENS            SourceType = "ens_chain"
	SourceGitcoin        SourceType = "gitcoin_chain"
	SourceHop            SourceType = "hop_chain"
	SourceDydx           SourceType = "dydx_chain"
	SourceMakerExecutive SourceType = "maker_executive"
	SourceMakerPoll      SourceType = "maker_poll"
	SourceSnapshot       SourceType = "snapshot"
)

// SourceTypes lists every supported source type.
func SourceTypes() []SourceType {
	return []SourceType{
		SourceAave, SourceCompound, SourceUniswap, SourceENS, SourceGitcoin,
		SourceHop, SourceDydx, SourceMakerExecutive, SourceMakerPoll, SourceSnapshot,
	}
}

// ParseSourceType validates a raw source type.
func ParseSourceType(raw string) (SourceType, error) {
	for _, t := range SourceTypes() {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown source type %q", raw)
}

// IsChain reports whether entities of this type are tracked by block number.
func (t SourceType) IsChain() bool {
	return t != SourceSnapshot
}

// RefreshStatus is the scheduler state of an entity or voter cursor.
type RefreshStatus string

const (
	StatusNew     RefreshStatus = "NEW"
	StatusPending RefreshStatus = "PENDING"
	StatusDone    RefreshStatus = "DONE"
)

// Epoch is the zero value of off-chain timestamp cursors.
var Epoch = time.Unix(0, 0).UTC()

// Entity is a governance source (a contract set or an off-chain space) owned by an organization.
type Entity struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	OrgName       string
	Type          SourceType
	Decoder       Decoder
	ChainIndex    int64
	SnapshotIndex time.Time
	RefreshStatus RefreshStatus
	LastRefresh   time.Time
	RefreshSpeed  int64
	// VotersRefreshSpeed is the batch width of vote refreshes, tuned apart from RefreshSpeed.
	VotersRefreshSpeed int64
	Active             bool
}

// NewEntity creates an active entity in the NEW state with its cursors at their origin.
func NewEntity(orgID uuid.UUID, orgName string, decoder Decoder, speed int64) *Entity {
	return &Entity{
		ID:            uuid.New(),
		OrgID:         orgID,
		OrgName:       orgName,
		Type:          decoder.SourceType(),
		Decoder:       decoder,
		SnapshotIndex: Epoch,
		RefreshStatus: StatusNew,
		LastRefresh:   Epoch,
		RefreshSpeed:       speed,
		VotersRefreshSpeed: speed,
		Active:             true,
	}
}
