package governance

import (
	"time"

	"github.com/google/uuid"
)

// VoterCursor tracks how far the votes of one voter have been scanned for one entity.
type VoterCursor struct {
	Voter         string
	EntityID      uuid.UUID
	ChainIndex    int64
	SnapshotIndex time.Time
	RefreshStatus RefreshStatus
	LastRefresh   time.Time
}

// NewVoterCursor returns a cursor at the origin of both timelines.
func NewVoterCursor(voter string, entityID uuid.UUID) VoterCursor {
	return VoterCursor{
		Voter:         ChecksumAddress(voter),
		EntityID:      entityID,
		SnapshotIndex: Epoch,
		RefreshStatus: StatusNew,
		LastRefresh:   Epoch,
	}
}
