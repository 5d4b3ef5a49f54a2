package governance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxProposalNameLen bounds stored proposal titles.
const MaxProposalNameLen = 1024

// ProposalState is the normalized lifecycle state of a proposal.
type ProposalState string

const (
	StatePending   ProposalState = "pending"
	StateActive    ProposalState = "active"
	StateCanceled  ProposalState = "canceled"
	StateDefeated  ProposalState = "defeated"
	StateSucceeded ProposalState = "succeeded"
	StateQueued    ProposalState = "queued"
	StateExpired   ProposalState = "expired"
	StateExecuted  ProposalState = "executed"
	StateHidden    ProposalState = "hidden"
	StateUnknown   ProposalState = "unknown"
)

// Proposal is a governance proposal normalized across sources.
type Proposal struct {
	ID           uuid.UUID
	ExternalID   string
	OrgID        uuid.UUID
	EntityID     uuid.UUID
	Name         string
	TimeStart    time.Time
	TimeEnd      time.Time
	TimeCreated  time.Time
	BlockCreated int64
	URL          string
	Choices      []string
	Scores       []decimal.Decimal
	ScoresTotal  decimal.Decimal
	Quorum       decimal.Decimal
	State        ProposalState
	Visible      bool
}

// Open reports whether voting is still possible at now.
func (p *Proposal) Open(now time.Time) bool {
	return p.TimeEnd.After(now)
}

// TruncateName clips a title to the stored column bound.
func TruncateName(name string) string {
	runes := []rune(name)
	if len(runes) > MaxProposalNameLen {
		return string(runes[:MaxProposalNameLen])
	}
	return name
}

// SumScores totals per-choice scores.
func SumScores(scores []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, s := range scores {
		total = total.Add(s)
	}
	return total
}
