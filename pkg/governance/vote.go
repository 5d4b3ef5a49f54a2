package governance

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VoteOption is one selected choice of a ballot.
type VoteOption struct {
	Option     string
	OptionName string
}

// Vote is a voter's ballot on a proposal.
type Vote struct {
	ID           uuid.UUID
	VoterAddress string
	OrgID        uuid.UUID
	ProposalID   uuid.UUID
	EntityID     uuid.UUID
	Options      []VoteOption
	VotingPower  decimal.Decimal
	Reason       string
	BlockCreated int64
	TimeCreated  time.Time
}

// VoterVotes carries the outcome of a vote scan for a single voter.
// A non-nil Err marks the voter as failed without failing its siblings.
type VoterVotes struct {
	Voter string
	Votes []Vote
	Err   error
}

// ChecksumAddress normalizes a hex address to its EIP-55 form.
// Strings that are not addresses are returned unchanged.
func ChecksumAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
