package governance

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownDecoder is returned when a stored decoder has an unsupported kind.
var ErrUnknownDecoder = errors.New("unknown decoder kind")

// Decoder kinds as persisted in the "kind" field of the decoder document.
const (
	KindGovernor       = "governor"
	KindMakerExecutive = "maker_executive"
	KindMakerPoll      = "maker_poll"
	KindSnapshot       = "snapshot"
)

// GovernorVariant selects the contract dialect of a governor-style source.
type GovernorVariant string

const (
	VariantBravo GovernorVariant = "bravo"
	VariantAlpha GovernorVariant = "alpha"
	VariantOZ    GovernorVariant = "oz"
	VariantAave  GovernorVariant = "aave"
	VariantDydx  GovernorVariant = "dydx"
)

// Decoder is the per-source configuration needed to read proposals and votes.
// Exactly one of the concrete variants below implements it for every source type.
type Decoder interface {
	Kind() string
	SourceType() SourceType
	Validate() error
}

// GovernorDecoder configures the Compound/Uniswap/ENS/Gitcoin/Hop/Aave/dYdX governors.
type GovernorDecoder struct {
	Source      SourceType     `json:"source"`
	Address     common.Address `json:"address"`
	ProposalURL string         `json:"proposal_url"`
}

func (d GovernorDecoder) Kind() string           { return KindGovernor }
func (d GovernorDecoder) SourceType() SourceType { return d.Source }

// Variant returns the contract dialect spoken by the governor of this source.
func (d GovernorDecoder) Variant() GovernorVariant {
	switch d.Source {
	case SourceGitcoin:
		return VariantAlpha
	case SourceENS, SourceHop:
		return VariantOZ
	case SourceAave:
		return VariantAave
	case SourceDydx:
		return VariantDydx
	default:
		return VariantBravo
	}
}

func (d GovernorDecoder) Validate() error {
	switch d.Source {
	case SourceAave, SourceCompound, SourceUniswap, SourceENS, SourceGitcoin, SourceHop, SourceDydx:
	default:
		return fmt.Errorf("governor decoder does not support source %q", d.Source)
	}
	if d.Address == (common.Address{}) {
		return errors.New("governor decoder requires an address")
	}
	return nil
}

// MakerExecutiveDecoder configures the DSChief executive vote reader.
type MakerExecutiveDecoder struct {
	Address     common.Address `json:"address"`
	ProposalURL string         `json:"proposal_url"`
}

func (d MakerExecutiveDecoder) Kind() string           { return KindMakerExecutive }
func (d MakerExecutiveDecoder) SourceType() SourceType { return SourceMakerExecutive }

func (d MakerExecutiveDecoder) Validate() error {
	if d.Address == (common.Address{}) {
		return errors.New("maker executive decoder requires an address")
	}
	return nil
}

// MakerPollDecoder configures the polling emitter contracts.
type MakerPollDecoder struct {
	CreateAddress common.Address `json:"create_address"`
	VoteAddress   common.Address `json:"vote_address"`
	ProposalURL   string         `json:"proposal_url"`
}

func (d MakerPollDecoder) Kind() string           { return KindMakerPoll }
func (d MakerPollDecoder) SourceType() SourceType { return SourceMakerPoll }

func (d MakerPollDecoder) Validate() error {
	if d.CreateAddress == (common.Address{}) {
		return errors.New("maker poll decoder requires a create address")
	}
	if d.VoteAddress == (common.Address{}) {
		return errors.New("maker poll decoder requires a vote address")
	}
	return nil
}

// SnapshotDecoder configures an off-chain Snapshot space.
type SnapshotDecoder struct {
	Space string `json:"space"`
}

func (d SnapshotDecoder) Kind() string           { return KindSnapshot }
func (d SnapshotDecoder) SourceType() SourceType { return SourceSnapshot }

func (d SnapshotDecoder) Validate() error {
	if d.Space == "" {
		return errors.New("snapshot decoder requires a space")
	}
	return nil
}

type envelope struct {
	Kind string `json:"kind"`
}

// MarshalDecoder encodes a decoder as a JSON document carrying its kind.
func MarshalDecoder(d Decoder) ([]byte, error) {
	if d == nil {
		return nil, errors.New("decoder is nil")
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decoder: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to marshal decoder: %w", err)
	}
	kind, _ := json.Marshal(d.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalDecoder decodes a JSON decoder document, rejecting unknown kinds
// and variants missing required fields.
func UnmarshalDecoder(raw []byte) (Decoder, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to read decoder kind: %w", err)
	}

	var (
		dec Decoder
		err error
	)
	switch env.Kind {
	case KindGovernor:
		var d GovernorDecoder
		err = json.Unmarshal(raw, &d)
		dec = d
	case KindMakerExecutive:
		var d MakerExecutiveDecoder
		err = json.Unmarshal(raw, &d)
		dec = d
	case KindMakerPoll:
		var d MakerPollDecoder
		err = json.Unmarshal(raw, &d)
		dec = d
	case KindSnapshot:
		var d SnapshotDecoder
		err = json.Unmarshal(raw, &d)
		dec = d
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecoder, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s decoder: %w", env.Kind, err)
	}
	if err := dec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s decoder: %w", env.Kind, err)
	}
	return dec, nil
}
