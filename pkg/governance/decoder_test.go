package governance

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_RoundTripKeepsKindAndFields(t *testing.T) {
	decoders := []Decoder{
		GovernorDecoder{
			Source:      SourceCompound,
			Address:     common.HexToAddress("0xc0Da02939E1441F497fd74F78cE7Decb17B66529"),
			ProposalURL: "https://compound.finance/governance/proposals/",
		},
		MakerExecutiveDecoder{Address: common.HexToAddress("0x0a3f6849f78076aefaDf113F5BED87720274dDC0")},
		MakerPollDecoder{
			CreateAddress: common.HexToAddress("0xf9be8f0945acddeedaa64dfca5fe9629d0cf8e5d"),
			VoteAddress:   common.HexToAddress("0xD3A9FE267852281a1e6307a1C37CDfD76d39b133"),
		},
		SnapshotDecoder{Space: "aave.eth"},
	}

	for _, d := range decoders {
		t.Run(d.Kind(), func(t *testing.T) {
			raw, err := MarshalDecoder(d)
			require.NoError(t, err)
			assert.Contains(t, string(raw), `"kind":"`+d.Kind()+`"`)

			got, err := UnmarshalDecoder(raw)
			require.NoError(t, err)
			assert.Equal(t, d, got)
			assert.Equal(t, d.SourceType(), got.SourceType())
		})
	}
}

func TestUnmarshalDecoder_RejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalDecoder([]byte(`{"kind":"tally","address":"0x1"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDecoder))
}

func TestUnmarshalDecoder_RejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"governor without address": `{"kind":"governor","source":"compound_chain"}`,
		"governor bad source":      `{"kind":"governor","source":"snapshot","address":"0xc0Da02939E1441F497fd74F78cE7Decb17B66529"}`,
		"poll without vote":        `{"kind":"maker_poll","create_address":"0xf9be8f0945acddeedaa64dfca5fe9629d0cf8e5d"}`,
		"snapshot without space":   `{"kind":"snapshot"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalDecoder([]byte(raw))
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrUnknownDecoder))
		})
	}
}

func TestGovernorDecoder_Variant(t *testing.T) {
	cases := map[SourceType]GovernorVariant{
		SourceCompound: VariantBravo,
		SourceUniswap:  VariantBravo,
		SourceGitcoin:  VariantAlpha,
		SourceENS:      VariantOZ,
		SourceHop:      VariantOZ,
		SourceAave:     VariantAave,
		SourceDydx:     VariantDydx,
	}
	for source, want := range cases {
		if got := (GovernorDecoder{Source: source}).Variant(); got != want {
			t.Errorf("%s: expected variant %s, got %s", source, want, got)
		}
	}
}

func TestProposal_Open(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Proposal{TimeEnd: now.Add(time.Minute)}
	if !p.Open(now) {
		t.Errorf("expected proposal ending after now to be open")
	}
	p.TimeEnd = now
	if p.Open(now) {
		t.Errorf("expected proposal ending at now to be closed")
	}
}

func TestDecodeError_Unwraps(t *testing.T) {
	cause := errors.New("short data")
	err := NewDecodeError("compound_chain", cause)
	assert.True(t, IsDecodeError(err))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, IsDecodeError(ErrProposalNotFound))
}

func TestChecksumAddress(t *testing.T) {
	got := ChecksumAddress("0xc0da02939e1441f497fd74f78ce7decb17b66529")
	assert.Equal(t, "0xc0Da02939E1441F497fd74F78cE7Decb17B66529", got)
	assert.Equal(t, "not-an-address", ChecksumAddress("not-an-address"))
}
