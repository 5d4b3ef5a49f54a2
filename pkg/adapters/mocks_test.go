package adapters

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/ethereum"
	"github.com/chainsafe/senate-indexer/pkg/snapshot"
)

// genesis is the timestamp of block 0 on the fake chain; blocks are 12s apart.
const genesis = 1_700_000_000

func blockTime(block uint64) time.Time {
	return time.Unix(int64(genesis+block*12), 0).UTC()
}

type callHandler func(args []any, block *big.Int) ([]any, error)

// fakeChain is an in-memory ChainReader that serves logs and ABI-encoded calls.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	handlers map[string]func(data []byte, block *big.Int) ([]byte, error)
	queries  []geth.FilterQuery
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:     head,
		handlers: make(map[string]func([]byte, *big.Int) ([]byte, error)),
	}
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: uint64(blockTime(number.Uint64()).Unix())}, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, q geth.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !matchTopics(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg geth.CallMsg, block *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	f.mu.Lock()
	h, ok := f.handlers[hex.EncodeToString(msg.Data[:4])]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return h(msg.Data[4:], block)
}

// handle serves method of contractABI with fn.
func (f *fakeChain) handle(t *testing.T, contractABI *abi.ABI, method string, fn callHandler) {
	t.Helper()
	m, ok := contractABI.Methods[method]
	require.True(t, ok, "method %s not in ABI", method)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[hex.EncodeToString(m.ID)] = func(data []byte, block *big.Int) ([]byte, error) {
		args, err := m.Inputs.Unpack(data)
		if err != nil {
			return nil, err
		}
		out, err := fn(args, block)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(out...)
	}
}

func (f *fakeChain) addLog(l types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
}

func containsAddress(addrs []common.Address, a common.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, set := range filter {
		if len(set) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range set {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// eventLog builds a log of event with the given indexed topics and non-indexed args.
func eventLog(
	t *testing.T,
	contractABI *abi.ABI,
	event string,
	address common.Address,
	block uint64,
	index uint,
	indexed []common.Hash,
	args ...any,
) types.Log {
	t.Helper()
	ev, ok := contractABI.Events[event]
	require.True(t, ok, "event %s not in ABI", event)

	data, err := ev.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)

	var topics []common.Hash
	if !ev.Anonymous {
		topics = append(topics, ev.ID)
	}
	topics = append(topics, indexed...)
	return types.Log{
		Address:     address,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
	}
}

func wei(tokens int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(tokens), big.NewInt(1_000_000_000_000_000_000))
}

func newTestPool(chain ethereum.ChainReader) *ethereum.Pool {
	return ethereum.NewPool(chain, nil, 0, zap.NewNop())
}

// fakeLookup is a ProposalLookup backed by a map of external ids.
type fakeLookup struct {
	ids map[string]uuid.UUID
	err error
}

func (f *fakeLookup) ProposalIDs(_ context.Context, _ uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]uuid.UUID)
	for _, id := range externalIDs {
		if v, ok := f.ids[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// fakeSpells is a SpellSource backed by maps.
type fakeSpells struct {
	meta     map[string]SpellMetadata
	errs     map[string]error
	block    uint64
	blockErr error
}

func (f *fakeSpells) Spell(_ context.Context, spell string) (SpellMetadata, error) {
	if err, ok := f.errs[spell]; ok {
		return SpellMetadata{Title: UnknownTitle, MKRSupport: "0"}, err
	}
	if m, ok := f.meta[spell]; ok {
		return m, nil
	}
	return SpellMetadata{Title: UnknownTitle, MKRSupport: "0"}, nil
}

func (f *fakeSpells) BlockAt(context.Context, time.Time) (uint64, error) {
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return f.block, nil
}

type fakeTitles map[string]string

func (f fakeTitles) PollTitle(_ context.Context, url string) string {
	if title, ok := f[url]; ok {
		return title
	}
	return UnknownTitle
}

type fakeIPFS map[[32]byte]string

func (f fakeIPFS) Title(_ context.Context, digest [32]byte) string {
	if title, ok := f[digest]; ok {
		return title
	}
	return UnknownTitle
}

// fakeHub is a SnapshotHub serving fixed pages.
type fakeHub struct {
	proposals   []snapshot.Proposal
	votes       []snapshot.Vote
	err         error
	lastCreated int64
	lastVoters  []string
}

func (f *fakeHub) Proposals(_ context.Context, _ string, createdGt int64) ([]snapshot.Proposal, error) {
	f.lastCreated = createdGt
	return f.proposals, f.err
}

func (f *fakeHub) Votes(_ context.Context, _ string, voters []string, createdGt int64) ([]snapshot.Vote, error) {
	f.lastCreated = createdGt
	f.lastVoters = voters
	return f.votes, f.err
}
