package adapters

import (
	"cmp"
	"context"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/ethereum"
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

const (
	maxGovernorTitleLen = 120
	untitledProposal    = "Title unavailable"
	tokenDecimals       = 18
)

// chainBase holds what every on-chain adapter shares.
type chainBase struct {
	pool        *ethereum.Pool
	proposals   ProposalLookup
	concurrency int
	logger      *zap.Logger
}

func (b *chainBase) reader(r Range) ethereum.ChainReader {
	return b.pool.Pick(r.FromBlock, r.Head)
}

func (b *chainBase) filterLogs(
	ctx context.Context,
	reader ethereum.ChainReader,
	address common.Address,
	topics [][]common.Hash,
	r Range,
) ([]types.Log, error) {
	logs, err := reader.FilterLogs(ctx, geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.FromBlock),
		ToBlock:   new(big.Int).SetUint64(r.ToBlock),
		Addresses: []common.Address{address},
		Topics:    topics,
	})
	if err != nil {
		return nil, err
	}
	logs = lo.Filter(logs, func(l types.Log, _ int) bool { return !l.Removed })
	slices.SortFunc(logs, func(a, b types.Log) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return logs, nil
}

func (b *chainBase) blockTimes(ctx context.Context, reader ethereum.ChainReader, logs []types.Log) (map[uint64]time.Time, error) {
	blocks := lo.Map(logs, func(l types.Log, _ int) uint64 { return l.BlockNumber })
	return ethereum.BlockTimestamps(ctx, reader, blocks, b.concurrency)
}

func (b *chainBase) decodeFailed(source governance.SourceType, l types.Log, err error) {
	metrics.DecodeErrors.WithLabelValues(string(source)).Inc()
	b.logger.Warn("Skipping undecodable log",
		zap.String("source", string(source)),
		zap.Uint64("block", l.BlockNumber),
		zap.Uint("log_index", l.Index),
		zap.String("tx_hash", l.TxHash.Hex()),
		zap.Error(err),
	)
}

// lookupProposals maps external ids to stored proposal ids.
func (b *chainBase) lookupProposals(ctx context.Context, orgID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	ids, err := b.proposals.ProposalIDs(ctx, orgID, lo.Uniq(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to look up proposals: %w", err)
	}
	return ids, nil
}

// unpackLog decodes the non-indexed fields of event from l.
func unpackLog(contractABI *abi.ABI, event string, l types.Log) (map[string]any, error) {
	ev, ok := contractABI.Events[event]
	if !ok {
		return nil, fmt.Errorf("event %s not in ABI", event)
	}
	if !ev.Anonymous && (len(l.Topics) == 0 || l.Topics[0] != ev.ID) {
		return nil, fmt.Errorf("log is not a %s event", event)
	}
	indexed := 0
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed++
		}
	}
	offset := 1
	if ev.Anonymous {
		offset = 0
	}
	if len(l.Topics) < indexed+offset {
		return nil, fmt.Errorf("%s log has %d topics, expected %d", event, len(l.Topics), indexed+offset)
	}

	out := make(map[string]any)
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(out, l.Data); err != nil {
		return nil, err
	}
	return out, nil
}

func bigField(m map[string]any, name string) (*big.Int, error) {
	v, ok := m[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("field %s is %T, expected uint256", name, m[name])
	}
	return v, nil
}

func stringField(m map[string]any, name string) (string, error) {
	v, ok := m[name].(string)
	if !ok {
		return "", fmt.Errorf("field %s is %T, expected string", name, m[name])
	}
	return v, nil
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func voterTopics(voters []string) []common.Hash {
	return lo.Map(voters, func(v string, _ int) common.Hash { return addressTopic(v) })
}

func topicAddress(h common.Hash) string {
	return common.BytesToAddress(h.Bytes()).Hex()
}

// tokens converts an 18-decimals integer amount to whole tokens.
func tokens(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -tokenDecimals)
}

// governorTitle derives a title from a proposal description.
func governorTitle(description string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(description), "\n")
	line = cleanTitle(line)
	if runes := []rune(line); len(runes) > maxGovernorTitleLen {
		line = string(runes[:maxGovernorTitleLen])
	}
	if line == "" {
		return untitledProposal
	}
	return line
}

var governorStates = []governance.ProposalState{
	governance.StatePending,
	governance.StateActive,
	governance.StateCanceled,
	governance.StateDefeated,
	governance.StateSucceeded,
	governance.StateQueued,
	governance.StateExpired,
	governance.StateExecuted,
}

var aaveStates = []governance.ProposalState{
	governance.StatePending,
	governance.StateCanceled,
	governance.StateActive,
	governance.StateDefeated,
	governance.StateSucceeded,
	governance.StateQueued,
	governance.StateExpired,
	governance.StateExecuted,
}

func stateAt(states []governance.ProposalState, idx uint8) governance.ProposalState {
	if int(idx) < len(states) {
		return states[idx]
	}
	return governance.StateUnknown
}
