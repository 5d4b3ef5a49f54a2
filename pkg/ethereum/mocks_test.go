package ethereum

import (
	"context"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// MockReader is a mock implementation of ChainReader
type MockReader struct {
	BlockNumberFunc    func(ctx context.Context) (uint64, error)
	HeaderByNumberFunc func(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogsFunc     func(ctx context.Context, q geth.FilterQuery) ([]types.Log, error)
	CallContractFunc   func(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func (m *MockReader) BlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}
	return 0, nil
}

func (m *MockReader) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if m.HeaderByNumberFunc != nil {
		return m.HeaderByNumberFunc(ctx, number)
	}
	return &types.Header{Number: number}, nil
}

func (m *MockReader) FilterLogs(ctx context.Context, q geth.FilterQuery) ([]types.Log, error) {
	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, q)
	}
	return nil, nil
}

func (m *MockReader) CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if m.CallContractFunc != nil {
		return m.CallContractFunc(ctx, msg, blockNumber)
	}
	return nil, nil
}
