package ethereum

import (
	"context"
	"fmt"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call packs method with args, executes it against contract at block (nil for
// latest) and unpacks the outputs.
func Call(
	ctx context.Context,
	reader ChainReader,
	contractABI *abi.ABI,
	contract common.Address,
	block *big.Int,
	method string,
	args ...any,
) ([]any, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	raw, err := reader.CallContract(ctx, geth.CallMsg{To: &contract, Data: input}, block)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, contract.Hex(), err)
	}

	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

// CallBig calls a method whose first output is a uint256.
func CallBig(
	ctx context.Context,
	reader ChainReader,
	contractABI *abi.ABI,
	contract common.Address,
	block *big.Int,
	method string,
	args ...any,
) (*big.Int, error) {
	out, err := Call(ctx, reader, contractABI, contract, block, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, expected uint256", method, out[0])
	}
	return value, nil
}
