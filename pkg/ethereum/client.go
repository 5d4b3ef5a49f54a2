package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainsafe/senate-indexer/pkg/retry"
)

// ChainReader is the subset of JSON-RPC used by the governance adapters.
// *ethclient.Client satisfies it.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q geth.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client is a named JSON-RPC provider. Every call waits on the optional rate
// limiter and runs through the retry executor.
type Client struct {
	name    string
	reader  ChainReader
	limiter *rate.Limiter
	exec    *retry.Executor
	timeout time.Duration
	closeFn func()
	logger  *zap.Logger
}

// Dial connects to a JSON-RPC endpoint. A zero rps disables rate limiting.
func Dial(ctx context.Context, name, url string, rps float64, burst int, exec *retry.Executor, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", name, err)
	}

	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	logger.Info("Connected to Ethereum provider",
		zap.String("provider", name),
		zap.Float64("rps", rps),
	)

	c := NewClient(name, client, limiter, exec, logger)
	c.closeFn = client.Close
	return c, nil
}

// NewClient wraps an existing reader.
func NewClient(name string, reader ChainReader, limiter *rate.Limiter, exec *retry.Executor, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		reader:  reader,
		limiter: limiter,
		exec:    exec,
		logger:  logger,
	}
}

// WithRequestTimeout bounds every attempt of every call. Zero disables the bound.
func (c *Client) WithRequestTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Name returns the provider label.
func (c *Client) Name() string {
	return c.name
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) do(ctx context.Context, op func(ctx context.Context) error) error {
	run := func(ctx context.Context, _ int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		err := op(ctx)
		if IsRevert(err) {
			return retry.Permanent(err)
		}
		return err
	}
	if c.exec == nil {
		return run(ctx, 0)
	}
	return c.exec.Do(ctx, run)
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		head, err = c.reader.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block from %s: %w", c.name, err)
	}
	return head, nil
}

// HeaderByNumber returns a block header.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		header, err = c.reader.HeaderByNumber(ctx, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get header %v from %s: %w", number, c.name, err)
	}
	return header, nil
}

// FilterLogs returns the logs matching q.
func (c *Client) FilterLogs(ctx context.Context, q geth.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = c.reader.FilterLogs(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs on %s: %w", c.name, err)
	}
	return logs, nil
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.reader.CallContract(ctx, msg, blockNumber)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("contract call on %s failed: %w", c.name, err)
	}
	return out, nil
}

// IsRevert reports whether err is an EVM execution revert.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
