package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// BlockTime is the assumed average block interval used to extrapolate
// timestamps of blocks that were not fetched.
const BlockTime = 12 * time.Second

// BlockTimestamps fetches the timestamps of the given blocks with at most
// concurrency requests in flight. Duplicate block numbers are fetched once.
func BlockTimestamps(ctx context.Context, reader ChainReader, blocks []uint64, concurrency int) (map[uint64]time.Time, error) {
	unique := lo.Uniq(blocks)
	out := make(map[uint64]time.Time, len(unique))
	if len(unique) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for _, block := range unique {
		g.Go(func() error {
			header, err := reader.HeaderByNumber(gctx, new(big.Int).SetUint64(block))
			if err != nil {
				return fmt.Errorf("failed to get timestamp of block %d: %w", block, err)
			}
			mu.Lock()
			out[block] = time.Unix(int64(header.Time), 0).UTC()
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Extrapolate estimates the time of block from a known (createdBlock, createdAt) pair.
func Extrapolate(createdAt time.Time, createdBlock, block int64) time.Time {
	return createdAt.Add(time.Duration(block-createdBlock) * BlockTime)
}
