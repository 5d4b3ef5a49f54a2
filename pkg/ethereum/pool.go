package ethereum

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
)

// Pool routes block ranges between a rate-limited primary provider and an
// archive fallback. Ranges that start more than FreshnessBlocks behind the
// head are historical and go to the fallback.
type Pool struct {
	Primary         ChainReader
	Fallback        ChainReader
	FreshnessBlocks uint64
	logger          *zap.Logger
}

// NewPool creates a provider pool. fallback may be nil.
func NewPool(primary, fallback ChainReader, freshnessBlocks uint64, logger *zap.Logger) *Pool {
	return &Pool{
		Primary:         primary,
		Fallback:        fallback,
		FreshnessBlocks: freshnessBlocks,
		logger:          logger,
	}
}

// Pick returns the provider that should serve a range starting at from.
func (p *Pool) Pick(from, head uint64) ChainReader {
	if p.Fallback != nil && head > p.FreshnessBlocks && head-p.FreshnessBlocks > from {
		metrics.ProviderSelections.WithLabelValues("fallback").Inc()
		return p.Fallback
	}
	metrics.ProviderSelections.WithLabelValues("primary").Inc()
	return p.Primary
}

// CurrentBlock reads the head from the primary provider, falling back on error.
func (p *Pool) CurrentBlock(ctx context.Context) (uint64, error) {
	head, err := p.Primary.BlockNumber(ctx)
	if err == nil {
		return head, nil
	}
	if p.Fallback == nil {
		return 0, fmt.Errorf("failed to get current block: %w", err)
	}

	p.logger.Warn("Primary provider failed to return head, using fallback", zap.Error(err))
	head, ferr := p.Fallback.BlockNumber(ctx)
	if ferr != nil {
		return 0, fmt.Errorf("failed to get current block from both providers: %w", ferr)
	}
	return head, nil
}
