package adapters

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// logAdapter wraps a SourceAdapter with call logging and duration metrics.
type logAdapter struct {
	adapter SourceAdapter
	name    string
	logger  *zap.Logger
}

// NewLog creates a logging decorator for a SourceAdapter.
func NewLog(adapter SourceAdapter, name string, logger *zap.Logger) SourceAdapter {
	return &logAdapter{
		adapter: adapter,
		name:    name,
		logger:  logger,
	}
}

// Check forwards to the wrapped adapter when it can validate entities.
func (la *logAdapter) Check(entity *governance.Entity) error {
	if checker, ok := la.adapter.(EntityChecker); ok {
		return checker.Check(entity)
	}
	return nil
}

// FetchProposals wraps the adapter method with logging
func (la *logAdapter) FetchProposals(
	ctx context.Context,
	entity *governance.Entity,
	r Range,
) (proposals []governance.Proposal, err error) {
	start := time.Now()

	la.logger.Debug("FetchProposals started",
		zap.String("adapter", la.name),
		zap.String("method", "FetchProposals"),
		zap.String("entity_id", entity.ID.String()),
		zap.Uint64("from_block", r.FromBlock),
		zap.Uint64("to_block", r.ToBlock),
		zap.Time("from", r.From),
	)

	defer func() {
		duration := time.Since(start)
		metrics.AdapterDuration.WithLabelValues(string(entity.Type), "fetch_proposals").Observe(duration.Seconds())

		if err != nil {
			la.logger.Error("FetchProposals failed",
				zap.String("adapter", la.name),
				zap.String("method", "FetchProposals"),
				zap.String("entity_id", entity.ID.String()),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			la.logger.Info("FetchProposals completed",
				zap.String("adapter", la.name),
				zap.String("method", "FetchProposals"),
				zap.String("entity_id", entity.ID.String()),
				zap.Int("proposals", len(proposals)),
				zap.Duration("duration", duration),
			)
		}
	}()

	return la.adapter.FetchProposals(ctx, entity, r)
}

// FetchVotes wraps the adapter method with logging
func (la *logAdapter) FetchVotes(
	ctx context.Context,
	entity *governance.Entity,
	r Range,
	voters []string,
) (result []governance.VoterVotes, err error) {
	start := time.Now()

	la.logger.Debug("FetchVotes started",
		zap.String("adapter", la.name),
		zap.String("method", "FetchVotes"),
		zap.String("entity_id", entity.ID.String()),
		zap.Int("voters", len(voters)),
		zap.Uint64("from_block", r.FromBlock),
		zap.Uint64("to_block", r.ToBlock),
	)

	defer func() {
		duration := time.Since(start)
		metrics.AdapterDuration.WithLabelValues(string(entity.Type), "fetch_votes").Observe(duration.Seconds())

		if err != nil {
			la.logger.Error("FetchVotes failed",
				zap.String("adapter", la.name),
				zap.String("method", "FetchVotes"),
				zap.String("entity_id", entity.ID.String()),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
			return
		}

		votes, failed := 0, 0
		for _, v := range result {
			votes += len(v.Votes)
			if v.Err != nil {
				failed++
			}
		}
		la.logger.Info("FetchVotes completed",
			zap.String("adapter", la.name),
			zap.String("method", "FetchVotes"),
			zap.String("entity_id", entity.ID.String()),
			zap.Int("votes", votes),
			zap.Int("failed_voters", failed),
			zap.Duration("duration", duration),
		)
	}()

	return la.adapter.FetchVotes(ctx, entity, r, voters)
}
