// Package sanity reconciles stored Maker polls against the polling emitter logs.
package sanity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/adapters"
	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

// PollSource lists created and withdrawn poll ids of a block range.
type PollSource interface {
	PollIDs(ctx context.Context, entity *governance.Entity, r adapters.Range) (created, withdrawn []string, err error)
}

// BlockResolver maps a timestamp to the first block at or after it.
type BlockResolver interface {
	BlockAt(ctx context.Context, ts time.Time) (uint64, error)
}

// HeadReader returns the current chain head.
type HeadReader interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// Report lists the findings of one pass.
type Report struct {
	Missing []string
	Deleted []string
}

// MakerPolls reports polls the refresher missed and removes withdrawn polls with their votes.
type MakerPolls struct {
	store  store.Store
	polls  PollSource
	blocks BlockResolver
	heads  HeadReader
	cfg    config.SanityConfig
	logger *zap.Logger
	now    func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMakerPolls creates the Maker poll sanity pass.
func NewMakerPolls(
	st store.Store,
	polls PollSource,
	blocks BlockResolver,
	heads HeadReader,
	cfg config.SanityConfig,
	logger *zap.Logger,
) *MakerPolls {
	return &MakerPolls{
		store:  st,
		polls:  polls,
		blocks: blocks,
		heads:  heads,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Run checks every active Maker poll entity over [now - look_back, now - settle_time].
func (m *MakerPolls) Run(ctx context.Context) (*Report, error) {
	now := m.now()
	from := now.Add(-m.cfg.LookBack)
	to := now.Add(-m.cfg.SettleTime)
	m.logger.Info("Starting Maker poll sanity pass", zap.Time("from", from), zap.Time("to", to))
	start := time.Now()

	entities, err := m.store.ListEntities(ctx, store.WithActive(), store.WithType(governance.SourceMakerPoll))
	if err != nil {
		return nil, fmt.Errorf("failed to list maker poll entities: %w", err)
	}
	if len(entities) == 0 {
		return &Report{}, nil
	}

	fromBlock, err := m.blocks.BlockAt(ctx, from)
	if err != nil {
		return nil, err
	}
	toBlock, err := m.blocks.BlockAt(ctx, to)
	if err != nil {
		return nil, err
	}
	head, err := m.heads.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read head: %w", err)
	}
	r := adapters.Range{FromBlock: fromBlock, ToBlock: min(toBlock, head), Head: head}

	report := &Report{}
	for _, entity := range entities {
		missing, deleted, err := m.check(ctx, entity, r, from, to)
		if err != nil {
			return report, fmt.Errorf("sanity pass failed for entity %s: %w", entity.ID, err)
		}
		report.Missing = append(report.Missing, missing...)
		report.Deleted = append(report.Deleted, deleted...)
	}

	m.logger.Info("Maker poll sanity pass completed",
		zap.Int("missing", len(report.Missing)),
		zap.Int("deleted", len(report.Deleted)),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

func (m *MakerPolls) check(
	ctx context.Context,
	entity *governance.Entity,
	r adapters.Range,
	from, to time.Time,
) (missing, deleted []string, err error) {
	created, withdrawn, err := m.polls.PollIDs(ctx, entity, r)
	if err != nil {
		return nil, nil, err
	}
	stored, err := m.store.ProposalExternalIDs(ctx, entity.ID, from, to)
	if err != nil {
		return nil, nil, err
	}

	valid := lo.Without(created, withdrawn...)
	missing = lo.Without(valid, stored...)
	if len(missing) > 0 {
		m.logger.Warn("Missing maker polls",
			zap.String("entity", entity.ID.String()),
			zap.Strings("polls", missing))
		metrics.SanityFindings.WithLabelValues("missing").Add(float64(len(missing)))
	}

	if len(withdrawn) == 0 {
		return missing, nil, nil
	}
	err = m.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		deleted, err = tx.DeleteProposals(ctx, entity.ID, withdrawn)
		return err
	})
	if err != nil {
		return missing, nil, fmt.Errorf("failed to delete withdrawn polls: %w", err)
	}
	if len(deleted) > 0 {
		m.logger.Warn("Deleted withdrawn maker polls",
			zap.String("entity", entity.ID.String()),
			zap.Strings("polls", deleted))
		metrics.SanityFindings.WithLabelValues("deleted").Add(float64(len(deleted)))
	}
	return missing, deleted, nil
}

// StartPeriodic runs the pass every interval until Stop is called.
func (m *MakerPolls) StartPeriodic(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.logger.Info("Started periodic maker poll sanity pass", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
				if _, err := m.Run(ctx); err != nil {
					m.logger.Error("Periodic sanity pass failed", zap.Error(err))
					metrics.ErrorsTotal.WithLabelValues("sanity", "run").Inc()
				}
				cancel()
			case <-m.stopCh:
				m.logger.Info("Stopping periodic maker poll sanity pass")
				return
			}
		}
	}()
}

// Stop stops the periodic pass.
func (m *MakerPolls) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}
