package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/ingest"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

// Refresher runs one unit of refresh work.
type Refresher interface {
	RefreshChainProposals(ctx context.Context, entityID uuid.UUID) (ingest.Outcome, error)
	RefreshSnapshotProposals(ctx context.Context, entityID uuid.UUID) (ingest.Outcome, error)
	RefreshVotes(ctx context.Context, entityID uuid.UUID, voters []string) ([]ingest.Outcome, error)
}

// Engine drives the populate and dispatch loops around a shared queue.
type Engine struct {
	cfg       config.RefresherConfig
	intervals Intervals
	store     store.Store
	refresher Refresher
	queue     *Queue
	workers   *semaphore.Weighted
	logger    *zap.Logger
	now       func() time.Time

	ready  atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a scheduler engine.
func NewEngine(cfg config.RefresherConfig, st store.Store, refresher Refresher, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		intervals: IntervalsFromConfig(cfg),
		store:     st,
		refresher: refresher,
		queue:     NewQueue(cfg.QueueCapacity),
		workers:   semaphore.NewWeighted(int64(max(cfg.Workers, 1))),
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Queue exposes the work queue.
func (e *Engine) Queue() *Queue {
	return e.queue
}

// IsReady reports whether the first populate pass has completed.
func (e *Engine) IsReady() bool {
	return e.ready.Load()
}

// Start launches the populate and dispatch loops.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting refresh scheduler",
		zap.Duration("populate_interval", e.cfg.PopulateInterval),
		zap.Duration("dispatch_interval", e.cfg.DispatchInterval),
		zap.Int("queue_capacity", e.cfg.QueueCapacity),
		zap.Int("workers", e.cfg.Workers))

	e.wg.Add(2)
	go e.populateLoop(ctx)
	go e.dispatchLoop(ctx)
}

// Stop stops both loops and waits for in-flight work.
func (e *Engine) Stop() {
	e.logger.Info("Stopping refresh scheduler")
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("Refresh scheduler stopped")
}

func (e *Engine) populateLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PopulateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.Populate(ctx); err != nil {
				e.logger.Error("Populate failed", zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("scheduler", "populate").Inc()
			}
			e.ready.Store(true)
		}
	}
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.workers.TryAcquire(1) {
				continue
			}
			item, ok := e.queue.Pop()
			if !ok {
				e.workers.Release(1)
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer e.workers.Release(1)
				e.Dispatch(ctx, item)
			}()
		}
	}
}

// Populate selects due entities and voters and queues their refresh work.
func (e *Engine) Populate(ctx context.Context) error {
	entities, err := e.store.ListEntities(ctx, store.WithActive())
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}

	now := e.now()
	priority := e.queue.MaxPriority() + 1
	for _, entity := range entities {
		if err := e.populateProposals(ctx, entity, priority, now); err != nil {
			e.logger.Error("Failed to queue proposal refresh",
				zap.String("entity", entity.ID.String()), zap.Error(err))
		}
		if err := e.populateVotes(ctx, entity, priority, now); err != nil {
			e.logger.Error("Failed to queue vote refresh",
				zap.String("entity", entity.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) populateProposals(ctx context.Context, entity *governance.Entity, priority int64, now time.Time) error {
	if !Due(entity.RefreshStatus, entity.LastRefresh, now, e.intervals) {
		return nil
	}
	item := governance.WorkItem{
		Kind:     governance.ProposalWork(entity.Type),
		EntityID: entity.ID,
		Priority: priority,
	}
	return e.enqueue(ctx, item, func(ctx context.Context, tx store.Store) error {
		return tx.SetEntityStatus(ctx, entity.ID, governance.StatusPending, now)
	})
}

func (e *Engine) populateVotes(ctx context.Context, entity *governance.Entity, priority int64, now time.Time) error {
	has, err := e.store.HasProposals(ctx, entity.ID)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	if err := e.store.EnsureVoterCursors(ctx, entity); err != nil {
		return err
	}
	cursors, err := e.store.ListVoterCursors(ctx, entity.ID)
	if err != nil {
		return err
	}
	due := lo.Filter(cursors, func(c governance.VoterCursor, _ int) bool {
		return Due(c.RefreshStatus, c.LastRefresh, now, e.intervals)
	})
	if len(due) == 0 {
		return nil
	}

	var groups [][]string
	if entity.Type.IsChain() {
		groups = BucketVoters(due, ChainPosition, e.cfg.DomainLimitFor(string(entity.Type)), e.cfg.BucketCount, e.cfg.BucketSize)
	} else {
		groups = BucketVoters(due, SnapshotPosition, now.UnixMilli(), e.cfg.BucketCount, e.cfg.BucketSize)
	}

	for _, voters := range groups {
		item := governance.WorkItem{
			Kind:     governance.VoteWork(entity.Type),
			EntityID: entity.ID,
			Voters:   voters,
			Priority: priority,
		}
		err := e.enqueue(ctx, item, func(ctx context.Context, tx store.Store) error {
			return tx.MarkVotersPending(ctx, entity.ID, voters, now)
		})
		if err != nil {
			return err
		}
	}
	e.logger.Debug("Queued vote refresh",
		zap.String("entity", entity.ID.String()),
		zap.Int("voters", len(due)),
		zap.Int("buckets", len(groups)))
	return nil
}

// enqueue marks the work as pending and pushes it in one transaction. A full queue rolls the
// transaction back and is not an error.
func (e *Engine) enqueue(ctx context.Context, item governance.WorkItem, mark func(ctx context.Context, tx store.Store) error) error {
	var pushed uint64
	undo := func() {
		if pushed != 0 {
			e.queue.Remove(pushed)
			pushed = 0
		}
	}

	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		undo()
		if err := mark(ctx, tx); err != nil {
			return err
		}
		seq, err := e.queue.Push(item)
		if err != nil {
			return err
		}
		pushed = seq
		return nil
	})
	if err == nil {
		return nil
	}
	undo()
	if errors.Is(err, ErrQueueFull) {
		e.logger.Warn("Refresh queue full, work deferred",
			zap.String("kind", string(item.Kind)),
			zap.String("entity", item.EntityID.String()),
			zap.Int("capacity", e.cfg.QueueCapacity))
		return nil
	}
	return err
}

// Dispatch runs one work item. Failures and panics are logged and never propagate.
func (e *Engine) Dispatch(ctx context.Context, item governance.WorkItem) {
	kind := string(item.Kind)
	logger := e.logger.With(
		zap.String("kind", kind),
		zap.String("entity", item.EntityID.String()),
		zap.Int64("priority", item.Priority))

	start := time.Now()
	defer func() {
		metrics.RefreshDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			logger.Error("Refresh panicked", zap.Any("panic", r), zap.Stack("stack"))
			metrics.RefreshOutcomes.WithLabelValues(kind, "error").Inc()
			metrics.ErrorsTotal.WithLabelValues("scheduler", "panic").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
	defer cancel()

	var (
		outcomes []ingest.Outcome
		err      error
	)
	switch item.Kind {
	case governance.WorkChainProposals:
		var out ingest.Outcome
		out, err = e.refresher.RefreshChainProposals(ctx, item.EntityID)
		outcomes = []ingest.Outcome{out}
	case governance.WorkSnapshotProposals:
		var out ingest.Outcome
		out, err = e.refresher.RefreshSnapshotProposals(ctx, item.EntityID)
		outcomes = []ingest.Outcome{out}
	case governance.WorkChainVotes, governance.WorkSnapshotVotes:
		outcomes, err = e.refresher.RefreshVotes(ctx, item.EntityID, item.Voters)
	default:
		err = fmt.Errorf("unknown work kind %q", item.Kind)
	}

	if err != nil {
		logger.Error("Refresh failed", zap.Error(err))
		metrics.RefreshOutcomes.WithLabelValues(kind, "error").Inc()
		metrics.ErrorsTotal.WithLabelValues("scheduler", "dispatch").Inc()
		return
	}

	failed := 0
	for _, out := range outcomes {
		metrics.RefreshOutcomes.WithLabelValues(kind, string(out.Result)).Inc()
		if out.Result == ingest.ResultNOK {
			failed++
		}
	}
	logger.Debug("Refresh dispatched",
		zap.Int("targets", len(outcomes)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
}
