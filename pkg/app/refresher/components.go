package refresher

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/adapters"
	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/ethereum"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/ingest"
	"github.com/chainsafe/senate-indexer/pkg/pgutil"
	"github.com/chainsafe/senate-indexer/pkg/retry"
	"github.com/chainsafe/senate-indexer/pkg/sanity"
	"github.com/chainsafe/senate-indexer/pkg/snapshot"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

// governorSources share the Bravo, Alpha and OpenZeppelin governor adapter.
var governorSources = []governance.SourceType{
	governance.SourceCompound,
	governance.SourceUniswap,
	governance.SourceENS,
	governance.SourceGitcoin,
	governance.SourceHop,
}

// aaveSources emit the Aave v2 governance events; dYdX governance is an Aave fork.
var aaveSources = []governance.SourceType{
	governance.SourceAave,
	governance.SourceDydx,
}

// Components are the long-lived dependencies of the refresher and the operator CLI.
type Components struct {
	DB       *bun.DB
	Store    store.Store
	Pool     *ethereum.Pool
	Registry *adapters.Registry
	Facade   *ingest.Facade
	Sanity   *sanity.MakerPolls

	closers []func()
}

// Close releases providers and the database in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build connects to the database and the upstream providers and assembles the ingestion stack.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}

	db, st, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() { _ = db.Close() })
	c.DB = db
	c.Store = st

	pool, err := c.dialPool(ctx, &cfg.Ethereum, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Pool = pool

	makerAPI := adapters.NewMakerAPI(
		cfg.Maker.ExecutiveAPIURL,
		cfg.Maker.BlockAPIURL,
		retry.New("maker_api", cfg.Maker.MaxAttempts, cfg.Maker.BaseDelay, logger),
		cfg.Maker.RequestTimeout,
		logger.Named("maker_api"),
	)
	titles := adapters.NewIPFSResolver(
		cfg.IPFS.Gateways,
		retry.New("ipfs", cfg.IPFS.MaxAttempts, cfg.IPFS.BaseDelay, logger),
		cfg.IPFS.RequestTimeout,
		logger.Named("ipfs"),
	)
	blacklist := adapters.NewBlacklist(cfg.Ingest.Blacklist, logger)
	concurrency := cfg.Ethereum.MaxConcurrency

	polls := adapters.NewMakerPollAdapter(pool, c.Store, makerAPI, blacklist, concurrency, logger)
	c.Registry = newRegistry(sourceAdapters{
		governor:  adapters.NewGovernorAdapter(pool, c.Store, concurrency, logger),
		aave:      adapters.NewAaveAdapter(pool, c.Store, titles, concurrency, logger),
		executive: adapters.NewMakerExecutiveAdapter(pool, c.Store, makerAPI, concurrency, logger),
		polls:     polls,
		snapshot:  adapters.NewSnapshotAdapter(snapshot.NewClient(&cfg.Snapshot, logger), c.Store, logger),
	}, logger)

	c.Facade = ingest.NewFacade(c.Store, c.Registry, pool, ingest.Config{
		SafetyBlocks:    cfg.Ethereum.SafetyBlocks,
		StartBlock:      cfg.Ingest.StartBlock,
		MaxRescanBlocks: cfg.Ingest.MaxRescanBlocks,
	}, logger.Named("ingest"), ingest.WithBlacklist(blacklist))

	c.Sanity = sanity.NewMakerPolls(c.Store, polls, makerAPI, pool, cfg.Sanity, logger.Named("sanity"))
	return c, nil
}

// OpenStore connects to the database and returns the transactional store over it.
func OpenStore(cfg *config.Config, logger *zap.Logger) (*bun.DB, store.Store, error) {
	db, err := pgutil.ConnectDB(&cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return db, store.NewStore(db, store.NewTxRunner(db, cfg.Tx, logger.Named("tx"))), nil
}

func (c *Components) dialPool(ctx context.Context, cfg *config.EthereumConfig, logger *zap.Logger) (*ethereum.Pool, error) {
	exec := retry.New("ethereum", cfg.MaxAttempts, cfg.BaseDelay, logger)

	primary, err := ethereum.Dial(ctx, "primary", cfg.PrimaryRPCURL, cfg.PrimaryRPS, cfg.PrimaryBurst, exec, logger)
	if err != nil {
		return nil, err
	}
	primary.WithRequestTimeout(cfg.RequestTimeout)
	c.closers = append(c.closers, primary.Close)

	// the archive fallback is not rate limited
	var fallback ethereum.ChainReader
	if cfg.FallbackRPCURL != "" {
		client, err := ethereum.Dial(ctx, "fallback", cfg.FallbackRPCURL, 0, 0, exec, logger)
		if err != nil {
			return nil, err
		}
		client.WithRequestTimeout(cfg.RequestTimeout)
		c.closers = append(c.closers, client.Close)
		fallback = client
	}

	return ethereum.NewPool(primary, fallback, uint64(cfg.FreshnessBlocks), logger.Named("pool")), nil
}

// sourceAdapters holds one adapter per protocol family.
type sourceAdapters struct {
	governor  adapters.SourceAdapter
	aave      adapters.SourceAdapter
	executive adapters.SourceAdapter
	polls     adapters.SourceAdapter
	snapshot  adapters.SourceAdapter
}

// newRegistry binds every source type to its family adapter behind the logging decorator.
func newRegistry(a sourceAdapters, logger *zap.Logger) *adapters.Registry {
	bindings := map[governance.SourceType]adapters.SourceAdapter{
		governance.SourceMakerExecutive: a.executive,
		governance.SourceMakerPoll:      a.polls,
		governance.SourceSnapshot:       a.snapshot,
	}
	for _, t := range governorSources {
		bindings[t] = a.governor
	}
	for _, t := range aaveSources {
		bindings[t] = a.aave
	}

	registry := adapters.NewRegistry()
	for t, adapter := range bindings {
		registry.Register(t, adapters.NewLog(adapter, string(t), logger))
	}
	return registry
}
