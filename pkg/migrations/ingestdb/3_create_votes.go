package ingestdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/chainsafe/senate-indexer/pkg/pgutil/migrations"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating votes and vote_options tables...")
		if err := mghelper.CreateSchema(ctx, db, &store.VoteDao{}, &store.VoteOptionDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelCompositeUniqueIndex(ctx, db, &store.VoteDao{}, "voter_address", "org_id", "proposal_id"); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &store.VoteDao{}, "proposal_id"); err != nil {
			return err
		}
		return mghelper.CreateModelCompositeUniqueIndex(ctx, db, &store.VoteOptionDao{}, "vote_id", "option")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping votes and vote_options tables...")
		return mghelper.DropTables(ctx, db, &store.VoteOptionDao{}, &store.VoteDao{})
	})
}
