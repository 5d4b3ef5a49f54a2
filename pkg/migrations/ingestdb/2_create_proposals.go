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
		log.Println("creating proposals table...")
		if err := mghelper.CreateSchema(ctx, db, &store.ProposalDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelCompositeUniqueIndex(ctx, db, &store.ProposalDao{}, "external_id", "org_id"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.ProposalDao{}, "entity_id", "time_created", "time_end")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping proposals table...")
		return mghelper.DropTables(ctx, db, &store.ProposalDao{})
	})
}
