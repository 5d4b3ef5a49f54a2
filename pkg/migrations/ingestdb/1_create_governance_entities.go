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
		log.Println("creating governance_entities table...")
		if err := mghelper.CreateSchema(ctx, db, &store.EntityDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelCompositeUniqueIndex(ctx, db, &store.EntityDao{}, "org_id", "type"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.EntityDao{}, "active")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping governance_entities table...")
		return mghelper.DropTables(ctx, db, &store.EntityDao{})
	})
}
