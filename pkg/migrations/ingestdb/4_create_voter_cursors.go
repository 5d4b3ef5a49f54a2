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
		log.Println("creating tracked_voters and voter_cursors tables...")
		if err := mghelper.CreateSchema(ctx, db, &store.TrackedVoterDao{}, &store.VoterCursorDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &store.TrackedVoterDao{}, "org_id"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.VoterCursorDao{}, "entity_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping tracked_voters and voter_cursors tables...")
		return mghelper.DropTables(ctx, db, &store.VoterCursorDao{}, &store.TrackedVoterDao{})
	})
}
