package ingestdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("adding governance_entities.voters_refresh_speed...")
		_, err := db.ExecContext(ctx,
			`ALTER TABLE governance_entities ADD COLUMN IF NOT EXISTS voters_refresh_speed BIGINT NOT NULL DEFAULT 1000000`)
		if err != nil {
			return err
		}
		// snapshot batches are counted in records, not blocks
		_, err = db.ExecContext(ctx,
			`UPDATE governance_entities SET voters_refresh_speed = refresh_speed WHERE type = 'snapshot' AND voters_refresh_speed > refresh_speed`)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping governance_entities.voters_refresh_speed...")
		_, err := db.ExecContext(ctx, `ALTER TABLE governance_entities DROP COLUMN IF EXISTS voters_refresh_speed`)
		return err
	})
}
