package migrations

import (
	"context"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/senate-indexer/pkg/migrations/ingestdb"
	"github.com/chainsafe/senate-indexer/pkg/pgutil"
)

func migrateUp(t *testing.T, db *bun.DB) *migrate.Migrator {
	t.Helper()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, ingestdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected migrations to run, but none were applied")
	}
	return migrator
}

func TestIngestDBMigrations_Apply(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()

	migrateUp(t, db)

	expectedTables := []string{
		"governance_entities",
		"proposals",
		"votes",
		"vote_options",
		"tracked_voters",
		"voter_cursors",
		"bun_migrations",
	}
	for _, table := range expectedTables {
		pgutil.AssertTableExists(t, db, table)
	}

	pgutil.AssertIndexExists(t, db, "idx_governance_entities_org_id_type")
	pgutil.AssertIndexExists(t, db, "idx_proposals_external_id_org_id")
	pgutil.AssertIndexExists(t, db, "idx_proposals_entity_id")
	pgutil.AssertIndexExists(t, db, "idx_votes_voter_address_org_id_proposal_id")
	pgutil.AssertIndexExists(t, db, "idx_vote_options_vote_id_option")
	pgutil.AssertIndexExists(t, db, "idx_voter_cursors_entity_id")
}

func TestMigrations_Idempotency(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrateUp(t, db)

	// Run migrations second time - should not fail
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Second Migrate() failed: %v", err)
	}
	if !group.IsZero() {
		t.Error("Expected no new migrations on second run")
	}

	pgutil.AssertTableExists(t, db, "proposals")
	pgutil.AssertTableExists(t, db, "voter_cursors")
}

func TestMigrations_Rollback(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrateUp(t, db)

	// all migrations run in one group, so one rollback drops every table
	group, err := migrator.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected rollback to process a migration")
	}

	pgutil.AssertTableNotExists(t, db, "voter_cursors")
	pgutil.AssertTableNotExists(t, db, "tracked_voters")
	pgutil.AssertTableNotExists(t, db, "vote_options")
	pgutil.AssertTableNotExists(t, db, "votes")
	pgutil.AssertTableNotExists(t, db, "proposals")
	pgutil.AssertTableNotExists(t, db, "governance_entities")
}

func TestMigrations_UniqueProposalKey(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrateUp(t, db)

	insert := `INSERT INTO proposals (id, external_id, org_id, entity_id, name, time_start, time_end, time_created, url, choices, scores, scores_total, quorum, state)
		VALUES (gen_random_uuid(), '7', '00000000-0000-0000-0000-000000000001', gen_random_uuid(), 'p', now(), now(), now(), '', '[]', '[]', 0, 0, 'active')`
	if _, err := db.ExecContext(ctx, insert); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert); err == nil {
		t.Fatal("expected duplicate (external_id, org_id) to be rejected")
	}
	pgutil.AssertRowCount(t, db, "proposals", 1)
}

func TestMigrations_VotersRefreshSpeedColumn(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrateUp(t, db)

	var columnDefault string
	err := db.NewRaw(`SELECT column_default FROM information_schema.columns
		WHERE table_name = 'governance_entities' AND column_name = 'voters_refresh_speed'`).Scan(ctx, &columnDefault)
	if err != nil {
		t.Fatalf("voters_refresh_speed column missing: %v", err)
	}
	if columnDefault != "1000000" {
		t.Errorf("voters_refresh_speed default = %q, want 1000000", columnDefault)
	}
}
