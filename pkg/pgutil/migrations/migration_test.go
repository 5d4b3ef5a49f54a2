package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/senate-indexer/pkg/pgutil"
)

type cursorDao struct {
	bun.BaseModel `bun:"table:cursor_fixture"`
	ID            int64  `bun:",pk,autoincrement"`
	EntityID      string `bun:",notnull,type:varchar(64)"`
	Voter         string `bun:",notnull,type:varchar(42)"`
	Position      int64  `bun:",notnull,default:0"`
}

func TestCreateSchemaAndDropTables(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, CreateSchema(ctx, db, &cursorDao{}))
	pgutil.AssertTableExists(t, db, "cursor_fixture")
	require.NoError(t, CreateSchema(ctx, db, &cursorDao{}), "create is idempotent")

	require.NoError(t, DropTables(ctx, db, &cursorDao{}))
	pgutil.AssertTableNotExists(t, db, "cursor_fixture")
	require.NoError(t, DropTables(ctx, db, &cursorDao{}), "drop is idempotent")
}

func TestCreateModelIndexes(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, CreateSchema(ctx, db, &cursorDao{}))
	require.NoError(t, CreateModelIndexes(ctx, db, &cursorDao{}, "entity_id", "position"))
	require.NoError(t, CreateModelIndexes(ctx, db, &cursorDao{}, "entity_id"))

	pgutil.AssertIndexExists(t, db, "idx_cursor_fixture_entity_id")
	pgutil.AssertIndexExists(t, db, "idx_cursor_fixture_position")
}

func TestCreateModelCompositeUniqueIndex(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, CreateSchema(ctx, db, &cursorDao{}))
	require.NoError(t, CreateModelCompositeUniqueIndex(ctx, db, &cursorDao{}, "entity_id", "voter"))
	pgutil.AssertIndexExists(t, db, "idx_cursor_fixture_entity_id_voter")

	_, err := db.NewInsert().Model(&cursorDao{EntityID: "e1", Voter: "0xabc"}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&cursorDao{EntityID: "e2", Voter: "0xabc"}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&cursorDao{EntityID: "e1", Voter: "0xabc", Position: 9}).Exec(ctx)
	assert.Error(t, err, "duplicate (entity_id, voter) must be rejected")
}

func TestCreateModelCompositeUniqueIndex_NoColumns(t *testing.T) {
	err := CreateModelCompositeUniqueIndex(context.Background(), nil, &cursorDao{})
	assert.ErrorContains(t, err, "no columns")
}

func TestRunMigrations(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()

	migrations := migrate.NewMigrations()
	migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return CreateSchema(ctx, db, &cursorDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		return DropTables(ctx, db, &cursorDao{})
	})
	migrator := migrate.NewMigrator(db, migrations)

	require.NoError(t, RunMigrations(migrator, "init"))
	require.NoError(t, RunMigrations(migrator, "up"))
	pgutil.AssertTableExists(t, db, "cursor_fixture")
	require.NoError(t, RunMigrations(migrator, "status"))

	require.NoError(t, RunMigrations(migrator, "down"))
	pgutil.AssertTableNotExists(t, db, "cursor_fixture")

	assert.ErrorContains(t, RunMigrations(migrator, "sideways"), "unknown command")
}
