package pgutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/config"
)

func TestConnectDB(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	require.NoError(t, db.Ping())
	stats := db.DB.Stats()
	assert.Equal(t, 8, stats.MaxOpenConnections)
}

func TestConnectDB_InvalidHost(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:     "invalid-host-that-does-not-exist",
		Port:     5432,
		User:     "senate",
		Password: "senate",
		Database: "senate",
		SSLMode:  "disable",
	}

	db, err := ConnectDB(cfg, zap.NewNop())
	if err == nil {
		_ = db.Close()
	}
	assert.ErrorContains(t, err, "failed to connect to database senate")
}
