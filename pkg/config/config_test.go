package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
  user: senate
ethereum:
  primary_rpc_url: https://mainnet.infura.io/v3/key
  fallback_rpc_url: https://node.senate.local
refresher:
  domain_limits:
    maker_poll: 100000000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, time.Second, cfg.Refresher.PopulateInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Refresher.DispatchInterval)
	assert.Equal(t, 10, cfg.Refresher.BucketCount)
	assert.Equal(t, 100, cfg.Refresher.BucketSize)
	assert.Equal(t, int64(17000000), cfg.Refresher.DomainLimitFor("aave_chain"))
	assert.Equal(t, int64(100000000), cfg.Refresher.DomainLimitFor("maker_poll"))
	assert.Equal(t, 1000, cfg.Snapshot.PageSize)
	assert.Equal(t, 10*time.Second, cfg.Snapshot.ResponseTimeout)
	assert.Equal(t, 30*time.Second, cfg.Snapshot.Deadline)
	assert.Equal(t, DefaultIPFSGateways(), cfg.IPFS.Gateways)
	assert.Equal(t, 3, cfg.Tx.MaxAttempts)
	assert.Equal(t, int64(50), cfg.Ethereum.FreshnessBlocks)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_RequiresPrimaryRPC(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PrimaryRPCURL")
}

func TestLoad_RejectsForceIntervalBelowNormal(t *testing.T) {
	path := writeConfig(t, `
ethereum:
  primary_rpc_url: https://mainnet.infura.io/v3/key
refresher:
  normal_interval: 10m
  force_interval: 1m
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ForceInterval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
