package refresher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/adapters"
	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/retry"
	"github.com/chainsafe/senate-indexer/pkg/snapshot"
	"github.com/chainsafe/senate-indexer/pkg/store/storetest"
)

func entityOf(t governance.SourceType) *governance.Entity {
	var dec governance.Decoder
	switch t {
	case governance.SourceMakerExecutive:
		dec = governance.MakerExecutiveDecoder{}
	case governance.SourceMakerPoll:
		dec = governance.MakerPollDecoder{}
	case governance.SourceSnapshot:
		dec = governance.SnapshotDecoder{Space: "example.eth"}
	default:
		dec = governance.GovernorDecoder{Source: t}
	}
	return governance.NewEntity(uuid.New(), "Org", dec, 1000)
}

func testRegistry(t *testing.T) *adapters.Registry {
	t.Helper()
	logger := zap.NewNop()
	st := storetest.NewMemory()
	exec := retry.New("test", 1, time.Millisecond, logger)
	makerAPI := adapters.NewMakerAPI("http://maker.invalid/", "http://blocks.invalid/", exec, time.Second, logger)
	titles := adapters.NewIPFSResolver([]string{"http://ipfs.invalid/"}, exec, time.Second, logger)

	return newRegistry(sourceAdapters{
		governor:  adapters.NewGovernorAdapter(nil, st, 1, logger),
		aave:      adapters.NewAaveAdapter(nil, st, titles, 1, logger),
		executive: adapters.NewMakerExecutiveAdapter(nil, st, makerAPI, 1, logger),
		polls:     adapters.NewMakerPollAdapter(nil, st, makerAPI, adapters.NewBlacklist(nil, logger), 1, logger),
		snapshot:  adapters.NewSnapshotAdapter(snapshot.NewClient(&config.SnapshotConfig{}, logger), st, logger),
	}, logger)
}

func TestNewRegistry_RoutesEverySourceType(t *testing.T) {
	registry := testRegistry(t)

	assert.ElementsMatch(t, governance.SourceTypes(), registry.Types())
	for _, source := range governance.SourceTypes() {
		t.Run(string(source), func(t *testing.T) {
			adapter, err := registry.For(entityOf(source))
			require.NoError(t, err)
			assert.NotNil(t, adapter)
		})
	}
}
