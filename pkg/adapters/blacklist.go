package adapters

import (
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// Blacklist excludes known-bad proposal ids per source type.
type Blacklist struct {
	ids    map[governance.SourceType]map[string]struct{}
	logger *zap.Logger
}

// DefaultBlacklist returns the ids that are always excluded.
func DefaultBlacklist() map[string][]string {
	return map[string][]string{
		string(governance.SourceMakerPoll): {"1"},
	}
}

// NewBlacklist merges the defaults with extra ids keyed by source type.
func NewBlacklist(extra map[string][]string, logger *zap.Logger) *Blacklist {
	b := &Blacklist{
		ids:    make(map[governance.SourceType]map[string]struct{}),
		logger: logger,
	}
	for _, src := range []map[string][]string{DefaultBlacklist(), extra} {
		for t, ids := range src {
			set, ok := b.ids[governance.SourceType(t)]
			if !ok {
				set = make(map[string]struct{})
				b.ids[governance.SourceType(t)] = set
			}
			for _, id := range ids {
				set[id] = struct{}{}
			}
		}
	}
	return b
}

// Excluded reports whether externalID of source t must be skipped.
func (b *Blacklist) Excluded(t governance.SourceType, externalID string) bool {
	if b == nil {
		return false
	}
	_, ok := b.ids[t][externalID]
	if ok {
		b.logger.Debug("Skipping blacklisted proposal",
			zap.String("source", string(t)),
			zap.String("external_id", externalID),
		)
	}
	return ok
}

// Filter returns the proposals that are not blacklisted. The input slice is left untouched.
func (b *Blacklist) Filter(t governance.SourceType, proposals []governance.Proposal) []governance.Proposal {
	return lo.Filter(proposals, func(p governance.Proposal, _ int) bool {
		return !b.Excluded(t, p.ExternalID)
	})
}
