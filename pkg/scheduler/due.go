// Package scheduler selects due governance entities and voters, queues refresh work and
// dispatches it to the ingestion facade.
package scheduler

import (
	"time"

	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// Intervals holds the refresh age thresholds per status.
type Intervals struct {
	Normal time.Duration
	Force  time.Duration
	New    time.Duration
}

// IntervalsFromConfig extracts the due policy of the refresher settings.
func IntervalsFromConfig(cfg config.RefresherConfig) Intervals {
	return Intervals{
		Normal: cfg.NormalInterval,
		Force:  cfg.ForceInterval,
		New:    cfg.NewInterval,
	}
}

// Due reports whether an entity or cursor last refreshed at last is eligible at now.
// PENDING work older than the force interval is picked again.
func Due(status governance.RefreshStatus, last, now time.Time, iv Intervals) bool {
	age := now.Sub(last)
	switch status {
	case governance.StatusDone:
		return age > iv.Normal
	case governance.StatusPending:
		return age > iv.Force
	case governance.StatusNew:
		return age > iv.New
	default:
		return false
	}
}
