package govctl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainsafe/senate-indexer/pkg/app/refresher"
	"github.com/chainsafe/senate-indexer/pkg/sanity"
)

func newSanityCmd(g *globals) *cobra.Command {
	var lookBack time.Duration

	cmd := &cobra.Command{
		Use:   "sanity",
		Short: "Run one Maker poll sanity pass",
		Long: `Sanity compares the polls stored for every active Maker poll source with the
polling emitter logs of the look-back window. Missing polls are reported; withdrawn
polls are deleted together with their votes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load(); err != nil {
				return err
			}
			defer func() { _ = g.logger.Sync() }()
			if lookBack > 0 {
				g.cfg.Sanity.LookBack = lookBack
			}

			ctx, cancel := withOptionalTimeout(cmd.Context(), g.cfg.Sanity.Timeout)
			defer cancel()

			components, err := refresher.Build(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer components.Close()

			report, err := components.Sanity.Run(ctx)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().DurationVar(&lookBack, "look-back", 0, "Override the configured look-back window")
	return cmd
}

func printReport(w io.Writer, r *sanity.Report) {
	fmt.Fprintf(w, "missing: %d", len(r.Missing))
	if len(r.Missing) > 0 {
		fmt.Fprintf(w, " (%s)", pendingStyle.Sprint(strings.Join(r.Missing, ", ")))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "deleted: %d", len(r.Deleted))
	if len(r.Deleted) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(r.Deleted, ", "))
	}
	fmt.Fprintln(w)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
