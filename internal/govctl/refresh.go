package govctl

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	apperrors "github.com/chainsafe/senate-indexer/pkg/app/errors"
	"github.com/chainsafe/senate-indexer/pkg/app/refresher"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/ingest"
)

func newRefreshCmd(g *globals) *cobra.Command {
	var votes bool

	cmd := &cobra.Command{
		Use:   "refresh <entity-id>",
		Short: "Run one proposal refresh of a governance source, optionally followed by its voters",
		Long: `Refresh runs a single proposal batch for the entity outside the scheduler and moves
its cursor exactly as the refresher would. With --votes every tracked voter of the
entity is refreshed in one batch afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := uuid.Parse(args[0])
			if err != nil {
				return apperrors.BadRequestError(err, "entity id must be a uuid")
			}

			if err := g.load(); err != nil {
				return err
			}
			defer func() { _ = g.logger.Sync() }()

			ctx, cancel := withOptionalTimeout(cmd.Context(), g.cfg.Refresher.ItemTimeout)
			defer cancel()

			components, err := refresher.Build(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer components.Close()

			out := cmd.OutOrStdout()
			outcome, err := components.Facade.RefreshProposals(ctx, entityID)
			if err != nil {
				return err
			}
			printOutcome(out, "proposals", outcome)
			if outcome.Result != ingest.ResultOK {
				return outcomeError(outcome)
			}
			if !votes {
				return nil
			}

			entity, err := components.Store.GetEntity(ctx, entityID)
			if err != nil {
				return err
			}
			if err := components.Store.EnsureVoterCursors(ctx, entity); err != nil {
				return err
			}
			cursors, err := components.Store.ListVoterCursors(ctx, entityID)
			if err != nil {
				return err
			}
			voters := lo.Map(cursors, func(c governance.VoterCursor, _ int) string { return c.Voter })
			outcomes, err := components.Facade.RefreshVotes(ctx, entityID, voters)
			if err != nil {
				return err
			}
			for _, o := range outcomes {
				printOutcome(out, "votes", o)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&votes, "votes", false, "Also refresh the votes of every tracked voter")
	return cmd
}

func outcomeError(o ingest.Outcome) error {
	if o.Err != nil {
		return fmt.Errorf("refresh of %s failed: %w", o.Target, o.Err)
	}
	return fmt.Errorf("refresh of %s failed", o.Target)
}

func printOutcome(w io.Writer, kind string, o ingest.Outcome) {
	if o.Result == ingest.ResultOK {
		fmt.Fprintf(w, "%-9s %-42s %s\n", kind, o.Target, doneStyle.Sprint("ok"))
		return
	}
	fmt.Fprintf(w, "%-9s %-42s %s %v\n", kind, o.Target, pendingStyle.Sprint("nok"), o.Err)
}
