package govctl

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	apperrors "github.com/chainsafe/senate-indexer/pkg/app/errors"
	"github.com/chainsafe/senate-indexer/pkg/app/refresher"
	"github.com/chainsafe/senate-indexer/pkg/seed"
)

func newSeedCmd(g *globals) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert organizations, governance sources and tracked voters from a YAML file",
		Long: `Seed reads a YAML document listing organizations with their governance sources
and tracked voters, validates it and upserts it in one transaction.
Existing sources keep their cursors and refresh state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(args[0])
			if err != nil {
				return apperrors.BadRequestError(err, err.Error())
			}
			if dryRun {
				printSeedPlan(cmd.OutOrStdout(), f)
				return nil
			}

			if err := g.load(); err != nil {
				return err
			}
			defer func() { _ = g.logger.Sync() }()

			db, st, err := refresher.OpenStore(g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			res, err := seed.NewSeeder(st, g.logger).Apply(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d entities, %d voters\n",
				color.New(color.FgGreen).Sprint("Seeded"), res.Entities, res.Voters)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file and print what would be written")
	return cmd
}

func printSeedPlan(w io.Writer, f *seed.File) {
	for _, org := range f.Organizations {
		fmt.Fprintf(w, "%s (%s)\n", color.New(color.Bold).Sprint(org.Name), seed.OrgID(org.Name))
		for _, e := range org.Entities {
			state := "active"
			if e.Active != nil && !*e.Active {
				state = "inactive"
			}
			fmt.Fprintf(w, "  %-16s %s\n", e.Type, state)
		}
		if len(org.Voters) > 0 {
			fmt.Fprintf(w, "  %d tracked voters\n", len(org.Voters))
		}
	}
}
