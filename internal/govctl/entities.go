package govctl

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	apperrors "github.com/chainsafe/senate-indexer/pkg/app/errors"
	"github.com/chainsafe/senate-indexer/pkg/app/refresher"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/seed"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

var (
	newStyle     = color.New(color.FgCyan)
	pendingStyle = color.New(color.FgYellow)
	doneStyle    = color.New(color.FgGreen)
	faintStyle   = color.New(color.Faint)
)

func newEntitiesCmd(g *globals) *cobra.Command {
	var (
		org        string
		sourceType string
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:     "entities",
		Aliases: []string{"ls"},
		Short:   "List governance sources with their cursors and refresh state",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []store.QueryOption
			if org != "" {
				opts = append(opts, store.WithOrg(seed.OrgID(org)))
			}
			if sourceType != "" {
				t, err := governance.ParseSourceType(sourceType)
				if err != nil {
					return apperrors.BadRequestError(err, err.Error())
				}
				opts = append(opts, store.WithType(t))
			}
			if activeOnly {
				opts = append(opts, store.WithActive())
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

			entities, err := st.ListEntities(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			renderEntities(cmd.OutOrStdout(), entities, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Filter by organization name")
	cmd.Flags().StringVar(&sourceType, "type", "", "Filter by source type")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only list active sources")
	return cmd
}

func renderEntities(w io.Writer, entities []*governance.Entity, now time.Time) {
	if len(entities) == 0 {
		fmt.Fprintln(w, "No governance entities found")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.AppendHeader(table.Row{"ORG", "TYPE", "CURSOR", "STATUS", "LAST REFRESH", "SPEED", "ID"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	for _, e := range entities {
		org := e.OrgName
		if !e.Active {
			org = faintStyle.Sprint(org + " (inactive)")
		}
		t.AppendRow(table.Row{
			org,
			string(e.Type),
			cursorString(e),
			statusString(e.RefreshStatus),
			sinceString(e.LastRefresh, now),
			strconv.FormatInt(e.RefreshSpeed, 10),
			e.ID.String(),
		})
	}
	t.Render()
}

func cursorString(e *governance.Entity) string {
	if e.Type.IsChain() {
		return strconv.FormatInt(e.ChainIndex, 10)
	}
	if e.SnapshotIndex.Equal(governance.Epoch) {
		return "-"
	}
	return e.SnapshotIndex.UTC().Format(time.RFC3339)
}

func statusString(s governance.RefreshStatus) string {
	switch s {
	case governance.StatusDone:
		return doneStyle.Sprint(s)
	case governance.StatusPending:
		return pendingStyle.Sprint(s)
	default:
		return newStyle.Sprint(s)
	}
}

func sinceString(last, now time.Time) string {
	if last.Equal(governance.Epoch) || last.IsZero() {
		return "never"
	}
	return now.Sub(last).Truncate(time.Second).String() + " ago"
}
