// Package govctl implements the operator command line of the governance refresher.
package govctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/senate-indexer/pkg/app/errors"
	"github.com/chainsafe/senate-indexer/pkg/config"
)

type globals struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

// load reads the configuration and builds a logger writing to stderr.
func (g *globals) load() error {
	if g.cfg != nil {
		return nil
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid configuration")
	}
	cfg.Logging.OutputPath = "stderr"
	logger, err := config.NewLogger(cfg.Logging, "govctl")
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.logger = logger
	return nil
}

// NewRootCmd builds the govctl command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "govctl",
		Short: "Operate the governance refresher",
		Long: `govctl seeds organizations and their governance sources, inspects refresh state
and runs one-shot refreshes and sanity passes against the configured database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "Path to configuration file")

	root.AddGroup(
		&cobra.Group{ID: "data", Title: "Data Commands"},
		&cobra.Group{ID: "ops", Title: "Operations Commands"},
	)

	seed := newSeedCmd(g)
	seed.GroupID = "data"
	entities := newEntitiesCmd(g)
	entities.GroupID = "data"
	refresh := newRefreshCmd(g)
	refresh.GroupID = "ops"
	sanity := newSanityCmd(g)
	sanity.GroupID = "ops"

	root.AddCommand(seed, entities, refresh, sanity)
	return root
}

// Execute runs govctl and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	var svcErr *apperrors.ServiceError
	if errors.As(apperrors.FromDomain(err), &svcErr) {
		return svcErr.ExitCode()
	}
	return 1
}

// Main is the entrypoint of cmd/govctl.
func Main() {
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}
