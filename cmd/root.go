// Package cmd defines the resolver CLI.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/records-resolver/internal/config"
	"github.com/JakeFAU/records-resolver/internal/server"
)

// skipApp marks commands that run without building the application, e.g.
// schema migrations that must work against an empty database.
const skipApp = "skip-app"

// cli holds state shared by the subcommands of one invocation.
type cli struct {
	cfgFile string
	cfg     config.Config
	app     *server.App
}

func (c *cli) close(ctx context.Context) {
	if c.app != nil {
		c.app.Close(ctx)
		c.app = nil
	}
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolver",
		Short: "Public-records acquisition, entity resolution and signal scoring.",
		Long: `resolver scrapes county and registry sources into normalized records,
resolves the people named in them into canonical entities, and scores those
entities on life-event signals such as a paid-off mortgage or a probate filing.`,
		SilenceUsage: true,

		// Config is loaded for every command; the app is built only for those
		// that need it.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			if cmd.Annotations[skipApp] != "" {
				return nil
			}
			app, err := server.Build(cmd.Context(), cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			c.app = app
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML); RESOLVER_* env vars override it")

	cmd.AddCommand(
		newServeCmd(c),
		newScrapeCmd(c),
		newFleetCmd(c),
		newJurisdictionsCmd(c),
		newResolveCmd(c),
		newMergeCmd(c),
		newAssignCmd(c),
		newReviewCmd(c),
		newEntityCmd(c),
		newMigrateCmd(c),
	)
	return cmd
}

// run executes args against a fresh command tree and releases the app.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	c := &cli{}
	defer c.close(context.WithoutCancel(ctx))
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point.
func Execute() {
	// Cobra has already printed the error.
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
