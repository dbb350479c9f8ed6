package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/records-resolver/internal/config"
	"github.com/JakeFAU/records-resolver/internal/storage/postgres"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "migrate [up|down|version]",
		Short:       "Apply or inspect the Postgres schema",
		Args:        cobra.MaximumNArgs(1),
		ValidArgs:   []string{"up", "down", "version"},
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate needs database.driver %q", config.DriverPostgres)
			}
			dsn := c.cfg.Database.Postgres.DSN
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			switch action {
			case "up", "down":
				if err := postgres.Migrate(cmd.Context(), dsn, action == "down"); err != nil {
					return err
				}
			case "version":
			default:
				return fmt.Errorf("unknown migrate action %q", action)
			}
			version, err := postgres.MigrationVersion(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return err
		},
	}
}
