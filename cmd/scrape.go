package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/records-resolver/internal/records"
)

// optionFlags binds the job option flags shared by scrape and fleet.
type optionFlags struct {
	phases     []string
	from, to   string
	maxRecords int
}

func (f *optionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.phases, "phases", nil, "phases to run: properties,documents,court_cases,professionals (default all)")
	cmd.Flags().StringVar(&f.from, "from", "", "only records dated on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "only records dated on or before this day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.maxRecords, "max-records", 0, "cap on records fetched per phase (0 = no cap)")
}

func (f *optionFlags) options() (records.Options, error) {
	opts := records.AllPhases()
	if len(f.phases) > 0 {
		opts = records.Options{}
		for _, p := range f.phases {
			switch p {
			case "properties":
				opts.Properties = true
			case "documents":
				opts.Documents = true
			case "court_cases":
				opts.CourtCases = true
			case "professionals":
				opts.Professionals = true
			default:
				return records.Options{}, fmt.Errorf("unknown phase %q", p)
			}
		}
	}
	var err error
	if opts.From, err = parseDay(f.from); err != nil {
		return records.Options{}, fmt.Errorf("--from: %w", err)
	}
	if opts.To, err = parseDay(f.to); err != nil {
		return records.Options{}, fmt.Errorf("--to: %w", err)
	}
	if opts.From != nil && opts.To != nil && opts.To.Before(*opts.From) {
		return records.Options{}, fmt.Errorf("--to must not be before --from")
	}
	if f.maxRecords < 0 {
		return records.Options{}, fmt.Errorf("--max-records must be >= 0")
	}
	opts.MaxRecords = f.maxRecords
	return opts, nil
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func newScrapeCmd(c *cli) *cobra.Command {
	var flags optionFlags
	cmd := &cobra.Command{
		Use:   "scrape <jurisdiction>",
		Short: "Run one jurisdiction's job and resolve its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			result, err := c.app.Fleet().RunOne(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if result.Status != records.StatusCompleted {
				return fmt.Errorf("job %s finished %s", result.JobID, result.Status)
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newFleetCmd(c *cli) *cobra.Command {
	var flags optionFlags
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Run every configured jurisdiction",
		Long: `Runs each jurisdiction in turn, pausing fleet.pause between them, or
fleet.parallelism at a time. A failed jurisdiction never stops the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			return printJSON(cmd, c.app.Fleet().RunAll(cmd.Context(), opts))
		},
	}
	flags.bind(cmd)
	return cmd
}

func newJurisdictionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "jurisdictions",
		Short: "List configured jurisdictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, c.app.Fleet().Jurisdictions())
		},
	}
}
