package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/records-resolver/internal/records"
)

func newResolveCmd(c *cli) *cobra.Command {
	var (
		filter  records.Filter
		kind    string
		since   string
		rescore bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve stored records into entities",
		Long: `Runs the matching cascade over stored records. Resolution is idempotent,
so re-running over the same records changes nothing. With --rescore every
entity's signals and score are recomputed afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Kind = records.RecordKind(kind)
			if since != "" {
				t, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				filter.Since = t
			}
			summary, err := c.app.Engine().ResolveRecords(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := map[string]any{"resolution": summary}
			if rescore {
				report, err := c.app.Pipeline().RescoreAll(cmd.Context(), 0)
				if err != nil {
					return err
				}
				out["scoring"] = report
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&filter.Jurisdiction, "jurisdiction", "", "only records from this jurisdiction")
	cmd.Flags().StringVar(&kind, "kind", "", "only records of this kind (property, document, court_case, professional)")
	cmd.Flags().StringVar(&filter.JobID, "job", "", "only records written by this job")
	cmd.Flags().StringVar(&since, "since", "", "only records scraped on or after this day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "max records per kind (0 = all)")
	cmd.Flags().BoolVar(&rescore, "rescore", false, "recompute signals and scores for every entity afterwards")
	return cmd
}

func newMergeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <survivor-id> <loser-id>",
		Short: "Merge two entities by hand",
		Long: `Folds the loser into the survivor. The loser's id keeps resolving to the
survivor afterwards, and the survivor is rescored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := c.app.Engine().Merge(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			scored, err := c.app.Pipeline().Rescore(cmd.Context(), entity.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"entity": entity, "scoring": scored})
		},
	}
}

func newAssignCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "assign <kind> <jurisdiction> <natural-key> <mention> <entity-id>",
		Short:   "Resolve a reviewed mention onto an entity",
		Example: `  resolver assign document sangamon-il 2024-0118870 "grantee:john smith" 0190f3c2-...`,
		Args:    cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := records.RecordRef{
				Kind:         records.RecordKind(args[0]),
				Jurisdiction: args[1],
				NaturalKey:   args[2],
			}
			entity, err := c.app.Engine().Assign(cmd.Context(), ref, args[3], args[4])
			if err != nil {
				return err
			}
			scored, err := c.app.Pipeline().Rescore(cmd.Context(), entity.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"entity": entity, "scoring": scored})
		},
	}
}

func newReviewCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List matches queued for manual review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := c.app.Store().ListReview(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, items)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max items (0 = all)")
	return cmd
}

func newEntityCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "entity <id>",
		Short: "Show an entity with its household and signals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entity, err := c.app.Engine().Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			household, err := c.app.Store().Household(ctx, entity.ID)
			if err != nil {
				return err
			}
			sigs, err := c.app.Store().ListSignals(ctx, entity.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"entity":    entity,
				"household": household,
				"active":    records.ActiveSignals(sigs),
				"signals":   sigs,
			})
		},
	}
}
