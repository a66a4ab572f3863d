package commands

import (
	"github.com/spf13/cobra"
)

// NewSummaryCommand creates the summary command.
func NewSummaryCommand() *cobra.Command {
	var sql, column string

	cmd := &cobra.Command{
		Use:   "summary [SQL]",
		Short: "Show the summary tree of a column",
		Long: `Show the aggregate of a column for every group of the remembered
grouping, as a tree. Columns without an aggregation are counted.`,
		Example: `  gridsource query --group region --agg revenue:sum
  gridsource summary --column revenue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			q, err := resolveQuery(cfg, sql, args)
			if err != nil {
				return err
			}

			cc, cleanup, err := NewCommandContext(cmd, q)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if err := cc.DataSource.Init(ctx); err != nil {
				return err
			}
			root, fn, err := cc.DataSource.GetGroupSummary(ctx, column)
			if err != nil {
				return err
			}
			return renderSummary(cmd.OutOrStdout(), root, fn, cfg.OutputFormat)
		},
	}

	cmd.Flags().StringVar(&sql, "sql", "", "Query to summarize (default: argument or config query)")
	cmd.Flags().StringVarP(&column, "column", "c", "", "Column to summarize (required)")
	_ = cmd.MarkFlagRequired("column")

	return cmd
}
