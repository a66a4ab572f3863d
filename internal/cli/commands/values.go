package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/datasource"
)

// ValuesOptions holds options for the values command.
type ValuesOptions struct {
	SQL    string
	Column string
	Path   string
	Colors string
}

// NewValuesCommand creates the values command.
func NewValuesCommand() *cobra.Command {
	opts := &ValuesOptions{}

	cmd := &cobra.Command{
		Use:   "values [SQL]",
		Short: "List the distinct values of a column",
		Long: `List the distinct values a column can be filtered by.

Every remembered filter applies except the column's own, so the list shows
what the column's filter could select. At most sample_limit values are
listed.`,
		Example: `  gridsource values --column region
  gridsource values --column info --path address.city
  gridsource values --column region --colors cellColor`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValues(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SQL, "sql", "", "Query to inspect (default: argument or config query)")
	cmd.Flags().StringVarP(&opts.Column, "column", "c", "", "Column to list (required)")
	cmd.Flags().StringVar(&opts.Path, "path", "", "Field of a nested value, e.g. a.b[0]")
	cmd.Flags().StringVar(&opts.Colors, "colors", "", "List cell colors instead of values (cellColor|textColor)")
	_ = cmd.MarkFlagRequired("column")

	return cmd
}

func runValues(cmd *cobra.Command, args []string, opts *ValuesOptions) error {
	cfg := getConfig()
	sql, err := resolveQuery(cfg, opts.SQL, args)
	if err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd, sql)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := cc.DataSource.Init(ctx); err != nil {
		return err
	}

	var v *datasource.Values
	switch kind := core.ColorKind(opts.Colors); kind {
	case "":
		v, err = cc.DataSource.GetFilterableValuesForColumn(ctx, opts.Column, opts.Path)
	case core.ColorCell, core.ColorText:
		v, err = cc.DataSource.GetFilterableColorsForColumn(ctx, opts.Column, kind)
	default:
		return fmt.Errorf("invalid --colors %q (want cellColor or textColor)", opts.Colors)
	}
	if err != nil {
		return err
	}
	return renderValues(cmd.OutOrStdout(), opts.Column, v, cfg.OutputFormat)
}
