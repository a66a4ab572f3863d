package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/gridsource/pkg/core"
	"github.com/leapstack-labs/gridsource/pkg/datasource"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	SQL        string
	Sorts      []string
	Groups     []string
	Aggs       []string
	Wheres     []string
	Virtual    []string
	FilterFile string
	Subtotals  bool
	Rows       string
	Columns    string
	Explain    bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Show a window of a query as a grid",
		Long: `Run a query as a grid data source and print a window of its rows.

Sorts, groups, aggregations, filters and virtual columns given as flags are
applied in that order of dependency and remembered for the query, so the
next run of the same query shows the same view. Use 'gridsource reset' to
forget them.`,
		Example: `  # First page of a query
  gridsource query "SELECT * FROM 'sales.parquet'"

  # Sort descending and group
  gridsource query --sort revenue:desc --group region --agg revenue:sum --subtotals

  # Filter and show rows 100 to 149
  gridsource query --where region:in:north,south --where revenue:gt:100 --rows 100:149

  # Computed column
  gridsource query --virtual "margin=revenue - cost"

  # Print the effective SQL
  gridsource query --explain`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SQL, "sql", "", "Query to show (default: argument or config query)")
	cmd.Flags().StringArrayVar(&opts.Sorts, "sort", nil, "Sort by column, as col[:asc|desc] or col:cellColor|textColor:color (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Groups, "group", nil, "Group by column, as col[:asc|desc] (repeatable, outermost first)")
	cmd.Flags().StringArrayVar(&opts.Aggs, "agg", nil, "Aggregate a column, as col:fn with fn sum|avg|min|max|count|countDistinct (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Wheres, "where", nil, "Filter a column, as col:operator[:value] (repeatable; values of in, notIn and between are comma separated)")
	cmd.Flags().StringArrayVar(&opts.Virtual, "virtual", nil, "Add a computed column, as name=expression (repeatable)")
	cmd.Flags().StringVar(&opts.FilterFile, "filter-file", "", "YAML file with a simple or advanced filter")
	cmd.Flags().BoolVar(&opts.Subtotals, "subtotals", false, "Show subtotal rows after each group")
	cmd.Flags().StringVar(&opts.Rows, "rows", "", "Row window, as start:end (default: first page)")
	cmd.Flags().StringVar(&opts.Columns, "columns", "", "Column window, as start:end (default: all)")
	cmd.Flags().BoolVar(&opts.Explain, "explain", false, "Print the effective SQL instead of rows")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
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
	ds := cc.DataSource
	if err := ds.Init(ctx); err != nil {
		return err
	}
	if err := applyQueryOptions(ctx, cmd, ds, opts); err != nil {
		return err
	}

	if opts.Explain {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), ds.EffectiveSQL())
		return nil
	}

	if err := ds.Preload(ctx); err != nil {
		return err
	}
	rows := core.Range{Start: 0, End: cfg.PageSize - 1}
	if opts.Rows != "" {
		if rows, err = core.ParseRange(opts.Rows); err != nil {
			return fmt.Errorf("invalid --rows: %w", err)
		}
	}
	cols := core.Range{Start: 0, End: int64(len(ds.Columns())) - 1}
	if opts.Columns != "" {
		if cols, err = core.ParseRange(opts.Columns); err != nil {
			return fmt.Errorf("invalid --columns: %w", err)
		}
	}

	frame, err := ds.GetDataFrame(ctx, rows, cols)
	if err != nil {
		return err
	}
	total, err := ds.Summary()
	if err != nil {
		return err
	}
	return renderFrame(cmd.OutOrStdout(), frame, &total, cfg.OutputFormat)
}

// applyQueryOptions applies the flags that were given. Virtual columns go
// first so the other settings can refer to them.
func applyQueryOptions(ctx context.Context, cmd *cobra.Command, ds *datasource.DataSource, opts *QueryOptions) error {
	for _, v := range opts.Virtual {
		name, expr, ok := strings.Cut(v, "=")
		if !ok {
			return fmt.Errorf("invalid --virtual %q: want name=expression", v)
		}
		if err := ds.SetVirtualColumn(ctx, strings.TrimSpace(name), strings.TrimSpace(expr)); err != nil {
			return err
		}
	}

	if cmd.Flags().Changed("group") {
		groups := make([]core.Group, 0, len(opts.Groups))
		for _, g := range opts.Groups {
			group, err := parseGroup(g)
			if err != nil {
				return err
			}
			groups = append(groups, group)
		}
		if err := ds.SetGroups(ctx, groups); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("subtotals") {
		if err := ds.SetSubtotals(ctx, opts.Subtotals); err != nil {
			return err
		}
	}
	for _, a := range opts.Aggs {
		col, fn, err := parseAggregation(a)
		if err != nil {
			return err
		}
		if err := ds.SetAggregationFn(ctx, col, fn); err != nil {
			return err
		}
	}

	if opts.FilterFile != "" || len(opts.Wheres) > 0 {
		f, err := buildFilter(opts.FilterFile, opts.Wheres)
		if err != nil {
			return err
		}
		if err := ds.SetFilterNg(ctx, f); err != nil {
			return err
		}
	}

	for _, s := range opts.Sorts {
		sorter, err := parseSorter(s)
		if err != nil {
			return err
		}
		if err := ds.SetSorter(ctx, sorter); err != nil {
			return err
		}
	}
	return nil
}

func parseDirection(s string) (core.Direction, error) {
	switch strings.ToLower(s) {
	case "", "asc":
		return core.Asc, nil
	case "desc":
		return core.Desc, nil
	}
	return "", fmt.Errorf("unknown direction %q (want asc or desc)", s)
}

// parseSorter parses col[:asc|desc] or col:cellColor|textColor:color.
func parseSorter(s string) (core.Sorter, error) {
	parts := strings.SplitN(s, ":", 3)
	if parts[0] == "" {
		return core.Sorter{}, fmt.Errorf("invalid --sort %q: missing column", s)
	}
	sorter := core.Sorter{ColumnID: parts[0], Direction: core.Asc}
	if len(parts) == 1 {
		return sorter, nil
	}
	switch kind := core.SortKind(parts[1]); kind {
	case core.SortCellColor, core.SortTextColor:
		if len(parts) != 3 || parts[2] == "" {
			return core.Sorter{}, fmt.Errorf("invalid --sort %q: color sorts need a color", s)
		}
		sorter.Kind, sorter.Color = kind, parts[2]
		return sorter, nil
	}
	if len(parts) == 3 {
		return core.Sorter{}, fmt.Errorf("invalid --sort %q", s)
	}
	dir, err := parseDirection(parts[1])
	if err != nil {
		return core.Sorter{}, fmt.Errorf("invalid --sort %q: %w", s, err)
	}
	sorter.Direction = dir
	return sorter, nil
}

func parseGroup(s string) (core.Group, error) {
	col, dir, _ := strings.Cut(s, ":")
	if col == "" {
		return core.Group{}, fmt.Errorf("invalid --group %q: missing column", s)
	}
	d, err := parseDirection(dir)
	if err != nil {
		return core.Group{}, fmt.Errorf("invalid --group %q: %w", s, err)
	}
	return core.Group{ColumnID: col, Direction: d}, nil
}

func parseAggregation(s string) (string, core.AggregationFn, error) {
	col, fn, ok := strings.Cut(s, ":")
	if !ok || col == "" {
		return "", "", fmt.Errorf("invalid --agg %q: want col:fn", s)
	}
	return col, core.AggregationFn(fn), nil
}

// buildFilter reads the filter file, if any, and adds the --where
// conditions to its simple filter.
func buildFilter(path string, wheres []string) (datasource.Filter, error) {
	var f datasource.Filter
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return f, fmt.Errorf("failed to read filter file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("failed to parse filter file %s: %w", path, err)
		}
	}
	if len(wheres) == 0 {
		return f, nil
	}
	if f.Advanced != nil {
		return f, fmt.Errorf("--where cannot be combined with an advanced filter file")
	}
	if f.Simple == nil {
		f.Simple = map[string]*datasource.ColumnRules{}
	}
	for _, w := range wheres {
		cond, err := parseWhere(w)
		if err != nil {
			return f, err
		}
		rules := f.Simple[cond.ColumnID]
		if rules == nil {
			rules = &datasource.ColumnRules{Conjunction: "and"}
			f.Simple[cond.ColumnID] = rules
		}
		rules.Conditions = append(rules.Conditions, cond)
	}
	return f, nil
}

// parseWhere parses col:operator[:value]. Values are typed as YAML
// scalars, so 5 is a number and "5" a string.
func parseWhere(s string) (datasource.Condition, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return datasource.Condition{}, fmt.Errorf("invalid --where %q: want col:operator[:value]", s)
	}
	cond := datasource.Condition{ColumnID: parts[0], Operator: datasource.Operator(parts[1])}
	if len(parts) < 3 {
		return cond, nil
	}
	switch cond.Operator {
	case datasource.OpIn, datasource.OpNotIn, datasource.OpBetween:
		for _, item := range strings.Split(parts[2], ",") {
			v, err := scalar(item)
			if err != nil {
				return cond, fmt.Errorf("invalid --where %q: %w", s, err)
			}
			cond.Values = append(cond.Values, v)
		}
	default:
		v, err := scalar(parts[2])
		if err != nil {
			return cond, fmt.Errorf("invalid --where %q: %w", s, err)
		}
		cond.Value = v
	}
	return cond, nil
}

func scalar(s string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return nil, err
	}
	return v, nil
}
