package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResetCommand creates the reset command.
func NewResetCommand() *cobra.Command {
	var sql string

	cmd := &cobra.Command{
		Use:   "reset [SQL]",
		Short: "Forget the remembered settings of a query",
		Long: `Delete the sorts, groups, filters, aggregations and virtual columns
remembered for a query from the state database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			q, err := resolveQuery(cfg, sql, args)
			if err != nil {
				return err
			}
			if cfg.StatePath == "" {
				return fmt.Errorf("no state database configured")
			}

			cc, cleanup, err := NewCommandContext(cmd, q)
			if err != nil {
				return err
			}
			defer cleanup()

			id := cc.DataSource.ContextID()
			if err := cc.Store.Delete(cmd.Context(), string(id)); err != nil {
				return fmt.Errorf("failed to reset settings: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Settings of query %s reset\n", id.Short())
			return nil
		},
	}

	cmd.Flags().StringVar(&sql, "sql", "", "Query to reset (default: argument or config query)")
	return cmd
}
