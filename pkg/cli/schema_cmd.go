package cli

import (
	"github.com/spf13/cobra"

	"pagequery/internal/domain"
)

func newDatabasesCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := client.Databases(cmd.Context())
			if err != nil {
				return err
			}
			return printOptions(cmd, opts)
		},
	}
}

func newTablesCmd(client *Client) *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables of a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := client.Tables(cmd.Context(), database)
			if err != nil {
				return err
			}
			return printOptions(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database to list (server default when empty)")
	return cmd
}

func newMeasuresCmd(client *Client) *cobra.Command {
	var database, table, filter string
	cmd := &cobra.Command{
		Use:   "measures",
		Short: "List the measures of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := client.Measures(cmd.Context(), database, table, filter)
			if err != nil {
				return err
			}
			return printOptions(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database of the table (server default when empty)")
	cmd.Flags().StringVar(&table, "table", "", "Table to list (server default when empty)")
	cmd.Flags().StringVar(&filter, "filter", "", "Only measures whose name contains this text")
	return cmd
}

func printOptions(cmd *cobra.Command, opts []domain.SelectableValue) error {
	if getOutputFormat(cmd) == outputJSON {
		if opts == nil {
			opts = []domain.SelectableValue{}
		}
		return PrintJSON(cmd.OutOrStdout(), opts)
	}
	rows := make([][]string, len(opts))
	for i, o := range opts {
		rows[i] = []string{o.Value, o.Label}
	}
	PrintTable(cmd.OutOrStdout(), []string{"name", "label"}, rows)
	return nil
}
