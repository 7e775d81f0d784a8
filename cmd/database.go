package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dbbridge/core"
)

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables <connection-id>",
		Short: "List tables on a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			stop := newSpinner("Listing tables...")
			tables, err := app.Pool.ListTables(ctx, args[0])
			stop()
			if err != nil {
				return fmt.Errorf("failed to list tables: %w", err)
			}

			if outputJSON {
				return outputAsJSON(tables)
			}
			headerColor.Printf("%-24s  %-32s  %s\n", "SCHEMA", "NAME", "TYPE")
			for _, table := range tables {
				fmt.Printf("%-24s  %-32s  %s\n", table.Schema, table.Name, table.Type)
			}
			return nil
		},
	}
}

func newDataCmd() *cobra.Command {
	var req core.TableDataRequest

	cmd := &cobra.Command{
		Use:   "data <connection-id>",
		Short: "Read one page of table rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			stop := newSpinner("Fetching rows...")
			resp, err := app.Pool.GetTableData(ctx, args[0], req)
			stop()
			if err != nil {
				return fmt.Errorf("failed to read table data: %w", err)
			}

			if outputJSON {
				return outputAsJSON(resp)
			}
			infoColor.Printf("Page %d/%d rows, %d total\n", resp.Page, len(resp.Data), resp.Total)
			return outputAsJSON(resp.Data)
		},
	}

	cmd.Flags().StringVar(&req.Schema, "schema", "", "Schema name")
	cmd.Flags().StringVar(&req.Table, "table", "", "Table name")
	cmd.MarkFlagRequired("table")
	cmd.Flags().Int64Var(&req.Page, "page", 1, "Page number (1-indexed)")
	cmd.Flags().Int64Var(&req.Limit, "limit", 100, "Rows per page")
	cmd.Flags().StringVar(&req.Filter, "filter", "", "WHERE fragment in the backend's dialect")
	cmd.Flags().StringVar(&req.SortColumn, "sort", "", "Sort column")
	cmd.Flags().StringVar(&req.SortDirection, "dir", "asc", "Sort direction (asc or desc)")

	return cmd
}

func newStructureCmd() *cobra.Command {
	var schema string

	cmd := &cobra.Command{
		Use:   "structure <connection-id> <table>",
		Short: "Describe a table's columns, indexes, and foreign keys",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			structure, err := app.Pool.GetTableStructure(ctx, args[0], schema, args[1])
			if err != nil {
				return fmt.Errorf("failed to describe table: %w", err)
			}
			return outputAsJSON(structure)
		},
	}

	cmd.Flags().StringVar(&schema, "schema", "", "Schema name")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <connection-id>",
		Short: "Dump the full schema overview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			stop := newSpinner("Reading schema...")
			overview, err := app.Pool.GetSchemaOverview(ctx, args[0])
			stop()
			if err != nil {
				return fmt.Errorf("failed to read schema: %w", err)
			}
			return outputAsJSON(overview)
		},
	}
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <connection-id> <statement>",
		Short: "Execute a raw statement",
		Long: `Execute a raw statement on a connection. For Redis connections the
statement is a command line (e.g. "GET mykey"); for SQL backends it is
a SQL statement. Statement errors are reported in the result, not as
command failures.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			statement := strings.Join(args[1:], " ")
			stop := newSpinner("Executing...")
			result, err := app.Pool.ExecuteQuery(ctx, args[0], statement)
			stop()
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(result)
			}
			if result.Error != "" {
				errorColor.Println(result.Error)
				return nil
			}
			infoColor.Printf("%d rows in %dms\n", result.RowCount, result.TimeTakenMs)
			if len(result.Data) > 0 {
				return outputAsJSON(result.Data)
			}
			return nil
		},
	}
}
