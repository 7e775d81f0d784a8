package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dbbridge/bootstrap"
	"dbbridge/core"
	"dbbridge/sqlbuild"
)

// NewRowCmd builds the 'row' command group: structured single-row
// mutations assembled through the whitelist SQL builder and executed
// like any other statement.
func NewRowCmd() *cobra.Command {
	rowCmd := &cobra.Command{
		Use:   "row",
		Short: "Insert, update, or delete table rows",
	}

	rowCmd.AddCommand(newRowUpdateCmd())
	rowCmd.AddCommand(newRowDeleteCmd())
	rowCmd.AddCommand(newRowInsertCmd())

	return rowCmd
}

// parseLiteral interprets a flag value as JSON so numbers, booleans,
// and null keep their types; anything unparsable stays a string.
func parseLiteral(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// parseAssignments turns --set column=value and --raw-set
// column=expression flags into builder column values. Raw expressions
// are validated against the allow-list by the builder itself.
func parseAssignments(pairs, rawPairs []string) ([]sqlbuild.ColumnValue, error) {
	values := make([]sqlbuild.ColumnValue, 0, len(pairs)+len(rawPairs))
	for _, pair := range pairs {
		column, value, found := strings.Cut(pair, "=")
		if !found || column == "" {
			return nil, fmt.Errorf("expected column=value, got %q", pair)
		}
		values = append(values, sqlbuild.ColumnValue{Column: column, Value: parseLiteral(value)})
	}
	for _, pair := range rawPairs {
		column, value, found := strings.Cut(pair, "=")
		if !found || column == "" {
			return nil, fmt.Errorf("expected column=expression, got %q", pair)
		}
		values = append(values, sqlbuild.ColumnValue{Column: column, Value: value, RawSQL: true})
	}
	return values, nil
}

// parsePrimaryKey turns --pk column=value flags into the builder's
// parallel column/value slices.
func parsePrimaryKey(pairs []string) ([]string, []any, error) {
	if len(pairs) == 0 {
		return nil, nil, fmt.Errorf("at least one --pk column=value is required")
	}
	columns := make([]string, 0, len(pairs))
	values := make([]any, 0, len(pairs))
	for _, pair := range pairs {
		column, value, found := strings.Cut(pair, "=")
		if !found || column == "" {
			return nil, nil, fmt.Errorf("expected column=value, got %q", pair)
		}
		columns = append(columns, column)
		values = append(values, parseLiteral(value))
	}
	return columns, values, nil
}

func connectionDBType(ctx context.Context, app *bootstrap.App, id string) (core.DatabaseType, error) {
	cfg, err := app.Store.ConnectionConfig(ctx, id)
	if err != nil {
		return "", err
	}
	return core.ParseDatabaseType(cfg.DBType)
}

// runRowMutation builds the statement for the connection's backend and
// executes it through the pool.
func runRowMutation(id string, build func(core.DatabaseType) (string, error)) error {
	app, cleanup, err := initApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	dbType, err := connectionDBType(ctx, app, id)
	if err != nil {
		return err
	}
	statement, err := build(dbType)
	if err != nil {
		return err
	}

	stop := newSpinner("Executing...")
	result, err := app.Pool.ExecuteQuery(ctx, id, statement)
	stop()
	if err != nil {
		return fmt.Errorf("mutation failed: %w", err)
	}

	if outputJSON {
		return outputAsJSON(result)
	}
	if result.Error != "" {
		errorColor.Println(result.Error)
		return nil
	}
	if !quiet {
		successColor.Printf("%d rows affected in %dms\n", result.RowCount, result.TimeTakenMs)
	}
	return nil
}

func newRowUpdateCmd() *cobra.Command {
	var (
		schema string
		sets   []string
		raws   []string
		pks    []string
	)

	cmd := &cobra.Command{
		Use:   "update <connection-id> <table>",
		Short: "Update the row matched by the primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parseAssignments(sets, raws)
			if err != nil {
				return err
			}
			pkColumns, pkValues, err := parsePrimaryKey(pks)
			if err != nil {
				return err
			}
			return runRowMutation(args[0], func(dbType core.DatabaseType) (string, error) {
				return sqlbuild.BuildUpdate(dbType, schema, args[1], updates, pkColumns, pkValues)
			})
		},
	}

	cmd.Flags().StringVar(&schema, "schema", "", "Schema name")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Column assignment as column=value (repeatable)")
	cmd.Flags().StringArrayVar(&raws, "raw-set", nil, "Column assignment as column=expression, expression from the allow-list (repeatable)")
	cmd.Flags().StringArrayVar(&pks, "pk", nil, "Primary key as column=value (repeatable)")

	return cmd
}

func newRowDeleteCmd() *cobra.Command {
	var (
		schema string
		pks    []string
	)

	cmd := &cobra.Command{
		Use:   "delete <connection-id> <table>",
		Short: "Delete the row matched by the primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkColumns, pkValues, err := parsePrimaryKey(pks)
			if err != nil {
				return err
			}
			return runRowMutation(args[0], func(dbType core.DatabaseType) (string, error) {
				return sqlbuild.BuildDelete(dbType, schema, args[1], pkColumns, pkValues)
			})
		},
	}

	cmd.Flags().StringVar(&schema, "schema", "", "Schema name")
	cmd.Flags().StringArrayVar(&pks, "pk", nil, "Primary key as column=value (repeatable)")

	return cmd
}

func newRowInsertCmd() *cobra.Command {
	var (
		schema string
		sets   []string
		raws   []string
	)

	cmd := &cobra.Command{
		Use:   "insert <connection-id> <table>",
		Short: "Insert a row from column=value pairs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(sets, raws)
			if err != nil {
				return err
			}
			return runRowMutation(args[0], func(dbType core.DatabaseType) (string, error) {
				return sqlbuild.BuildInsert(dbType, schema, args[1], values)
			})
		},
	}

	cmd.Flags().StringVar(&schema, "schema", "", "Schema name")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Column value as column=value (repeatable)")
	cmd.Flags().StringArrayVar(&raws, "raw-set", nil, "Column value as column=expression, expression from the allow-list (repeatable)")

	return cmd
}
