package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewQueriesCmd builds the 'queries' command group for saved queries.
func NewQueriesCmd() *cobra.Command {
	queriesCmd := &cobra.Command{
		Use:   "queries",
		Short: "Manage saved queries",
	}

	queriesCmd.AddCommand(newQueriesListCmd())
	queriesCmd.AddCommand(newQueriesSaveCmd())
	queriesCmd.AddCommand(newQueriesDeleteCmd())
	queriesCmd.AddCommand(newQueriesRunCmd())

	return queriesCmd
}

func newQueriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list <connection-id>",
		Aliases: []string{"ls"},
		Short:   "List saved queries for a connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			queries, err := app.Store.ListSavedQueries(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(queries)
			}
			headerColor.Printf("%-36s  %-24s  %s\n", "ID", "NAME", "QUERY")
			for _, q := range queries {
				fmt.Printf("%-36s  %-24s  %s\n", q.ID, q.Name, q.Query)
			}
			return nil
		},
	}
}

func newQueriesSaveCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "save <connection-id> <statement>",
		Short: "Save a query for later",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			sq, err := app.Store.CreateSavedQuery(ctx, args[0], name, args[1])
			if err != nil {
				return err
			}
			if outputJSON {
				return outputAsJSON(sq)
			}
			successColor.Printf("Saved query %s (%s)\n", sq.Name, sq.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Query name")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newQueriesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <query-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved query",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			if err := app.Store.DeleteSavedQuery(ctx, args[0]); err != nil {
				return err
			}
			if !quiet {
				successColor.Printf("Deleted saved query %s\n", args[0])
			}
			return nil
		},
	}
}

func newQueriesRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <connection-id> <query-name>",
		Short: "Run a saved query by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			queries, err := app.Store.ListSavedQueries(ctx, args[0])
			if err != nil {
				return err
			}
			var statement string
			for _, q := range queries {
				if q.Name == args[1] {
					statement = q.Query
					break
				}
			}
			if statement == "" {
				return fmt.Errorf("no saved query named %q for connection %s", args[1], args[0])
			}

			stop := newSpinner("Executing...")
			result, err := app.Pool.ExecuteQuery(ctx, args[0], statement)
			stop()
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			return outputAsJSON(result)
		},
	}
}
