package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dbbridge/core"
	"dbbridge/store"
)

// NewConnectionsCmd builds the 'connections' command group.
func NewConnectionsCmd() *cobra.Command {
	connectionsCmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage saved connection profiles",
	}

	connectionsCmd.AddCommand(newConnectionsListCmd())
	connectionsCmd.AddCommand(newConnectionsShowCmd())
	connectionsCmd.AddCommand(newConnectionsAddCmd())
	connectionsCmd.AddCommand(newConnectionsDeleteCmd())
	connectionsCmd.AddCommand(newConnectionsTestCmd())
	connectionsCmd.AddCommand(newConnectionsStatusCmd())

	return connectionsCmd
}

// connectionFlags binds the shared connection config flags.
func connectionFlags(cmd *cobra.Command, cfg *core.ConnectionConfig) {
	cmd.Flags().StringVar(&cfg.DBType, "type", "", "Database type (postgres, sqlite, redis, clickhouse)")
	cmd.Flags().StringVar(&cfg.Host, "host", "", "Database host")
	cmd.Flags().IntVar(&cfg.Port, "port", 0, "Database port (0 uses the backend default)")
	cmd.Flags().StringVar(&cfg.Database, "database", "", "Database name")
	cmd.Flags().StringVar(&cfg.Username, "username", "", "Username")
	cmd.Flags().StringVar(&cfg.Password, "password", "", "Password")
	cmd.Flags().BoolVar(&cfg.SSL, "ssl", false, "Use TLS")
	cmd.Flags().StringVar(&cfg.FilePath, "file", "", "Database file path (SQLite)")
	cmd.Flags().BoolVar(&cfg.SSH.Enabled, "ssh", false, "Tunnel through SSH")
	cmd.Flags().StringVar(&cfg.SSH.Host, "ssh-host", "", "SSH host")
	cmd.Flags().IntVar(&cfg.SSH.Port, "ssh-port", 0, "SSH port (0 means 22)")
	cmd.Flags().StringVar(&cfg.SSH.User, "ssh-user", "", "SSH user")
	cmd.Flags().StringVar(&cfg.SSH.Password, "ssh-password", "", "SSH password")
	cmd.Flags().StringVar(&cfg.SSH.KeyPath, "ssh-key", "", "SSH private key path")
}

func newConnectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			connections, err := app.Store.ListConnections(ctx)
			if err != nil {
				return fmt.Errorf("failed to list connections: %w", err)
			}

			if outputJSON {
				return outputAsJSON(connections)
			}

			renderConnectionsTable(connections)
			return nil
		},
	}
}

func newConnectionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <connection-id>",
		Short: "Show one saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			conn, err := app.Store.GetConnection(ctx, args[0])
			if err != nil {
				return err
			}
			return outputAsJSON(conn)
		},
	}
}

func newConnectionsAddCmd() *cobra.Command {
	var (
		name string
		cfg  core.ConnectionConfig
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a new connection profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			conn, err := app.Store.CreateConnection(ctx, name, cfg)
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(conn)
			}
			successColor.Printf("Saved connection %s (%s)\n", conn.Name, conn.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Profile name")
	cmd.MarkFlagRequired("name")
	connectionFlags(cmd, &cfg)
	cmd.MarkFlagRequired("type")

	return cmd
}

func newConnectionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <connection-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app.Pool.Disconnect(args[0])
			if err := app.Store.DeleteConnection(ctx, args[0]); err != nil {
				return err
			}
			if !quiet {
				successColor.Printf("Deleted connection %s\n", args[0])
			}
			return nil
		},
	}
}

func newConnectionsTestCmd() *cobra.Command {
	var cfg core.ConnectionConfig

	cmd := &cobra.Command{
		Use:   "test [connection-id]",
		Short: "Test connectivity of a saved profile or ad-hoc flags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			testCfg := cfg
			if len(args) == 1 {
				testCfg, err = app.Store.ConnectionConfig(ctx, args[0])
				if err != nil {
					return err
				}
			}

			stop := newSpinner("Testing connection...")
			result, err := app.Pool.TestConnection(ctx, testCfg)
			stop()
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(result)
			}
			if result.Success {
				successColor.Println(result.Message)
			} else {
				errorColor.Println(result.Message)
			}
			return nil
		},
	}

	connectionFlags(cmd, &cfg)
	return cmd
}

func newConnectionsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <connection-id>",
		Short: "Show pool status of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			return outputAsJSON(app.Pool.GetStatus(args[0]))
		},
	}
}

func renderConnectionsTable(connections []store.Connection) {
	if len(connections) == 0 {
		infoColor.Println("No saved connections")
		return
	}
	headerColor.Printf("%-36s  %-20s  %-10s  %s\n", "ID", "NAME", "TYPE", "TARGET")
	for _, conn := range connections {
		target := conn.Config.Host
		if conn.Config.FilePath != "" {
			target = conn.Config.FilePath
		}
		fmt.Printf("%-36s  %-20s  %-10s  %s\n", conn.ID, conn.Name, conn.Config.DBType, target)
	}
}
