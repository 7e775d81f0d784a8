package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewKeysCmd builds the 'keys' command group for Redis connections.
func NewKeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Browse and edit Redis keys",
	}

	keysCmd.AddCommand(newKeysListCmd())
	keysCmd.AddCommand(newKeysGetCmd())
	keysCmd.AddCommand(newKeysSetCmd())
	keysCmd.AddCommand(newKeysDeleteCmd())
	keysCmd.AddCommand(newKeysTTLCmd())

	return keysCmd
}

func newKeysListCmd() *cobra.Command {
	var (
		pattern       string
		cursor        uint64
		count         int64
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "list <connection-id>",
		Short: "Scan keys matching a pattern",
		Long: `Scan keys matching a glob pattern. The scan is bounded: it visits a
limited number of pages per call and prints a cursor to resume from
when the keyspace was not fully enumerated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			stop := newSpinner("Scanning keys...")
			resp, err := app.Pool.ListKeys(ctx, args[0], pattern, cursor, count, maxIterations, nil)
			stop()
			if err != nil {
				return fmt.Errorf("key scan failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(resp)
			}
			headerColor.Printf("%-48s  %-8s  %s\n", "KEY", "TYPE", "TTL")
			for _, key := range resp.Keys {
				fmt.Printf("%-48s  %-8s  %d\n", key.Key, key.KeyType, key.TTL)
			}
			if !resp.Complete {
				infoColor.Printf("Scan incomplete, resume with --cursor %d\n", resp.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "*", "Key glob pattern")
	cmd.Flags().Uint64Var(&cursor, "cursor", 0, "Resume cursor from a previous scan")
	cmd.Flags().Int64Var(&count, "count", 0, "SCAN count hint per page (0 uses the default)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Scan page budget (0 uses the default)")

	return cmd
}

func newKeysGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <connection-id> <key>",
		Short: "Show full details of one key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			details, err := app.Pool.GetKeyDetails(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return outputAsJSON(details)
		},
	}
}

func newKeysSetCmd() *cobra.Command {
	var (
		ttl      int64
		keyType  string
		fields   map[string]string
		elements []string
	)

	cmd := &cobra.Command{
		Use:   "set <connection-id> <key> [value]",
		Short: "Write a key, replacing any previous value",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			id, key := args[0], args[1]
			switch keyType {
			case "string":
				if len(args) < 3 {
					return fmt.Errorf("string keys require a value argument")
				}
				err = app.Pool.SetStringKey(ctx, id, key, args[2], ttl)
			case "list":
				err = app.Pool.SetListKey(ctx, id, key, elements, ttl)
			case "set":
				err = app.Pool.SetSetKey(ctx, id, key, elements, ttl)
			case "hash":
				err = app.Pool.SetHashKey(ctx, id, key, fields, ttl)
			case "zset":
				members := make(map[string]float64, len(fields))
				for member, score := range fields {
					members[member], err = strconv.ParseFloat(score, 64)
					if err != nil {
						return fmt.Errorf("invalid score %q for member %s", score, member)
					}
				}
				err = app.Pool.SetZSetKey(ctx, id, key, members, ttl)
			default:
				return fmt.Errorf("unsupported key type: %s", keyType)
			}
			if err != nil {
				return err
			}
			if !quiet {
				successColor.Printf("Wrote %s key %s\n", keyType, key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyType, "type", "string", "Key type (string, list, set, hash, zset)")
	cmd.Flags().Int64Var(&ttl, "ttl", 0, "Expiry in seconds (0 means no expiry)")
	cmd.Flags().StringArrayVar(&elements, "element", nil, "List/set element (repeatable)")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "Hash field name=value or zset member=score (repeatable)")

	return cmd
}

func newKeysDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <connection-id> <key>",
		Aliases: []string{"rm"},
		Short:   "Delete a key",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			if err := app.Pool.DeleteKey(ctx, args[0], args[1]); err != nil {
				return err
			}
			if !quiet {
				successColor.Printf("Deleted key %s\n", args[1])
			}
			return nil
		},
	}
}

func newKeysTTLCmd() *cobra.Command {
	var ttl int64

	cmd := &cobra.Command{
		Use:   "ttl <connection-id> <key>",
		Short: "Set or clear a key's expiry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			if err := app.Pool.SetKeyTTL(ctx, args[0], args[1], ttl); err != nil {
				return err
			}
			if !quiet {
				if ttl > 0 {
					successColor.Printf("Key %s expires in %ds\n", args[1], ttl)
				} else {
					successColor.Printf("Key %s no longer expires\n", args[1])
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&ttl, "seconds", 0, "Expiry in seconds (0 removes the expiry)")
	return cmd
}
