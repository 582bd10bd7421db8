package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yeisme/syncvault/pkg/internal/feed"
	kv "github.com/yeisme/syncvault/pkg/internal/storage/kv"
)

var (
	kvCmd = &cobra.Command{
		Use:     "kv",
		Short:   "Key-Value store related commands",
		Aliases: []string{"keyvalue"},
	}

	kvListCmd = &cobra.Command{
		Use:     "list",
		Short:   "list all registered kv types",
		Aliases: []string{"ls", "l"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "Registered kv types:")

			for _, t := range kv.GetRegisteredKVTypes() {
				fmt.Fprintln(cmd.OutOrStdout(), "   - "+string(t))
			}
		},
	}

	kvKeysCmd = &cobra.Command{
		Use:   "keys [pattern]",
		Short: "list keys under the configured prefix (session cache, relay cursor)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}

			client, err := kv.NewKVClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			keys, err := client.Keys(cmd.Context(), pattern)
			if err != nil {
				return err
			}

			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}

			return nil
		},
	}

	kvCursorCmd = &cobra.Command{
		Use:   "cursor",
		Short: "print or reset the change relay cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := kv.NewKVClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			if reset, _ := cmd.Flags().GetString("set"); reset != "" {
				if _, err := strconv.ParseUint(reset, 10, 64); err != nil {
					return fmt.Errorf("cursor must be a change id: %w", err)
				}

				return client.Set(cmd.Context(), feed.CursorKey, []byte(reset), 0)
			}

			b, err := client.Get(cmd.Context(), feed.CursorKey)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			return nil
		},
	}
)

// registerKVCommands 注册 KV 相关命令.
func registerKVCommands() {
	kvCursorCmd.Flags().String("set", "", "overwrite the cursor with a change id (replays later changes)")

	rootCmd.AddCommand(kvCmd)
	kvCmd.AddCommand(kvListCmd, kvKeysCmd, kvCursorCmd)
}
