package cmd

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yeisme/syncvault/pkg/configs"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "config subcommands",
	}

	pathCmd = &cobra.Command{
		Use:   "path",
		Short: "print the path of the current config file",
		Run: func(cmd *cobra.Command, args []string) {
			if used := configs.GetViper().ConfigFileUsed(); used != "" {
				fmt.Fprintln(cmd.OutOrStdout(), used)
				return
			}

			fmt.Fprintln(cmd.OutOrStdout(), "no config file used, running on defaults and SYNCVAULT_* environment")
		},
	}

	showCmd = &cobra.Command{
		Use:     "show",
		Short:   "print the effective config as JSON (secrets masked)",
		Aliases: []string{"debug"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				configs.GetViper().Debug()
			}

			c := *configs.GetConfig()
			for _, secret := range []*string{
				&c.Auth.JWTSecret, &c.S3.SecretAccessKey, &c.DB.Password,
				&c.KV.Redis.Password, &c.KV.NATS.Password, &c.MQ.Common.Password, &c.MQ.Redis.Password,
			} {
				mask(secret)
			}

			b, err := sonic.ConfigStd.MarshalIndent(c, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			return nil
		},
	}

	initCmd = &cobra.Command{
		Use:   "init <file>",
		Short: "write a config file containing every default (yaml, json, toml or env by extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			for k, val := range configs.GetViper().AllSettings() {
				v.Set(k, val)
			}

			if err := v.SafeWriteConfigAs(args[0]); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "wrote", args[0])

			return nil
		},
	}
)

func mask(s *string) {
	if *s != "" {
		*s = "******"
	}
}

// registerConfigsCommands 注册 CLI 子命令.
func registerConfigsCommands() {
	configCmd.AddCommand(pathCmd, showCmd, initCmd)
	rootCmd.AddCommand(configCmd)
}
