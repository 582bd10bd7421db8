package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/yeisme/syncvault/pkg/configs"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the build version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "syncvault %s (%s %s/%s)\n", configs.AppVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// registerVersionCommands 注册版本命令.
func registerVersionCommands() {
	rootCmd.AddCommand(versionCmd)
}
