// Package main 启动 syncvault.
package main

import (
	"os"

	"github.com/yeisme/syncvault/pkg/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
