package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/identity"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "issue a signed bearer token using auth.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		auth := configs.GetConfig().Auth
		if auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not configured")
		}

		user, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")

		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = auth.TokenTTL
		}

		tok, err := identity.NewJWTResolver(auth.JWTSecret, auth.Issuer).Issue(user, role, ttl)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), tok)

		return nil
	},
}

// registerTokenCommands 注册令牌签发命令.
func registerTokenCommands() {
	tokenCmd.Flags().String("user", "", "user id (subject)")
	tokenCmd.Flags().String("role", "user", "role claim")
	tokenCmd.Flags().Duration("ttl", time.Duration(0), "token lifetime (default auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd)
}
