package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/yeisme/syncvault/pkg/client"
	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/fanout"
)

var (
	serverURL   string
	clientUser  string
	clientToken string
	concurrency int
	logicalPath string

	uploadCmd = &cobra.Command{
		Use:   "upload <file>",
		Short: "upload a local file in resumable chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			rec, err := c.UploadFile(cmd.Context(), args[0], logicalPath)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), rec)
		},
	}

	resumeCmd = &cobra.Command{
		Use:   "resume <session-id> <file>",
		Short: "continue an interrupted upload session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			rec, err := c.Resume(cmd.Context(), f, args[0])
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), rec)
		},
	}

	lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "list files visible to the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			list, err := c.ListFiles(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "stream file change events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()

			return c.Watch(ctx, func(ev fanout.ChangeEvent) {
				b, err := sonic.Marshal(ev)
				if err != nil {
					return
				}

				fmt.Fprintln(out, string(b))
			})
		},
	}
)

func newClient() (*client.Client, error) {
	url := serverURL
	if url == "" {
		srv := configs.GetConfig().Server

		host := srv.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}

		url = fmt.Sprintf("http://%s:%d", host, srv.Port)
	}

	opts := []client.Option{client.WithConcurrency(concurrency)}
	if clientUser != "" {
		opts = append(opts, client.WithUser(clientUser))
	}

	if clientToken != "" {
		opts = append(opts, client.WithToken(clientToken))
	}

	return client.New(url, opts...)
}

func printJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(b))

	return err
}

// registerClientCommands 注册调用 HTTP API 的客户端命令.
func registerClientCommands() {
	for _, c := range []*cobra.Command{uploadCmd, resumeCmd, lsCmd, watchCmd} {
		c.Flags().StringVarP(&serverURL, "server", "s", "", "server base URL (default from server.host/port)")
		c.Flags().StringVarP(&clientUser, "user", "u", os.Getenv("SYNCVAULT_USER"), "user id sent as X-User-ID")
		c.Flags().StringVarP(&clientToken, "token", "t", os.Getenv("SYNCVAULT_TOKEN"), "bearer token")
		rootCmd.AddCommand(c)
	}

	uploadCmd.Flags().StringVarP(&logicalPath, "path", "p", "/", "logical directory for the file")

	for _, c := range []*cobra.Command{uploadCmd, resumeCmd} {
		c.Flags().IntVar(&concurrency, "concurrency", client.DefaultConcurrency, "parts uploaded in parallel")
	}

	lsCmd.Flags().Int("limit", 50, "page size")
	lsCmd.Flags().Int("offset", 0, "page offset")
}
