package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yeisme/syncvault/pkg/configs"
	mq "github.com/yeisme/syncvault/pkg/internal/storage/mq"
	"github.com/yeisme/syncvault/pkg/queue"
)

var (
	mqCmd = &cobra.Command{
		Use:     "mq",
		Short:   "Message queue related commands",
		Aliases: []string{"messagequeue"},
	}

	mqListCmd = &cobra.Command{
		Use:     "list",
		Short:   "list all registered mq types",
		Aliases: []string{"ls", "l"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "Registered mq types:")

			for _, t := range mq.GetRegisteredMQTypes() {
				fmt.Fprintln(cmd.OutOrStdout(), "   - "+string(t))
			}
		},
	}

	mqTailCmd = &cobra.Command{
		Use:   "tail",
		Short: "print file change events published on sync.topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := mq.New(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			msgs, err := client.Subscribe(ctx, configs.GetConfig().Sync.Topic)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			for msg := range msgs {
				ev, err := queue.ParseFileChanged(msg)
				msg.Ack()

				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "skip malformed message:", err)
					continue
				}

				p := ev.Payload
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", p.ChangeID, p.Op, p.OwnerID, p.FileID)
			}

			return nil
		},
	}
)

// registerMQCommands 注册 MQ 相关命令.
func registerMQCommands() {
	rootCmd.AddCommand(mqCmd)
	mqCmd.AddCommand(mqListCmd, mqTailCmd)
}
