package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	queueCmd = &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear pending notifications",
		Args:  cobra.NoArgs,
	}

	queueStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show how many notifications are waiting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			broker := svc.Broker()
			st := svc.Daemon().Status()

			fmt.Println(field("Queue", yesNo(broker.Available(), "available", "unavailable")))
			fmt.Println(field("Pending", humanize.Comma(int64(broker.Size(ctx)))))
			fmt.Println(field("Worker", yesNo(st.Running, "running", "stopped")))
			fmt.Println(field("Delivery", yesNo(cfg.Enabled, "enabled", "disabled")))
			fmt.Println(field("Database", svc.Paths.QueueDB))
			if info, err := os.Stat(svc.Paths.QueueDB); err == nil {
				fmt.Println(field("Size", humanize.Bytes(uint64(info.Size())))) //nolint:gosec
			}
			return nil
		},
	}

	queueClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending notification, including ones awaiting retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := svc.Broker().Clear(cmd.Context())
			fmt.Printf("Cleared %s.\n", pluralMessages(n))
			return nil
		},
	}
)

func pluralMessages(n int) string {
	if n == 1 {
		return "1 message"
	}
	return humanize.Comma(int64(n)) + " messages"
}

func init() {
	queueCmd.AddCommand(queueStatusCmd, queueClearCmd)
}
