package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgnsrekt/voiceq/internal/daemon"
	"github.com/dgnsrekt/voiceq/internal/sink"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// sessionSweepInterval is how often the worker drops expired sessions.
const sessionSweepInterval = 10 * time.Minute

var (
	supervised bool
	buildCmd   string

	daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Control the background worker",
		Args:  cobra.NoArgs,
	}

	daemonStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the worker if it is not running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := svc.Daemon()
			err := m.Start(cmd.Context())
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				fmt.Println(err)
				return nil
			}
			if err != nil {
				return err
			}
			pid, _ := m.PID()
			fmt.Println("Worker started, pid", pid)
			return nil
		},
	}

	daemonStopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := svc.Daemon().Stop(cmd.Context())
			if errors.Is(err, daemon.ErrNotRunning) {
				fmt.Println("Worker is not running.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println("Worker stopped.")
			return nil
		},
	}

	daemonRestartCmd = &cobra.Command{
		Use:   "restart",
		Short: "Restart the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := svc.Daemon()
			if err := m.Restart(cmd.Context()); err != nil {
				return err
			}
			pid, _ := m.PID()
			fmt.Println("Worker restarted, pid", pid)
			return nil
		},
	}

	daemonStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show worker status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := svc.Daemon().Status()
			fmt.Println(field("Worker", yesNo(st.Running, "running", "stopped")))
			if st.Running {
				fmt.Println(field("PID", fmt.Sprint(st.PID)))
				fmt.Println(field("Uptime", st.Uptime().Round(time.Second).String()))
			}
			if !st.StartedAt.IsZero() {
				fmt.Println(field("Started", humanize.Time(st.StartedAt)))
			}
			fmt.Println(field("Processed", humanize.Comma(st.MessagesProcessed)))
			if st.MessagesFailed > 0 || st.MessagesDropped > 0 {
				fmt.Println(field("Failed", humanize.Comma(st.MessagesFailed)))
				fmt.Println(field("Dropped", humanize.Comma(st.MessagesDropped)))
			}
			fmt.Println(field("Pending", humanize.Comma(int64(svc.Broker().Size(cmd.Context())))))
			if !st.UpdatedAt.IsZero() {
				fmt.Println(field("Last report", humanize.Time(st.UpdatedAt)))
			}
			fmt.Println(field("Log", svc.Paths.LogFile))
			return nil
		},
	}

	daemonWorkerCmd = &cobra.Command{
		Use:    "worker",
		Short:  "Run the worker in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logToStderr()
			svc.Sessions().StartSweeper(cmd.Context(), sessionSweepInterval)
			return daemon.RunWorker(cmd.Context(), svc.Worker(supervised))
		},
	}

	daemonDevCmd = &cobra.Command{
		Use:   "dev",
		Short: "Run the worker and restart it when Go sources change",
		Long: paragraph(fmt.Sprintf("\nRun a worker under a %s. Changes to Go files in the watched directories restart it after a quiet period. Use --build to rebuild the binary before each restart.",
			keyword("file watcher"))),
		Example: paragraph("voiceq daemon dev --build \"go build -o $(which voiceq) .\""),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logToStderr()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := svc.Reloader(buildFunc(buildCmd)).Run(ctx)
			if errors.Is(err, daemon.ErrAlreadyRunning) || errors.Is(err, daemon.ErrLockHeld) {
				return fmt.Errorf("%w; stop it first with \"voiceq daemon stop\"", err)
			}
			return err
		},
	}
)

// buildFunc turns a command line into a rebuild step for the reloader.
func buildFunc(line string) func(context.Context) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	runner := sink.NewSubprocessManager(5 * time.Minute)
	return func(ctx context.Context) error {
		return runner.Run(ctx, "", parts[0], parts[1:]...)
	}
}

func init() {
	daemonWorkerCmd.Flags().BoolVar(&supervised, "supervised", false, "leave the pid record to the supervising process")
	daemonDevCmd.Flags().StringVar(&buildCmd, "build", "", "command that rebuilds the binary before each restart")

	daemonCmd.AddCommand(
		daemonStartCmd, daemonStopCmd, daemonRestartCmd, daemonStatusCmd,
		daemonWorkerCmd, daemonDevCmd,
	)
}
