package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	clearAllSessions bool

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect session voice assignments",
		Args:  cobra.NoArgs,
	}

	sessionsListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List active sessions and their voices",
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			active := svc.Sessions().Active()
			if len(active) == 0 {
				fmt.Println("No active sessions.")
				return nil
			}
			for _, s := range active {
				fmt.Printf("%s  %s  used %s, started %s\n",
					labelStyle.Render(s.ID), keyword(s.Voice),
					humanize.Time(s.LastUsed), humanize.Time(s.CreatedAt))
			}
			return nil
		},
	}

	sessionsClearCmd = &cobra.Command{
		Use:   "clear [SESSION_ID]",
		Short: "Release one session's voice, or all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reg := svc.Sessions()
			switch {
			case clearAllSessions:
				if err := reg.ClearAll(); err != nil {
					return err
				}
				fmt.Println("Cleared all sessions.")
			case len(args) == 1:
				if !reg.Clear(args[0]) {
					return fmt.Errorf("no session %q", args[0])
				}
				fmt.Println("Cleared session", args[0])
			default:
				return errors.New("give a session ID or --all")
			}
			return nil
		},
	}
)

func init() {
	sessionsClearCmd.Flags().BoolVarP(&clearAllSessions, "all", "a", false, "clear every session")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsClearCmd)
}
