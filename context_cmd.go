package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgnsrekt/voiceq/internal/app"
	"github.com/dgnsrekt/voiceq/internal/queue"
	"github.com/dgnsrekt/voiceq/internal/state"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	recordOp       state.Operation
	recordSession  string
	announceTodos  bool
	todosSessionID string

	contextCmd = &cobra.Command{
		Use:   "context",
		Short: "Track what the current task has done",
		Args:  cobra.NoArgs,
	}

	contextShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the recorded task context",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			tc := svc.State().Context()
			fmt.Println(field("Operations", humanize.Comma(int64(tc.OperationsCount))))
			if !tc.StartTime.IsZero() {
				fmt.Println(field("Started", humanize.Time(tc.StartTime)))
			}
			fmt.Println(field("Files created", fmt.Sprint(len(tc.FilesCreated))))
			fmt.Println(field("Files modified", fmt.Sprint(len(tc.FilesModified))))
			fmt.Println(field("Files deleted", fmt.Sprint(len(tc.FilesDeleted))))
			fmt.Println(field("Commands", fmt.Sprint(len(tc.CommandsRun))))
			fmt.Println(field("Searches", fmt.Sprint(len(tc.SearchesPerformed))))
			if summary := state.Summarize(tc); summary != "" {
				fmt.Println(field("Summary", summary))
			}
			return nil
		},
	}

	contextResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Start a new task context",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return svc.State().Reset()
		},
	}

	contextRecordCmd = &cobra.Command{
		Use:     "record",
		Short:   "Record one tool operation",
		Example: paragraph("voiceq context record --tool Edit --file main.go\nvoiceq context record --tool Bash --command \"go test ./...\""),
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			st := svc.State()
			if recordSession != "" {
				if err := st.SetSession(recordSession); err != nil {
					return err
				}
			}
			return st.Record(recordOp)
		},
	}

	contextTodosCmd = &cobra.Command{
		Use:   "todos",
		Short: "Read a JSON todo list on stdin and print newly completed items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var todos []state.Todo
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&todos); err != nil {
				return fmt.Errorf("unable to decode todos: %w", err)
			}
			done, err := svc.State().CompletedTodos(todos)
			if err != nil {
				return err
			}
			for _, item := range done {
				fmt.Println(item)
				if announceTodos {
					svc.Announce(cmd.Context(), app.Announcement{
						Kind:      queue.KindCompletion,
						Text:      "Completed: " + item,
						SessionID: todosSessionID,
						Metadata:  map[string]any{"source": "todos", "at": time.Now().Unix()},
					})
				}
			}
			return nil
		},
	}
)

func init() {
	f := contextRecordCmd.Flags()
	f.StringVar(&recordOp.Tool, "tool", "", "tool name (Write, Edit, MultiEdit, Delete, Bash, Grep, Glob, WebSearch)")
	f.StringVar(&recordOp.FilePath, "file", "", "file the tool touched")
	f.StringVar(&recordOp.Command, "command", "", "command the tool ran")
	f.StringVar(&recordOp.Query, "query", "", "search the tool performed")
	f.StringVar(&recordSession, "session", "", "session the operation belongs to; a new session resets the context")
	_ = contextRecordCmd.MarkFlagRequired("tool")

	contextTodosCmd.Flags().BoolVar(&announceTodos, "announce", false, "queue a completion notice for each newly completed item")
	contextTodosCmd.Flags().StringVar(&todosSessionID, "session", "", "session ID for announcements")

	contextCmd.AddCommand(contextShowCmd, contextResetCmd, contextRecordCmd, contextTodosCmd)
}
