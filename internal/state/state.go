// Package state keeps the task context: what the upstream tool has done
// since the current unit of work began, persisted across the short-lived
// caller processes that report it.
package state

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/voiceq/internal/statefile"
	"github.com/dustin/go-humanize/english"
)

// TaskContext accumulates operations.
type TaskContext struct {
	FilesCreated      []string  `json:"files_created"`
	FilesModified     []string  `json:"files_modified"`
	FilesDeleted      []string  `json:"files_deleted"`
	CommandsRun       []string  `json:"commands_run"`
	SearchesPerformed []string  `json:"searches_performed"`
	OperationsCount   int       `json:"operations_count"`
	StartTime         time.Time `json:"start_time"`
}

// Todo is one item of the upstream tool's todo list.
type Todo struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// Operation is one tool invocation to record.
type Operation struct {
	Tool     string
	FilePath string
	Command  string
	Query    string
}

type document struct {
	TaskContext TaskContext `json:"task_context"`
	LastTodos   []Todo      `json:"last_todos"`
	SessionID   string      `json:"current_session_id,omitempty"`
}

// Store is the persisted task context. An empty path keeps it in memory.
type Store struct {
	path string
	now  func() time.Time

	mu  sync.Mutex
	doc document
}

// Open loads the store at path. Missing or corrupt files start a fresh
// context; missing keys fall back to defaults.
func Open(path string) *Store {
	s := &Store{path: path, now: time.Now}
	s.doc = s.fresh()
	if path != "" {
		var d document
		if err := statefile.ReadJSON(path, &d); err == nil {
			s.doc = s.merge(d)
		}
	}
	return s
}

func (s *Store) fresh() document {
	return document{TaskContext: TaskContext{StartTime: s.now()}}
}

func (s *Store) merge(d document) document {
	if d.TaskContext.StartTime.IsZero() {
		d.TaskContext.StartTime = s.now()
	}
	return d
}

// update applies fn to the latest persisted document.
func (s *Store) update(fn func(d *document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		fn(&s.doc)
		return nil
	}

	var d document
	err := statefile.Update(context.Background(), s.path, &d, func() error {
		d = s.merge(d)
		fn(&d)
		return nil
	})
	if err != nil {
		return err
	}
	s.doc = d
	return nil
}

// Record counts op and files it under the matching accumulator.
func (s *Store) Record(op Operation) error {
	return s.update(func(d *document) {
		tc := &d.TaskContext
		tc.OperationsCount++

		switch op.Tool {
		case "Write":
			if op.FilePath != "" {
				tc.FilesCreated = append(tc.FilesCreated, op.FilePath)
			}
		case "Edit", "MultiEdit":
			if op.FilePath != "" {
				tc.FilesModified = append(tc.FilesModified, op.FilePath)
			}
		case "Delete":
			if op.FilePath != "" {
				tc.FilesDeleted = append(tc.FilesDeleted, op.FilePath)
			}
		case "Bash":
			if op.Command != "" {
				tc.CommandsRun = append(tc.CommandsRun, op.Command)
			}
		case "Grep", "Glob", "WebSearch":
			if op.Query != "" {
				tc.SearchesPerformed = append(tc.SearchesPerformed, op.Query)
			}
		}
	})
}

// Reset starts a new unit of work.
func (s *Store) Reset() error {
	return s.update(func(d *document) {
		*d = s.fresh()
	})
}

// SetSession records the session the context belongs to. Switching to a
// different session resets the context.
func (s *Store) SetSession(id string) error {
	return s.update(func(d *document) {
		if d.SessionID != id {
			*d = s.fresh()
			d.SessionID = id
		}
	})
}

// Context returns a copy of the current task context.
func (s *Store) Context() TaskContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.TaskContext
}

// CompletedTodos compares todos with the previously seen list and
// returns the content of items that just became completed.
func (s *Store) CompletedTodos(todos []Todo) ([]string, error) {
	var completed []string
	err := s.update(func(d *document) {
		prev := make(map[string]Todo, len(d.LastTodos))
		for _, t := range d.LastTodos {
			prev[t.ID] = t
		}
		for _, t := range todos {
			old, ok := prev[t.ID]
			if ok && old.Status != "completed" && t.Status == "completed" {
				content := t.Content
				if content == "" {
					content = "task"
				}
				completed = append(completed, content)
			}
		}
		d.LastTodos = todos
	})
	return completed, err
}

// Summary describes the work done so far, or returns "" when nothing
// worth mentioning was recorded.
func (s *Store) Summary() string {
	return Summarize(s.Context())
}

// Summarize renders tc as a spoken sentence list.
func Summarize(tc TaskContext) string {
	if tc.OperationsCount == 0 {
		return ""
	}

	var parts []string
	if n := countUnique(tc.FilesCreated); n > 0 {
		parts = append(parts, "Created "+english.Plural(n, "file", ""))
	}
	if n := countUnique(tc.FilesModified); n > 0 {
		parts = append(parts, "Modified "+english.Plural(n, "file", ""))
	}
	if n := countUnique(tc.FilesDeleted); n > 0 {
		parts = append(parts, "Deleted "+english.Plural(n, "file", ""))
	}
	if n := len(tc.CommandsRun); n > 0 {
		parts = append(parts, "Ran "+english.Plural(n, "command", ""))
	}
	if n := len(tc.SearchesPerformed); n > 0 {
		parts = append(parts, "Performed "+english.Plural(n, "search", "searches"))
	}
	return strings.Join(parts, ". ")
}

func countUnique(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it] = struct{}{}
	}
	return len(seen)
}
