package state

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRecord(t *testing.T) {
	s := Open("")

	ops := []Operation{
		{Tool: "Write", FilePath: "a.go"},
		{Tool: "Write", FilePath: "a.go"},
		{Tool: "Edit", FilePath: "b.go"},
		{Tool: "MultiEdit", FilePath: "c.go"},
		{Tool: "Bash", Command: "go test ./..."},
		{Tool: "Grep", Query: "TODO"},
		{Tool: "WebSearch", Query: "flock windows"},
		{Tool: "Read", FilePath: "d.go"},
		{Tool: "Bash"},
	}
	for _, op := range ops {
		if err := s.Record(op); err != nil {
			t.Fatalf("Record(%+v) error = %v", op, err)
		}
	}

	tc := s.Context()
	if tc.OperationsCount != len(ops) {
		t.Errorf("OperationsCount = %d, want %d", tc.OperationsCount, len(ops))
	}
	if !reflect.DeepEqual(tc.FilesModified, []string{"b.go", "c.go"}) {
		t.Errorf("FilesModified = %v", tc.FilesModified)
	}
	if len(tc.CommandsRun) != 1 || len(tc.SearchesPerformed) != 2 {
		t.Errorf("commands = %v, searches = %v", tc.CommandsRun, tc.SearchesPerformed)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		tc   TaskContext
		want string
	}{
		{"nothing recorded", TaskContext{}, ""},
		{"only reads", TaskContext{OperationsCount: 3}, ""},
		{
			name: "everything",
			tc: TaskContext{
				OperationsCount:   8,
				FilesCreated:      []string{"a", "a", "b"},
				FilesModified:     []string{"c"},
				CommandsRun:       []string{"ls", "ls"},
				SearchesPerformed: []string{"x"},
			},
			want: "Created 2 files. Modified 1 file. Ran 2 commands. Performed 1 search",
		},
		{
			name: "searches plural",
			tc:   TaskContext{OperationsCount: 2, SearchesPerformed: []string{"x", "y"}},
			want: "Performed 2 searches",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.tc); got != tt.want {
				t.Errorf("Summarize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPersistenceAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	a := Open(path)
	_ = a.Record(Operation{Tool: "Write", FilePath: "x.go"})

	b := Open(path)
	_ = b.Record(Operation{Tool: "Bash", Command: "make"})
	if got := b.Summary(); got != "Created 1 file. Ran 1 command" {
		t.Errorf("Summary() = %q", got)
	}

	if err := b.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := Open(path).Context().OperationsCount; got != 0 {
		t.Errorf("OperationsCount after Reset = %d, want 0", got)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	_ = os.WriteFile(path, []byte(`{"task_context": {}}`), 0o644)

	tc := Open(path).Context()
	if tc.StartTime.IsZero() {
		t.Error("StartTime not defaulted for an incomplete file")
	}

	_ = os.WriteFile(path, []byte(`{oops`), 0o644)
	s := Open(path)
	if err := s.Record(Operation{Tool: "Write", FilePath: "y"}); err != nil {
		t.Fatalf("Record() over corrupt file error = %v", err)
	}
	if got := s.Context().OperationsCount; got != 1 {
		t.Errorf("OperationsCount = %d, want 1", got)
	}
}

func TestCompletedTodos(t *testing.T) {
	s := Open("")

	first := []Todo{{ID: "1", Content: "write tests", Status: "in_progress"}, {ID: "2", Content: "docs", Status: "pending"}}
	if done, _ := s.CompletedTodos(first); len(done) != 0 {
		t.Errorf("CompletedTodos(first) = %v, want none", done)
	}

	second := []Todo{{ID: "1", Content: "write tests", Status: "completed"}, {ID: "2", Content: "docs", Status: "pending"}, {ID: "3", Content: "new", Status: "completed"}}
	done, _ := s.CompletedTodos(second)
	if !reflect.DeepEqual(done, []string{"write tests"}) {
		t.Errorf("CompletedTodos(second) = %v, want [write tests]", done)
	}
}

func TestSetSessionResets(t *testing.T) {
	s := Open("")
	_ = s.SetSession("one")
	_ = s.Record(Operation{Tool: "Write", FilePath: "a"})
	_ = s.SetSession("one")
	if s.Context().OperationsCount != 1 {
		t.Error("same session reset the context")
	}
	_ = s.SetSession("two")
	if s.Context().OperationsCount != 0 {
		t.Error("new session kept the old context")
	}
}
