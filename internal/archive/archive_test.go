package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/store"
)

func sampleVersion() (repo.VersionInfo, repo.VersionData) {
	info := repo.VersionInfo{ID: "ver-1", Name: "Q1 plan", Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	data := repo.VersionData{
		Tasks: []matrix.Task{
			{ID: "t1", Name: "Sales", IsGroupHeader: true},
			{ID: "t2", Levels: matrix.Levels{MC1: "A1"}, Name: "Quote"},
		},
		CompanyAssignments:    matrix.Assignments{"t2": {"KD": "Q"}},
		DepartmentAssignments: matrix.Assignments{"t2": {"stf-1": "T"}},
		Departments:           []store.Department{{Code: "KD", Name: "Kinh doanh", Priority: 1}},
		Staff:                 []store.Staff{{ID: "stf-1", Name: "Lan", DepartmentCode: "KD"}},
	}
	return info, data
}

func TestRecordWritesFilesAndCommits(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil)
	info, data := sampleVersion()

	commit, err := svc.Record(info, data, "Avery", "Save version Q1 plan")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	md, err := os.ReadFile(filepath.Join(dir, "versions", "ver-1", "matrix.md"))
	if err != nil {
		t.Fatalf("read matrix.md: %v", err)
	}
	for _, want := range []string{
		"## Tasks",
		"|  | **Sales** |\n",
		"| A1 | Quote |\n",
		"| Code | Task | Kinh doanh |",
		"| A1 | Quote | Q |",
		"## Kinh doanh",
		"| Code | Task | Lan |",
		"| A1 | Quote | T |",
	} {
		if !strings.Contains(string(md), want) {
			t.Fatalf("matrix.md missing %q:\n%s", want, md)
		}
	}

	entry, err := svc.VersionAt(commit.Hash, "ver-1")
	if err != nil {
		t.Fatalf("VersionAt() error = %v", err)
	}
	if entry.Name != "Q1 plan" || len(entry.Data.Tasks) != 2 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestRecordUnchangedDoesNotCommit(t *testing.T) {
	svc := New(t.TempDir(), nil)
	info, data := sampleVersion()

	first, err := svc.Record(info, data, "Avery", "Save")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	second, err := svc.Record(info, data, "Avery", "Save again")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Hash != second.Hash {
		t.Fatalf("expected same head, got %s and %s", first.Hash, second.Hash)
	}

	history, err := svc.History(0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one commit, got %d", len(history))
	}
}

func TestRenameAndRemoveShowInHistory(t *testing.T) {
	svc := New(t.TempDir(), nil)
	info, data := sampleVersion()

	saved, err := svc.Record(info, data, "Avery", "Save version Q1 plan")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	info.Name = "Q1 final"
	if _, err := svc.Record(info, data, "Avery", "Rename version"); err != nil {
		t.Fatalf("Record() rename error = %v", err)
	}
	removed, err := svc.Remove("ver-1", "Avery")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	history, err := svc.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(history))
	}
	if !strings.HasPrefix(history[0].Message, "Delete version ver-1") {
		t.Fatalf("unexpected newest commit: %+v", history[0])
	}

	if _, err := svc.VersionAt(removed.Hash, "ver-1"); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived after removal, got %v", err)
	}
	old, err := svc.VersionAt(saved.Hash, "ver-1")
	if err != nil {
		t.Fatalf("VersionAt() error = %v", err)
	}
	if old.Name != "Q1 plan" {
		t.Fatalf("expected original name at first commit, got %q", old.Name)
	}

	limited, err := svc.History(1)
	if err != nil {
		t.Fatalf("History(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 commit with limit, got %d", len(limited))
	}
}

func TestVersionAtUnknownCommit(t *testing.T) {
	svc := New(t.TempDir(), nil)
	info, data := sampleVersion()
	if _, err := svc.Record(info, data, "Avery", "Save"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := svc.VersionAt("deadbee", "ver-1"); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived for unknown commit, got %v", err)
	}
}

func TestHistoryOfEmptyArchive(t *testing.T) {
	svc := New(t.TempDir(), nil)
	history, err := svc.History(5)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestRemoveUnknownVersionIsNoop(t *testing.T) {
	svc := New(t.TempDir(), nil)
	commit, err := svc.Remove("ver-missing", "Avery")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if commit.Hash != "" {
		t.Fatalf("expected no commit, got %+v", commit)
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Lee": "Avery.Lee",
		"":          "user",
		"Nguyễn":    "Nguyn",
	}
	for input, want := range cases {
		if got := sanitizeEmail(input); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", input, got, want)
		}
	}
}
