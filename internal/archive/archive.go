// Package archive mirrors saved matrix versions into a local git repository so every
// save, rename and delete has a commit to look back at.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/orchestrator"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/store"
)

const (
	markdownFile = "matrix.md"
	dataFile     = "matrix.json"
)

// ErrNotArchived is returned when a version has no files at the requested commit.
var ErrNotArchived = errors.New("archive: version not archived")

// CommitInfo describes one archive commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is what gets written for a version.
type Entry struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Timestamp time.Time        `json:"timestamp"`
	Data      repo.VersionData `json:"data"`
}

type Service struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex
	now func() time.Time
}

func New(dir string, log *zap.Logger) *Service {
	return &Service{dir: dir, log: logger.OrNop(log).Named("archive"), now: time.Now}
}

// Record writes the version's tables as markdown plus its JSON and commits them. Recording an unchanged
// version returns the current head without a new commit.
func (s *Service) Record(info repo.VersionInfo, data repo.VersionData, author, message string) (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open()
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := r.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(Entry{ID: info.ID, Name: info.Name, Timestamp: info.Timestamp, Data: data}, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal version: %w", err)
	}

	dir := filepath.Join(s.dir, "versions", info.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create version dir: %w", err)
	}
	files := map[string][]byte{
		markdownFile: []byte(renderMatrix(data)),
		dataFile:     append(payload, '\n'),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return CommitInfo{}, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := worktree.Add(versionPath(info.ID, name)); err != nil {
			return CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	return s.commit(r, worktree, author, message)
}

// Remove deletes the version's files and commits the removal. Versions that were never
// archived are ignored.
func (s *Service) Remove(id, author string) (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open()
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := r.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	for _, name := range []string{markdownFile, dataFile} {
		if _, err := os.Stat(filepath.Join(s.dir, "versions", id, name)); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if _, err := worktree.Remove(versionPath(id, name)); err != nil {
			return CommitInfo{}, fmt.Errorf("git rm %s: %w", name, err)
		}
	}
	_ = os.Remove(filepath.Join(s.dir, "versions", id))

	return s.commit(r, worktree, author, "Delete version "+id)
}

// History lists commits newest first. limit <= 0 means all.
func (s *Service) History(limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open()
	if err != nil {
		return nil, err
	}
	head, err := r.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := r.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toCommitInfo(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// VersionAt reads a version as it was at the given commit (short or full hash). An
// unknown commit, or a commit without that version, gives ErrNotArchived.
func (s *Service) VersionAt(hash, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.open()
	if err != nil {
		return Entry{}, err
	}
	resolved, err := resolveHash(r, hash)
	if err != nil {
		return Entry{}, err
	}
	c, err := r.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Entry{}, fmt.Errorf("%w: unknown commit %s", ErrNotArchived, hash)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := c.File(versionPath(id, dataFile))
	if errors.Is(err, object.ErrFileNotFound) {
		return Entry{}, ErrNotArchived
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load %s: %w", dataFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Entry{}, fmt.Errorf("read %s: %w", dataFile, err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(contents), &entry); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", dataFile, err)
	}
	return entry, nil
}

func (s *Service) open() (*git.Repository, error) {
	r, err := git.PlainOpen(s.dir)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	r, err = git.PlainInitWithOptions(s.dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	s.log.Info("initialised archive repository", zap.String("dir", s.dir))
	return r, nil
}

func (s *Service) commit(r *git.Repository, worktree *git.Worktree, author, message string) (CommitInfo, error) {
	status, err := worktree.Status()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := r.Head()
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return CommitInfo{}, nil
		}
		if err != nil {
			return CommitInfo{}, fmt.Errorf("resolve head: %w", err)
		}
		c, err := r.CommitObject(head.Hash())
		if err != nil {
			return CommitInfo{}, fmt.Errorf("read head commit: %w", err)
		}
		return toCommitInfo(c), nil
	}

	if author == "" {
		author = "bizmatrix"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.bizmatrix.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit: %w", err)
	}
	c, err := r.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(c), nil
}

func versionPath(id, name string) string {
	return path.Join("versions", id, name)
}

func toCommitInfo(c *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      c.Hash.String()[:7],
		Message:   c.Message,
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(r *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := r.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: unknown commit %s", ErrNotArchived, hash)
	}
	return *resolved, nil
}

// renderMatrix writes the task list, the company matrix and one matrix per department
// that has staff and assigned tasks.
func renderMatrix(data repo.VersionData) string {
	var b strings.Builder
	b.WriteString("## Tasks\n\n")
	b.WriteString(matrix.SerializeTasksToTable(data.Tasks))
	if len(data.Departments) == 0 {
		return b.String()
	}
	b.WriteString("\n## Company assignments\n\n")
	b.WriteString(matrix.SerializeAssignmentTable(data.Tasks, data.CompanyAssignments, orchestrator.DepartmentAssignees(data.Departments)))

	for _, dept := range orchestrator.DepartmentAssignees(data.Departments) {
		var members []store.Staff
		for _, member := range data.Staff {
			if member.DepartmentCode == dept.Key {
				members = append(members, member)
			}
		}
		scoped := orchestrator.TasksForAssignee(data.Tasks, data.CompanyAssignments, dept.Key)
		if len(members) == 0 || len(scoped) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", dept.Name)
		b.WriteString(matrix.SerializeAssignmentTable(scoped, data.DepartmentAssignments, orchestrator.StaffAssignees(members)))
	}
	return b.String()
}
