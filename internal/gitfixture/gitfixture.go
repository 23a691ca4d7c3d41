// Package gitfixture builds throwaway git repositories for tests. Remotes are
// addressed with file:// URLs, which go-git and the git command both serve
// through git-upload-pack, so tests using them need a git binary.
package gitfixture

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// DefaultBranch is the branch new fixtures start on.
const DefaultBranch = "main"

var signature = object.Signature{
	Name:  "Test Author",
	Email: "test@example.com",
	When:  time.Date(2024, time.January, 2, 15, 4, 0, 0, time.UTC),
}

// Repository is a non-bare repository on disk.
type Repository struct {
	Path       string
	repository *git.Repository
	t          *testing.T
}

// RequireGit skips the test when no git executable is available.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not available")
	}
}

// New initializes a repository on DefaultBranch and commits files.
func New(t *testing.T, files map[string]string) *Repository {
	t.Helper()
	repositoryPath := t.TempDir()
	repository, err := git.PlainInitWithOptions(repositoryPath, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch)},
	})
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	fixture := &Repository{Path: repositoryPath, repository: repository, t: t}
	fixture.Commit(files, "initial commit")
	return fixture
}

// URL returns the file:// URL of the repository.
func (fixture *Repository) URL() string {
	return "file://" + filepath.ToSlash(fixture.Path)
}

// Commit writes files relative to the repository root and commits them,
// returning the commit hash.
func (fixture *Repository) Commit(files map[string]string, message string) string {
	fixture.t.Helper()
	worktree, err := fixture.repository.Worktree()
	if err != nil {
		fixture.t.Fatalf("worktree: %v", err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		filePath := filepath.Join(fixture.Path, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			fixture.t.Fatalf("create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(filePath, []byte(files[name]), 0o644); err != nil {
			fixture.t.Fatalf("write %s: %v", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			fixture.t.Fatalf("add %s: %v", name, err)
		}
	}
	author := signature
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: &author, AllowEmptyCommits: true})
	if err != nil {
		fixture.t.Fatalf("commit: %v", err)
	}
	return commitHash.String()
}

// Head returns the hash HEAD points to.
func (fixture *Repository) Head() string {
	fixture.t.Helper()
	head, err := fixture.repository.Head()
	if err != nil {
		fixture.t.Fatalf("head: %v", err)
	}
	return head.Hash().String()
}

// CreateBranch creates name at HEAD and checks it out.
func (fixture *Repository) CreateBranch(name string) {
	fixture.t.Helper()
	branchReference := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.NewHash(fixture.Head()))
	if err := fixture.repository.Storer.SetReference(branchReference); err != nil {
		fixture.t.Fatalf("create branch %s: %v", name, err)
	}
	fixture.CheckoutBranch(name)
}

// CheckoutBranch switches the worktree to an existing branch.
func (fixture *Repository) CheckoutBranch(name string) {
	fixture.t.Helper()
	worktree, err := fixture.repository.Worktree()
	if err != nil {
		fixture.t.Fatalf("worktree: %v", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name), Force: true}); err != nil {
		fixture.t.Fatalf("checkout %s: %v", name, err)
	}
}

// CreateTag tags HEAD. Annotated tags get a tag object of their own.
func (fixture *Repository) CreateTag(name string, annotated bool) {
	fixture.t.Helper()
	var options *git.CreateTagOptions
	if annotated {
		tagger := signature
		options = &git.CreateTagOptions{Tagger: &tagger, Message: "release " + name}
	}
	if _, err := fixture.repository.CreateTag(name, plumbing.NewHash(fixture.Head()), options); err != nil {
		fixture.t.Fatalf("create tag %s: %v", name, err)
	}
}
