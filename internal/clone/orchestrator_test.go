package clone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/repodigest/internal/gitfixture"
	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/vcs"
)

type clonerFunc func(ctx context.Context, cloneConfig types.CloneConfig, destination string) error

func (fn clonerFunc) Clone(ctx context.Context, cloneConfig types.CloneConfig, destination string) error {
	return fn(ctx, cloneConfig, destination)
}

type diagnosticFailure struct{}

func (diagnosticFailure) Error() string      { return "exit status 128" }
func (diagnosticFailure) Diagnostic() string { return "fatal: couldn't find remote ref nope" }

func writingCloner(ctx context.Context, _ types.CloneConfig, destination string) error {
	return os.WriteFile(filepath.Join(destination, "README.md"), []byte("# hello\n"), 0o644)
}

func slowCloner(ctx context.Context, _ types.CloneConfig, destination string) error {
	if err := os.WriteFile(filepath.Join(destination, "partial"), []byte("x"), 0o644); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func workspaceEntries(t *testing.T, base string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	return entries
}

func TestAcquireAndRelease(t *testing.T) {
	base := t.TempDir()
	orchestrator := NewOrchestrator(clonerFunc(writingCloner), Options{TempDir: base})

	workspace, err := orchestrator.Acquire(context.Background(), types.CloneConfig{QueryID: "q1", URL: "https://example.com/o/r"})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(workspace.Path, "README.md"))
	assert.Contains(t, filepath.Base(workspace.Path), "repodigest-q1-")

	workspace.Release()
	workspace.Release()
	assert.NoDirExists(t, workspace.Path)
	assert.Empty(t, workspaceEntries(t, base))
}

func TestAcquireTimeoutRemovesWorkspace(t *testing.T) {
	base := t.TempDir()
	orchestrator := NewOrchestrator(clonerFunc(slowCloner), Options{TempDir: base, Timeout: 50 * time.Millisecond})

	workspace, err := orchestrator.Acquire(context.Background(), types.CloneConfig{QueryID: "q2", URL: "https://example.com/o/r"})
	require.Nil(t, workspace)
	var cloneFailed *types.CloneFailedError
	require.ErrorAs(t, err, &cloneFailed)
	assert.True(t, cloneFailed.TimedOut)
	assert.Equal(t, types.CategoryCloneFailed, types.CategoryOf(err))
	assert.Empty(t, workspaceEntries(t, base))
}

func TestAcquireCancellationIsNotTimeout(t *testing.T) {
	base := t.TempDir()
	orchestrator := NewOrchestrator(clonerFunc(slowCloner), Options{TempDir: base, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := orchestrator.Acquire(ctx, types.CloneConfig{QueryID: "q3", URL: "https://example.com/o/r"})
	var cloneFailed *types.CloneFailedError
	require.ErrorAs(t, err, &cloneFailed)
	assert.False(t, cloneFailed.TimedOut)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, workspaceEntries(t, base))
}

func TestAcquireCarriesDiagnostic(t *testing.T) {
	base := t.TempDir()
	cloner := clonerFunc(func(context.Context, types.CloneConfig, string) error { return diagnosticFailure{} })
	orchestrator := NewOrchestrator(cloner, Options{TempDir: base})

	_, err := orchestrator.Acquire(context.Background(), types.CloneConfig{QueryID: "q4", URL: "https://example.com/o/r"})
	var cloneFailed *types.CloneFailedError
	require.ErrorAs(t, err, &cloneFailed)
	assert.Equal(t, "fatal: couldn't find remote ref nope", cloneFailed.Diagnostic)
	assert.Contains(t, err.Error(), "couldn't find remote ref")
	assert.Empty(t, workspaceEntries(t, base))
}

func TestRejectWhenBusy(t *testing.T) {
	base := t.TempDir()
	started := make(chan struct{})
	proceed := make(chan struct{})
	cloner := clonerFunc(func(ctx context.Context, cloneConfig types.CloneConfig, destination string) error {
		close(started)
		<-proceed
		return writingCloner(ctx, cloneConfig, destination)
	})
	orchestrator := NewOrchestrator(cloner, Options{TempDir: base, MaxConcurrent: 1, RejectWhenBusy: true})

	type result struct {
		workspace *Workspace
		err       error
	}
	first := make(chan result, 1)
	go func() {
		workspace, err := orchestrator.Acquire(context.Background(), types.CloneConfig{QueryID: "first"})
		first <- result{workspace: workspace, err: err}
	}()
	<-started

	_, err := orchestrator.Acquire(context.Background(), types.CloneConfig{QueryID: "second"})
	var cloneFailed *types.CloneFailedError
	require.ErrorAs(t, err, &cloneFailed)
	assert.True(t, cloneFailed.Busy)

	close(proceed)
	firstResult := <-first
	require.NoError(t, firstResult.err)
	firstResult.workspace.Release()
}

func TestQueuedAcquireHonorsContext(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	cloner := clonerFunc(func(ctx context.Context, cloneConfig types.CloneConfig, destination string) error {
		close(started)
		<-proceed
		return nil
	})
	orchestrator := NewOrchestrator(cloner, Options{TempDir: t.TempDir(), MaxConcurrent: 1})

	done := make(chan error, 1)
	go func() {
		done <- orchestrator.WithWorkspace(context.Background(), types.CloneConfig{QueryID: "holder"}, func(string) error { return nil })
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := orchestrator.Acquire(ctx, types.CloneConfig{QueryID: "waiter"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(proceed)
	require.NoError(t, <-done)
}

func TestWithWorkspaceReleasesOnError(t *testing.T) {
	base := t.TempDir()
	orchestrator := NewOrchestrator(clonerFunc(writingCloner), Options{TempDir: base})
	failure := errors.New("traversal failed")

	var seenPath string
	err := orchestrator.WithWorkspace(context.Background(), types.CloneConfig{QueryID: "q5"}, func(workspacePath string) error {
		seenPath = workspacePath
		assert.FileExists(t, filepath.Join(workspacePath, "README.md"))
		return failure
	})
	assert.ErrorIs(t, err, failure)
	assert.NoDirExists(t, seenPath)
}

func TestAcquireClonesRepository(t *testing.T) {
	gitfixture.RequireGit(t)
	fixture := gitfixture.New(t, map[string]string{
		"docs/index.md": "# Docs\n",
		"src/main.go":   "package main\n",
	})
	fixture.CreateTag("v1.2.3", false)

	orchestrator := NewOrchestrator(vcs.NewCommandTransport(), Options{TempDir: t.TempDir(), Timeout: time.Minute})
	cloneConfig := types.CloneConfig{
		QueryID:      "q6",
		URL:          fixture.URL(),
		Ref:          types.Ref{Kind: types.RefTag, Name: "v1.2.3", Commit: fixture.Head()},
		Depth:        1,
		SingleBranch: true,
		SparsePath:   "docs",
	}
	err := orchestrator.WithWorkspace(context.Background(), cloneConfig, func(workspacePath string) error {
		assert.FileExists(t, filepath.Join(workspacePath, "docs", "index.md"))
		assert.NoFileExists(t, filepath.Join(workspacePath, "src", "main.go"))
		return nil
	})
	require.NoError(t, err)
}
