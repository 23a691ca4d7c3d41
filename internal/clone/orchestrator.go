// Package clone obtains ephemeral working trees of remote repositories. Every
// clone runs in its own temporary directory under a bounded number of
// concurrent slots, and the directory is removed on every failure path.
package clone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/temirov/repodigest/internal/types"
)

const (
	workspacePrefix           = "repodigest-"
	errorCreateWorkspaceFmt   = "create workspace: %w"
	errorWaitForSlotFmt       = "wait for clone slot: %w"
	defaultMaxConcurrentSlots = 4
	defaultCloneTimeout       = 60 * time.Second
)

// Cloner is the part of vcs.Transport the orchestrator needs.
type Cloner interface {
	Clone(ctx context.Context, cloneConfig types.CloneConfig, destination string) error
}

// diagnosticError is implemented by transport errors that carry git's stderr.
type diagnosticError interface {
	Diagnostic() string
}

// Options configures an Orchestrator.
type Options struct {
	Timeout        time.Duration
	MaxConcurrent  int
	RejectWhenBusy bool
	// TempDir is the base for workspaces; empty means os.TempDir().
	TempDir string
	Logger  *zap.Logger
}

// Orchestrator runs clones into temporary workspaces.
type Orchestrator struct {
	cloner         Cloner
	slots          *semaphore.Weighted
	timeout        time.Duration
	rejectWhenBusy bool
	tempDir        string
	logger         *zap.Logger
}

// NewOrchestrator returns an Orchestrator cloning through cloner.
func NewOrchestrator(cloner Cloner, options Options) *Orchestrator {
	maxConcurrent := options.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentSlots
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultCloneTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cloner:         cloner,
		slots:          semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:        timeout,
		rejectWhenBusy: options.RejectWhenBusy,
		tempDir:        options.TempDir,
		logger:         logger,
	}
}

// Workspace is a cloned working tree owned by one ingestion.
type Workspace struct {
	// Path is the root of the checked out repository.
	Path   string
	once   sync.Once
	logger *zap.Logger
}

// Release removes the workspace directory. It is safe to call repeatedly.
func (workspace *Workspace) Release() {
	if workspace == nil {
		return
	}
	workspace.once.Do(func() {
		if removeErr := os.RemoveAll(workspace.Path); removeErr != nil {
			workspace.logger.Warn("remove workspace", zap.String("path", workspace.Path), zap.Error(removeErr))
		}
	})
}

// Acquire clones cloneConfig into a fresh workspace. The caller must Release it.
func (orchestrator *Orchestrator) Acquire(ctx context.Context, cloneConfig types.CloneConfig) (*Workspace, error) {
	if err := orchestrator.acquireSlot(ctx, cloneConfig); err != nil {
		return nil, err
	}
	defer orchestrator.slots.Release(1)

	directory, mkdirErr := os.MkdirTemp(orchestrator.tempDir, workspacePrefix+cloneConfig.QueryID+"-*")
	if mkdirErr != nil {
		return nil, &types.CloneFailedError{URL: cloneConfig.URL, Err: fmt.Errorf(errorCreateWorkspaceFmt, mkdirErr)}
	}
	workspace := &Workspace{Path: directory, logger: orchestrator.logger}

	cloneContext, cancel := context.WithTimeout(ctx, orchestrator.timeout)
	defer cancel()

	started := time.Now()
	orchestrator.logger.Debug("cloning",
		zap.String("query_id", cloneConfig.QueryID),
		zap.String("url", cloneConfig.URL),
		zap.String("ref", cloneConfig.Ref.Name),
		zap.String("sparse_path", cloneConfig.SparsePath),
		zap.Duration("timeout", orchestrator.timeout),
	)
	cloneErr := orchestrator.cloner.Clone(cloneContext, cloneConfig, directory)
	if cloneErr == nil && cloneContext.Err() != nil {
		cloneErr = cloneContext.Err()
	}
	if cloneErr != nil {
		workspace.Release()
		failure := &types.CloneFailedError{
			URL:      cloneConfig.URL,
			TimedOut: errors.Is(cloneContext.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
			Err:      cloneErr,
		}
		var diagnostic diagnosticError
		if errors.As(cloneErr, &diagnostic) {
			failure.Diagnostic = diagnostic.Diagnostic()
		}
		orchestrator.logger.Debug("clone failed",
			zap.String("query_id", cloneConfig.QueryID),
			zap.Bool("timed_out", failure.TimedOut),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(cloneErr),
		)
		return nil, failure
	}

	orchestrator.logger.Debug("cloned",
		zap.String("query_id", cloneConfig.QueryID),
		zap.String("workspace", directory),
		zap.Duration("elapsed", time.Since(started)),
	)
	return workspace, nil
}

// WithWorkspace clones cloneConfig, calls fn with the workspace path and
// releases the workspace afterwards, whatever fn returns.
func (orchestrator *Orchestrator) WithWorkspace(ctx context.Context, cloneConfig types.CloneConfig, fn func(workspacePath string) error) error {
	workspace, err := orchestrator.Acquire(ctx, cloneConfig)
	if err != nil {
		return err
	}
	defer workspace.Release()
	return fn(workspace.Path)
}

func (orchestrator *Orchestrator) acquireSlot(ctx context.Context, cloneConfig types.CloneConfig) error {
	if orchestrator.rejectWhenBusy {
		if !orchestrator.slots.TryAcquire(1) {
			return &types.CloneFailedError{URL: cloneConfig.URL, Busy: true}
		}
		return nil
	}
	if err := orchestrator.slots.Acquire(ctx, 1); err != nil {
		return &types.CloneFailedError{URL: cloneConfig.URL, Err: fmt.Errorf(errorWaitForSlotFmt, err)}
	}
	return nil
}
