// Package ingest composes the pipeline: query resolution, reference
// resolution, cloning, traversal and formatting.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/repodigest/internal/clone"
	"github.com/temirov/repodigest/internal/config"
	"github.com/temirov/repodigest/internal/output"
	"github.com/temirov/repodigest/internal/query"
	"github.com/temirov/repodigest/internal/remote"
	"github.com/temirov/repodigest/internal/tokenizer"
	"github.com/temirov/repodigest/internal/traversal"
	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/vcs"
)

const (
	errorTransportFormat = "select transport: %w"
	errorLimitsFormat    = "invalid limits: %w"
)

// QueryResolver turns a descriptor into an ingestion query.
type QueryResolver interface {
	Resolve(ctx context.Context, descriptor string, overrides query.Overrides) (types.IngestionQuery, error)
}

// WorkspaceProvider runs a function against a fresh clone.
type WorkspaceProvider interface {
	WithWorkspace(ctx context.Context, cloneConfig types.CloneConfig, fn func(workspacePath string) error) error
}

// TreeWalker walks a local tree.
type TreeWalker interface {
	Walk(ctx context.Context, options traversal.Options) (traversal.Result, error)
}

// DigestFormatter renders a traversal result.
type DigestFormatter interface {
	Format(ctx context.Context, input output.Input) (types.Digest, error)
}

// Dependencies wires a Service. Every component is required.
type Dependencies struct {
	Queries    QueryResolver
	Workspaces WorkspaceProvider
	Walker     TreeWalker
	Formatter  DigestFormatter
	Limits     config.Limits
	// ShowFiltered keeps filtered entries in the tree.
	ShowFiltered bool
	// Warn receives per-entry problems of every ingestion. It must be safe
	// for concurrent use when ingestions run in parallel. Nil discards them.
	Warn   func(string)
	Logger *zap.Logger
}

// Service runs ingestions. It holds no per-ingestion state and may be
// shared between goroutines.
type Service struct {
	dependencies Dependencies
	logger       *zap.Logger
}

// NewService returns a Service using dependencies.
func NewService(dependencies Dependencies) *Service {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{dependencies: dependencies, logger: logger}
}

// Options configures New.
type Options struct {
	Settings         config.Settings
	WorkingDirectory string
	Warn             func(string)
	Logger           *zap.Logger
}

// New builds a Service from resolved settings: the transport named by
// clone.transport, the remote and query resolvers, the clone orchestrator,
// the traversal engine and a formatter counting tokens with the configured
// model. A tokenizer that cannot load leaves estimates unavailable.
func New(options Options) (*Service, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := options.Settings
	if err := settings.Limits.Validate(); err != nil {
		return nil, fmt.Errorf(errorLimitsFormat, err)
	}
	transport, err := vcs.New(settings.Clone.Transport)
	if err != nil {
		return nil, fmt.Errorf(errorTransportFormat, err)
	}

	refResolver := remote.NewResolver(transport, remote.Options{
		MaxRetries:      settings.Remote.MaxRetries,
		RetryMaxElapsed: settings.Remote.RetryMaxElapsed,
		Logger:          logger.Named("remote"),
	})
	queryResolver := query.NewResolver(query.Options{
		DefaultHost:             settings.Remote.DefaultHost,
		DefaultMaxFileSizeBytes: settings.Limits.MaxFileSizeBytes,
		WorkingDirectory:        options.WorkingDirectory,
		RefResolver:             refResolver,
		Logger:                  logger.Named("query"),
	})
	orchestrator := clone.NewOrchestrator(transport, clone.Options{
		Timeout:        settings.Clone.Timeout,
		MaxConcurrent:  settings.Clone.MaxConcurrent,
		RejectWhenBusy: settings.Clone.RejectWhenBusy,
		TempDir:        settings.Clone.TempDir,
		Logger:         logger.Named("clone"),
	})

	counter, counterErr := tokenizer.NewCounter(tokenizer.Config{Model: settings.TokenModel})
	if counterErr != nil {
		logger.Warn("tokenizer unavailable, token estimates disabled", zap.Error(counterErr))
		counter = nil
	}

	return NewService(Dependencies{
		Queries:      queryResolver,
		Workspaces:   orchestrator,
		Walker:       traversal.NewEngine(logger.Named("traversal")),
		Formatter:    output.NewFormatter(counter, logger.Named("output")),
		Limits:       settings.Limits,
		ShowFiltered: settings.ShowFiltered,
		Warn:         options.Warn,
		Logger:       logger,
	}), nil
}

// Ingest resolves descriptor, obtains its tree and returns the digest. For
// remote sources the workspace is removed before Ingest returns, whether
// it succeeds, fails or is cancelled.
func (service *Service) Ingest(ctx context.Context, descriptor string, overrides query.Overrides) (types.Digest, error) {
	startTime := time.Now()
	ingestionQuery, err := service.dependencies.Queries.Resolve(ctx, descriptor, overrides)
	if err != nil {
		return types.Digest{}, err
	}
	logger := service.logger.With(
		zap.String("query_id", ingestionQuery.ID),
		zap.String("slug", ingestionQuery.Slug),
		zap.String("source", string(ingestionQuery.SourceKind)),
	)
	logger.Info("ingestion started",
		zap.String("ref", ingestionQuery.Ref.Name),
		zap.String("commit", ingestionQuery.Ref.Commit),
		zap.String("subpath", ingestionQuery.SubPath),
	)

	var digest types.Digest
	if ingestionQuery.IsRemote() {
		err = service.dependencies.Workspaces.WithWorkspace(ctx, types.NewCloneConfig(ingestionQuery), func(workspacePath string) error {
			var digestErr error
			digest, digestErr = service.digest(ctx, ingestionQuery, workspacePath)
			return digestErr
		})
	} else {
		digest, err = service.digest(ctx, ingestionQuery, ingestionQuery.LocalPath)
	}
	if err != nil {
		logger.Info("ingestion failed",
			zap.String("category", string(types.CategoryOf(err))),
			zap.Duration("elapsed", time.Since(startTime)),
			zap.Error(err),
		)
		return types.Digest{}, err
	}

	logger.Info("ingestion finished",
		zap.Int("files", digest.IncludedFiles),
		zap.Int("tokens", digest.EstimatedTokenCount),
		zap.Bool("partial", digest.Partial),
		zap.Bool("truncated", digest.Truncated),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return digest, nil
}

func (service *Service) digest(ctx context.Context, ingestionQuery types.IngestionQuery, root string) (types.Digest, error) {
	result, err := service.dependencies.Walker.Walk(ctx, traversal.Options{
		Root:              root,
		SubPath:           ingestionQuery.SubPath,
		Limits:            service.dependencies.Limits,
		MaxFileSizeBytes:  ingestionQuery.MaxFileSizeBytes,
		Patterns:          ingestionQuery.Patterns,
		IncludeGitIgnored: ingestionQuery.IncludeGitIgnored,
		ShowFiltered:      service.dependencies.ShowFiltered,
		Warn:              service.dependencies.Warn,
	})
	if err != nil {
		return types.Digest{}, err
	}
	return service.dependencies.Formatter.Format(ctx, output.Input{
		Query:  ingestionQuery,
		Root:   result.Root,
		Stats:  result.Stats,
		Limits: service.dependencies.Limits,
	})
}
