// Package query turns a user supplied source descriptor and its overrides
// into a canonical types.IngestionQuery.
package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/repodigest/internal/remote"
	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/utils"
)

const (
	defaultHost           = "github.com"
	errorResolveRefFormat = "resolve ref of %s: %w"
)

// Overrides carries the per-request options given next to the descriptor.
// Zero values mean "not set".
type Overrides struct {
	Branch            string
	SubPath           string
	IncludePatterns   []string
	ExcludePatterns   []string
	MaxFileSizeBytes  int64
	IncludeSubmodules bool
	IncludeGitIgnored bool
	Token             types.Secret
}

// RefResolver resolves symbolic refs against a remote. *remote.Resolver
// implements it.
type RefResolver interface {
	ResolveRef(ctx context.Context, request remote.RefRequest) (remote.RefResolution, error)
	Lookup(ctx context.Context, url string, token types.Secret, name string) (types.Ref, error)
	DefaultBranch(ctx context.Context, url string, token types.Secret) (types.Ref, error)
}

// Options configures a Resolver.
type Options struct {
	DefaultHost             string
	DefaultMaxFileSizeBytes int64
	WorkingDirectory        string
	// RefResolver may be nil, in which case refs are taken from the
	// descriptor without contacting the remote.
	RefResolver RefResolver
	Logger      *zap.Logger
}

// Resolver builds ingestion queries.
type Resolver struct {
	options Options
	logger  *zap.Logger
}

// NewResolver returns a Resolver using options.
func NewResolver(options Options) *Resolver {
	if options.DefaultHost == "" {
		options.DefaultHost = defaultHost
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{options: options, logger: logger}
}

// Resolve classifies descriptor as a local path or a repository reference
// and applies overrides.
func (resolver *Resolver) Resolve(ctx context.Context, descriptor string, overrides Overrides) (types.IngestionQuery, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: "empty descriptor"}
	}

	ingestionQuery := types.IngestionQuery{
		ID:                uuid.NewString(),
		IncludeSubmodules: overrides.IncludeSubmodules,
		IncludeGitIgnored: overrides.IncludeGitIgnored,
		MaxFileSizeBytes:  resolver.options.DefaultMaxFileSizeBytes,
		AuthToken:         overrides.Token,
	}
	if overrides.MaxFileSizeBytes > 0 {
		ingestionQuery.MaxFileSizeBytes = overrides.MaxFileSizeBytes
	}

	patterns, patternErr := resolver.resolvePatterns(overrides)
	if patternErr != nil {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: patternErr.Error()}
	}
	ingestionQuery.Patterns = patterns

	localPath, isLocal, statErr := resolver.localPath(descriptor)
	if statErr != nil {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: statErr.Error()}
	}
	if isLocal {
		return resolver.resolveLocal(descriptor, localPath, overrides, ingestionQuery)
	}
	return resolver.resolveRemote(ctx, descriptor, overrides, ingestionQuery)
}

func (resolver *Resolver) resolvePatterns(overrides Overrides) (types.PatternSet, error) {
	includePatterns, err := NormalizePatterns(overrides.IncludePatterns)
	if err != nil {
		return types.PatternSet{}, err
	}
	excludePatterns, err := NormalizePatterns(overrides.ExcludePatterns)
	if err != nil {
		return types.PatternSet{}, err
	}
	switch {
	case len(includePatterns) > 0:
		if len(excludePatterns) > 0 {
			resolver.logger.Debug("include and exclude patterns are mutually exclusive; ignoring exclude patterns",
				zap.Strings("include", includePatterns),
				zap.Strings("exclude", excludePatterns),
			)
		}
		return types.PatternSet{Mode: types.PatternInclude, Patterns: includePatterns}, nil
	case len(excludePatterns) > 0:
		return types.PatternSet{Mode: types.PatternExclude, Patterns: excludePatterns}, nil
	default:
		return types.PatternSet{}, nil
	}
}

// localPath reports whether descriptor names an existing filesystem entry.
func (resolver *Resolver) localPath(descriptor string) (string, bool, error) {
	if strings.Contains(descriptor, "://") {
		return "", false, nil
	}
	candidate := descriptor
	if strings.HasPrefix(candidate, "~"+string(filepath.Separator)) || candidate == "~" {
		homeDirectory, homeErr := os.UserHomeDir()
		if homeErr == nil {
			candidate = filepath.Join(homeDirectory, strings.TrimPrefix(candidate, "~"))
		}
	}
	if !filepath.IsAbs(candidate) && resolver.options.WorkingDirectory != "" {
		candidate = filepath.Join(resolver.options.WorkingDirectory, candidate)
	}
	if _, statErr := os.Stat(candidate); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, statErr
	}
	absolutePath, absErr := filepath.Abs(candidate)
	if absErr != nil {
		return "", false, absErr
	}
	return absolutePath, true, nil
}

func (resolver *Resolver) resolveLocal(descriptor, localPath string, overrides Overrides, ingestionQuery types.IngestionQuery) (types.IngestionQuery, error) {
	info, statErr := os.Stat(localPath)
	if statErr != nil {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: statErr.Error()}
	}
	subPath, valid := utils.CleanRelativePath(overrides.SubPath)
	if !valid {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: "sub path escapes the source root"}
	}
	if subPath != "" && !info.IsDir() {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: "a sub path requires a directory source"}
	}
	if overrides.Branch != "" {
		resolver.logger.Warn("branch override ignored for local source", zap.String("branch", overrides.Branch))
	}

	ingestionQuery.SourceKind = types.SourceLocal
	ingestionQuery.LocalPath = localPath
	ingestionQuery.Slug = filepath.Base(localPath)
	ingestionQuery.SubPath = subPath
	ingestionQuery.TargetsFile = !info.IsDir()
	if subPath != "" {
		if subInfo, subErr := os.Stat(utils.NativePath(localPath, subPath)); subErr == nil && !subInfo.IsDir() {
			ingestionQuery.TargetsFile = true
		}
	}
	resolver.logger.Debug("resolved local source",
		zap.String("query_id", ingestionQuery.ID),
		zap.String("path", localPath),
		zap.String("subpath", subPath),
	)
	return ingestionQuery, nil
}

func (resolver *Resolver) resolveRemote(ctx context.Context, descriptor string, overrides Overrides, ingestionQuery types.IngestionQuery) (types.IngestionQuery, error) {
	location, reason := parseRepositoryDescriptor(descriptor, resolver.options.DefaultHost)
	if reason != "" {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: reason}
	}

	ingestionQuery.SourceKind = types.SourceRemote
	ingestionQuery.URL = location.url
	ingestionQuery.Host = location.host
	ingestionQuery.Owner = location.owner
	ingestionQuery.RepoName = location.repository
	ingestionQuery.Slug = location.owner + "-" + location.repository
	ingestionQuery.TargetsFile = location.targetsFile

	ref, subPathSegments, err := resolver.resolveRef(ctx, location, overrides)
	if err != nil {
		return types.IngestionQuery{}, err
	}
	ingestionQuery.Ref = ref

	rawSubPath := strings.Join(subPathSegments, "/")
	if overrides.SubPath != "" {
		rawSubPath = overrides.SubPath
	}
	subPath, valid := utils.CleanRelativePath(rawSubPath)
	if !valid {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: "sub path escapes the repository root"}
	}
	if ingestionQuery.TargetsFile && subPath == "" {
		return types.IngestionQuery{}, &types.InvalidSourceError{Descriptor: descriptor, Reason: "blob URL does not name a file"}
	}
	ingestionQuery.SubPath = subPath

	resolver.logger.Debug("resolved remote source",
		zap.String("query_id", ingestionQuery.ID),
		zap.String("slug", ingestionQuery.Slug),
		zap.String("ref_kind", string(ref.Kind)),
		zap.String("ref", ref.Name),
		zap.String("subpath", subPath),
	)
	return ingestionQuery, nil
}

// resolveRef determines the ref and the sub path segments that follow it.
func (resolver *Resolver) resolveRef(ctx context.Context, location repositoryLocation, overrides Overrides) (types.Ref, []string, error) {
	segments := location.segments
	refResolver := resolver.options.RefResolver

	if overrides.Branch != "" {
		branchSegments := splitSegments(overrides.Branch)
		remaining := segments
		if hasSegmentPrefix(segments, branchSegments) {
			remaining = segments[len(branchSegments):]
		} else if len(segments) > 0 {
			_, urlRemaining, err := resolver.resolveSegments(ctx, location, overrides.Token, segments)
			if err != nil {
				return types.Ref{}, nil, err
			}
			remaining = urlRemaining
		}
		if refResolver == nil {
			return types.Ref{Kind: types.RefBranch, Name: overrides.Branch}, remaining, nil
		}
		ref, err := refResolver.Lookup(ctx, location.url, overrides.Token, overrides.Branch)
		if err != nil {
			return types.Ref{}, nil, err
		}
		return ref, remaining, nil
	}

	if len(segments) > 0 {
		return resolver.resolveSegments(ctx, location, overrides.Token, segments)
	}
	if refResolver == nil {
		return types.Ref{}, nil, nil
	}
	ref, err := refResolver.DefaultBranch(ctx, location.url, overrides.Token)
	if err != nil {
		return types.Ref{}, nil, err
	}
	return ref, nil, nil
}

func (resolver *Resolver) resolveSegments(ctx context.Context, location repositoryLocation, token types.Secret, segments []string) (types.Ref, []string, error) {
	if isCommitHash(segments[0]) {
		commit := strings.ToLower(segments[0])
		return types.Ref{Kind: types.RefCommit, Name: commit, Commit: commit}, segments[1:], nil
	}
	refResolver := resolver.options.RefResolver
	if refResolver == nil {
		if len(segments) == 1 {
			return types.Ref{Kind: types.RefBranch, Name: segments[0]}, nil, nil
		}
		return types.Ref{}, nil, &types.AmbiguousRefError{Segments: segments}
	}
	resolution, err := refResolver.ResolveRef(ctx, remote.RefRequest{URL: location.url, Segments: segments, Token: token})
	if err != nil {
		return types.Ref{}, nil, fmt.Errorf(errorResolveRefFormat, location.url, err)
	}
	return resolution.Ref, resolution.Remaining, nil
}

func hasSegmentPrefix(segments, prefix []string) bool {
	if len(prefix) == 0 || len(prefix) > len(segments) {
		return false
	}
	for index := range prefix {
		if segments[index] != prefix[index] {
			return false
		}
	}
	return true
}
