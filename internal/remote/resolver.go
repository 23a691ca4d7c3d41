// Package remote resolves symbolic path segments of a repository URL into a
// concrete branch or tag by reading the remote's reference advertisement.
package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/vcs"
)

const (
	defaultMaxRetries      = 3
	defaultRetryMaxElapsed = 15 * time.Second
)

// ReferenceLister is the part of vcs.Transport the resolver needs.
type ReferenceLister interface {
	ListReferences(ctx context.Context, url string, token types.Secret) ([]vcs.Reference, error)
}

// Options tunes retrying of transient listing failures.
type Options struct {
	MaxRetries      int
	RetryMaxElapsed time.Duration
	Logger          *zap.Logger
	// BackOff overrides the exponential policy. Tests use a constant zero delay.
	BackOff func() backoff.BackOff
}

// RefRequest names the remote and the ordered path segments that begin with a ref.
type RefRequest struct {
	URL      string
	Segments []string
	Token    types.Secret
}

// RefResolution is the ref found at the start of the segments and the
// segments left over, which form the sub path.
type RefResolution struct {
	Ref       types.Ref
	Remaining []string
}

// Resolver matches path segments against advertised references.
type Resolver struct {
	lister          ReferenceLister
	logger          *zap.Logger
	maxRetries      int
	retryMaxElapsed time.Duration
	newBackOff      func() backoff.BackOff
}

// NewResolver returns a Resolver listing references through lister.
func NewResolver(lister ReferenceLister, options Options) *Resolver {
	resolver := &Resolver{
		lister:          lister,
		logger:          options.Logger,
		maxRetries:      options.MaxRetries,
		retryMaxElapsed: options.RetryMaxElapsed,
		newBackOff:      options.BackOff,
	}
	if resolver.logger == nil {
		resolver.logger = zap.NewNop()
	}
	if resolver.maxRetries < 0 {
		resolver.maxRetries = defaultMaxRetries
	}
	if resolver.retryMaxElapsed <= 0 {
		resolver.retryMaxElapsed = defaultRetryMaxElapsed
	}
	if resolver.newBackOff == nil {
		resolver.newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return resolver
}

// ResolveRef finds the longest cumulative join of the leading segments that
// names a branch or tag. A branch wins over a tag of the same name.
func (resolver *Resolver) ResolveRef(ctx context.Context, request RefRequest) (RefResolution, error) {
	candidates := candidateNames(request.Segments)
	if len(candidates) == 0 {
		return RefResolution{}, &types.RefNotFoundError{URL: request.URL}
	}
	references, err := resolver.References(ctx, request.URL, request.Token)
	if err != nil {
		return RefResolution{}, err
	}
	index := newReferenceIndex(references)
	for length := len(candidates); length > 0; length-- {
		ref, found := index.lookup(candidates[length-1])
		if !found {
			continue
		}
		resolver.logger.Debug("resolved ref",
			zap.String("name", ref.Name),
			zap.String("kind", string(ref.Kind)),
			zap.String("commit", ref.Commit),
			zap.Int("remaining_segments", len(request.Segments)-length),
		)
		return RefResolution{Ref: ref, Remaining: append([]string(nil), request.Segments[length:]...)}, nil
	}
	return RefResolution{}, &types.RefNotFoundError{URL: request.URL, Candidates: candidates}
}

// Lookup resolves an exact branch or tag name.
func (resolver *Resolver) Lookup(ctx context.Context, url string, token types.Secret, name string) (types.Ref, error) {
	references, err := resolver.References(ctx, url, token)
	if err != nil {
		return types.Ref{}, err
	}
	ref, found := newReferenceIndex(references).lookup(name)
	if !found {
		return types.Ref{}, &types.RefNotFoundError{URL: url, Candidates: []string{name}}
	}
	return ref, nil
}

// DefaultBranch returns the branch the remote HEAD points to.
func (resolver *Resolver) DefaultBranch(ctx context.Context, url string, token types.Secret) (types.Ref, error) {
	references, err := resolver.References(ctx, url, token)
	if err != nil {
		return types.Ref{}, err
	}
	index := newReferenceIndex(references)
	if index.head == nil {
		return types.Ref{}, &types.RefNotFoundError{URL: url, Candidates: []string{"HEAD"}}
	}
	if target := index.head.Target; target != "" {
		if hash, found := index.branches[target]; found {
			return types.Ref{Kind: types.RefBranch, Name: target, Commit: hash}, nil
		}
	}
	// Without a symref advertisement the branch sharing HEAD's commit is the
	// best guess; main and master are preferred over the alphabetical first.
	var matching []string
	for name, hash := range index.branches {
		if hash == index.head.Hash {
			matching = append(matching, name)
		}
	}
	if len(matching) == 0 {
		return types.Ref{Kind: types.RefCommit, Name: index.head.Hash, Commit: index.head.Hash}, nil
	}
	return types.Ref{Kind: types.RefBranch, Name: preferredBranch(matching), Commit: index.head.Hash}, nil
}

// References lists the remote's references, retrying transient failures.
func (resolver *Resolver) References(ctx context.Context, url string, token types.Secret) ([]vcs.Reference, error) {
	started := time.Now()
	attempt := 0
	operation := func() ([]vcs.Reference, error) {
		attempt++
		references, err := resolver.lister.ListReferences(ctx, url, token)
		if err == nil {
			return references, nil
		}
		if vcs.IsPermanent(err) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	references, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(resolver.newBackOff()),
		backoff.WithMaxTries(uint(resolver.maxRetries+1)),
		backoff.WithMaxElapsedTime(resolver.retryMaxElapsed),
		backoff.WithNotify(func(err error, delay time.Duration) {
			resolver.logger.Debug("retrying reference listing",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, &types.RemoteUnreachableError{
			URL:        url,
			NeedsToken: errors.Is(err, vcs.ErrRepositoryNotFound) || errors.Is(err, vcs.ErrAuthenticationRequired),
			Err:        err,
		}
	}
	resolver.logger.Debug("listed references",
		zap.String("url", url),
		zap.Int("references", len(references)),
		zap.Int("attempts", attempt),
		zap.Duration("elapsed", time.Since(started)),
	)
	return references, nil
}

func candidateNames(segments []string) []string {
	candidates := make([]string, 0, len(segments))
	for index := range segments {
		if segments[index] == "" {
			break
		}
		candidates = append(candidates, strings.Join(segments[:index+1], "/"))
	}
	return candidates
}

func preferredBranch(names []string) string {
	best := names[0]
	for _, name := range names {
		switch {
		case name == "main":
			return name
		case name == "master":
			best = name
		case best != "master" && name < best:
			best = name
		}
	}
	return best
}

type referenceIndex struct {
	head     *vcs.Reference
	branches map[string]string
	tags     map[string]string
}

func newReferenceIndex(references []vcs.Reference) referenceIndex {
	index := referenceIndex{branches: map[string]string{}, tags: map[string]string{}}
	peeledTags := map[string]string{}
	for position := range references {
		reference := references[position]
		switch reference.Kind {
		case vcs.ReferenceHead:
			index.head = &references[position]
		case vcs.ReferenceBranch:
			index.branches[reference.Name] = reference.Hash
		case vcs.ReferenceTag:
			if reference.Peeled {
				peeledTags[reference.Name] = reference.Hash
				continue
			}
			index.tags[reference.Name] = reference.Hash
		}
	}
	for name, hash := range peeledTags {
		index.tags[name] = hash
	}
	return index
}

func (index referenceIndex) lookup(name string) (types.Ref, bool) {
	if hash, found := index.branches[name]; found {
		return types.Ref{Kind: types.RefBranch, Name: name, Commit: hash}, true
	}
	if hash, found := index.tags[name]; found {
		return types.Ref{Kind: types.RefTag, Name: name, Commit: hash}, true
	}
	return types.Ref{}, false
}
