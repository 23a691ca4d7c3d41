package query

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/repodigest/internal/remote"
	"github.com/temirov/repodigest/internal/types"
)

const testCommit = "0123456789abcdef0123456789abcdef01234567"

type fakeRefResolver struct {
	refs          map[string]types.Ref
	defaultBranch types.Ref
	requests      []remote.RefRequest
}

func (resolver *fakeRefResolver) ResolveRef(_ context.Context, request remote.RefRequest) (remote.RefResolution, error) {
	resolver.requests = append(resolver.requests, request)
	for length := len(request.Segments); length > 0; length-- {
		if ref, found := resolver.refs[strings.Join(request.Segments[:length], "/")]; found {
			return remote.RefResolution{Ref: ref, Remaining: request.Segments[length:]}, nil
		}
	}
	return remote.RefResolution{}, &types.RefNotFoundError{URL: request.URL}
}

func (resolver *fakeRefResolver) Lookup(_ context.Context, url string, _ types.Secret, name string) (types.Ref, error) {
	if ref, found := resolver.refs[name]; found {
		return ref, nil
	}
	return types.Ref{}, &types.RefNotFoundError{URL: url, Candidates: []string{name}}
}

func (resolver *fakeRefResolver) DefaultBranch(_ context.Context, _ string, _ types.Secret) (types.Ref, error) {
	return resolver.defaultBranch, nil
}

func newFakeRefResolver() *fakeRefResolver {
	return &fakeRefResolver{
		refs: map[string]types.Ref{
			"main":      {Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
			"feature/x": {Kind: types.RefBranch, Name: "feature/x", Commit: strings.Repeat("2", 40)},
			"v1.2.3":    {Kind: types.RefTag, Name: "v1.2.3", Commit: strings.Repeat("3", 40)},
		},
		defaultBranch: types.Ref{Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
	}
}

func newTestResolver(t *testing.T, refResolver RefResolver) *Resolver {
	t.Helper()
	return NewResolver(Options{
		DefaultMaxFileSizeBytes: 1024,
		WorkingDirectory:        t.TempDir(),
		RefResolver:             refResolver,
	})
}

func TestResolveRemoteDescriptors(t *testing.T) {
	testCases := []struct {
		name        string
		descriptor  string
		url         string
		host        string
		ref         types.Ref
		subPath     string
		targetsFile bool
	}{
		{
			name:       "bare owner and repository",
			descriptor: "octo/hello",
			url:        "https://github.com/octo/hello",
			host:       "github.com",
			ref:        types.Ref{Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
		},
		{
			name:       "host without scheme",
			descriptor: "gitlab.com/group/project",
			url:        "https://gitlab.com/group/project",
			host:       "gitlab.com",
			ref:        types.Ref{Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
		},
		{
			name:       "tag with sub path",
			descriptor: "https://github.com/octo/hello/tree/v1.2.3/docs",
			url:        "https://github.com/octo/hello",
			host:       "github.com",
			ref:        types.Ref{Kind: types.RefTag, Name: "v1.2.3", Commit: strings.Repeat("3", 40)},
			subPath:    "docs",
		},
		{
			name:       "branch containing a slash",
			descriptor: "https://github.com/octo/hello/tree/feature/x/src/pkg",
			url:        "https://github.com/octo/hello",
			host:       "github.com",
			ref:        types.Ref{Kind: types.RefBranch, Name: "feature/x", Commit: strings.Repeat("2", 40)},
			subPath:    "src/pkg",
		},
		{
			name:        "blob targets a file",
			descriptor:  "https://github.com/octo/hello/blob/main/README.md",
			url:         "https://github.com/octo/hello",
			host:        "github.com",
			ref:         types.Ref{Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
			subPath:     "README.md",
			targetsFile: true,
		},
		{
			name:       "commit hash needs no lookup",
			descriptor: "https://github.com/octo/hello/tree/" + testCommit + "/lib",
			url:        "https://github.com/octo/hello",
			host:       "github.com",
			ref:        types.Ref{Kind: types.RefCommit, Name: testCommit, Commit: testCommit},
			subPath:    "lib",
		},
		{
			name:       "gitlab tree form",
			descriptor: "https://gitlab.com/group/project/-/tree/main/cmd",
			url:        "https://gitlab.com/group/project",
			host:       "gitlab.com",
			ref:        types.Ref{Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
			subPath:    "cmd",
		},
		{
			name:       "issues page resolves to the root",
			descriptor: "https://github.com/octo/hello/issues/12",
			url:        "https://github.com/octo/hello",
			host:       "github.com",
			ref:        types.Ref{Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
		},
		{
			name:       "git suffix and scp form",
			descriptor: "git@codeberg.org:octo/hello.git",
			url:        "https://codeberg.org/octo/hello",
			host:       "codeberg.org",
			ref:        types.Ref{Kind: types.RefBranch, Name: "main", Commit: strings.Repeat("1", 40)},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resolver := newTestResolver(t, newFakeRefResolver())
			ingestionQuery, err := resolver.Resolve(context.Background(), testCase.descriptor, Overrides{})
			require.NoError(t, err)
			assert.Equal(t, types.SourceRemote, ingestionQuery.SourceKind)
			assert.Equal(t, testCase.url, ingestionQuery.URL)
			assert.Equal(t, testCase.host, ingestionQuery.Host)
			assert.Equal(t, testCase.ref, ingestionQuery.Ref)
			assert.Equal(t, testCase.subPath, ingestionQuery.SubPath)
			assert.Equal(t, testCase.targetsFile, ingestionQuery.TargetsFile)
			assert.NotEmpty(t, ingestionQuery.ID)
			assert.Equal(t, int64(1024), ingestionQuery.MaxFileSizeBytes)
		})
	}
}

func TestResolveTagSubPathProducesSparsePath(t *testing.T) {
	resolver := newTestResolver(t, newFakeRefResolver())

	ingestionQuery, err := resolver.Resolve(context.Background(), "https://github.com/octo/hello/tree/v1.2.3/docs", Overrides{})
	require.NoError(t, err)

	cloneConfig := types.NewCloneConfig(ingestionQuery)
	assert.Equal(t, "docs", cloneConfig.SparsePath)
	assert.Equal(t, "v1.2.3", cloneConfig.Ref.Name)
	assert.Equal(t, types.RefTag, cloneConfig.Ref.Kind)
	assert.Equal(t, 1, cloneConfig.Depth)
}

func TestResolveWithoutRefResolver(t *testing.T) {
	resolver := newTestResolver(t, nil)

	ingestionQuery, err := resolver.Resolve(context.Background(), "octo/hello/tree/develop", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, types.Ref{Kind: types.RefBranch, Name: "develop"}, ingestionQuery.Ref)
	assert.Empty(t, ingestionQuery.SubPath)

	ingestionQuery, err = resolver.Resolve(context.Background(), "octo/hello", Overrides{})
	require.NoError(t, err)
	assert.True(t, ingestionQuery.Ref.IsZero())

	_, err = resolver.Resolve(context.Background(), "octo/hello/tree/feature/x/src", Overrides{})
	var ambiguous *types.AmbiguousRefError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"feature", "x", "src"}, ambiguous.Segments)
}

func TestResolveOverrides(t *testing.T) {
	t.Run("branch override consumes its segments", func(t *testing.T) {
		refResolver := newFakeRefResolver()
		resolver := newTestResolver(t, refResolver)
		ingestionQuery, err := resolver.Resolve(context.Background(), "https://github.com/octo/hello/tree/feature/x/src", Overrides{Branch: "feature/x"})
		require.NoError(t, err)
		assert.Equal(t, "feature/x", ingestionQuery.Ref.Name)
		assert.Equal(t, "src", ingestionQuery.SubPath)
		assert.Empty(t, refResolver.requests)
	})

	t.Run("branch override beats the URL ref", func(t *testing.T) {
		resolver := newTestResolver(t, newFakeRefResolver())
		ingestionQuery, err := resolver.Resolve(context.Background(), "https://github.com/octo/hello/tree/main/docs", Overrides{Branch: "v1.2.3"})
		require.NoError(t, err)
		assert.Equal(t, types.Ref{Kind: types.RefTag, Name: "v1.2.3", Commit: strings.Repeat("3", 40)}, ingestionQuery.Ref)
		assert.Equal(t, "docs", ingestionQuery.SubPath)
	})

	t.Run("sub path override wins", func(t *testing.T) {
		resolver := newTestResolver(t, newFakeRefResolver())
		ingestionQuery, err := resolver.Resolve(context.Background(), "https://github.com/octo/hello/tree/main/docs", Overrides{SubPath: "/src/"})
		require.NoError(t, err)
		assert.Equal(t, "src", ingestionQuery.SubPath)
	})

	t.Run("escaping sub path is rejected", func(t *testing.T) {
		resolver := newTestResolver(t, newFakeRefResolver())
		_, err := resolver.Resolve(context.Background(), "octo/hello", Overrides{SubPath: "../etc"})
		assert.Equal(t, types.CategoryInvalidSource, types.CategoryOf(err))
	})

	t.Run("secret and options carried", func(t *testing.T) {
		resolver := newTestResolver(t, newFakeRefResolver())
		ingestionQuery, err := resolver.Resolve(context.Background(), "octo/hello", Overrides{
			Token:             types.NewSecret("ghp_example"),
			MaxFileSizeBytes:  99,
			IncludeSubmodules: true,
			IncludeGitIgnored: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "ghp_example", ingestionQuery.AuthToken.Reveal())
		assert.Equal(t, int64(99), ingestionQuery.MaxFileSizeBytes)
		assert.True(t, ingestionQuery.IncludeSubmodules)
		assert.True(t, ingestionQuery.IncludeGitIgnored)
		assert.Equal(t, "octo-hello", ingestionQuery.Slug)
	})
}

func TestResolveInvalidDescriptors(t *testing.T) {
	descriptors := []string{
		"",
		"   ",
		"justone",
		"ftp://github.com/octo/hello",
		"https://github.com/octo",
		"https://github.com/oc to/hello",
		"https://github.com/octo/hello/wiki/Page",
		"https://github.com/octo/hello/blob/" + testCommit,
	}
	for _, descriptor := range descriptors {
		t.Run(descriptor, func(t *testing.T) {
			resolver := newTestResolver(t, newFakeRefResolver())
			_, err := resolver.Resolve(context.Background(), descriptor, Overrides{})
			var invalid *types.InvalidSourceError
			require.ErrorAs(t, err, &invalid)
			assert.NotEmpty(t, types.HintOf(err))
		})
	}
}

func TestResolveLocalSources(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "project", "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "project", "docs", "guide.md"), []byte("# Guide\n"), 0o644))

	resolver := NewResolver(Options{WorkingDirectory: root, RefResolver: newFakeRefResolver()})

	ingestionQuery, err := resolver.Resolve(context.Background(), "project", Overrides{SubPath: "docs"})
	require.NoError(t, err)
	assert.Equal(t, types.SourceLocal, ingestionQuery.SourceKind)
	assert.Equal(t, filepath.Join(root, "project"), ingestionQuery.LocalPath)
	assert.Equal(t, "project", ingestionQuery.Slug)
	assert.Equal(t, "docs", ingestionQuery.SubPath)
	assert.False(t, ingestionQuery.TargetsFile)

	ingestionQuery, err = resolver.Resolve(context.Background(), filepath.Join(root, "project", "docs", "guide.md"), Overrides{})
	require.NoError(t, err)
	assert.True(t, ingestionQuery.TargetsFile)
	assert.Equal(t, "guide.md", ingestionQuery.Slug)
}

func TestResolvePatterns(t *testing.T) {
	resolver := newTestResolver(t, nil)

	ingestionQuery, err := resolver.Resolve(context.Background(), "octo/hello", Overrides{
		IncludePatterns: []string{"*.md, /docs/", "src/**/*.go *.md"},
		ExcludePatterns: []string{"vendor/"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.PatternInclude, ingestionQuery.Patterns.Mode)
	assert.Equal(t, []string{"*.md", "docs/*", "src/**/*.go"}, ingestionQuery.Patterns.Patterns)

	ingestionQuery, err = resolver.Resolve(context.Background(), "octo/hello", Overrides{ExcludePatterns: []string{"vendor/"}})
	require.NoError(t, err)
	assert.Equal(t, types.PatternSet{Mode: types.PatternExclude, Patterns: []string{"vendor/*"}}, ingestionQuery.Patterns)

	_, err = resolver.Resolve(context.Background(), "octo/hello", Overrides{IncludePatterns: []string{"$(rm -rf)"}})
	assert.Equal(t, types.CategoryInvalidSource, types.CategoryOf(err))
}

func TestResolveFileURL(t *testing.T) {
	resolver := newTestResolver(t, nil)

	ingestionQuery, err := resolver.Resolve(context.Background(), "file:///srv/mirrors/hello.git", Overrides{Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/mirrors/hello.git", ingestionQuery.URL)
	assert.Equal(t, "mirrors", ingestionQuery.Owner)
	assert.Equal(t, "hello", ingestionQuery.RepoName)
	assert.Equal(t, types.Ref{Kind: types.RefBranch, Name: "main"}, ingestionQuery.Ref)
}
