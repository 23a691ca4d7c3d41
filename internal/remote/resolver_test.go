package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/repodigest/internal/gitfixture"
	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/vcs"
)

const (
	testURL        = "https://github.com/owner/repo"
	mainCommit     = "1111111111111111111111111111111111111111"
	featureCommit  = "2222222222222222222222222222222222222222"
	tagObject      = "3333333333333333333333333333333333333333"
	tagCommit      = "4444444444444444444444444444444444444444"
	releaseCommit  = "5555555555555555555555555555555555555555"
	conflictCommit = "6666666666666666666666666666666666666666"
)

type fakeLister struct {
	references []vcs.Reference
	errs       []error
	calls      int
}

func (lister *fakeLister) ListReferences(_ context.Context, _ string, _ types.Secret) ([]vcs.Reference, error) {
	lister.calls++
	if len(lister.errs) > 0 {
		err := lister.errs[0]
		lister.errs = lister.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return lister.references, nil
}

func advertisement() []vcs.Reference {
	return []vcs.Reference{
		{Kind: vcs.ReferenceHead, Name: "HEAD", Hash: mainCommit, Target: "main"},
		{Kind: vcs.ReferenceBranch, Name: "main", Hash: mainCommit},
		{Kind: vcs.ReferenceBranch, Name: "feature/login", Hash: featureCommit},
		{Kind: vcs.ReferenceBranch, Name: "release", Hash: releaseCommit},
		{Kind: vcs.ReferenceTag, Name: "v1.2.3", Hash: tagObject},
		{Kind: vcs.ReferenceTag, Name: "v1.2.3", Hash: tagCommit, Peeled: true},
		{Kind: vcs.ReferenceTag, Name: "release", Hash: conflictCommit},
	}
}

func newTestResolver(lister ReferenceLister) *Resolver {
	return NewResolver(lister, Options{
		MaxRetries: 2,
		BackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
}

func TestResolveRef(t *testing.T) {
	testCases := []struct {
		name      string
		segments  []string
		expected  types.Ref
		remaining []string
	}{
		{
			name:      "single segment branch with subpath",
			segments:  []string{"main", "docs", "guide"},
			expected:  types.Ref{Kind: types.RefBranch, Name: "main", Commit: mainCommit},
			remaining: []string{"docs", "guide"},
		},
		{
			name:      "branch containing a slash",
			segments:  []string{"feature", "login", "src"},
			expected:  types.Ref{Kind: types.RefBranch, Name: "feature/login", Commit: featureCommit},
			remaining: []string{"src"},
		},
		{
			name:      "annotated tag prefers peeled commit",
			segments:  []string{"v1.2.3", "docs"},
			expected:  types.Ref{Kind: types.RefTag, Name: "v1.2.3", Commit: tagCommit},
			remaining: []string{"docs"},
		},
		{
			name:      "branch wins over tag of the same name",
			segments:  []string{"release"},
			expected:  types.Ref{Kind: types.RefBranch, Name: "release", Commit: releaseCommit},
			remaining: nil,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resolver := newTestResolver(&fakeLister{references: advertisement()})
			resolution, err := resolver.ResolveRef(context.Background(), RefRequest{URL: testURL, Segments: testCase.segments})
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, resolution.Ref)
			assert.Equal(t, testCase.remaining, resolution.Remaining)
		})
	}
}

func TestResolveRefPrefersLongestMatch(t *testing.T) {
	references := append(advertisement(), vcs.Reference{Kind: vcs.ReferenceBranch, Name: "feature", Hash: mainCommit})
	resolver := newTestResolver(&fakeLister{references: references})

	resolution, err := resolver.ResolveRef(context.Background(), RefRequest{URL: testURL, Segments: []string{"feature", "login", "src"}})
	require.NoError(t, err)
	assert.Equal(t, "feature/login", resolution.Ref.Name)
	assert.Equal(t, []string{"src"}, resolution.Remaining)
}

func TestResolveRefNotFound(t *testing.T) {
	resolver := newTestResolver(&fakeLister{references: advertisement()})

	_, err := resolver.ResolveRef(context.Background(), RefRequest{URL: testURL, Segments: []string{"nope", "docs"}})
	var notFound *types.RefNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"nope", "nope/docs"}, notFound.Candidates)
	assert.Equal(t, types.CategoryRefNotFound, types.CategoryOf(err))
}

func TestReferencesRetriesTransientFailures(t *testing.T) {
	lister := &fakeLister{references: advertisement(), errs: []error{errors.New("connection reset"), errors.New("connection reset")}}
	resolver := newTestResolver(lister)

	references, err := resolver.References(context.Background(), testURL, types.Secret{})
	require.NoError(t, err)
	assert.Len(t, references, len(advertisement()))
	assert.Equal(t, 3, lister.calls)
}

func TestReferencesGivesUpAfterMaxRetries(t *testing.T) {
	transient := errors.New("connection reset")
	lister := &fakeLister{errs: []error{transient, transient, transient, transient}}
	resolver := newTestResolver(lister)

	_, err := resolver.References(context.Background(), testURL, types.Secret{})
	var unreachable *types.RemoteUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.False(t, unreachable.NeedsToken)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, lister.calls)
}

func TestReferencesDoesNotRetryPermanentFailures(t *testing.T) {
	lister := &fakeLister{errs: []error{vcs.ErrAuthenticationRequired}}
	resolver := newTestResolver(lister)

	_, err := resolver.References(context.Background(), testURL, types.Secret{})
	var unreachable *types.RemoteUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.True(t, unreachable.NeedsToken)
	assert.Equal(t, 1, lister.calls)
	assert.Equal(t, types.CategoryRemoteUnreachable, types.CategoryOf(err))
}

func TestDefaultBranch(t *testing.T) {
	t.Run("symref target", func(t *testing.T) {
		resolver := newTestResolver(&fakeLister{references: advertisement()})
		ref, err := resolver.DefaultBranch(context.Background(), testURL, types.Secret{})
		require.NoError(t, err)
		assert.Equal(t, types.Ref{Kind: types.RefBranch, Name: "main", Commit: mainCommit}, ref)
	})

	t.Run("hash match without symref", func(t *testing.T) {
		references := []vcs.Reference{
			{Kind: vcs.ReferenceHead, Name: "HEAD", Hash: releaseCommit},
			{Kind: vcs.ReferenceBranch, Name: "zeta", Hash: releaseCommit},
			{Kind: vcs.ReferenceBranch, Name: "master", Hash: releaseCommit},
			{Kind: vcs.ReferenceBranch, Name: "other", Hash: mainCommit},
		}
		resolver := newTestResolver(&fakeLister{references: references})
		ref, err := resolver.DefaultBranch(context.Background(), testURL, types.Secret{})
		require.NoError(t, err)
		assert.Equal(t, types.Ref{Kind: types.RefBranch, Name: "master", Commit: releaseCommit}, ref)
	})
}

func TestLookup(t *testing.T) {
	resolver := newTestResolver(&fakeLister{references: advertisement()})

	ref, err := resolver.Lookup(context.Background(), testURL, types.Secret{}, "feature/login")
	require.NoError(t, err)
	assert.Equal(t, featureCommit, ref.Commit)

	_, err = resolver.Lookup(context.Background(), testURL, types.Secret{}, "feature")
	assert.Equal(t, types.CategoryRefNotFound, types.CategoryOf(err))
}

func TestResolveRefAgainstRepository(t *testing.T) {
	gitfixture.RequireGit(t)
	fixture := gitfixture.New(t, map[string]string{"docs/index.md": "# Docs\n"})
	fixture.CreateTag("v1.2.3", true)
	tagged := fixture.Head()
	fixture.CreateBranch("feature/x")
	branchHead := fixture.Commit(map[string]string{"src/main.go": "package main\n"}, "feature work")

	for name, transport := range map[string]vcs.Transport{"git": vcs.NewCommandTransport(), "library": vcs.NewLibraryTransport()} {
		t.Run(name, func(t *testing.T) {
			resolver := newTestResolver(transport)

			resolution, err := resolver.ResolveRef(context.Background(), RefRequest{URL: fixture.URL(), Segments: []string{"v1.2.3", "docs"}})
			require.NoError(t, err)
			assert.Equal(t, types.Ref{Kind: types.RefTag, Name: "v1.2.3", Commit: tagged}, resolution.Ref)
			assert.Equal(t, []string{"docs"}, resolution.Remaining)

			resolution, err = resolver.ResolveRef(context.Background(), RefRequest{URL: fixture.URL(), Segments: []string{"feature", "x", "src"}})
			require.NoError(t, err)
			assert.Equal(t, types.Ref{Kind: types.RefBranch, Name: "feature/x", Commit: branchHead}, resolution.Ref)
			assert.Equal(t, []string{"src"}, resolution.Remaining)
		})
	}
}
