package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/temirov/repodigest/internal/types"
)

const (
	remoteName = "origin"

	errorListFormat      = "listing references of %s: %w"
	errorCloneFormat     = "cloning %s: %w"
	errorCheckoutFormat  = "checking out %s: %w"
	errorSubmoduleFormat = "updating submodules: %w"
)

// LibraryTransport implements Transport with go-git, without any git binary
// for https remotes. go-git cannot fetch an arbitrary commit shallowly, so
// commit refs fall back to a full clone followed by a checkout.
type LibraryTransport struct{}

// NewLibraryTransport returns a go-git backed transport.
func NewLibraryTransport() *LibraryTransport {
	return &LibraryTransport{}
}

// ListReferences reads the remote's advertisement into memory storage.
func (transport *LibraryTransport) ListReferences(ctx context.Context, remoteURL string, token types.Secret) ([]Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
	})
	advertised, listErr := remote.ListContext(ctx, &git.ListOptions{
		Auth:          authMethod(token),
		PeelingOption: git.AppendPeeled,
	})
	if listErr != nil {
		return nil, fmt.Errorf(errorListFormat, remoteURL, classifyLibraryError(listErr))
	}

	references := make([]Reference, 0, len(advertised))
	for _, advertisedReference := range advertised {
		fullName := advertisedReference.Name().String()
		if advertisedReference.Type() == plumbing.SymbolicReference {
			if fullName == headReferenceName {
				references = append(references, Reference{
					Kind:   ReferenceHead,
					Name:   headReferenceName,
					Target: advertisedReference.Target().Short(),
				})
			}
			continue
		}
		if reference, ok := referenceFromName(fullName, advertisedReference.Hash().String()); ok {
			references = append(references, reference)
		}
	}
	return references, nil
}

// Clone clones without checkout and then checks out the resolved commit,
// restricted to the sparse path when one is set.
func (transport *LibraryTransport) Clone(ctx context.Context, cloneConfig types.CloneConfig, destination string) error {
	auth := authMethod(cloneConfig.AuthToken)
	cloneOptions := &git.CloneOptions{
		URL:          cloneConfig.URL,
		Auth:         auth,
		RemoteName:   remoteName,
		Depth:        cloneConfig.Depth,
		SingleBranch: cloneConfig.SingleBranch,
		NoCheckout:   true,
	}
	switch cloneConfig.Ref.Kind {
	case types.RefBranch:
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(cloneConfig.Ref.Name)
	case types.RefTag:
		cloneOptions.ReferenceName = plumbing.NewTagReferenceName(cloneConfig.Ref.Name)
	case types.RefCommit:
		cloneOptions.Depth = 0
		cloneOptions.SingleBranch = false
	}

	repository, cloneErr := git.PlainCloneContext(ctx, destination, false, cloneOptions)
	if cloneErr != nil {
		return fmt.Errorf(errorCloneFormat, cloneConfig.URL, classifyLibraryError(cloneErr))
	}

	checkoutHash, hashErr := checkoutTarget(repository, cloneConfig.Ref)
	if hashErr != nil {
		return hashErr
	}
	worktree, worktreeErr := repository.Worktree()
	if worktreeErr != nil {
		return fmt.Errorf(errorCheckoutFormat, checkoutHash, worktreeErr)
	}
	checkoutOptions := &git.CheckoutOptions{Hash: checkoutHash, Force: true}
	if cloneConfig.SparsePath != "" {
		checkoutOptions.SparseCheckoutDirectories = []string{strings.TrimSuffix(cloneConfig.SparsePath, "/") + "/"}
	}
	if checkoutErr := worktree.Checkout(checkoutOptions); checkoutErr != nil {
		return fmt.Errorf(errorCheckoutFormat, checkoutHash, checkoutErr)
	}

	if !cloneConfig.Submodules {
		return nil
	}
	submodules, submodulesErr := worktree.Submodules()
	if submodulesErr != nil {
		return fmt.Errorf(errorSubmoduleFormat, submodulesErr)
	}
	updateErr := submodules.UpdateContext(ctx, &git.SubmoduleUpdateOptions{
		Init:              true,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
		Auth:              auth,
		Depth:             cloneConfig.Depth,
	})
	if updateErr != nil {
		return fmt.Errorf(errorSubmoduleFormat, classifyLibraryError(updateErr))
	}
	return nil
}

// checkoutTarget picks the resolved commit when the clone contains it and
// the fetched HEAD otherwise, which happens when a branch moved between
// resolution and clone.
func checkoutTarget(repository *git.Repository, ref types.Ref) (plumbing.Hash, error) {
	if ref.Commit != "" {
		commitHash := plumbing.NewHash(ref.Commit)
		if _, commitErr := repository.CommitObject(commitHash); commitErr == nil {
			return commitHash, nil
		} else if ref.Kind == types.RefCommit {
			return plumbing.ZeroHash, fmt.Errorf(errorCheckoutFormat, ref.Commit, commitErr)
		}
	}
	head, headErr := repository.Head()
	if headErr != nil {
		return plumbing.ZeroHash, fmt.Errorf(errorCheckoutFormat, headReferenceName, headErr)
	}
	return head.Hash(), nil
}

func authMethod(token types.Secret) transport.AuthMethod {
	if token.IsEmpty() {
		return nil
	}
	return &githttp.BasicAuth{Username: tokenUsername, Password: token.Reveal()}
}

// classifyLibraryError maps go-git transport errors onto the package sentinels.
func classifyLibraryError(err error) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("%w: %w", ErrRepositoryNotFound, err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %w", ErrAuthenticationRequired, err)
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return fmt.Errorf("%w: %w", ErrEmptyRepository, err)
	default:
		return err
	}
}
