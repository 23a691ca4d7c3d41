// Package vcs is the boundary to the version control transport. A Transport
// lists the references a remote advertises and clones a repository into a
// directory; nothing else of the repository is ever touched.
package vcs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/temirov/repodigest/internal/types"
)

// ReferenceKind classifies an advertised reference.
type ReferenceKind string

const (
	ReferenceHead   ReferenceKind = "head"
	ReferenceBranch ReferenceKind = "branch"
	ReferenceTag    ReferenceKind = "tag"
)

// Reference is one entry of a remote's reference advertisement. Name is the
// short name ("main", "v1.2.3", "HEAD"). Peeled marks the commit an annotated
// tag points to. Target is the branch HEAD points to when advertised.
type Reference struct {
	Kind   ReferenceKind
	Name   string
	Hash   string
	Peeled bool
	Target string
}

// Transport lists remote references and clones repositories.
type Transport interface {
	ListReferences(ctx context.Context, url string, token types.Secret) ([]Reference, error)
	Clone(ctx context.Context, cloneConfig types.CloneConfig, destination string) error
}

// Sentinel classifications shared by every transport.
var (
	ErrRepositoryNotFound     = errors.New("repository not found")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrEmptyRepository        = errors.New("remote repository is empty")
)

const (
	tokenUsername = "x-oauth-basic"
	redacted      = "[redacted]"
)

// New returns the transport named by clone.transport. "auto" picks the git
// command when a git binary is on PATH and the pure Go library otherwise.
func New(name string) (Transport, error) {
	switch name {
	case "git":
		return NewCommandTransport(), nil
	case "library":
		return NewLibraryTransport(), nil
	case "", "auto":
		if _, lookErr := exec.LookPath(gitExecutable); lookErr == nil {
			return NewCommandTransport(), nil
		}
		return NewLibraryTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// IsPermanent reports whether err will not go away by retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRepositoryNotFound) ||
		errors.Is(err, ErrAuthenticationRequired) ||
		errors.Is(err, ErrEmptyRepository)
}

// basicAuthorizationHeader renders the HTTP header hosts accept for token access.
func basicAuthorizationHeader(token types.Secret) string {
	credentials := tokenUsername + ":" + token.Reveal()
	return "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// scrubSecret removes every rendering of token from text.
func scrubSecret(text string, token types.Secret) string {
	if token.IsEmpty() {
		return text
	}
	credentials := tokenUsername + ":" + token.Reveal()
	replacer := strings.NewReplacer(
		base64.StdEncoding.EncodeToString([]byte(credentials)), redacted,
		token.Reveal(), redacted,
	)
	return replacer.Replace(text)
}
