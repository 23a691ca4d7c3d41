package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory names one class of ingestion failure.
type ErrorCategory string

const (
	CategoryInvalidSource     ErrorCategory = "invalid_source"
	CategoryAmbiguousRef      ErrorCategory = "ambiguous_ref"
	CategoryRefNotFound       ErrorCategory = "ref_not_found"
	CategoryRemoteUnreachable ErrorCategory = "remote_unreachable"
	CategoryCloneFailed       ErrorCategory = "clone_failed"
	CategoryTraversalIO       ErrorCategory = "traversal_io"
	CategoryUnknown           ErrorCategory = "unknown"
)

const refHint = "pass the branch with --branch and the directory with --subpath to disambiguate"

// CategorizedError is implemented by every typed ingestion error.
type CategorizedError interface {
	error
	Category() ErrorCategory
	Hint() string
}

// InvalidSourceError reports a descriptor that is neither an existing path
// nor a recognizable repository reference.
type InvalidSourceError struct {
	Descriptor string
	Reason     string
}

func (err *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source %q: %s", err.Descriptor, err.Reason)
}

func (err *InvalidSourceError) Category() ErrorCategory { return CategoryInvalidSource }

func (err *InvalidSourceError) Hint() string {
	return "use an existing local path, owner/repo, or a repository URL"
}

// AmbiguousRefError reports path segments that could be a ref or a sub path
// and could not be checked against the remote.
type AmbiguousRefError struct {
	Segments []string
}

func (err *AmbiguousRefError) Error() string {
	return fmt.Sprintf("cannot tell where the ref ends in %q", strings.Join(err.Segments, "/"))
}

func (err *AmbiguousRefError) Category() ErrorCategory { return CategoryAmbiguousRef }

func (err *AmbiguousRefError) Hint() string { return refHint }

// RefNotFoundError reports that none of the candidate names is a branch or tag of the remote.
type RefNotFoundError struct {
	URL        string
	Candidates []string
}

func (err *RefNotFoundError) Error() string {
	return fmt.Sprintf("no branch or tag of %s matches %q", err.URL, strings.Join(err.Candidates, ", "))
}

func (err *RefNotFoundError) Category() ErrorCategory { return CategoryRefNotFound }

func (err *RefNotFoundError) Hint() string { return refHint }

// RemoteUnreachableError reports a failed reference listing. NeedsToken is
// set when the remote answered that the repository does not exist or denied
// access, which is how hosts answer for private repositories.
type RemoteUnreachableError struct {
	URL        string
	NeedsToken bool
	Err        error
}

func (err *RemoteUnreachableError) Error() string {
	if err.NeedsToken {
		return fmt.Sprintf("repository %s was not found or is private: %v", err.URL, err.Err)
	}
	return fmt.Sprintf("cannot reach %s: %v", err.URL, err.Err)
}

func (err *RemoteUnreachableError) Unwrap() error { return err.Err }

func (err *RemoteUnreachableError) Category() ErrorCategory { return CategoryRemoteUnreachable }

func (err *RemoteUnreachableError) Hint() string {
	if err.NeedsToken {
		return "check the repository name or supply an access token with --token"
	}
	return "check the network connection and retry"
}

// CloneFailedError reports a clone that exited with an error, exceeded its
// timeout, or could not start because every clone slot was taken.
type CloneFailedError struct {
	URL        string
	TimedOut   bool
	Busy       bool
	Diagnostic string
	Err        error
}

func (err *CloneFailedError) Error() string {
	var builder strings.Builder
	switch {
	case err.TimedOut:
		fmt.Fprintf(&builder, "clone of %s timed out", err.URL)
	case err.Busy:
		fmt.Fprintf(&builder, "clone of %s rejected: too many concurrent clones", err.URL)
	default:
		fmt.Fprintf(&builder, "clone of %s failed", err.URL)
	}
	if err.Err != nil {
		fmt.Fprintf(&builder, ": %v", err.Err)
	}
	if diagnostic := strings.TrimSpace(err.Diagnostic); diagnostic != "" {
		fmt.Fprintf(&builder, "\n%s", diagnostic)
	}
	return builder.String()
}

func (err *CloneFailedError) Unwrap() error { return err.Err }

func (err *CloneFailedError) Category() ErrorCategory { return CategoryCloneFailed }

func (err *CloneFailedError) Hint() string {
	switch {
	case err.TimedOut:
		return "raise clone.timeout or narrow the request with --subpath"
	case err.Busy:
		return "retry once running clones finish"
	default:
		return "inspect the git diagnostic above"
	}
}

// TraversalIOError reports that the traversal root could not be read.
type TraversalIOError struct {
	Path string
	Err  error
}

func (err *TraversalIOError) Error() string {
	return fmt.Sprintf("reading %s: %v", err.Path, err.Err)
}

func (err *TraversalIOError) Unwrap() error { return err.Err }

func (err *TraversalIOError) Category() ErrorCategory { return CategoryTraversalIO }

func (err *TraversalIOError) Hint() string {
	return "check that the path or sub path exists and is readable"
}

// CategoryOf returns the category of the first typed error in err's chain.
func CategoryOf(err error) ErrorCategory {
	var categorizedError CategorizedError
	if errors.As(err, &categorizedError) {
		return categorizedError.Category()
	}
	return CategoryUnknown
}

// HintOf returns the suggestion attached to the first typed error in err's chain.
func HintOf(err error) string {
	var categorizedError CategorizedError
	if errors.As(err, &categorizedError) {
		return categorizedError.Hint()
	}
	return ""
}
