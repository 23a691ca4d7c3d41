package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/temirov/repodigest/internal/types"
)

const (
	gitExecutable       = "git"
	commandWaitDelay    = 5 * time.Second
	symbolicRefPrefix   = "ref: "
	peeledSuffix        = "^{}"
	headsPrefix         = "refs/heads/"
	tagsPrefix          = "refs/tags/"
	headReferenceName   = "HEAD"
	errorRunGitFormat   = "git %s: %v"
	errorParseURLFormat = "parsing remote url %s: %w"
)

// notFoundMarkers and authMarkers are stderr fragments git and common hosts
// print when a repository is missing, private or needs credentials.
var (
	notFoundMarkers = []string{
		"repository not found",
		"' not found",
		"could not be found",
		"does not appear to be a git repository",
	}
	authMarkers = []string{
		"authentication failed",
		"could not read username",
		"could not read password",
		"terminal prompts disabled",
		"the requested url returned error: 401",
		"the requested url returned error: 403",
		"permission denied",
	}
)

// CommandError describes a failed git invocation. Stderr has been scrubbed of credentials.
type CommandError struct {
	Subcommand string
	Stderr     string
	Err        error
}

func (err *CommandError) Error() string {
	return fmt.Sprintf(errorRunGitFormat, err.Subcommand, err.Err)
}

func (err *CommandError) Unwrap() error { return err.Err }

// Diagnostic returns git's error output.
func (err *CommandError) Diagnostic() string { return err.Stderr }

// CommandTransport drives the git executable as a subprocess.
type CommandTransport struct {
	executable string
}

// NewCommandTransport returns a transport that runs the git found on PATH.
func NewCommandTransport() *CommandTransport {
	return &CommandTransport{executable: gitExecutable}
}

// ListReferences runs git ls-remote for HEAD, branches and tags.
func (transport *CommandTransport) ListReferences(ctx context.Context, remoteURL string, token types.Secret) ([]Reference, error) {
	environment, environmentErr := gitEnvironment(remoteURL, token)
	if environmentErr != nil {
		return nil, environmentErr
	}
	output, runErr := transport.run(ctx, "", environment, token,
		"ls-remote", "--symref", remoteURL, headReferenceName, headsPrefix+"*", tagsPrefix+"*")
	if runErr != nil {
		return nil, runErr
	}
	return parseLsRemote(output), nil
}

// Clone performs a shallow, single branch clone without checkout, narrows
// the checkout to the sparse path, checks out the resolved commit and
// finally initializes submodules when requested.
func (transport *CommandTransport) Clone(ctx context.Context, cloneConfig types.CloneConfig, destination string) error {
	environment, environmentErr := gitEnvironment(cloneConfig.URL, cloneConfig.AuthToken)
	if environmentErr != nil {
		return environmentErr
	}
	token := cloneConfig.AuthToken

	cloneArguments := []string{"clone", "--quiet", "--no-checkout"}
	if cloneConfig.Depth > 0 {
		cloneArguments = append(cloneArguments, fmt.Sprintf("--depth=%d", cloneConfig.Depth))
	}
	if cloneConfig.SingleBranch {
		cloneArguments = append(cloneArguments, "--single-branch")
	}
	if cloneConfig.Ref.Kind == types.RefBranch || cloneConfig.Ref.Kind == types.RefTag {
		cloneArguments = append(cloneArguments, "--branch", cloneConfig.Ref.Name)
	}
	if cloneConfig.SparsePath != "" {
		cloneArguments = append(cloneArguments, "--filter=blob:none", "--sparse")
	}
	cloneArguments = append(cloneArguments, "--", cloneConfig.URL, destination)
	if _, err := transport.run(ctx, "", environment, token, cloneArguments...); err != nil {
		return err
	}

	if cloneConfig.SparsePath != "" {
		if _, err := transport.run(ctx, destination, environment, token, "sparse-checkout", "set", cloneConfig.SparsePath); err != nil {
			return err
		}
	}

	commit := cloneConfig.Ref.Commit
	if commit != "" {
		fetchArguments := []string{"fetch", "--quiet"}
		if cloneConfig.Depth > 0 {
			fetchArguments = append(fetchArguments, fmt.Sprintf("--depth=%d", cloneConfig.Depth))
		}
		fetchArguments = append(fetchArguments, "origin", commit)
		if _, err := transport.run(ctx, destination, environment, token, fetchArguments...); err != nil {
			return err
		}
	} else {
		headOutput, err := transport.run(ctx, destination, environment, token, "rev-parse", headReferenceName)
		if err != nil {
			return err
		}
		commit = strings.TrimSpace(headOutput)
	}
	if _, err := transport.run(ctx, destination, environment, token, "checkout", "--quiet", "--force", commit); err != nil {
		return err
	}

	if cloneConfig.Submodules {
		submoduleArguments := []string{"submodule", "update", "--init", "--recursive"}
		if cloneConfig.Depth > 0 {
			submoduleArguments = append(submoduleArguments, fmt.Sprintf("--depth=%d", cloneConfig.Depth))
		}
		if _, err := transport.run(ctx, destination, environment, token, submoduleArguments...); err != nil {
			return err
		}
	}
	return nil
}

// run executes git with arguments in directory and returns its stdout.
func (transport *CommandTransport) run(ctx context.Context, directory string, environment []string, token types.Secret, arguments ...string) (string, error) {
	fullArguments := arguments
	if directory != "" {
		fullArguments = append([]string{"-C", directory}, arguments...)
	}
	// #nosec G204
	command := exec.CommandContext(ctx, transport.executable, fullArguments...)
	command.Env = environment
	command.WaitDelay = commandWaitDelay
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	runErr := command.Run()
	if runErr == nil {
		return stdout.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		runErr = ctxErr
	}
	diagnostic := scrubSecret(strings.TrimSpace(stderr.String()), token)
	return "", &CommandError{
		Subcommand: arguments[0],
		Stderr:     diagnostic,
		Err:        classifyDiagnostic(diagnostic, runErr),
	}
}

// classifyDiagnostic attaches a sentinel to runErr when stderr shows the
// repository is missing or needs credentials.
func classifyDiagnostic(diagnostic string, runErr error) error {
	lowered := strings.ToLower(diagnostic)
	for _, marker := range authMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("%w: %w", ErrAuthenticationRequired, runErr)
		}
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("%w: %w", ErrRepositoryNotFound, runErr)
		}
	}
	return runErr
}

// gitEnvironment disables prompts and, when a token is present, adds an
// http.extraheader for the remote's origin through GIT_CONFIG_* variables so
// the credential never reaches argv or any config file.
func gitEnvironment(remoteURL string, token types.Secret) ([]string, error) {
	environment := append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GCM_INTERACTIVE=never")
	if token.IsEmpty() {
		return environment, nil
	}
	parsedURL, parseErr := url.Parse(remoteURL)
	if parseErr != nil {
		return nil, fmt.Errorf(errorParseURLFormat, remoteURL, parseErr)
	}
	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return environment, nil
	}
	headerKey := fmt.Sprintf("http.%s://%s/.extraheader", parsedURL.Scheme, parsedURL.Host)
	return append(environment,
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0="+headerKey,
		"GIT_CONFIG_VALUE_0="+basicAuthorizationHeader(token),
	), nil
}

// parseLsRemote turns ls-remote --symref output into references.
func parseLsRemote(output string) []Reference {
	var references []Reference
	headTarget := ""
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		left, name, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		if strings.HasPrefix(left, symbolicRefPrefix) {
			if name == headReferenceName {
				headTarget = strings.TrimPrefix(strings.TrimPrefix(left, symbolicRefPrefix), headsPrefix)
			}
			continue
		}
		if reference, ok := referenceFromName(name, left); ok {
			references = append(references, reference)
		}
	}
	if headTarget != "" {
		for index := range references {
			if references[index].Kind == ReferenceHead {
				references[index].Target = headTarget
			}
		}
	}
	return references
}

// referenceFromName classifies a full reference name.
func referenceFromName(fullName, hash string) (Reference, bool) {
	switch {
	case fullName == headReferenceName:
		return Reference{Kind: ReferenceHead, Name: headReferenceName, Hash: hash}, true
	case strings.HasPrefix(fullName, headsPrefix):
		return Reference{Kind: ReferenceBranch, Name: strings.TrimPrefix(fullName, headsPrefix), Hash: hash}, true
	case strings.HasPrefix(fullName, tagsPrefix):
		tagName := strings.TrimPrefix(fullName, tagsPrefix)
		peeled := strings.HasSuffix(tagName, peeledSuffix)
		return Reference{Kind: ReferenceTag, Name: strings.TrimSuffix(tagName, peeledSuffix), Hash: hash, Peeled: peeled}, true
	default:
		return Reference{}, false
	}
}
