package query

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
	schemeFile  = "file"

	gitSuffix = ".git"

	segmentTree   = "tree"
	segmentBlob   = "blob"
	segmentCommit = "commit"
	segmentGitLab = "-"
)

// KnownHosts are hosts recognised without further checks. Any other host
// containing a dot is accepted as well.
var KnownHosts = []string{"github.com", "gitlab.com", "bitbucket.org", "gitea.com", "codeberg.org"}

var (
	scpPattern          = regexp.MustCompile(`^[A-Za-z0-9_.-]+@([A-Za-z0-9.-]+):(.+)$`)
	repositoryNameRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
	commitHashPattern   = regexp.MustCompile(`^(?:[0-9a-fA-F]{40}|[0-9a-fA-F]{64})$`)

	rootSegments = map[string]struct{}{
		"issues":         {},
		"pull":           {},
		"pulls":          {},
		"merge_requests": {},
	}
)

// repositoryLocation is a descriptor split into its repository and the
// path segments that follow it.
type repositoryLocation struct {
	scheme      string
	host        string
	owner       string
	repository  string
	url         string
	segments    []string
	targetsFile bool
}

// parseRepositoryDescriptor splits descriptor into host, owner, repository
// and trailing ref/sub path segments. The returned reason is empty on success.
func parseRepositoryDescriptor(descriptor, defaultHost string) (repositoryLocation, string) {
	var location repositoryLocation
	var repositoryPath string

	switch {
	case strings.Contains(descriptor, "://"):
		parsedURL, parseErr := url.Parse(descriptor)
		if parseErr != nil {
			return location, "malformed URL"
		}
		location.scheme = strings.ToLower(parsedURL.Scheme)
		switch location.scheme {
		case schemeHTTP, schemeHTTPS:
		case schemeFile:
			return parseFileDescriptor(parsedURL)
		default:
			return location, "unsupported scheme " + parsedURL.Scheme
		}
		location.host = strings.ToLower(parsedURL.Host)
		repositoryPath = parsedURL.Path
	case scpPattern.MatchString(descriptor):
		matches := scpPattern.FindStringSubmatch(descriptor)
		location.scheme = schemeHTTPS
		location.host = strings.ToLower(matches[1])
		repositoryPath = matches[2]
	default:
		location.scheme = schemeHTTPS
		repositoryPath = descriptor
		firstSegment, remainder, _ := strings.Cut(strings.Trim(descriptor, "/"), "/")
		if looksLikeHost(firstSegment) {
			location.host = strings.ToLower(firstSegment)
			repositoryPath = remainder
		} else {
			location.host = defaultHost
		}
	}

	if location.host == "" {
		return location, "missing host"
	}
	if !looksLikeHost(location.host) {
		return location, "unknown host " + location.host
	}

	segments := splitSegments(repositoryPath)
	if len(segments) < 2 {
		return location, "expected owner/repository"
	}
	location.owner = segments[0]
	location.repository = strings.TrimSuffix(segments[1], gitSuffix)
	if !repositoryNameRegex.MatchString(location.owner) || !repositoryNameRegex.MatchString(location.repository) {
		return location, "owner and repository may only contain letters, digits, '-', '_' and '.'"
	}
	location.url = location.scheme + "://" + location.host + "/" + location.owner + "/" + location.repository

	remainder := segments[2:]
	if len(remainder) > 0 && remainder[0] == segmentGitLab {
		remainder = remainder[1:]
	}
	if len(remainder) == 0 {
		return location, ""
	}
	if _, isRoot := rootSegments[remainder[0]]; isRoot {
		return location, ""
	}
	switch remainder[0] {
	case segmentTree, segmentCommit:
		location.segments = remainder[1:]
	case segmentBlob:
		location.segments = remainder[1:]
		location.targetsFile = true
	default:
		return location, "unsupported path segment " + remainder[0]
	}
	return location, ""
}

// parseFileDescriptor accepts file:// URLs of local repositories, which are
// cloned like any remote.
func parseFileDescriptor(parsedURL *url.URL) (repositoryLocation, string) {
	repositoryPath := strings.TrimSuffix(parsedURL.Path, "/")
	if repositoryPath == "" {
		return repositoryLocation{}, "missing repository path"
	}
	repository := strings.TrimSuffix(path.Base(repositoryPath), gitSuffix)
	owner := path.Base(path.Dir(repositoryPath))
	if owner == "/" || owner == "." {
		owner = "local"
	}
	return repositoryLocation{
		scheme:     schemeFile,
		host:       "",
		owner:      owner,
		repository: repository,
		url:        schemeFile + "://" + repositoryPath,
	}, ""
}

func looksLikeHost(segment string) bool {
	for _, knownHost := range KnownHosts {
		if strings.EqualFold(segment, knownHost) {
			return true
		}
	}
	return strings.Contains(segment, ".") && !strings.HasPrefix(segment, ".") && !strings.HasSuffix(segment, ".")
}

func splitSegments(value string) []string {
	var segments []string
	for _, segment := range strings.Split(value, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func isCommitHash(segment string) bool {
	return commitHashPattern.MatchString(segment)
}
