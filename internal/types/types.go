// Package types defines every cross-package data structure used by the ingestion pipeline.
package types

import (
	"path"
)

// SourceKind distinguishes local directories from remote repositories.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceRemote SourceKind = "remote"
)

// RefKind identifies what a repository reference names.
type RefKind string

const (
	RefNone   RefKind = ""
	RefBranch RefKind = "branch"
	RefTag    RefKind = "tag"
	RefCommit RefKind = "commit"
)

// Ref is a resolved or requested repository reference. Commit holds the
// object hash once known; for RefCommit it equals Name.
type Ref struct {
	Kind   RefKind `json:"kind,omitempty"`
	Name   string  `json:"name,omitempty"`
	Commit string  `json:"commit,omitempty"`
}

// IsZero reports whether no reference was requested.
func (ref Ref) IsZero() bool {
	return ref.Kind == RefNone && ref.Name == "" && ref.Commit == ""
}

// PatternMode selects how user patterns filter entries.
type PatternMode string

const (
	PatternNone    PatternMode = ""
	PatternInclude PatternMode = "include"
	PatternExclude PatternMode = "exclude"
)

// PatternSet holds user patterns together with the single active mode.
type PatternSet struct {
	Mode     PatternMode `json:"mode,omitempty"`
	Patterns []string    `json:"patterns,omitempty"`
}

// IngestionQuery is the canonical description of one ingestion. It is built
// by the query resolver and treated as immutable afterwards.
type IngestionQuery struct {
	ID                string
	SourceKind        SourceKind
	LocalPath         string
	URL               string
	Host              string
	Owner             string
	RepoName          string
	Slug              string
	Ref               Ref
	SubPath           string
	TargetsFile       bool
	IncludeSubmodules bool
	IncludeGitIgnored bool
	MaxFileSizeBytes  int64
	Patterns          PatternSet
	AuthToken         Secret
}

// IsRemote reports whether the query needs a clone.
func (query IngestionQuery) IsRemote() bool {
	return query.SourceKind == SourceRemote
}

// FullName returns owner/repo for remote queries.
func (query IngestionQuery) FullName() string {
	return query.Owner + "/" + query.RepoName
}

// CloneConfig describes a single clone invocation. It only exists for the
// duration of that invocation and is derived from a query with NewCloneConfig.
type CloneConfig struct {
	QueryID      string
	URL          string
	Ref          Ref
	Depth        int
	SingleBranch bool
	SparsePath   string
	Submodules   bool
	AuthToken    Secret
}

// NewCloneConfig derives the clone parameters for a remote query. Single file
// targets sparse-checkout the directory containing the file.
func NewCloneConfig(query IngestionQuery) CloneConfig {
	sparsePath := query.SubPath
	if query.TargetsFile {
		sparsePath = path.Dir(query.SubPath)
		if sparsePath == "." {
			sparsePath = ""
		}
	}
	return CloneConfig{
		QueryID:      query.ID,
		URL:          query.URL,
		Ref:          query.Ref,
		Depth:        1,
		SingleBranch: true,
		SparsePath:   sparsePath,
		Submodules:   query.IncludeSubmodules,
		AuthToken:    query.AuthToken,
	}
}

// NodeKind tags the variant held by a Node.
type NodeKind string

const (
	NodeDirectory NodeKind = "directory"
	NodeFile      NodeKind = "file"
	NodeSymlink   NodeKind = "symlink"
)

// OmissionReason records why an entry carries no content.
type OmissionReason string

const (
	OmissionNone               OmissionReason = ""
	OmissionTooLarge           OmissionReason = "too_large"
	OmissionBinaryExcluded     OmissionReason = "binary_excluded"
	OmissionPatternExcluded    OmissionReason = "pattern_excluded"
	OmissionIgnoreFileExcluded OmissionReason = "ignore_file_excluded"
	OmissionSymlinkSkipped     OmissionReason = "symlink_skipped"
	OmissionUnreadable         OmissionReason = "unreadable"
)

// OmissionReasons lists every reason in reporting order.
var OmissionReasons = []OmissionReason{
	OmissionTooLarge,
	OmissionBinaryExcluded,
	OmissionPatternExcluded,
	OmissionIgnoreFileExcluded,
	OmissionSymlinkSkipped,
	OmissionUnreadable,
}

// ContentEncoding describes how Node.Content is stored.
type ContentEncoding string

const (
	EncodingText   ContentEncoding = "text"
	EncodingBase64 ContentEncoding = "base64"
)

// Node is one entry of a traversed tree. Kind selects which fields apply:
// directories use Children and DepthLimited, files use Size, IsBinary,
// Content and Encoding, symlinks use LinkTarget. Omission is set for any
// entry whose content was not captured.
type Node struct {
	Kind         NodeKind        `json:"kind"`
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	Depth        int             `json:"depth"`
	Size         int64           `json:"size,omitempty"`
	IsBinary     bool            `json:"binary,omitempty"`
	Content      string          `json:"content,omitempty"`
	Encoding     ContentEncoding `json:"encoding,omitempty"`
	LinkTarget   string          `json:"linkTarget,omitempty"`
	Omission     OmissionReason  `json:"omission,omitempty"`
	DepthLimited bool            `json:"depthLimited,omitempty"`
	Children     []*Node         `json:"children,omitempty"`
}

// HasContent reports whether the node is a file whose content was captured.
func (node *Node) HasContent() bool {
	return node.Kind == NodeFile && node.Omission == OmissionNone
}

// StopReason names the budget that ended a traversal early.
type StopReason string

const (
	StopNone         StopReason = ""
	StopMaxFiles     StopReason = "max_files"
	StopMaxTotalSize StopReason = "max_total_size"
)

// TraversalStats aggregates counters collected while walking a tree.
type TraversalStats struct {
	IncludedFiles int                    `json:"includedFiles"`
	IncludedBytes int64                  `json:"includedBytes"`
	Directories   int                    `json:"directories"`
	DepthLimited  int                    `json:"depthLimited,omitempty"`
	Omissions     map[OmissionReason]int `json:"omissions,omitempty"`
	TooLargeBytes int64                  `json:"tooLargeBytes,omitempty"`
	Partial       bool                   `json:"partial"`
	StopReason    StopReason             `json:"stopReason,omitempty"`
}

// RecordOmission increments the counter for reason.
func (stats *TraversalStats) RecordOmission(reason OmissionReason) {
	if stats.Omissions == nil {
		stats.Omissions = make(map[OmissionReason]int)
	}
	stats.Omissions[reason]++
}

// OmittedEntries returns the total number of omitted entries.
func (stats TraversalStats) OmittedEntries() int {
	total := 0
	for _, count := range stats.Omissions {
		total += count
	}
	return total
}

// Digest is the formatted result of one ingestion.
type Digest struct {
	Summary             string `json:"summary"`
	Tree                string `json:"tree"`
	Content             string `json:"content"`
	EstimatedTokenCount int    `json:"estimatedTokenCount"`
	TokenEncoding       string `json:"tokenEncoding,omitempty"`
	IncludedFiles       int    `json:"includedFiles"`
	Partial             bool   `json:"partial"`
	Truncated           bool   `json:"truncated"`
}
