// Package traversal walks a local tree under layered filters and hard
// budgets and produces the ordered node tree a digest is built from.
package traversal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/repodigest/internal/config"
	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/utils"
)

const (
	// WarningDirectoryReadFormat is reported when a directory cannot be listed.
	WarningDirectoryReadFormat = "cannot read directory %s: %v"
	// WarningFileReadFormat is reported when a file cannot be read.
	WarningFileReadFormat = "cannot read file %s: %v"
	// WarningIgnoreFileFormat is reported when an ignore file cannot be parsed.
	WarningIgnoreFileFormat = "cannot load ignore file %s: %v"
)

// Options describes one walk. Root is the source root (the workspace or the
// local path); SubPath narrows the walk to a directory or file below it while
// ignore files between Root and SubPath still apply.
type Options struct {
	Root              string
	SubPath           string
	Limits            config.Limits
	MaxFileSizeBytes  int64
	Patterns          types.PatternSet
	IncludeGitIgnored bool
	ShowFiltered      bool
	// Warn receives per-entry problems. Nil discards them.
	Warn func(string)
}

// Result is the traversed tree and its statistics.
type Result struct {
	Root  *types.Node
	Stats types.TraversalStats
}

// Engine walks trees. It holds no per-walk state and may be shared.
type Engine struct {
	logger *zap.Logger
}

// NewEngine returns an Engine logging through logger.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

var errStopWalk = errors.New("traversal budget reached")

// ErrSymlinkInSubPath is wrapped by the TraversalIOError returned when a
// directory on the way to the sub path is a symbolic link.
var ErrSymlinkInSubPath = errors.New("sub path crosses a symbolic link")

type walker struct {
	ctx          context.Context
	options      Options
	maxFileSize  int64
	patterns     *patternMatcher
	gitIgnores   ignoreStack
	toolIgnores  ignoreStack
	binaryRules  ignoreStack
	stats        types.TraversalStats
	warn         func(string)
	traversalDir string
}

// Walk traverses options.Root/options.SubPath. Per-entry failures become
// omissions; only an unreadable root, a timeout or cancellation is an error.
func (engine *Engine) Walk(ctx context.Context, options Options) (Result, error) {
	traversalRoot := utils.NativePath(options.Root, options.SubPath)
	patterns, patternErr := newPatternMatcher(options.Patterns)
	if patternErr != nil {
		return Result{}, &types.InvalidSourceError{Descriptor: strings.Join(options.Patterns.Patterns, ","), Reason: patternErr.Error()}
	}

	timeout := options.Limits.TraversalTimeout
	if timeout <= 0 {
		timeout = config.DefaultTraversalTimeout
	}
	walkContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxFileSize := options.MaxFileSizeBytes
	if maxFileSize <= 0 {
		maxFileSize = options.Limits.MaxFileSizeBytes
	}
	warn := options.Warn
	if warn == nil {
		warn = func(string) {}
	}
	state := &walker{
		ctx:          walkContext,
		options:      options,
		maxFileSize:  maxFileSize,
		patterns:     patterns,
		warn:         warn,
		traversalDir: options.SubPath,
	}

	started := time.Now()
	rootInfo, statErr := statTraversalRoot(options.Root, options.SubPath)
	if statErr != nil {
		return Result{}, &types.TraversalIOError{Path: traversalRoot, Err: statErr}
	}

	var rootNode *types.Node
	var walkErr error
	switch {
	case rootInfo.Mode()&os.ModeSymlink != 0:
		rootNode = &types.Node{Kind: types.NodeSymlink, Name: rootInfo.Name(), Path: rootInfo.Name()}
		state.captureSymlink(traversalRoot, rootNode)
	case rootInfo.IsDir():
		state.pushAncestorFrames()
		rootNode = &types.Node{Kind: types.NodeDirectory, Name: filepath.Base(traversalRoot)}
		walkErr = state.visitDirectory(traversalRoot, rootNode, false)
		state.stats.Directories++
	default:
		rootNode = &types.Node{Kind: types.NodeFile, Name: rootInfo.Name(), Path: rootInfo.Name(), Size: rootInfo.Size()}
		walkErr = state.captureFile(traversalRoot, rootNode, false)
	}
	if walkErr != nil && !errors.Is(walkErr, errStopWalk) {
		return Result{}, &types.TraversalIOError{Path: traversalRoot, Err: walkErr}
	}
	if contextErr := walkContext.Err(); contextErr != nil {
		return Result{}, &types.TraversalIOError{Path: traversalRoot, Err: contextErr}
	}

	engine.logger.Debug("traversal finished",
		zap.String("root", traversalRoot),
		zap.Int("files", state.stats.IncludedFiles),
		zap.Int64("bytes", state.stats.IncludedBytes),
		zap.Int("omitted", state.stats.OmittedEntries()),
		zap.Bool("partial", state.stats.Partial),
		zap.String("stop_reason", string(state.stats.StopReason)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return Result{Root: rootNode, Stats: state.stats}, nil
}

// statTraversalRoot follows root itself but inspects every sub path
// component with Lstat, so a link inside the tree never leads the walk
// outside it. A link as the last component is returned as is.
func statTraversalRoot(root, subPath string) (os.FileInfo, error) {
	if subPath == "" {
		return os.Stat(root)
	}
	if _, rootErr := os.Stat(root); rootErr != nil {
		return nil, rootErr
	}
	segments := strings.Split(subPath, "/")
	current := root
	var info os.FileInfo
	for index, segment := range segments {
		current = filepath.Join(current, segment)
		var lstatErr error
		info, lstatErr = os.Lstat(current)
		if lstatErr != nil {
			return nil, lstatErr
		}
		if info.Mode()&os.ModeSymlink != 0 && index < len(segments)-1 {
			return nil, fmt.Errorf("%s: %w", strings.Join(segments[:index+1], "/"), ErrSymlinkInSubPath)
		}
	}
	return info, nil
}

// pushAncestorFrames loads the ignore files of every directory from Root
// down to, but excluding, the traversal directory.
func (state *walker) pushAncestorFrames() {
	if state.traversalDir == "" {
		return
	}
	state.pushFrames("")
	segments := strings.Split(state.traversalDir, "/")
	for index := 1; index < len(segments); index++ {
		state.pushFrames(strings.Join(segments[:index], "/"))
	}
}

// pushFrames loads the ignore files of the directory at repoPath.
func (state *walker) pushFrames(repoPath string) {
	directory := utils.NativePath(state.options.Root, repoPath)

	var gitFrame *ignoreFrame
	if !state.options.IncludeGitIgnored {
		gitIgnoreFile := filepath.Join(directory, utils.GitIgnoreFileName)
		lines, loadErr := config.LoadGitIgnoreFile(gitIgnoreFile)
		if loadErr != nil {
			state.warn(fmt.Sprintf(WarningIgnoreFileFormat, gitIgnoreFile, loadErr))
		}
		if len(lines) > 0 {
			gitFrame = compileIgnoreFrame(repoPath, lines)
		}
	}
	state.gitIgnores.push(gitFrame)

	ignoreFile := filepath.Join(directory, utils.IgnoreFileName)
	rules, loadErr := config.LoadIgnoreFile(ignoreFile)
	if loadErr != nil {
		state.warn(fmt.Sprintf(WarningIgnoreFileFormat, ignoreFile, loadErr))
	}
	var toolFrame, binaryFrame *ignoreFrame
	if len(rules.IgnorePatterns) > 0 {
		toolFrame = compileIgnoreFrame(repoPath, rules.IgnorePatterns)
	}
	if len(rules.BinaryPatterns) > 0 {
		binaryFrame = compileIgnoreFrame(repoPath, rules.BinaryPatterns)
	}
	state.toolIgnores.push(toolFrame)
	state.binaryRules.push(binaryFrame)
}

func (state *walker) popFrames() {
	state.gitIgnores.pop()
	state.toolIgnores.pop()
	state.binaryRules.pop()
}

func (state *walker) repoPath(relativePath string) string {
	if relativePath == "" {
		return state.traversalDir
	}
	return utils.JoinRelativePath(state.traversalDir, relativePath)
}

// walkDirectory fills node.Children from the directory at nativePath.
// includedByAncestor is set below a directory matched by an include pattern.
func (state *walker) walkDirectory(nativePath string, node *types.Node, includedByAncestor bool) error {
	if err := state.ctx.Err(); err != nil {
		return err
	}
	entries, readErr := os.ReadDir(nativePath)
	if readErr != nil {
		if node.Path == "" {
			return readErr
		}
		state.warn(fmt.Sprintf(WarningDirectoryReadFormat, node.Path, readErr))
		node.Omission = types.OmissionUnreadable
		state.stats.RecordOmission(types.OmissionUnreadable)
		return nil
	}

	state.pushFrames(state.repoPath(node.Path))
	defer state.popFrames()

	for _, entry := range entries {
		if err := state.ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if isDefaultExcluded(name) {
			continue
		}
		childPath := utils.JoinRelativePath(node.Path, name)
		childNative := filepath.Join(nativePath, name)
		info, lstatErr := os.Lstat(childNative)
		if lstatErr != nil {
			state.warn(fmt.Sprintf(WarningFileReadFormat, childPath, lstatErr))
			state.stats.RecordOmission(types.OmissionUnreadable)
			node.Children = append(node.Children, &types.Node{
				Kind: types.NodeFile, Name: name, Path: childPath, Depth: node.Depth + 1, Omission: types.OmissionUnreadable,
			})
			continue
		}

		child := &types.Node{Name: name, Path: childPath, Depth: node.Depth + 1}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			child.Kind = types.NodeSymlink
		case info.IsDir():
			child.Kind = types.NodeDirectory
		default:
			child.Kind = types.NodeFile
			child.Size = info.Size()
		}
		isDirectory := child.Kind == types.NodeDirectory

		if reason := state.layerExclusion(childPath, isDirectory); reason != types.OmissionNone {
			state.recordFiltered(node, child, reason)
			continue
		}

		childIncluded := includedByAncestor
		if state.patterns.active() {
			matched := state.patterns.matches(childPath, isDirectory)
			switch state.patterns.mode {
			case types.PatternExclude:
				if matched {
					state.recordFiltered(node, child, types.OmissionPatternExcluded)
					continue
				}
			case types.PatternInclude:
				if matched {
					childIncluded = true
				}
				if !childIncluded {
					if !isDirectory || !state.patterns.couldContainMatch(childPath) {
						state.recordFiltered(node, child, types.OmissionPatternExcluded)
						continue
					}
				}
			}
		}

		var childErr error
		switch child.Kind {
		case types.NodeSymlink:
			state.captureSymlink(childNative, child)
		case types.NodeDirectory:
			childErr = state.visitDirectory(childNative, child, childIncluded)
			if state.prunable(child) {
				if childErr != nil {
					return childErr
				}
				continue
			}
			state.stats.Directories++
		case types.NodeFile:
			childErr = state.captureFile(childNative, child, true)
			if errors.Is(childErr, errStopWalk) {
				return childErr
			}
		}
		node.Children = append(node.Children, child)
		if childErr != nil {
			return childErr
		}
	}
	return nil
}

func (state *walker) visitDirectory(nativePath string, node *types.Node, includedByAncestor bool) error {
	if node.Depth >= state.options.Limits.MaxDirectoryDepth {
		node.DepthLimited = true
		state.stats.DepthLimited++
		return nil
	}
	return state.walkDirectory(nativePath, node, includedByAncestor)
}

// prunable reports whether an include-mode directory ended up with nothing
// worth showing.
func (state *walker) prunable(node *types.Node) bool {
	if state.patterns.mode != types.PatternInclude || node.DepthLimited || node.Omission != types.OmissionNone {
		return false
	}
	for _, child := range node.Children {
		if child.Omission != types.OmissionPatternExcluded && child.Omission != types.OmissionIgnoreFileExcluded {
			return false
		}
	}
	return true
}

// layerExclusion applies the gitignore and tool ignore layers in order.
func (state *walker) layerExclusion(relativePath string, isDirectory bool) types.OmissionReason {
	repoPath := state.repoPath(relativePath)
	if !state.options.IncludeGitIgnored && state.gitIgnores.matches(repoPath, isDirectory) {
		return types.OmissionIgnoreFileExcluded
	}
	if state.toolIgnores.matches(repoPath, isDirectory) {
		return types.OmissionIgnoreFileExcluded
	}
	return types.OmissionNone
}

func (state *walker) recordFiltered(parent, child *types.Node, reason types.OmissionReason) {
	state.stats.RecordOmission(reason)
	if !state.options.ShowFiltered {
		return
	}
	child.Omission = reason
	child.Size = 0
	parent.Children = append(parent.Children, child)
}

func (state *walker) captureSymlink(nativePath string, node *types.Node) {
	target, readErr := os.Readlink(nativePath)
	if readErr != nil {
		state.warn(fmt.Sprintf(WarningFileReadFormat, node.Path, readErr))
		node.Omission = types.OmissionUnreadable
		state.stats.RecordOmission(types.OmissionUnreadable)
		return
	}
	node.LinkTarget = filepath.ToSlash(target)
	node.Omission = types.OmissionSymlinkSkipped
	state.stats.RecordOmission(types.OmissionSymlinkSkipped)
}

// captureFile reads a file node subject to the size and count budgets. It
// returns errStopWalk once a budget ends the walk. reportErrors is false for
// a file root, whose read failure is a walk error rather than an omission.
func (state *walker) captureFile(nativePath string, node *types.Node, reportErrors bool) error {
	if node.Size > state.maxFileSize {
		node.Omission = types.OmissionTooLarge
		state.stats.RecordOmission(types.OmissionTooLarge)
		state.stats.TooLargeBytes += node.Size
		return nil
	}

	fileHandle, openErr := os.Open(nativePath)
	if openErr != nil {
		return state.unreadable(node, openErr, reportErrors)
	}
	defer fileHandle.Close()

	prefix := make([]byte, utils.SniffLength+1)
	prefixLength, readErr := io.ReadFull(fileHandle, prefix)
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return state.unreadable(node, readErr, reportErrors)
	}
	prefix = prefix[:prefixLength]
	sniffed, truncated := utils.SniffPrefix(prefix)
	node.IsBinary = utils.IsBinary(sniffed, truncated)

	includeBinary := false
	if node.IsBinary {
		includeBinary = state.binaryRules.matches(state.repoPath(node.Path), false)
		if !includeBinary {
			node.Omission = types.OmissionBinaryExcluded
			state.stats.RecordOmission(types.OmissionBinaryExcluded)
			return nil
		}
	}

	if budgetErr := state.checkBudgets(node.Size); budgetErr != nil {
		return budgetErr
	}

	remainder, readErr := io.ReadAll(io.LimitReader(fileHandle, state.maxFileSize-int64(prefixLength)+1))
	if readErr != nil {
		return state.unreadable(node, readErr, reportErrors)
	}
	data := append(prefix, remainder...)
	if int64(len(data)) > state.maxFileSize {
		node.Size = int64(len(data))
		node.Omission = types.OmissionTooLarge
		state.stats.RecordOmission(types.OmissionTooLarge)
		state.stats.TooLargeBytes += node.Size
		return nil
	}

	node.Size = int64(len(data))
	if includeBinary {
		node.Content = base64.StdEncoding.EncodeToString(data)
		node.Encoding = types.EncodingBase64
	} else {
		node.Content = string(data)
		node.Encoding = types.EncodingText
	}
	state.stats.IncludedFiles++
	state.stats.IncludedBytes += node.Size
	return nil
}

func (state *walker) checkBudgets(size int64) error {
	limits := state.options.Limits
	if limits.MaxFiles > 0 && state.stats.IncludedFiles >= limits.MaxFiles {
		state.stats.Partial = true
		state.stats.StopReason = types.StopMaxFiles
		return errStopWalk
	}
	if limits.MaxTotalSizeBytes > 0 && state.stats.IncludedBytes+size > limits.MaxTotalSizeBytes {
		state.stats.Partial = true
		state.stats.StopReason = types.StopMaxTotalSize
		return errStopWalk
	}
	return nil
}

func (state *walker) unreadable(node *types.Node, err error, reportErrors bool) error {
	if !reportErrors {
		return err
	}
	state.warn(fmt.Sprintf(WarningFileReadFormat, node.Path, err))
	node.Omission = types.OmissionUnreadable
	state.stats.RecordOmission(types.OmissionUnreadable)
	return nil
}
