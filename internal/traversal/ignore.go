package traversal

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// defaultExcludedNames are never traversed and never reported.
var defaultExcludedNames = map[string]struct{}{
	".git":      {},
	".hg":       {},
	".svn":      {},
	".bzr":      {},
	"_darcs":    {},
	"CVS":       {},
	".DS_Store": {},
}

func isDefaultExcluded(name string) bool {
	_, excluded := defaultExcludedNames[name]
	return excluded
}

// ignoreFrame holds the rules of one ignore file. base is the directory
// containing the file, relative to the repository root; rules match only
// below it.
type ignoreFrame struct {
	base  string
	rules []gitignore.Pattern
}

func compileIgnoreFrame(base string, lines []string) *ignoreFrame {
	frame := &ignoreFrame{base: base}
	domain := splitRepoPath(base)
	for _, line := range lines {
		trimmedLine := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmedLine) == "" || strings.HasPrefix(trimmedLine, "#") {
			continue
		}
		if strings.TrimSpace(strings.TrimPrefix(trimmedLine, "!")) == "" {
			continue
		}
		frame.rules = append(frame.rules, gitignore.ParsePattern(trimmedLine, domain))
	}
	return frame
}

// decide returns the verdict of the last rule matching the repository
// relative path segments.
func (frame *ignoreFrame) decide(segments []string, isDirectory bool) (matched bool, decided bool) {
	for _, rule := range frame.rules {
		switch rule.Match(segments, isDirectory) {
		case gitignore.Exclude:
			matched, decided = true, true
		case gitignore.Include:
			matched, decided = false, true
		case gitignore.NoMatch:
		}
	}
	return matched, decided
}

// ignoreStack is the chain of ignore frames from the repository root down
// to the directory being read. Deeper frames take precedence.
type ignoreStack struct {
	frames []*ignoreFrame
}

func (stack *ignoreStack) push(frame *ignoreFrame) {
	stack.frames = append(stack.frames, frame)
}

func (stack *ignoreStack) pop() {
	stack.frames = stack.frames[:len(stack.frames)-1]
}

// matches reports whether the deepest frame with an opinion on repoPath
// matches it.
func (stack *ignoreStack) matches(repoPath string, isDirectory bool) bool {
	segments := splitRepoPath(repoPath)
	for index := len(stack.frames) - 1; index >= 0; index-- {
		frame := stack.frames[index]
		if frame == nil || len(frame.rules) == 0 {
			continue
		}
		if matched, decided := frame.decide(segments, isDirectory); decided {
			return matched
		}
	}
	return false
}

func splitRepoPath(repoPath string) []string {
	if repoPath == "" {
		return nil
	}
	return strings.Split(repoPath, "/")
}
