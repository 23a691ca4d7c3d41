package traversal

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"

	"github.com/temirov/repodigest/internal/types"
)

const globMetaCharacters = "*?[{\\"

type compiledPattern struct {
	source string
	glob   glob.Glob
	// literalPrefix is the part of source before the first meta character.
	literalPrefix string
	hasSlash      bool
}

// patternMatcher applies the user's include or exclude patterns. Without
// separators gobwas/glob lets "*" cross "/", as fnmatch does.
type patternMatcher struct {
	mode     types.PatternMode
	patterns []compiledPattern
}

func newPatternMatcher(patternSet types.PatternSet) (*patternMatcher, error) {
	matcher := &patternMatcher{mode: patternSet.Mode}
	if patternSet.Mode == types.PatternNone {
		return matcher, nil
	}
	for _, source := range patternSet.Patterns {
		compiled, compileErr := glob.Compile(source)
		if compileErr != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", source, compileErr)
		}
		literalPrefix := source
		if metaIndex := strings.IndexAny(source, globMetaCharacters); metaIndex >= 0 {
			literalPrefix = source[:metaIndex]
		}
		matcher.patterns = append(matcher.patterns, compiledPattern{
			source:        source,
			glob:          compiled,
			literalPrefix: literalPrefix,
			hasSlash:      strings.Contains(source, "/"),
		})
	}
	if len(matcher.patterns) == 0 {
		matcher.mode = types.PatternNone
	}
	return matcher, nil
}

func (matcher *patternMatcher) active() bool {
	return matcher.mode != types.PatternNone
}

// matches reports whether relativePath, or its base name for patterns
// without a slash, matches any pattern. Directories are also tried with a
// trailing slash so "docs/*" covers the docs directory itself.
func (matcher *patternMatcher) matches(relativePath string, isDirectory bool) bool {
	baseName := path.Base(relativePath)
	for _, pattern := range matcher.patterns {
		if pattern.glob.Match(relativePath) {
			return true
		}
		if isDirectory && pattern.glob.Match(relativePath+"/") {
			return true
		}
		if !pattern.hasSlash && pattern.glob.Match(baseName) {
			return true
		}
	}
	return false
}

// couldContainMatch reports whether a file below directoryPath could match
// an include pattern.
func (matcher *patternMatcher) couldContainMatch(directoryPath string) bool {
	directoryPrefix := directoryPath + "/"
	for _, pattern := range matcher.patterns {
		if !pattern.hasSlash {
			return true
		}
		if strings.HasPrefix(pattern.literalPrefix, directoryPrefix) || strings.HasPrefix(directoryPrefix, pattern.literalPrefix) {
			return true
		}
	}
	return false
}
