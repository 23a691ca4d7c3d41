package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/temirov/repodigest/internal/utils"
)

const allowedPatternPunctuation = "-_./+*?[]{}!"

// NormalizePatterns splits raw values on commas and whitespace, validates
// each pattern and rewrites it into the form the traversal matches against:
// a leading slash is dropped and a trailing slash matches the whole directory.
func NormalizePatterns(rawValues []string) ([]string, error) {
	var patterns []string
	for _, rawValue := range rawValues {
		fields := strings.FieldsFunc(rawValue, func(character rune) bool {
			return character == ',' || unicode.IsSpace(character)
		})
		for _, field := range fields {
			for _, character := range field {
				if !isAllowedPatternCharacter(character) {
					return nil, fmt.Errorf("pattern %q contains %q", field, character)
				}
			}
			pattern := strings.TrimLeft(field, "/")
			if strings.HasSuffix(pattern, "/") {
				pattern += "*"
			}
			if pattern == "" {
				continue
			}
			patterns = append(patterns, pattern)
		}
	}
	return utils.DeduplicatePatterns(patterns), nil
}

func isAllowedPatternCharacter(character rune) bool {
	if character < unicode.MaxASCII && (unicode.IsLetter(character) || unicode.IsDigit(character)) {
		return true
	}
	return strings.ContainsRune(allowedPatternPunctuation, character)
}
