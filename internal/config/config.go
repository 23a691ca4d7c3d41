// Package config loads application settings and parses ignore files.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const (
	// binarySectionHeader identifies the section listing binary content patterns.
	binarySectionHeader = "[binary]"
	// ignoreSectionHeader identifies the section listing ignore patterns.
	ignoreSectionHeader = "[ignore]"

	errorOpenIgnoreFileFormat = "opening ignore file %s: %w"
	errorScanIgnoreFileFormat = "scanning ignore file %s: %w"
)

// IgnoreFileRules holds the patterns declared in one tool ignore file.
// IgnorePatterns exclude entries, BinaryPatterns select binary files whose
// content is included as base64.
type IgnoreFileRules struct {
	IgnorePatterns []string
	BinaryPatterns []string
}

// IsEmpty reports whether the file declared no patterns.
func (rules IgnoreFileRules) IsEmpty() bool {
	return len(rules.IgnorePatterns) == 0 && len(rules.BinaryPatterns) == 0
}

// LoadIgnoreFile reads a tool ignore file. The file is split into an
// [ignore] section, which is the default, and a [binary] section. A missing
// file yields empty rules.
//
// #nosec G304
func LoadIgnoreFile(ignoreFilePath string) (IgnoreFileRules, error) {
	lines, readError := readPatternLines(ignoreFilePath)
	if readError != nil || lines == nil {
		return IgnoreFileRules{}, readError
	}

	var rules IgnoreFileRules
	currentSectionHeader := ignoreSectionHeader
	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" || strings.HasPrefix(trimmedLine, "#") {
			continue
		}
		switch {
		case strings.EqualFold(trimmedLine, binarySectionHeader):
			currentSectionHeader = binarySectionHeader
		case strings.EqualFold(trimmedLine, ignoreSectionHeader):
			currentSectionHeader = ignoreSectionHeader
		case currentSectionHeader == binarySectionHeader:
			rules.BinaryPatterns = append(rules.BinaryPatterns, trimmedLine)
		default:
			rules.IgnorePatterns = append(rules.IgnorePatterns, trimmedLine)
		}
	}
	return rules, nil
}

// LoadGitIgnoreFile returns the raw lines of a .gitignore file so the
// gitignore matcher can apply its own comment and whitespace rules. A missing
// file yields nil.
func LoadGitIgnoreFile(gitIgnoreFilePath string) ([]string, error) {
	return readPatternLines(gitIgnoreFilePath)
}

func readPatternLines(filePath string) ([]string, error) {
	fileHandle, openFileError := os.Open(filePath)
	if openFileError != nil {
		if os.IsNotExist(openFileError) {
			return nil, nil
		}
		return nil, fmt.Errorf(errorOpenIgnoreFileFormat, filePath, openFileError)
	}
	defer func() {
		if closeError := fileHandle.Close(); closeError != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close %s: %v\n", filePath, closeError)
		}
	}()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(fileHandle)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanError := scanner.Err(); scanError != nil {
		return nil, fmt.Errorf(errorScanIgnoreFileFormat, filePath, scanError)
	}
	return lines, nil
}
