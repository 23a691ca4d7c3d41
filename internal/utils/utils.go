// Package utils contains small helpers shared by the ingestion packages.
package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// File and directory names with special meaning during ingestion.
const (
	// IgnoreFileName is the name of the tool's own ignore file.
	IgnoreFileName = ".ignore"
	// GitIgnoreFileName is the name of the Git ignore file.
	GitIgnoreFileName = ".gitignore"
	// GitDirectoryName is the name of the Git repository directory.
	GitDirectoryName = ".git"
)

const pathSegmentSeparator = "/"

var byteUnits = []string{"b", "kb", "mb", "gb", "tb", "pb"}

// DeduplicatePatterns removes duplicate patterns from a slice while preserving order.
func DeduplicatePatterns(patterns []string) []string {
	encounteredPatterns := make(map[string]struct{}, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if _, exists := encounteredPatterns[pattern]; exists {
			continue
		}
		encounteredPatterns[pattern] = struct{}{}
		result = append(result, pattern)
	}
	return result
}

// CleanRelativePath converts a user or URL supplied sub path into a clean,
// slash separated path relative to a root. The root itself is returned as an
// empty string. The boolean result is false when the path escapes the root.
func CleanRelativePath(relativePath string) (string, bool) {
	normalizedPath := strings.ReplaceAll(relativePath, "\\", pathSegmentSeparator)
	normalizedPath = strings.Trim(normalizedPath, pathSegmentSeparator)
	if normalizedPath == "" {
		return "", true
	}
	cleanedPath := path.Clean(normalizedPath)
	if cleanedPath == "." {
		return "", true
	}
	if cleanedPath == ".." || strings.HasPrefix(cleanedPath, "../") {
		return "", false
	}
	return cleanedPath, true
}

// JoinRelativePath joins a parent relative path and a child name using forward slashes.
func JoinRelativePath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + pathSegmentSeparator + name
}

// NativePath converts a slash separated relative path into a path below root.
func NativePath(root, relativePath string) string {
	if relativePath == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(relativePath))
}

// FormatFileSize converts a byte length into a human-readable lower-case unit string.
func FormatFileSize(bytes int64) string {
	if bytes < 0 {
		return "0b"
	}
	value := float64(bytes)
	unitIndex := 0
	for value >= 1024 && unitIndex < len(byteUnits)-1 {
		value /= 1024
		unitIndex++
	}
	switch {
	case unitIndex == 0:
		return fmt.Sprintf("%db", bytes)
	case value < 10:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", value), ".0") + byteUnits[unitIndex]
	default:
		return fmt.Sprintf("%.0f%s", value, byteUnits[unitIndex])
	}
}
