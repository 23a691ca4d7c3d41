package utils_test

import (
	"testing"

	"github.com/temirov/repodigest/internal/utils"
)

// TestDeduplicatePatterns verifies that DeduplicatePatterns removes duplicate patterns.
func TestDeduplicatePatterns(testingInstance *testing.T) {
	testCases := []struct {
		testName string
		patterns []string
		expected []string
	}{
		{testName: "removes duplicates", patterns: []string{"a", "b", "a"}, expected: []string{"a", "b"}},
		{testName: "keeps unique", patterns: []string{"a", "b"}, expected: []string{"a", "b"}},
		{testName: "empty", patterns: nil, expected: []string{}},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.testName, func(t *testing.T) {
			actual := utils.DeduplicatePatterns(testCase.patterns)
			if len(actual) != len(testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, actual)
			}
			for position, value := range actual {
				if value != testCase.expected[position] {
					t.Fatalf("expected %s at position %d, got %s", testCase.expected[position], position, value)
				}
			}
		})
	}
}

func TestCleanRelativePath(testingInstance *testing.T) {
	testCases := []struct {
		testName      string
		input         string
		expectedPath  string
		expectedValid bool
	}{
		{testName: "root", input: "/", expectedPath: "", expectedValid: true},
		{testName: "dot", input: "./", expectedPath: "", expectedValid: true},
		{testName: "nested", input: "/docs/guide/", expectedPath: "docs/guide", expectedValid: true},
		{testName: "backslashes", input: `docs\guide`, expectedPath: "docs/guide", expectedValid: true},
		{testName: "inner parent", input: "docs/../src", expectedPath: "src", expectedValid: true},
		{testName: "escape", input: "../etc", expectedPath: "", expectedValid: false},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.testName, func(t *testing.T) {
			actualPath, actualValid := utils.CleanRelativePath(testCase.input)
			if actualPath != testCase.expectedPath || actualValid != testCase.expectedValid {
				t.Fatalf("expected (%q, %t), got (%q, %t)", testCase.expectedPath, testCase.expectedValid, actualPath, actualValid)
			}
		})
	}
}

func TestJoinRelativePath(testingInstance *testing.T) {
	if joined := utils.JoinRelativePath("", "a.txt"); joined != "a.txt" {
		testingInstance.Fatalf("expected a.txt, got %s", joined)
	}
	if joined := utils.JoinRelativePath("src/pkg", "a.go"); joined != "src/pkg/a.go" {
		testingInstance.Fatalf("expected src/pkg/a.go, got %s", joined)
	}
}

func TestFormatFileSize(testingInstance *testing.T) {
	testCases := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{name: "negative", bytes: -1, expected: "0b"},
		{name: "zero", bytes: 0, expected: "0b"},
		{name: "bytes", bytes: 512, expected: "512b"},
		{name: "one kilobyte", bytes: 1024, expected: "1kb"},
		{name: "fractional kilobyte", bytes: 1536, expected: "1.5kb"},
		{name: "ten megabytes", bytes: 10 * 1024 * 1024, expected: "10mb"},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.name, func(t *testing.T) {
			result := utils.FormatFileSize(testCase.bytes)
			if result != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, result)
			}
		})
	}
}

// TestIsBinary verifies detection of binary data in byte slices.
func TestIsBinary(testingInstance *testing.T) {
	testCases := []struct {
		testName  string
		data      []byte
		truncated bool
		expected  bool
	}{
		{testName: "utf8 text", data: []byte("hello"), expected: false},
		{testName: "null byte", data: []byte{'a', 0x00, 'b'}, expected: true},
		{testName: "invalid utf8", data: []byte{0xff}, expected: true},
		{testName: "empty slice", data: []byte{}, expected: false},
		{testName: "rune cut at prefix end", data: []byte("ab\xe2\x82"), truncated: true, expected: false},
		{testName: "rune cut in complete data", data: []byte("ab\xe2\x82"), truncated: false, expected: true},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.testName, func(t *testing.T) {
			actual := utils.IsBinary(testCase.data, testCase.truncated)
			if actual != testCase.expected {
				t.Fatalf("expected %t, got %t", testCase.expected, actual)
			}
		})
	}
}

func TestSniffPrefix(testingInstance *testing.T) {
	largeData := make([]byte, utils.SniffLength+10)
	prefix, truncated := utils.SniffPrefix(largeData)
	if len(prefix) != utils.SniffLength || !truncated {
		testingInstance.Fatalf("expected truncated prefix of %d bytes, got %d (truncated=%t)", utils.SniffLength, len(prefix), truncated)
	}
	smallPrefix, smallTruncated := utils.SniffPrefix([]byte("abc"))
	if len(smallPrefix) != 3 || smallTruncated {
		testingInstance.Fatalf("expected untouched prefix, got %d bytes (truncated=%t)", len(smallPrefix), smallTruncated)
	}
}

func TestNewApplicationLogger(testingInstance *testing.T) {
	logger, loggerError := utils.NewApplicationLogger("debug")
	if loggerError != nil {
		testingInstance.Fatalf("unexpected error: %v", loggerError)
	}
	if !logger.Core().Enabled(-1) {
		testingInstance.Fatalf("expected debug level to be enabled")
	}
	if _, invalidError := utils.NewApplicationLogger("loud"); invalidError == nil {
		testingInstance.Fatalf("expected an error for an unknown level")
	}
}
