package tokenizer

import (
	"context"
	"errors"
	"testing"
)

type testCounter struct{}

func (testCounter) Name() string { return "stub" }

func (testCounter) CountString(input string) (int, error) { return len([]rune(input)), nil }

type failingCounter struct{}

func (failingCounter) Name() string { return "failing" }

func (failingCounter) CountString(string) (int, error) { return 0, errors.New("boom") }

func TestCountChunks(t *testing.T) {
	total, err := CountChunks(context.Background(), testCounter{}, []string{"hello", "", "wörld"})
	if err != nil {
		t.Fatalf("CountChunks error: %v", err)
	}
	if total != 10 {
		t.Fatalf("expected 10 tokens, got %d", total)
	}
}

func TestCountChunksStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CountChunks(ctx, testCounter{}, []string{"hello"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCountChunksPropagatesCounterFailure(t *testing.T) {
	if _, err := CountChunks(context.Background(), failingCounter{}, []string{"x"}); err == nil {
		t.Fatalf("expected an error from the failing counter")
	}
	if _, err := CountChunks(context.Background(), nil, []string{"x"}); err == nil {
		t.Fatalf("expected an error for a nil counter")
	}
}

func TestFormatCount(t *testing.T) {
	testCases := []struct {
		name     string
		tokens   int
		expected string
	}{
		{name: "small", tokens: 950, expected: "950"},
		{name: "thousands", tokens: 1234, expected: "1.2k"},
		{name: "millions", tokens: 3_460_000, expected: "3.5M"},
		{name: "zero", tokens: 0, expected: "0"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if formatted := FormatCount(testCase.tokens); formatted != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, formatted)
			}
		})
	}
}

func TestEncodingNameForModel(t *testing.T) {
	testCases := []struct {
		model    string
		expected string
	}{
		{model: "gpt-4o", expected: "o200k_base"},
		{model: "gpt-4o-2024-05-13", expected: "o200k_base"},
		{model: "gpt-4", expected: "cl100k_base"},
		{model: "claude-3", expected: ""},
	}
	for _, testCase := range testCases {
		t.Run(testCase.model, func(t *testing.T) {
			if name := encodingNameForModel(testCase.model); name != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, name)
			}
		})
	}
}
