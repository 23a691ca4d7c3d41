// Package tokenizer estimates token counts of rendered digests with tiktoken.
// Counts are approximate: they follow one public encoding and need not equal
// the count any particular model would report.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts for text content.
type Counter interface {
	Name() string
	CountString(input string) (int, error)
}

// Config captures tokenizer selection parameters.
type Config struct {
	Model string
}

const (
	defaultModel            = "gpt-4o"
	defaultEncodingName     = tiktoken.MODEL_O200K_BASE
	compatibleEncodingName  = tiktoken.MODEL_CL100K_BASE
	errorInitEncodingFormat = "initialize tokenizer encoding %s: %w"
)

// NewCounter returns a Counter for the encoding used by the requested model.
// Unknown models use o200k_base; if that encoding cannot be loaded the
// older cl100k_base is tried before giving up.
func NewCounter(cfg Config) (Counter, error) {
	model := strings.ToLower(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = defaultModel
	}

	candidates := []string{defaultEncodingName, compatibleEncodingName}
	if encodingName := encodingNameForModel(model); encodingName != "" && encodingName != defaultEncodingName {
		candidates = append([]string{encodingName}, candidates...)
	}

	var loadErrors []error
	for _, encodingName := range candidates {
		encoding, err := tiktoken.GetEncoding(encodingName)
		if err == nil && encoding != nil {
			return encodingCounter{encoding: encoding, name: encodingName}, nil
		}
		loadErrors = append(loadErrors, fmt.Errorf(errorInitEncodingFormat, encodingName, err))
	}
	return nil, errors.Join(loadErrors...)
}

// encodingNameForModel resolves a model to its encoding using the exact
// model table first and the longest matching prefix second.
func encodingNameForModel(model string) string {
	if encodingName, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return encodingName
	}
	longestPrefix := ""
	resolvedName := ""
	for prefix, encodingName := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(longestPrefix) {
			longestPrefix = prefix
			resolvedName = encodingName
		}
	}
	return resolvedName
}

type encodingCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

func (counter encodingCounter) Name() string {
	return counter.name
}

func (counter encodingCounter) CountString(input string) (int, error) {
	if counter.encoding == nil {
		return 0, errors.New("nil tiktoken encoder")
	}
	return len(counter.encoding.Encode(input, nil, nil)), nil
}
