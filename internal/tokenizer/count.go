package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// CountChunks sums the token counts of chunks, checking ctx between chunks
// so that large digests can be abandoned.
func CountChunks(ctx context.Context, counter Counter, chunks []string) (int, error) {
	if counter == nil {
		return 0, errors.New("nil tokenizer counter")
	}
	total := 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if chunk == "" {
			continue
		}
		tokens, err := counter.CountString(chunk)
		if err != nil {
			return 0, fmt.Errorf("counting tokens with %s: %w", counter.Name(), err)
		}
		total += tokens
	}
	return total, nil
}

// FormatCount renders a token count compactly, e.g. 950, 1.2k or 3.4M.
func FormatCount(tokens int) string {
	switch {
	case tokens >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	case tokens >= 1_000:
		return fmt.Sprintf("%.1fk", float64(tokens)/1_000)
	default:
		return strconv.Itoa(tokens)
	}
}
