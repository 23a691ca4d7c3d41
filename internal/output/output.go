// Package output turns a traversed tree into a digest: a summary, a
// directory tree rendering and the concatenated file contents.
package output

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/repodigest/internal/config"
	"github.com/temirov/repodigest/internal/tokenizer"
	"github.com/temirov/repodigest/internal/types"
)

const (
	indentPrefix = ""
	indentSpacer = "  "

	contentSeparator  = "================================================"
	fileHeaderFormat  = "FILE: %s"
	base64HeaderLabel = " (base64)"
	truncationFormat  = "[truncated: %d more files omitted, output limit %s]\n"

	treeHeader          = "Directory structure:"
	treeBranchConnector = "├── "
	treeLastConnector   = "└── "
	treeBranchPadding   = "│   "
	treeLastPadding     = "    "
)

// Input is everything the formatter needs about one ingestion.
type Input struct {
	Query  types.IngestionQuery
	Root   *types.Node
	Stats  types.TraversalStats
	Limits config.Limits
}

// Formatter builds digests. The token counter is optional; without one the
// estimate stays at zero.
type Formatter struct {
	counter tokenizer.Counter
	logger  *zap.Logger
}

// NewFormatter returns a formatter that estimates tokens with counter.
func NewFormatter(counter tokenizer.Counter, logger *zap.Logger) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{counter: counter, logger: logger}
}

// Format renders input into a digest. The output is a pure function of the
// tree, the stats and the limits, so identical inputs give identical digests.
func (formatter *Formatter) Format(ctx context.Context, input Input) (types.Digest, error) {
	if err := ctx.Err(); err != nil {
		return types.Digest{}, err
	}
	tree := renderTree(input.Root, rootName(input.Query))
	content, truncated := renderContent(input.Root, input.Limits.MaxOutputBytes)

	digest := types.Digest{
		Tree:          tree,
		Content:       content,
		IncludedFiles: input.Stats.IncludedFiles,
		Partial:       input.Stats.Partial,
		Truncated:     truncated,
	}

	tokens, encoding, err := formatter.estimateTokens(ctx, tree, content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Digest{}, ctxErr
		}
		formatter.logger.Warn("token estimate unavailable",
			zap.String("query_id", input.Query.ID),
			zap.Error(err),
		)
	}
	digest.EstimatedTokenCount = tokens
	digest.TokenEncoding = encoding
	digest.Summary = buildSummary(input, digest)
	return digest, nil
}

func (formatter *Formatter) estimateTokens(ctx context.Context, tree, content string) (int, string, error) {
	if formatter.counter == nil {
		return 0, "", errors.New("no tokenizer configured")
	}
	tokens, err := tokenizer.CountChunks(ctx, formatter.counter, []string{tree, content})
	if err != nil {
		return 0, "", err
	}
	return tokens, formatter.counter.Name(), nil
}

// FormatTokenCount renders an estimate such as "1.2k (approximate, o200k_base)".
func FormatTokenCount(tokens int, encoding string) string {
	if encoding == "" {
		return "unavailable"
	}
	return fmt.Sprintf("%s (approximate, %s)", tokenizer.FormatCount(tokens), encoding)
}

// RenderText joins the digest sections, separated by blank lines.
func RenderText(digest types.Digest) string {
	sections := make([]string, 0, 3)
	for _, section := range []string{digest.Summary, digest.Tree, digest.Content} {
		if strings.TrimSpace(section) == "" {
			continue
		}
		sections = append(sections, strings.TrimRight(section, "\n")+"\n")
	}
	return strings.Join(sections, "\n")
}
