package output

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/utils"
)

const noMatchesLine = "No files matched the current filters."

var omissionLabels = map[types.OmissionReason]string{
	types.OmissionTooLarge:           "too large",
	types.OmissionBinaryExcluded:     "binary",
	types.OmissionPatternExcluded:    "excluded by pattern",
	types.OmissionIgnoreFileExcluded: "ignored",
	types.OmissionSymlinkSkipped:     "symlink",
	types.OmissionUnreadable:         "unreadable",
}

var stopReasonLabels = map[types.StopReason]string{
	types.StopMaxFiles:     "max files",
	types.StopMaxTotalSize: "max total size",
}

func buildSummary(input Input, digest types.Digest) string {
	var lines []string
	query := input.Query

	switch {
	case query.IsRemote():
		lines = append(lines, "Repository: "+query.FullName())
	case query.TargetsFile && query.SubPath == "":
		lines = append(lines, "File: "+filepath.Base(query.LocalPath))
	default:
		lines = append(lines, "Directory: "+query.LocalPath)
	}
	if refLine := refSummaryLine(query.Ref); refLine != "" {
		lines = append(lines, refLine)
	}
	if query.SubPath != "" {
		if query.TargetsFile {
			lines = append(lines, "File: "+query.SubPath)
		} else {
			lines = append(lines, "Subpath: "+query.SubPath)
		}
	}

	if input.Root != nil && input.Root.Kind == types.NodeFile && input.Root.HasContent() && input.Root.Encoding != types.EncodingBase64 {
		lines = append(lines, fmt.Sprintf("Lines: %d", countLines(input.Root.Content)))
	} else {
		lines = append(lines, fmt.Sprintf("Files analyzed: %d", input.Stats.IncludedFiles))
	}
	lines = append(lines, "Total size: "+utils.FormatFileSize(input.Stats.IncludedBytes))

	if skipped := skippedSummary(input.Stats); skipped != "" {
		lines = append(lines, "Skipped: "+skipped)
	}
	if input.Stats.DepthLimited > 0 {
		lines = append(lines, fmt.Sprintf("Depth limited: %d directories below depth %d", input.Stats.DepthLimited, input.Limits.MaxDirectoryDepth))
	}
	if input.Stats.Partial {
		lines = append(lines, "Partial: stopped at "+stopReasonLabel(input.Stats.StopReason, input))
	}
	if digest.Truncated {
		lines = append(lines, "Truncated: output limited to "+utils.FormatFileSize(input.Limits.MaxOutputBytes))
	}
	lines = append(lines, "Estimated tokens: "+FormatTokenCount(digest.EstimatedTokenCount, digest.TokenEncoding))
	if input.Stats.IncludedFiles == 0 {
		lines = append(lines, noMatchesLine)
	}
	return strings.Join(lines, "\n") + "\n"
}

func refSummaryLine(ref types.Ref) string {
	switch ref.Kind {
	case types.RefBranch:
		return "Branch: " + ref.Name
	case types.RefTag:
		return "Tag: " + ref.Name
	case types.RefCommit:
		if ref.Name != "" {
			return "Commit: " + ref.Name
		}
		return "Commit: " + ref.Commit
	case types.RefNone:
	}
	return ""
}

func skippedSummary(stats types.TraversalStats) string {
	var parts []string
	for _, reason := range types.OmissionReasons {
		count := stats.Omissions[reason]
		if count == 0 {
			continue
		}
		part := fmt.Sprintf("%d %s", count, omissionLabels[reason])
		if reason == types.OmissionTooLarge && stats.TooLargeBytes > 0 {
			part += fmt.Sprintf(" (%s)", utils.FormatFileSize(stats.TooLargeBytes))
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func stopReasonLabel(reason types.StopReason, input Input) string {
	switch reason {
	case types.StopMaxFiles:
		return fmt.Sprintf("%s (%d)", stopReasonLabels[reason], input.Limits.MaxFiles)
	case types.StopMaxTotalSize:
		return fmt.Sprintf("%s (%s)", stopReasonLabels[reason], utils.FormatFileSize(input.Limits.MaxTotalSizeBytes))
	case types.StopNone:
	}
	return "an unknown budget"
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	lines := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		lines++
	}
	return lines
}

// rootName returns the label used for the tree root of a query.
func rootName(query types.IngestionQuery) string {
	if query.SubPath != "" {
		return path.Base(query.SubPath)
	}
	if query.IsRemote() {
		return query.Slug
	}
	if query.LocalPath == "" {
		return ""
	}
	return filepath.Base(query.LocalPath)
}
