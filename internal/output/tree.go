package output

import (
	"fmt"
	"strings"

	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/utils"
)

var omissionTags = map[types.OmissionReason]string{
	types.OmissionBinaryExcluded:     "binary",
	types.OmissionPatternExcluded:    "excluded",
	types.OmissionIgnoreFileExcluded: "ignored",
	types.OmissionSymlinkSkipped:     "symlink",
	types.OmissionUnreadable:         "unreadable",
}

// renderTree draws root with box connectors. A directory root is labelled
// with rootLabel instead of its on-disk name, which is a temporary
// workspace name for remote sources.
func renderTree(root *types.Node, rootLabel string) string {
	if root == nil {
		return ""
	}
	if root.Kind == types.NodeDirectory && rootLabel != "" {
		relabelled := *root
		relabelled.Name = rootLabel
		root = &relabelled
	}
	var builder strings.Builder
	builder.WriteString(treeHeader + "\n")
	renderTreeNode(&builder, root, "", true)
	return builder.String()
}

func treeNodeLinePrefix(prefix string, isLast bool) (string, string) {
	if isLast {
		return prefix + treeLastConnector, prefix + treeLastPadding
	}
	return prefix + treeBranchConnector, prefix + treeBranchPadding
}

func renderTreeNode(builder *strings.Builder, node *types.Node, prefix string, isLast bool) {
	linePrefix, childPrefix := treeNodeLinePrefix(prefix, isLast)
	builder.WriteString(linePrefix)
	builder.WriteString(nodeLabel(node))
	builder.WriteString("\n")
	if node.Kind != types.NodeDirectory {
		return
	}
	for index, child := range node.Children {
		renderTreeNode(builder, child, childPrefix, index == len(node.Children)-1)
	}
}

func nodeLabel(node *types.Node) string {
	label := node.Name
	switch node.Kind {
	case types.NodeDirectory:
		label += "/"
		if node.DepthLimited {
			label += " [depth limit]"
		}
	case types.NodeSymlink:
		if node.LinkTarget != "" {
			label += " -> " + node.LinkTarget
		}
	}
	return label + omissionTag(node)
}

func omissionTag(node *types.Node) string {
	switch node.Omission {
	case types.OmissionNone:
		return ""
	case types.OmissionTooLarge:
		return fmt.Sprintf(" [too large: %s]", utils.FormatFileSize(node.Size))
	}
	if tag, known := omissionTags[node.Omission]; known {
		return " [" + tag + "]"
	}
	return " [" + string(node.Omission) + "]"
}
