package output

import (
	"fmt"
	"strings"

	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/utils"
)

// contentFiles returns the files with captured content in traversal order.
func contentFiles(root *types.Node) []*types.Node {
	var files []*types.Node
	var visit func(node *types.Node)
	visit = func(node *types.Node) {
		if node == nil {
			return
		}
		switch node.Kind {
		case types.NodeFile:
			if node.HasContent() {
				files = append(files, node)
			}
		case types.NodeDirectory:
			for _, child := range node.Children {
				visit(child)
			}
		case types.NodeSymlink:
		}
	}
	visit(root)
	return files
}

func fileBlock(node *types.Node) string {
	var builder strings.Builder
	header := fmt.Sprintf(fileHeaderFormat, node.Path)
	if node.Encoding == types.EncodingBase64 {
		header += base64HeaderLabel
	}
	builder.WriteString(contentSeparator + "\n")
	builder.WriteString(header + "\n")
	builder.WriteString(contentSeparator + "\n")
	builder.WriteString(node.Content)
	if !strings.HasSuffix(node.Content, "\n") {
		builder.WriteString("\n")
	}
	builder.WriteString("\n")
	return builder.String()
}

// renderContent concatenates file blocks until maxOutputBytes would be
// exceeded. A limit of zero or less disables the ceiling.
func renderContent(root *types.Node, maxOutputBytes int64) (string, bool) {
	files := contentFiles(root)
	var builder strings.Builder
	for index, node := range files {
		block := fileBlock(node)
		if maxOutputBytes > 0 && int64(builder.Len()+len(block)) > maxOutputBytes {
			fmt.Fprintf(&builder, truncationFormat, len(files)-index, utils.FormatFileSize(maxOutputBytes))
			return builder.String(), true
		}
		builder.WriteString(block)
	}
	return builder.String(), false
}
