package output

import (
	"encoding/json"

	"github.com/temirov/repodigest/internal/types"
)

// RenderJSON marshals the digest with indentation.
func RenderJSON(digest types.Digest) (string, error) {
	encoded, jsonEncodeError := json.MarshalIndent(digest, indentPrefix, indentSpacer)
	if jsonEncodeError != nil {
		return "", jsonEncodeError
	}
	return string(encoded) + "\n", nil
}

// RenderJSONList marshals several digests as one array, preserving order.
func RenderJSONList(digests []types.Digest) (string, error) {
	if len(digests) == 1 {
		return RenderJSON(digests[0])
	}
	if digests == nil {
		digests = []types.Digest{}
	}
	encoded, jsonEncodeError := json.MarshalIndent(digests, indentPrefix, indentSpacer)
	if jsonEncodeError != nil {
		return "", jsonEncodeError
	}
	return string(encoded) + "\n", nil
}
