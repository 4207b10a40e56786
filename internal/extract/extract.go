// Package extract turns raw artifact file bytes into indexable text,
// dispatching on the file extension.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupported marks formats that have no extractor yet. Jobs hitting it
// fail loudly instead of indexing placeholder text.
var ErrUnsupported = errors.New("unsupported file format")

var ErrEmpty = errors.New("no text content extracted")

// Text extracts plain text from file content. Plain-text formats pass
// through verbatim; pdf and word documents are not implemented.
func Text(content []byte, path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	switch ext {
	case "txt", "md", "csv", "json":
		return asText(content)
	case "pdf":
		return "", fmt.Errorf("pdf extraction: %w", ErrUnsupported)
	case "doc", "docx":
		return "", fmt.Errorf("word document extraction: %w", ErrUnsupported)
	default:
		// Unknown extensions are treated as text when they decode to
		// something non-empty.
		return asText(content)
	}
}

func asText(content []byte) (string, error) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", ErrEmpty
	}
	return string(content), nil
}
