package indexer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDocType is assigned to documents loaded without an explicit type.
const DefaultDocType = "SUT"

// ErrEmptyDocument is returned for a document file with no text.
var ErrEmptyDocument = errors.New("document is empty")

// Document is one source text of the corpus, such as the SUT itself or one
// of its EK-4 annexes. Text is page-marked plain text.
type Document struct {
	DocType   string
	DocSource string
	Text      string
}

// LoadDocument reads a page-marked text file. DocSource is the file's base
// name; an empty docType selects DefaultDocType.
func LoadDocument(path, docType string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return Document{}, fmt.Errorf("%w: %s", ErrEmptyDocument, path)
	}

	if docType == "" {
		docType = DefaultDocType
	}
	return Document{
		DocType:   docType,
		DocSource: filepath.Base(path),
		Text:      string(data),
	}, nil
}

// ParseDocumentArg splits a "TYPE=path" argument, as in "EK-4/D=ek4d.txt".
// A bare path gets DefaultDocType.
func ParseDocumentArg(arg string) (docType, path string) {
	if t, p, ok := strings.Cut(arg, "="); ok && t != "" && p != "" {
		return strings.TrimSpace(t), strings.TrimSpace(p)
	}
	return DefaultDocType, strings.TrimSpace(arg)
}
