package types

import (
	"crypto/sha256"
	"errors"
	"slices"
	"unicode/utf8"
)

// ChunkMetadata holds the attributes derived from a chunk's content at creation.
type ChunkMetadata struct {
	Section           string   `json:"section,omitempty"`
	Topic             string   `json:"topic"`
	ActiveIngredients []string `json:"active_ingredients"` // first-seen order
	Keywords          []string `json:"keywords"`           // sorted
	IsSubjectRelated  bool     `json:"is_subject_related"`
	HasConditions     bool     `json:"has_conditions"`
	DocType           string   `json:"doc_type,omitempty"`
	DocSource         string   `json:"doc_source,omitempty"`
}

// HasIngredient reports whether term is one of the chunk's active ingredients.
func (m ChunkMetadata) HasIngredient(term string) bool {
	return slices.Contains(m.ActiveIngredients, term)
}

// HasKeyword reports whether kw is one of the chunk's keywords.
func (m ChunkMetadata) HasKeyword(kw string) bool {
	_, found := slices.BinarySearch(m.Keywords, kw)
	return found
}

// Chunk is a contiguous passage of a regulatory document, the unit of retrieval.
type Chunk struct {
	// Identification
	ID string

	// Content
	Content     string
	ContentHash [32]byte // SHA-256 of Content
	TokenCount  int

	// Source positions. Units depend on the chunking policy
	// (rune offset, paragraph index or line index).
	StartRef int
	EndRef   int

	Metadata ChunkMetadata
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return ErrEmptyContent
	}

	if c.StartRef < 0 || c.EndRef < 0 {
		return errors.New("source refs must not be negative")
	}

	if c.StartRef > c.EndRef {
		return errors.New("start ref must be before or equal to end ref")
	}

	return nil
}

// ComputeTokenCount estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = utf8.RuneCountInString(c.Content) / 4
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return ErrInvalidChunkID
	}

	if err := c.ValidateContent(); err != nil {
		return err
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	return nil
}
