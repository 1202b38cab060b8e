package types

// MatchKind records how a retrieved chunk reached the result set.
type MatchKind string

const (
	// MatchExact marks a chunk found through the active-ingredient term index.
	MatchExact MatchKind = "exact"
	// MatchPartial marks a semantic hit whose content contains the subject term.
	MatchPartial MatchKind = "partial"
	// MatchSemantic marks a pure vector-similarity hit.
	MatchSemantic MatchKind = "semantic"
)

// RetrievedChunk is a ranked retrieval result with provenance for citation.
type RetrievedChunk struct {
	ID        string        `json:"chunk_id"`
	Rank      int           `json:"rank"` // 1-based
	Score     float64       `json:"score"`
	MatchKind MatchKind     `json:"match_type"`
	Content   string        `json:"content"`
	StartRef  int           `json:"start_ref"`
	EndRef    int           `json:"end_ref"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// Validate checks if the retrieved chunk is valid
func (r *RetrievedChunk) Validate() error {
	if r.ID == "" {
		return ErrInvalidChunkID
	}

	if r.Rank < 1 {
		return ErrInvalidRank
	}

	if r.Score < 0 {
		return ErrInvalidScore
	}

	switch r.MatchKind {
	case MatchExact, MatchPartial, MatchSemantic:
	default:
		return ErrUnknownMatch
	}

	if r.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
