package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidChunkID = errors.New("invalid chunk ID")
	ErrInvalidRank    = errors.New("rank must be >= 1")
	ErrInvalidScore   = errors.New("score must not be negative")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrUnknownMatch   = errors.New("unknown match kind")
)
