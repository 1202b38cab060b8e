package storage

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/sutcontext-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a persisted artifact does not exist
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when an artifact is malformed or the vector blob
	// and metadata sidecar do not belong to the same index generation
	ErrCorrupt = errors.New("corrupt index artifact")
	// ErrIncompatible is returned for a sidecar written in an unsupported format
	ErrIncompatible = errors.New("incompatible index format")
)

// Default artifact file names inside an index directory.
const (
	VectorFileName   = "index.vec"
	MetadataFileName = "index.meta.db"

	backupSuffix = ".prev"
)

// Paths locates the two artifacts of a persisted index. They are always
// written and read together.
type Paths struct {
	Vectors  string
	Metadata string
}

// DefaultPaths returns the artifact paths inside dir.
func DefaultPaths(dir string) Paths {
	return Paths{
		Vectors:  filepath.Join(dir, VectorFileName),
		Metadata: filepath.Join(dir, MetadataFileName),
	}
}

// Backup returns the paths of the previous generation kept by Save.
func (p Paths) Backup() Paths {
	return Paths{
		Vectors:  p.Vectors + backupSuffix,
		Metadata: p.Metadata + backupSuffix,
	}
}

// Entry is the persisted form of one index record, without its vector.
type Entry struct {
	ID       string
	Content  string
	StartRef int
	EndRef   int
	Metadata types.ChunkMetadata
}

// Snapshot is a complete index generation as written to disk: the entries in
// position order, their vectors, and both lookup maps.
type Snapshot struct {
	Generation uuid.UUID
	Dimension  int
	IndexType  string
	CreatedAt  time.Time

	Entries     []Entry
	Vectors     [][]float32
	IDPositions map[string]int
	Terms       map[string][]int
}

// Count returns the number of records in the snapshot.
func (s *Snapshot) Count() int {
	return len(s.Entries)
}
