// Package storage persists vector index generations.
//
// A generation is stored as two artifacts that are only valid together:
//
//   - index.vec: a dense little-endian float32 blob with a header carrying a
//     magic number, format version, generation UUID, dimension and count,
//     followed by a CRC-32 of the whole file.
//   - index.meta.db: a SQLite sidecar holding the record list (chunk id,
//     content, source refs, metadata), the id to position map and the
//     active-ingredient term to position map, stamped with the same
//     generation UUID.
//
// # Basic Usage
//
//	paths := storage.DefaultPaths("data/index")
//	if err := storage.Save(ctx, paths, snapshot); err != nil {
//	    return err
//	}
//
//	snap, err := storage.Load(ctx, paths)
//	switch {
//	case errors.Is(err, storage.ErrNotFound):
//	    // nothing built yet
//	case errors.Is(err, storage.ErrCorrupt):
//	    // rebuild
//	}
//
// Save writes each artifact to a temporary file in its target directory and
// renames it into place. Load checks that generation, dimension and count
// agree across both artifacts and that every map position is in range.
//
// The two renames are not one atomic step. Before them Save keeps the
// current pair, when it loads cleanly, as index.vec.prev and
// index.meta.db.prev. If a crash leaves a mismatched pair, Load returns the
// kept generation instead of ErrCorrupt.
//
// # Schema Versioning
//
// The sidecar records its schema version in schema_version. Migrations are
// applied on write; on read the version must satisfy the supported semver
// range, otherwise ErrIncompatible is returned.
//
// # Build Tags
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
package storage
