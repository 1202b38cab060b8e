package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Save writes snap as a vector blob and a metadata sidecar. Both are written
// to temporary files in their target directories and renamed into place.
// The shared generation stamp lets Load reject a pair that was not written
// together. The two renames are separate steps, so before them a consistent
// existing pair is kept at paths.Backup() for Load to fall back on.
func Save(ctx context.Context, paths Paths, snap *Snapshot) (err error) {
	if snap.Dimension <= 0 {
		return fmt.Errorf("snapshot dimension must be positive, got %d", snap.Dimension)
	}
	if len(snap.Vectors) != len(snap.Entries) {
		return fmt.Errorf("snapshot has %d vectors for %d entries", len(snap.Vectors), len(snap.Entries))
	}

	for _, dir := range []string{filepath.Dir(paths.Vectors), filepath.Dir(paths.Metadata)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}

	vecTmp, err := writeTemp(paths.Vectors, func(f *os.File) error {
		return writeVectors(f, VectorHeader{
			Generation: snap.Generation,
			Dimension:  snap.Dimension,
			Count:      snap.Count(),
		}, snap.Vectors)
	})
	if err != nil {
		return fmt.Errorf("write vector file: %w", err)
	}
	defer func() {
		_ = os.Remove(vecTmp)
	}()

	metaTmp, err := writeTemp(paths.Metadata, nil)
	if err != nil {
		return fmt.Errorf("create metadata sidecar: %w", err)
	}
	defer func() {
		_ = os.Remove(metaTmp)
	}()
	if err := writeSidecar(ctx, metaTmp, snap); err != nil {
		return fmt.Errorf("write metadata sidecar: %w", err)
	}

	if err := keepPrevious(ctx, paths); err != nil {
		return fmt.Errorf("keep previous generation: %w", err)
	}

	if err := os.Rename(vecTmp, paths.Vectors); err != nil {
		return fmt.Errorf("publish vector file: %w", err)
	}
	if err := os.Rename(metaTmp, paths.Metadata); err != nil {
		return fmt.Errorf("publish metadata sidecar: %w", err)
	}
	return nil
}

// writeTemp creates a temp file next to target, fills it with fill when
// non-nil, syncs and closes it, and returns its name.
func writeTemp(target string, fill func(*os.File) error) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if fill != nil {
		if err := fill(f); err != nil {
			_ = f.Close()
			_ = os.Remove(name)
			return "", err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			_ = os.Remove(name)
			return "", err
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// keepPrevious copies the current pair to the backup paths when it loads
// cleanly. A damaged current pair leaves any existing backup untouched.
func keepPrevious(ctx context.Context, paths Paths) error {
	if _, err := loadPair(ctx, paths); err != nil {
		return nil
	}

	backup := paths.Backup()
	for _, f := range []struct{ src, dst string }{
		{paths.Vectors, backup.Vectors},
		{paths.Metadata, backup.Metadata},
	} {
		if err := os.Remove(f.dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.Link(f.src, f.dst); err == nil {
			continue
		}
		if err := copyFile(f.src, f.dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp, err := writeTemp(dst, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads both artifacts and verifies they form one consistent index
// generation. A missing artifact yields ErrNotFound; a malformed or
// mismatched pair yields ErrCorrupt or ErrIncompatible. A corrupt pair, such
// as one left by a crash between the two renames of Save, is replaced by the
// backup pair when that loads cleanly. No partial snapshot is ever returned.
func Load(ctx context.Context, paths Paths) (*Snapshot, error) {
	snap, err := loadPair(ctx, paths)
	if err == nil || !errors.Is(err, ErrCorrupt) {
		return snap, err
	}

	if prev, perr := loadPair(ctx, paths.Backup()); perr == nil {
		return prev, nil
	}
	return nil, err
}

func loadPair(ctx context.Context, paths Paths) (*Snapshot, error) {
	header, vectors, err := ReadVectorFile(paths.Vectors)
	if err != nil {
		return nil, err
	}

	snap, err := readSidecar(ctx, paths.Metadata)
	if err != nil {
		return nil, err
	}

	if err := verify(header, snap); err != nil {
		return nil, err
	}

	snap.Vectors = vectors
	return snap, nil
}

func verify(h VectorHeader, snap *Snapshot) error {
	switch {
	case h.Generation != snap.Generation:
		return fmt.Errorf("%w: vector file generation %s does not match sidecar generation %s",
			ErrCorrupt, h.Generation, snap.Generation)
	case h.Dimension != snap.Dimension:
		return fmt.Errorf("%w: vector dimension %d does not match sidecar dimension %d",
			ErrCorrupt, h.Dimension, snap.Dimension)
	case h.Count != snap.Count():
		return fmt.Errorf("%w: vector file holds %d vectors, sidecar %d records",
			ErrCorrupt, h.Count, snap.Count())
	case len(snap.IDPositions) != snap.Count():
		return fmt.Errorf("%w: %d id positions for %d records",
			ErrCorrupt, len(snap.IDPositions), snap.Count())
	}

	for id, pos := range snap.IDPositions {
		if pos < 0 || pos >= snap.Count() || snap.Entries[pos].ID != id {
			return fmt.Errorf("%w: id %s maps to invalid position %d", ErrCorrupt, id, pos)
		}
	}

	for term, positions := range snap.Terms {
		for _, pos := range positions {
			if pos < 0 || pos >= snap.Count() {
				return fmt.Errorf("%w: term %s maps to invalid position %d", ErrCorrupt, term, pos)
			}
		}
	}
	return nil
}
