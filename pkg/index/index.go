// Package index manages the vector index artifacts: the main index
// owned by the committed store and the per-run incremental index. The
// artifact body is opaque to every other component; only its path and
// vector count are observable outside this package.
package index

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Entry is one embedded chunk. Entries are keyed by chunk id so that
// merging the same incremental index twice converges instead of
// duplicating vectors.
type Entry struct {
	ID     string
	Source string
	Vector []float32
}

type Artifact struct {
	Dim     int
	Entries []Entry
}

func (a *Artifact) VectorCount() int {
	if a == nil {
		return 0
	}
	return len(a.Entries)
}

// Load reads an artifact from path. A missing file yields an empty
// artifact so a first run can merge into nothing.
func Load(fs afero.Fs, path string) (*Artifact, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Artifact{}, nil
		}
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}
	defer f.Close()

	var a Artifact
	if err := gob.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", path, err)
	}
	return &a, nil
}

// Save writes the artifact to path through a temporary file and a
// rename, so a crash mid-write cannot leave a truncated index behind.
func Save(fs afero.Fs, path string, a *Artifact) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", tmp, err)
	}
	if err := gob.NewEncoder(f).Encode(a); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close index %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace index %s: %w", path, err)
	}
	return nil
}

// Merge upserts the incremental index's entries into the main one,
// keyed by chunk id. Replaying the same merge is a no-op.
func Merge(main, incr *Artifact) (*Artifact, error) {
	if incr.VectorCount() == 0 {
		return main, nil
	}
	if main.VectorCount() > 0 && main.Dim != incr.Dim {
		return nil, fmt.Errorf("index dimension mismatch: main %d, incremental %d", main.Dim, incr.Dim)
	}

	byID := make(map[string]int, len(main.Entries))
	for i, e := range main.Entries {
		byID[e.ID] = i
	}

	merged := &Artifact{Dim: incr.Dim, Entries: append([]Entry(nil), main.Entries...)}
	for _, e := range incr.Entries {
		if i, ok := byID[e.ID]; ok {
			merged.Entries[i] = e
			continue
		}
		merged.Entries = append(merged.Entries, e)
	}
	return merged, nil
}
