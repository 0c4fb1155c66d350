// Package store models the staging area and the committed store as
// explicit values over an injectable filesystem, so the merge step is
// testable without real disk I/O. Both share one shape: raw sources,
// converted documents, chunk records and a registry file; the
// committed store additionally owns the main vector index.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/statpipe/statpipe/internal/models"
)

type Store struct {
	fs   afero.Fs
	root string
}

func New(fs afero.Fs, root string) Store {
	return Store{fs: fs, root: root}
}

func (s Store) Root() string           { return s.root }
func (s Store) RawDir() string         { return filepath.Join(s.root, "raw") }
func (s Store) DocsDir() string        { return filepath.Join(s.root, "docs") }
func (s Store) ChunksDir() string      { return filepath.Join(s.root, "chunks") }
func (s Store) RegistryPath() string   { return filepath.Join(s.root, "sources.json") }
func (s Store) ResolutionPath() string { return filepath.Join(s.root, "resolution.json") }
func (s Store) IndexPath() string      { return filepath.Join(s.root, "index", "main.idx") }
func (s Store) IncrementalIndexPath() string {
	return filepath.Join(s.root, "index", "incremental.idx")
}

// Init creates the store's directory tree.
func (s Store) Init() error {
	for _, dir := range []string{s.RawDir(), s.DocsDir(), s.ChunksDir(), filepath.Join(s.root, "index")} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Clear deletes the store's entire tree. Used on the staging area
// after a successful merge or an empty run, never on the committed
// store.
func (s Store) Clear() error {
	if err := s.fs.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.root, err)
	}
	return nil
}

func (s Store) WriteRaw(filename string, data []byte) error {
	if err := s.fs.MkdirAll(s.RawDir(), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, filepath.Join(s.RawDir(), filename), data, 0o644)
}

func (s Store) WriteDocument(doc models.Document) error {
	if err := s.fs.MkdirAll(s.DocsDir(), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.Filename, err)
	}
	return afero.WriteFile(s.fs, filepath.Join(s.DocsDir(), doc.Base()+".json"), data, 0o644)
}

func (s Store) WriteChunk(chunk models.Chunk) error {
	if err := s.fs.MkdirAll(s.ChunksDir(), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(chunk, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode chunk %s: %w", chunk.ID, err)
	}
	return afero.WriteFile(s.fs, filepath.Join(s.ChunksDir(), chunk.ID+".json"), data, 0o644)
}

// Documents reads every converted document record in the store.
func (s Store) Documents() ([]models.Document, error) {
	entries, err := afero.ReadDir(s.fs, s.DocsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.DocsDir(), err)
	}

	var docs []models.Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(s.DocsDir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		var doc models.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse document %s: %w", entry.Name(), err)
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs, nil
}

// Chunks reads every chunk record in the store, ordered by id.
func (s Store) Chunks() ([]models.Chunk, error) {
	entries, err := afero.ReadDir(s.fs, s.ChunksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.ChunksDir(), err)
	}

	var chunks []models.Chunk
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(s.ChunksDir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		var chunk models.Chunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, fmt.Errorf("failed to parse chunk %s: %w", entry.Name(), err)
		}
		chunks = append(chunks, chunk)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	return chunks, nil
}

// SetLatest rewrites the latest flag on a committed document and on
// every chunk record derived from it. Writing the same flag twice is
// harmless, so a retried merge converges.
func (s Store) SetLatest(filename string, latest bool) error {
	base := models.Document{Filename: filename}.Base()

	docPath := filepath.Join(s.DocsDir(), base+".json")
	data, err := afero.ReadFile(s.fs, docPath)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", docPath, err)
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse document %s: %w", docPath, err)
	}
	doc.Latest = latest
	if err := s.WriteDocument(doc); err != nil {
		return err
	}

	entries, err := afero.ReadDir(s.fs, s.ChunksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), base+"_") {
			continue
		}
		chunkPath := filepath.Join(s.ChunksDir(), entry.Name())
		data, err := afero.ReadFile(s.fs, chunkPath)
		if err != nil {
			return err
		}
		var chunk models.Chunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("failed to parse chunk %s: %w", chunkPath, err)
		}
		// The prefix scan also catches documents whose base merely
		// extends this one's, so the source field decides.
		if chunk.Source != filename {
			continue
		}
		chunk.Latest = latest
		if err := s.WriteChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Promote moves the staging area's raw, document and chunk files into
// the committed store. Files are moved, not copied, so the staging
// area retains no duplicates. A file that already disappeared from
// staging is skipped, which makes a retried promotion converge instead
// of failing. Returns the number of files moved.
func Promote(fs afero.Fs, staging, committed Store) (int, error) {
	if err := committed.Init(); err != nil {
		return 0, err
	}

	moved := 0
	pairs := [][2]string{
		{staging.RawDir(), committed.RawDir()},
		{staging.DocsDir(), committed.DocsDir()},
		{staging.ChunksDir(), committed.ChunksDir()},
	}
	for _, pair := range pairs {
		src, dst := pair[0], pair[1]
		entries, err := afero.ReadDir(fs, src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return moved, fmt.Errorf("failed to list %s: %w", src, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			from := filepath.Join(src, entry.Name())
			to := filepath.Join(dst, entry.Name())
			if err := fs.Rename(from, to); err != nil {
				return moved, fmt.Errorf("failed to move %s: %w", from, err)
			}
			moved++
		}
	}
	return moved, nil
}
