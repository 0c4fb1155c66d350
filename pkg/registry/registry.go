// Package registry persists the mapping of downloaded source files to
// their origin URLs, used to deduplicate scrape results between runs.
package registry

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/statpipe/statpipe/internal/models"
)

// ConflictError reports a filename that maps to two different URLs,
// which the registry refuses to resolve silently.
type ConflictError struct {
	Filename string
	Existing string
	Incoming string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("registry conflict on %q: existing url %s, incoming url %s",
		e.Filename, e.Existing, e.Incoming)
}

// Registry is an in-memory view of one registry file. It is read fully
// once per run and written back as a whole.
type Registry struct {
	fs      afero.Fs
	path    string
	entries map[string]models.SourceRecord
	byURL   map[string]string
}

// Load reads the registry file at path. A missing file yields an empty
// registry, not an error.
func Load(fs afero.Fs, path string) (*Registry, error) {
	r := &Registry{
		fs:      fs,
		path:    path,
		entries: make(map[string]models.SourceRecord),
		byURL:   make(map[string]string),
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &r.entries); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	for filename, rec := range r.entries {
		r.byURL[rec.URL] = filename
	}
	return r, nil
}

// IsKnown reports whether a source URL has been registered before.
// Membership is by URL, never by filename.
func (r *Registry) IsKnown(url string) bool {
	_, ok := r.byURL[url]
	return ok
}

// Register records a new source and returns the filename it was stored
// under. A filename collision with a different URL is renamed with a
// deterministic suffix derived from the URL; an unresolvable collision
// is a ConflictError.
func (r *Registry) Register(filename, url, originPage string) (string, error) {
	if existing, ok := r.byURL[url]; ok {
		return existing, nil
	}

	name := filename
	if rec, ok := r.entries[name]; ok && rec.URL != url {
		name = Disambiguate(filename, url)
		if rec, ok := r.entries[name]; ok && rec.URL != url {
			return "", ConflictError{Filename: name, Existing: rec.URL, Incoming: url}
		}
	}

	r.entries[name] = models.SourceRecord{URL: url, OriginPage: originPage}
	r.byURL[url] = name
	return name, nil
}

// Lookup returns the record stored under a filename.
func (r *Registry) Lookup(filename string) (models.SourceRecord, bool) {
	rec, ok := r.entries[filename]
	return rec, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Filenames returns all registered filenames in sorted order.
func (r *Registry) Filenames() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge unions the delta's entries into r. The merge is associative:
// applying two deltas in sequence equals applying their union. A key
// collision with differing values is a ConflictError, never a silent
// overwrite. Returns the number of entries added.
func (r *Registry) Merge(delta *Registry) (int, error) {
	return r.merge(delta.entries)
}

func (r *Registry) merge(delta map[string]models.SourceRecord) (int, error) {
	// Validate the whole delta before mutating anything so a failed
	// merge leaves the registry unchanged.
	for filename, rec := range delta {
		if existing, ok := r.entries[filename]; ok && existing != rec {
			return 0, ConflictError{Filename: filename, Existing: existing.URL, Incoming: rec.URL}
		}
	}

	added := 0
	for filename, rec := range delta {
		if _, ok := r.entries[filename]; ok {
			continue
		}
		r.entries[filename] = rec
		r.byURL[rec.URL] = filename
		added++
	}
	return added, nil
}

// Save writes the registry back to its file.
func (r *Registry) Save() error {
	if err := r.fs.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry dir: %w", err)
	}
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := afero.WriteFile(r.fs, r.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry %s: %w", r.path, err)
	}
	return nil
}

// Disambiguate suffixes the filename with a short hash of the URL, so
// repeated runs over the same input pick the same name.
func Disambiguate(filename, url string) string {
	sum := crc32.ChecksumIEEE([]byte(url))
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	return fmt.Sprintf("%s-%08x%s", base, sum, ext)
}
