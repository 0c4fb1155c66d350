package registry_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statpipe/statpipe/pkg/registry"
)

func newRegistry(t *testing.T, fs afero.Fs, path string) *registry.Registry {
	t.Helper()
	r, err := registry.Load(fs, path)
	require.NoError(t, err)
	return r
}

func TestRegisterAndIsKnown(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newRegistry(t, fs, "data/raw/sources.json")

	name, err := r.Register("economic-survey-2024.pdf", "https://stats.example.org/a.pdf", "https://stats.example.org/page/1/")
	require.NoError(t, err)
	assert.Equal(t, "economic-survey-2024.pdf", name)

	assert.True(t, r.IsKnown("https://stats.example.org/a.pdf"))
	assert.False(t, r.IsKnown("https://stats.example.org/b.pdf"))
}

func TestRegisterSameURLTwice(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newRegistry(t, fs, "sources.json")

	first, err := r.Register("report.pdf", "https://stats.example.org/a.pdf", "p1")
	require.NoError(t, err)

	// Same URL under a different filename must not create a second entry.
	second, err := r.Register("renamed.pdf", "https://stats.example.org/a.pdf", "p2")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterFilenameCollision(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newRegistry(t, fs, "sources.json")

	_, err := r.Register("report.pdf", "https://stats.example.org/a/report.pdf", "p1")
	require.NoError(t, err)

	// Same filename, different URL: renamed deterministically.
	name1, err := r.Register("report.pdf", "https://stats.example.org/b/report.pdf", "p1")
	require.NoError(t, err)
	assert.NotEqual(t, "report.pdf", name1)
	assert.Contains(t, name1, "report-")
	assert.Contains(t, name1, ".pdf")

	// The rename is a pure function of filename and URL.
	fs2 := afero.NewMemMapFs()
	r2 := newRegistry(t, fs2, "sources.json")
	_, err = r2.Register("report.pdf", "https://stats.example.org/a/report.pdf", "p1")
	require.NoError(t, err)
	name2, err := r2.Register("report.pdf", "https://stats.example.org/b/report.pdf", "p1")
	require.NoError(t, err)
	assert.Equal(t, name1, name2)
}

func TestSaveAndReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newRegistry(t, fs, "data/raw/sources.json")

	_, err := r.Register("a.pdf", "https://stats.example.org/a.pdf", "p1")
	require.NoError(t, err)
	_, err = r.Register("b.pdf", "https://stats.example.org/b.pdf", "p2")
	require.NoError(t, err)
	require.NoError(t, r.Save())

	reloaded := newRegistry(t, fs, "data/raw/sources.json")
	assert.Equal(t, 2, reloaded.Len())
	assert.True(t, reloaded.IsKnown("https://stats.example.org/a.pdf"))
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, reloaded.Filenames())
}

func TestMergeAssociativity(t *testing.T) {
	fs := afero.NewMemMapFs()

	mkDelta := func(path string, entries map[string]string) *registry.Registry {
		d := newRegistry(t, fs, path)
		for name, url := range entries {
			_, err := d.Register(name, url, "p")
			require.NoError(t, err)
		}
		return d
	}

	// Merge {a, b} then {c}.
	sequential := newRegistry(t, fs, "seq.json")
	_, err := sequential.Merge(mkDelta("d1.json", map[string]string{
		"a.pdf": "https://x/a.pdf",
		"b.pdf": "https://x/b.pdf",
	}))
	require.NoError(t, err)
	_, err = sequential.Merge(mkDelta("d2.json", map[string]string{
		"c.pdf": "https://x/c.pdf",
	}))
	require.NoError(t, err)

	// Merge {a, b, c} in one step.
	oneShot := newRegistry(t, fs, "one.json")
	added, err := oneShot.Merge(mkDelta("d3.json", map[string]string{
		"a.pdf": "https://x/a.pdf",
		"b.pdf": "https://x/b.pdf",
		"c.pdf": "https://x/c.pdf",
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	assert.Equal(t, sequential.Filenames(), oneShot.Filenames())
}

func TestMergeIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	base := newRegistry(t, fs, "base.json")
	delta := newRegistry(t, fs, "delta.json")
	_, err := delta.Register("a.pdf", "https://x/a.pdf", "p")
	require.NoError(t, err)

	added, err := base.Merge(delta)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	// Replaying the same delta adds nothing and errors nothing.
	added, err = base.Merge(delta)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, base.Len())
}

func TestMergeConflict(t *testing.T) {
	fs := afero.NewMemMapFs()
	base := newRegistry(t, fs, "base.json")
	_, err := base.Register("report.pdf", "https://x/a.pdf", "p")
	require.NoError(t, err)

	delta := newRegistry(t, fs, "delta.json")
	_, err = delta.Register("report.pdf", "https://x/other.pdf", "p")
	require.NoError(t, err)

	_, err = base.Merge(delta)
	var conflict registry.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "report.pdf", conflict.Filename)

	// Failed merge leaves the base untouched.
	assert.Equal(t, 1, base.Len())
	assert.False(t, base.IsKnown("https://x/other.pdf"))
}
