package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/core/domain"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func TestSource_Discover(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{
		"main.kl":                 "import pkg.util",
		"pkg/util.kl":             "def helper",
		"pkg/notes.txt":           "ignored",
		".git/hooks/pre.kl":       "skipped",
		".kiln/out/main.kl":       "skipped",
		"node_modules/dep/dep.kl": "skipped",
		"a/b/c.kl":                "",
	})

	src := fs.NewSource(fs.NewWalker())
	paths, err := src.Discover(t.Context(), root, []string{".kl"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c.kl", "main.kl", "pkg/util.kl"}, paths)
}

func TestSource_DiscoverMissingRoot(t *testing.T) {
	t.Parallel()
	src := fs.NewSource(fs.NewWalker())
	_, err := src.Discover(t.Context(), filepath.Join(t.TempDir(), "missing"), []string{".kl"})
	assert.ErrorContains(t, err, domain.ErrSourceReadFailed.Error())
}

func TestSource_Read(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"pkg/util.kl": "def helper\n"})
	src := fs.NewSource(fs.NewWalker())

	file, err := src.Read(t.Context(), root, "pkg/util.kl")
	require.NoError(t, err)
	assert.Equal(t, "pkg/util.kl", file.Path)
	assert.Equal(t, "pkg.util", file.Name)
	assert.Equal(t, []byte("def helper\n"), file.Content)
	assert.Equal(t, domain.NewModuleID("pkg.util"), file.ID())

	_, err = src.Read(t.Context(), root, "nope.kl")
	assert.ErrorContains(t, err, domain.ErrSourceReadFailed.Error())
}

func TestWalker_StopsEarly(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"a.kl": "", "b.kl": "", "c.kl": ""})

	var seen int
	for _, err := range fs.NewWalker().WalkFiles(root, nil) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestIsSource(t *testing.T) {
	t.Parallel()
	exts := []string{".kl"}
	assert.True(t, fs.IsSource("src/main.kl", exts))
	assert.False(t, fs.IsSource("src/main.go", exts))
	assert.False(t, fs.IsSource(".kiln/out/main.kl", exts))
	assert.False(t, fs.IsSource("x/node_modules/y.kl", exts))
}

func TestHasher_ComputeFileHash(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"m.kl": "def x"})

	h, err := fs.NewHasher().ComputeFileHash(filepath.Join(root, "m.kl"))
	require.NoError(t, err)
	assert.Equal(t, domain.HashBytes([]byte("def x")), h)

	_, err = fs.NewHasher().ComputeFileHash(filepath.Join(root, "missing.kl"))
	assert.Error(t, err)
}
