package alloc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMintsShardedUniqueDirectories(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	d1, err := a.New()
	require.NoError(t, err)
	d2, err := a.New()
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
	assert.DirExists(t, d1)
	assert.DirExists(t, d2)

	rel, err := filepath.Rel(root, d1)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(rel, string(os.PathSeparator)))
}

func TestDeleteRemovesDirectoryAndEmptyParents(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	dir, err := a.New()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), []byte("x"), 0o640))
	require.NoError(t, a.Delete(dir))

	assert.NoDirExists(t, dir)
	assert.NoDirExists(t, filepath.Dir(dir))
	assert.NoDirExists(t, filepath.Dir(filepath.Dir(dir)))
	assert.DirExists(t, root)
}
