// Package alloc mints and destroys the on-disk, UUID4-derived, shallowly
// sharded directories that back each precache entry.
package alloc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Allocator mints unique directories under a root, sharded two levels
// deep by the first two byte-pairs of a UUID4 (e.g. root/ab/cd/<uuid>),
// matching the bytepair-sharding idiom used for content-addressed
// filesystem stores in the corpus so that no directory holds an unbounded
// number of entries.
type Allocator struct {
	root string
}

// New returns an Allocator rooted at root. The root directory must already
// exist.
func New(root string) *Allocator {
	return &Allocator{root: root}
}

// New mints a fresh, empty directory (mode 0o750) and returns its path.
// The path is guaranteed unique by construction (UUID4 collision is not
// treated as a real possibility).
func (a *Allocator) New() (string, error) {
	id := uuid.New().String()
	shard1 := id[0:2]
	shard2 := id[2:4]

	dir := filepath.Join(a.root, shard1, shard2, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("alloc: mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Delete removes a previously allocated directory and cleans up any
// now-empty shard parents, mirroring the corpus's cleanEmptyDirs idiom so
// the shard tree doesn't accumulate empty directories over time.
func (a *Allocator) Delete(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("alloc: remove %s: %w", dir, err)
	}
	a.cleanEmptyParents(filepath.Dir(dir))
	return nil
}

// cleanEmptyParents walks up from dir towards root, removing directories
// that are empty, stopping at the root or at the first non-empty
// directory.
func (a *Allocator) cleanEmptyParents(dir string) {
	for dir != a.root && filepath.Dir(dir) != dir {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
