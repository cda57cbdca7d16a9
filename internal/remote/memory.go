package remote

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

// object is a fixture registered with MemoryStore.
type object struct {
	data []byte
	meta precache.Metadata
}

// MemoryStore is an in-memory Store test double, used by manager and HTTP
// core tests in place of a real iRODS client.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
	denied  map[string]bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]object), denied: make(map[string]bool)}
}

// Put registers an object's bytes, computing its checksum and size.
func (m *MemoryStore) Put(irodsPath string, data []byte) {
	sum := md5.Sum(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.objects[irodsPath] = object{
		data: data,
		meta: precache.Metadata{
			Checksum: hex.EncodeToString(sum[:]),
			Size:     int64(len(data)),
			Created:  now,
			Modified: now,
		},
	}
}

// Deny marks an object as access-denied regardless of whether it exists.
func (m *MemoryStore) Deny(irodsPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[irodsPath] = true
}

func (m *MemoryStore) Metadata(ctx context.Context, irodsPath string) (precache.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.denied[irodsPath] {
		return precache.Metadata{}, precache.ErrPermission
	}
	obj, ok := m.objects[irodsPath]
	if !ok {
		return precache.Metadata{}, precache.ErrNotFound
	}
	return obj.meta, nil
}

func (m *MemoryStore) FetchTo(ctx context.Context, irodsPath, localPath string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.denied[irodsPath] {
		return precache.ErrPermission
	}
	obj, ok := m.objects[irodsPath]
	if !ok {
		return precache.ErrNotFound
	}
	return os.WriteFile(localPath, obj.data, 0o640)
}

func (m *MemoryStore) CheckAccess(ctx context.Context, irodsPath string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.denied[irodsPath] {
		return precache.ErrPermission
	}
	if _, ok := m.objects[irodsPath]; !ok {
		return precache.ErrNotFound
	}
	return nil
}
