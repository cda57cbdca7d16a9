package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/internal/precache"
	"github.com/wtsi-hgi/irobot/internal/precache/alloc"
	"github.com/wtsi-hgi/irobot/internal/precache/checksum"
	"github.com/wtsi-hgi/irobot/internal/precache/store"
	"github.com/wtsi-hgi/irobot/internal/remote"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *remote.MemoryStore) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	st, err := store.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	al := alloc.New(t.TempDir())
	sum := checksum.New(16, 2)
	rs := remote.NewMemoryStore()

	m := New(cfg, st, al, sum, rs)
	require.NoError(t, m.Open(context.Background()))
	t.Cleanup(m.Close)
	return m, rs
}

func waitReady(t *testing.T, m *Manager, path string) *Handle {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h, err := m.Get(context.Background(), path)
		if err == nil {
			return h
		}
		var ip *precache.InProgressError
		if !errors.As(err, &ip) {
			t.Fatalf("Get(%s): %v", path, err)
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s to become ready", path)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGetAdmitsAndFetchesNewObject(t *testing.T) {
	m, rs := newTestManager(t, Config{})
	rs.Put("/zone/home/alice/foo.txt", []byte("hello precache world"))

	_, err := m.Get(context.Background(), "/zone/home/alice/foo.txt")
	var ip *precache.InProgressError
	require.ErrorAs(t, err, &ip)
	assert.Equal(t, precache.DataTypeData, ip.DataType)

	h := waitReady(t, m, "/zone/home/alice/foo.txt")
	defer h.Release()

	assert.Equal(t, int64(20), h.Metadata.Size)
	f, err := h.Open()
	require.NoError(t, err)
	defer f.Close()
}

func TestGetUntrackedDeniedObjectReturnsPermissionError(t *testing.T) {
	m, rs := newTestManager(t, Config{})
	rs.Deny("/zone/home/alice/secret.txt")

	_, err := m.Get(context.Background(), "/zone/home/alice/secret.txt")
	assert.ErrorIs(t, err, precache.ErrPermission)
}

func TestGetReadyEntryAcquiresContention(t *testing.T) {
	m, rs := newTestManager(t, Config{})
	rs.Put("/zone/home/alice/bar.txt", []byte("some data"))

	h := waitReady(t, m, "/zone/home/alice/bar.txt")
	assert.Equal(t, 1, m.ContentionCount(h.ID))
	h.Release()
	assert.Equal(t, 0, m.ContentionCount(h.ID))
}

func TestDeleteRefusesWhileContended(t *testing.T) {
	m, rs := newTestManager(t, Config{})
	rs.Put("/zone/home/alice/baz.txt", []byte("data"))

	h := waitReady(t, m, "/zone/home/alice/baz.txt")
	err := m.Delete(context.Background(), "/zone/home/alice/baz.txt")
	assert.ErrorIs(t, err, precache.ErrContended)

	h.Release()
	require.NoError(t, m.Delete(context.Background(), "/zone/home/alice/baz.txt"))

	_, err = m.Get(context.Background(), "/zone/home/alice/baz.txt")
	var ip *precache.InProgressError
	assert.ErrorAs(t, err, &ip)
}

func TestReserveEvictsLRUWhenBudgetExceeded(t *testing.T) {
	// Budget fits one admitted entry's reservation (data + metadata +
	// checksum index) comfortably but not two, forcing b's admission to
	// evict the least-recently-used, uncontended entry (a).
	m, rs := newTestManager(t, Config{Budget: 350})
	rs.Put("/zone/a", []byte("0123456789"))
	rs.Put("/zone/b", []byte("0123456789"))

	hA := waitReady(t, m, "/zone/a")
	hA.Release()

	// b's admission should evict a (least recently used, uncontended).
	hB := waitReady(t, m, "/zone/b")
	hB.Release()

	entries, err := m.ListEntries(context.Background())
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.IrodsPath)
	}
	assert.NotContains(t, paths, "/zone/a")
	assert.Contains(t, paths, "/zone/b")
}

func TestReserveFailsWhenNothingEvictable(t *testing.T) {
	m, rs := newTestManager(t, Config{Budget: 5})
	rs.Put("/zone/toolarge", []byte("this object is far too big"))

	_, err := m.Get(context.Background(), "/zone/toolarge")
	assert.ErrorIs(t, err, precache.ErrPrecacheFull)
}

type fakeEventRecorder struct {
	admissions []string
	evictions  int
	contended  int
}

func (f *fakeEventRecorder) RecordAdmission(outcome string) { f.admissions = append(f.admissions, outcome) }
func (f *fakeEventRecorder) RecordEviction()                { f.evictions++ }
func (f *fakeEventRecorder) RecordContended()                { f.contended++ }

func TestEventRecorderObservesAdmissionEvictionAndContention(t *testing.T) {
	m, rs := newTestManager(t, Config{Budget: 350})
	rec := &fakeEventRecorder{}
	m.SetEventRecorder(rec)

	rs.Put("/zone/a", []byte("0123456789"))
	rs.Put("/zone/b", []byte("0123456789"))

	hA := waitReady(t, m, "/zone/a")
	require.Contains(t, rec.admissions, "admitted")
	hA.Release()

	// b's admission evicts a (least recently used, uncontended).
	hB := waitReady(t, m, "/zone/b")
	assert.GreaterOrEqual(t, rec.evictions, 1)

	err := m.Delete(context.Background(), "/zone/b")
	assert.ErrorIs(t, err, precache.ErrContended)
	assert.Equal(t, 1, rec.contended)
	hB.Release()
}

func TestReseedRecreatesOnMetadataChange(t *testing.T) {
	m, rs := newTestManager(t, Config{})
	rs.Put("/zone/mutable", []byte("version one"))

	h := waitReady(t, m, "/zone/mutable")
	oldID := h.ID
	h.Release()

	rs.Put("/zone/mutable", []byte("version two, which is longer"))
	err := m.Reseed(context.Background(), "/zone/mutable")
	var ip *precache.InProgressError
	require.ErrorAs(t, err, &ip)

	h2 := waitReady(t, m, "/zone/mutable")
	defer h2.Release()
	assert.NotEqual(t, oldID, h2.ID)
	assert.Equal(t, int64(len("version two, which is longer")), h2.Metadata.Size)
}

func TestReseedNoopWhenMetadataUnchanged(t *testing.T) {
	m, rs := newTestManager(t, Config{})
	rs.Put("/zone/stable", []byte("unchanging"))

	h := waitReady(t, m, "/zone/stable")
	id := h.ID
	h.Release()

	err := m.Reseed(context.Background(), "/zone/stable")
	assert.NoError(t, err)

	h2, err := m.Get(context.Background(), "/zone/stable")
	require.NoError(t, err)
	defer h2.Release()
	assert.Equal(t, id, h2.ID)
}

func TestChecksumsAvailableAfterReady(t *testing.T) {
	m, rs := newTestManager(t, Config{})
	rs.Put("/zone/chk", []byte("0123456789abcdef0123456789abcdef"))

	h := waitReady(t, m, "/zone/chk")
	defer h.Release()

	deadline := time.After(2 * time.Second)
	for {
		blocks, err := h.Checksums(nil)
		if err == nil {
			require.Len(t, blocks, 1)
			assert.NotEmpty(t, blocks[0].Checksum)
			return
		}
		select {
		case <-deadline:
			t.Fatalf("checksums never became available: %v", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
