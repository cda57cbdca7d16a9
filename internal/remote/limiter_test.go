package remote

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingStore counts concurrent FetchTo calls so tests can assert the
// semaphore actually bounds concurrency rather than just rate-limiting.
type trackingStore struct {
	*MemoryStore
	inFlight int32
	maxSeen  int32
}

func (t *trackingStore) FetchTo(ctx context.Context, irodsPath, localPath string) error {
	n := atomic.AddInt32(&t.inFlight, 1)
	for {
		max := atomic.LoadInt32(&t.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&t.maxSeen, max, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&t.inFlight, -1)
	return t.MemoryStore.FetchTo(ctx, irodsPath, localPath)
}

func TestBoundedStoreLimitsConcurrentFetches(t *testing.T) {
	mem := NewMemoryStore()
	mem.Put("/zone/a", []byte("data"))
	ts := &trackingStore{MemoryStore: mem}
	bounded := NewBoundedStore(ts, 2)

	dir := t.TempDir()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := bounded.FetchTo(context.Background(), "/zone/a", dir+"/out")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&ts.maxSeen), int32(2))
}

func TestBoundedStoreUnboundedWhenZero(t *testing.T) {
	mem := NewMemoryStore()
	mem.Put("/zone/a", []byte("data"))
	bounded := NewBoundedStore(mem, 0)

	_, err := bounded.Metadata(context.Background(), "/zone/a")
	assert.NoError(t, err)
	assert.Nil(t, bounded.sem)
}

func TestBoundedStoreAcquireRespectsContextCancellation(t *testing.T) {
	mem := NewMemoryStore()
	bounded := NewBoundedStore(mem, 1)
	bounded.sem <- struct{}{} // fill the single slot

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := bounded.acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
