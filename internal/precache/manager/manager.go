// Package manager implements admission, eviction, expiry and at-most-once
// production scheduling for the precache: the glue between the tracking
// store, the directory allocator, the checksummer and the remote store.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/internal/precache"
	"github.com/wtsi-hgi/irobot/internal/precache/alloc"
	"github.com/wtsi-hgi/irobot/internal/precache/checksum"
	"github.com/wtsi-hgi/irobot/internal/precache/store"
	"github.com/wtsi-hgi/irobot/internal/remote"
)

// Config bounds admission and expiry. A zero Budget or zero Expiry means
// unlimited, per spec.md §4.2's "0/unset disables the bound" convention.
type Config struct {
	Budget      int64 // bytes; 0 = unlimited
	Expiry      time.Duration
	StoreColocated bool // whether the tracking store's own file counts against Budget
}

// jobResult is a broadcast-capable completion signal: closing done notifies
// every waiter, mirroring the offloader's in-flight download dedup.
type jobResult struct {
	done chan struct{}
	err  error
}

// EventRecorder observes discrete admission/eviction/contention events.
// Satisfied by *prometheus.EventCounters without importing pkg/metrics
// here -- the manager stays agnostic of any particular metrics backend.
type EventRecorder interface {
	RecordAdmission(outcome string)
	RecordEviction()
	RecordContended()
}

type noopEventRecorder struct{}

func (noopEventRecorder) RecordAdmission(string) {}
func (noopEventRecorder) RecordEviction()        {}
func (noopEventRecorder) RecordContended()       {}

// Manager is the precache admission/eviction/production orchestrator.
type Manager struct {
	cfg   Config
	store *store.Store
	alloc *alloc.Allocator
	sum   *checksum.Summer
	rmt   remote.Store

	admitMu sync.Mutex // serialises budget check-then-act across admissions/evictions

	mu         sync.Mutex
	contention map[int64]int
	fetches    map[int64]*jobResult
	checksums  map[int64]*jobResult

	sweepStop chan struct{}
	sweepDone chan struct{}

	events EventRecorder
}

// New constructs a Manager. Open should be called once before serving
// traffic to reconcile any entries left mid-production by a previous,
// uncleanly-terminated process.
func New(cfg Config, st *store.Store, al *alloc.Allocator, sum *checksum.Summer, rmt remote.Store) *Manager {
	return &Manager{
		cfg:        cfg,
		store:      st,
		alloc:      al,
		sum:        sum,
		rmt:        rmt,
		contention: make(map[int64]int),
		fetches:    make(map[int64]*jobResult),
		checksums:  make(map[int64]*jobResult),
		events:     noopEventRecorder{},
	}
}

// SetEventRecorder wires a metrics observer. Called once during startup,
// after the process-wide registry is initialised.
func (m *Manager) SetEventRecorder(r EventRecorder) {
	if r == nil {
		r = noopEventRecorder{}
	}
	m.events = r
}

// Open resets any entry left "producing" by a previous process (it can only
// mean that process died mid-job) and removes its on-disk directory, per
// spec.md §3's consistency contract between the tracking store and the
// filesystem.
func (m *Manager) Open(ctx context.Context) error {
	affected, err := m.store.ResetInconsistentOnOpen(ctx)
	if err != nil {
		return fmt.Errorf("manager: open: %w", err)
	}
	for _, id := range affected {
		path, ok, err := m.store.GetPrecachePath(ctx, id)
		if err != nil || !ok {
			continue
		}
		logger.Warn("resetting inconsistent precache entry", logger.Entry(id))
		if err := m.alloc.Delete(path); err != nil {
			logger.Error("failed to clean up inconsistent entry directory", logger.Entry(id), logger.Err(err))
		}
		if err := m.store.Delete(ctx, id); err != nil {
			logger.Error("failed to drop inconsistent entry row", logger.Entry(id), logger.Err(err))
		}
	}
	return nil
}

// Handle is an acquired reference to a ready entry. Callers must call
// Release exactly once when done reading.
type Handle struct {
	ID       int64
	Path     string
	Metadata precache.Metadata
	mgr      *Manager
}

// Release drops this handle's contention count, permitting eviction again.
func (h *Handle) Release() { h.mgr.release(h.ID) }

// Checksums returns covering byte ranges (with MD5s) for rng, or the whole
// file when rng is nil.
func (h *Handle) Checksums(rng *precache.ByteRange) ([]precache.ByteRange, error) {
	return h.mgr.sum.Blocks(h.Path, rng)
}

// Open opens the entry's data file for reading.
func (h *Handle) Open() (*os.File, error) {
	return os.Open(filepath.Join(h.Path, "data"))
}

func (m *Manager) acquire(id int64) {
	m.mu.Lock()
	m.contention[id]++
	m.mu.Unlock()
}

func (m *Manager) release(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contention[id]--
	if m.contention[id] <= 0 {
		delete(m.contention, id)
	}
}

// ContentionCount reports the current number of live readers for id.
func (m *Manager) ContentionCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contention[id]
}

// UpdateLastAccess records that id was just used.
func (m *Manager) UpdateLastAccess(ctx context.Context, id int64) error {
	return m.store.TouchLastAccess(ctx, id)
}

// Get implements the admission contract: if irodsPath is tracked and ready,
// it returns an acquired Handle; if tracked but still being produced, it
// returns a *precache.InProgressError carrying an ETA; otherwise it
// reserves space (evicting LRU entries as needed), seeds a tracking row and
// schedules a fetch, then returns the same InProgressError as the freshly
// admitted entry.
func (m *Manager) Get(ctx context.Context, irodsPath string) (*Handle, error) {
	id, ok, err := m.store.GetID(ctx, irodsPath)
	if err != nil {
		return nil, err
	}
	if ok {
		return m.getTracked(ctx, id)
	}
	return m.admit(ctx, irodsPath)
}

func (m *Manager) getTracked(ctx context.Context, id int64) (*Handle, error) {
	_, status, ok, err := m.store.GetCurrentStatus(ctx, id, precache.DataTypeData)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, precache.ErrNotFound
	}
	if status == precache.StatusFailed {
		return nil, precache.ErrUpstreamUnavailable
	}
	if status != precache.StatusReady {
		return nil, m.inProgress(ctx, id, precache.DataTypeData)
	}

	path, ok, err := m.store.GetPrecachePath(ctx, id)
	if err != nil || !ok {
		return nil, precache.ErrNotFound
	}
	md, err := readMetadataFile(path)
	if err != nil {
		return nil, err
	}

	m.acquire(id)
	if err := m.store.TouchLastAccess(ctx, id); err != nil {
		logger.Warn("failed to update last access", logger.Entry(id), logger.Err(err))
	}
	return &Handle{ID: id, Path: path, Metadata: md, mgr: m}, nil
}

// inProgress builds the 202 payload: an ETA estimated from the reserved
// size for dt and the rolling mean production rate for its process.
func (m *Manager) inProgress(ctx context.Context, id int64, dt precache.DataType) *precache.InProgressError {
	size, _, _ := m.store.GetSize(ctx, id, dt)
	proc := precache.ProcessDownload
	if dt == precache.DataTypeChecksums {
		proc = precache.ProcessChecksum
	}

	var eta *float64
	if rates, err := m.store.ProductionRates(ctx); err == nil {
		if rs, ok := rates[proc]; ok && rs.MeanBytesPerSec > 0 {
			e := float64(size) / rs.MeanBytesPerSec
			eta = &e
		}
	}
	return &precache.InProgressError{DataType: dt, ETA: eta}
}

// admit reserves space for a not-yet-tracked object and schedules its
// production. The caller always receives an InProgressError on success,
// since the fetch has not completed by the time admit returns.
func (m *Manager) admit(ctx context.Context, irodsPath string) (*Handle, error) {
	md, err := m.rmt.Metadata(ctx, irodsPath)
	if err != nil {
		return nil, err
	}
	return m.admitWithMetadata(ctx, irodsPath, md)
}

func (m *Manager) admitWithMetadata(ctx context.Context, irodsPath string, md precache.Metadata) (*Handle, error) {
	checksumsSize := m.sum.IndexSize(md.Size)
	metadataSize := estimateMetadataSize(md)
	sizes := map[precache.DataType]int64{
		precache.DataTypeData:      md.Size,
		precache.DataTypeMetadata:  metadataSize,
		precache.DataTypeChecksums: checksumsSize,
	}
	needed := md.Size + metadataSize + checksumsSize

	if err := m.reserve(ctx, needed); err != nil {
		if err == precache.ErrPrecacheFull {
			m.events.RecordAdmission("full")
		} else {
			m.events.RecordAdmission("error")
		}
		return nil, err
	}

	dir, err := m.alloc.New()
	if err != nil {
		m.events.RecordAdmission("error")
		return nil, err
	}

	id, err := m.store.NewRequest(ctx, irodsPath, dir, sizes)
	if err != nil {
		_ = m.alloc.Delete(dir)
		m.events.RecordAdmission("error")
		return nil, err
	}
	m.events.RecordAdmission("admitted")

	if err := writeMetadataFile(dir, md); err != nil {
		logger.Error("failed to write metadata file", logger.Entry(id), logger.Err(err))
	} else if err := m.store.SetStatus(ctx, id, precache.DataTypeMetadata, precache.StatusReady); err != nil {
		logger.Error("failed to mark metadata ready", logger.Entry(id), logger.Err(err))
	}

	m.scheduleFetch(id, irodsPath, dir, md.Size)

	return nil, m.inProgress(ctx, id, precache.DataTypeData)
}

// reserve frees space from LRU, unheld, non-producing entries, one at a
// time, until needed bytes fit within the budget, per spec.md §4.2's
// "exactly one entry is evicted per admission step when one suffices"
// boundary behaviour.
func (m *Manager) reserve(ctx context.Context, needed int64) error {
	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	if m.cfg.Budget <= 0 {
		return nil
	}

	for {
		commit, err := m.store.Commitment(ctx)
		if err != nil {
			return err
		}
		var storeSize int64
		if m.cfg.StoreColocated {
			storeSize, _ = m.store.FileSize()
		}
		if commit+storeSize+needed <= m.cfg.Budget {
			return nil
		}

		entries, err := m.store.ListEntries(ctx)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].LastAccess.Before(entries[j].LastAccess) })

		evicted := false
		for _, e := range entries {
			if m.ContentionCount(e.ID) > 0 {
				continue
			}
			if m.isProducing(e) {
				continue
			}
			if err := m.evict(ctx, e.ID, e.PrecachePath); err != nil {
				return err
			}
			evicted = true
			break
		}
		if !evicted {
			return precache.ErrPrecacheFull
		}
	}
}

func (m *Manager) isProducing(e store.Entry) bool {
	for _, dt := range precache.AllDataTypes {
		if e.Statuses[dt] == precache.StatusProducing || e.Statuses[dt] == precache.StatusRequested {
			return true
		}
	}
	return false
}

func (m *Manager) evict(ctx context.Context, id int64, path string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("manager: evict %d: %w", id, err)
	}
	m.events.RecordEviction()
	return m.alloc.Delete(path)
}

// scheduleFetch launches the at-most-once background fetch for id; the
// checksum job is chained after a successful fetch.
func (m *Manager) scheduleFetch(id int64, irodsPath, dir string, size int64) {
	res := &jobResult{done: make(chan struct{})}
	m.mu.Lock()
	m.fetches[id] = res
	m.mu.Unlock()

	go func() {
		ctx := context.Background()
		if err := m.store.SetStatus(ctx, id, precache.DataTypeData, precache.StatusProducing); err != nil {
			logger.Error("failed to mark data producing", logger.Entry(id), logger.Err(err))
		}

		start := time.Now()
		err := m.rmt.FetchTo(ctx, irodsPath, filepath.Join(dir, "data"))
		dur := time.Since(start).Seconds()

		if err != nil {
			logger.Error("fetch failed", logger.Entry(id), logger.Err(err))
			if serr := m.store.SetStatus(ctx, id, precache.DataTypeData, precache.StatusFailed); serr != nil {
				logger.Error("failed to mark data failed", logger.Entry(id), logger.Err(serr))
			}
			res.err = err
			close(res.done)
			return
		}

		if err := m.store.SetStatus(ctx, id, precache.DataTypeData, precache.StatusReady); err != nil {
			logger.Error("failed to mark data ready", logger.Entry(id), logger.Err(err))
		}
		if err := m.store.RecordSample(ctx, precache.ProcessDownload, size, dur); err != nil {
			logger.Warn("failed to record download sample", logger.Entry(id), logger.Err(err))
		}
		close(res.done)

		m.scheduleChecksum(id, dir, size)
	}()
}

func (m *Manager) scheduleChecksum(id int64, dir string, size int64) {
	res := &jobResult{done: make(chan struct{})}
	m.mu.Lock()
	m.checksums[id] = res
	m.mu.Unlock()

	go func() {
		ctx := context.Background()
		if err := m.store.SetStatus(ctx, id, precache.DataTypeChecksums, precache.StatusProducing); err != nil {
			logger.Error("failed to mark checksums producing", logger.Entry(id), logger.Err(err))
		}

		start := time.Now()
		err := m.sum.Generate(ctx, dir)
		dur := time.Since(start).Seconds()

		if err != nil {
			logger.Error("checksum generation failed", logger.Entry(id), logger.Err(err))
			if serr := m.store.SetStatus(ctx, id, precache.DataTypeChecksums, precache.StatusFailed); serr != nil {
				logger.Error("failed to mark checksums failed", logger.Entry(id), logger.Err(serr))
			}
			res.err = err
			close(res.done)
			return
		}

		if err := m.store.SetStatus(ctx, id, precache.DataTypeChecksums, precache.StatusReady); err != nil {
			logger.Error("failed to mark checksums ready", logger.Entry(id), logger.Err(err))
		}
		if err := m.store.RecordSample(ctx, precache.ProcessChecksum, size, dur); err != nil {
			logger.Warn("failed to record checksum sample", logger.Entry(id), logger.Err(err))
		}
		close(res.done)
	}()
}

// RefetchMetadata re-reads an entry's remote metadata and reports whether
// it differs from the locally cached copy.
func (m *Manager) RefetchMetadata(ctx context.Context, id int64) (changed bool, fresh precache.Metadata, err error) {
	irodsPath, ok, err := m.store.GetIrodsPath(ctx, id)
	if err != nil || !ok {
		return false, precache.Metadata{}, precache.ErrNotFound
	}
	path, ok, err := m.store.GetPrecachePath(ctx, id)
	if err != nil || !ok {
		return false, precache.Metadata{}, precache.ErrNotFound
	}
	local, err := readMetadataFile(path)
	if err != nil {
		return false, precache.Metadata{}, err
	}
	fresh, err = m.rmt.Metadata(ctx, irodsPath)
	if err != nil {
		return false, precache.Metadata{}, err
	}
	return !local.Equal(fresh), fresh, nil
}

// Reseed implements the POST re-seed contract: if the tracked object's
// remote metadata changed, the old entry is deleted and admission is
// re-triggered for the same path. Returns precache.ErrInProgress while the
// existing entry is still being produced, precache.ErrContended while it is
// held by a reader.
func (m *Manager) Reseed(ctx context.Context, irodsPath string) error {
	id, ok, err := m.store.GetID(ctx, irodsPath)
	if err != nil {
		return err
	}
	if !ok {
		_, err := m.admit(ctx, irodsPath)
		return err
	}

	_, status, ok, err := m.store.GetCurrentStatus(ctx, id, precache.DataTypeData)
	if err != nil {
		return err
	}
	if !ok || status != precache.StatusReady {
		return precache.ErrInProgress
	}
	if m.ContentionCount(id) > 0 {
		m.events.RecordContended()
		return precache.ErrContended
	}

	changed, fresh, err := m.RefetchMetadata(ctx, id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	path, _, err := m.store.GetPrecachePath(ctx, id)
	if err != nil {
		return err
	}
	if err := m.evict(ctx, id, path); err != nil {
		return err
	}
	_, err = m.admitWithMetadata(ctx, irodsPath, fresh)
	return err
}

// Delete removes a tracked entry, refusing while it is contended.
func (m *Manager) Delete(ctx context.Context, irodsPath string) error {
	id, ok, err := m.store.GetID(ctx, irodsPath)
	if err != nil {
		return err
	}
	if !ok {
		return precache.ErrNotFound
	}
	if m.ContentionCount(id) > 0 {
		m.events.RecordContended()
		return precache.ErrContended
	}

	entries, err := m.store.ListEntries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == id && m.isProducing(e) {
			return precache.ErrInProgress
		}
	}

	path, ok, err := m.store.GetPrecachePath(ctx, id)
	if err != nil || !ok {
		return precache.ErrNotFound
	}
	return m.evict(ctx, id, path)
}

// StartExpirySweep runs the periodic expiry sweep at the given interval.
// A non-positive cfg.Expiry disables expiry and this is a no-op.
func (m *Manager) StartExpirySweep(interval time.Duration) {
	if m.cfg.Expiry <= 0 {
		return
	}
	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})
	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.sweepStop:
				return
			case <-ticker.C:
				m.sweepExpired()
			}
		}
	}()
}

func (m *Manager) sweepExpired() {
	if _, err := m.RunExpirySweep(context.Background()); err != nil {
		logger.Error("expiry sweep: list entries", logger.Err(err))
	}
}

// RunExpirySweep evicts every non-contended, non-producing entry whose last
// access exceeds the configured expiry, and returns the count evicted. It is
// the same sweep StartExpirySweep runs on a timer, exposed for `irobot
// precache gc`'s manual trigger. A non-positive cfg.Expiry evicts nothing.
func (m *Manager) RunExpirySweep(ctx context.Context) (int, error) {
	if m.cfg.Expiry <= 0 {
		return 0, nil
	}
	entries, err := m.store.ListEntries(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	evicted := 0
	for _, e := range entries {
		if m.ContentionCount(e.ID) > 0 || m.isProducing(e) {
			continue
		}
		if now.Sub(e.LastAccess) <= m.cfg.Expiry {
			continue
		}
		logger.Info("expiring precache entry", logger.Entry(e.ID))
		if err := m.evict(ctx, e.ID, e.PrecachePath); err != nil {
			logger.Error("expiry sweep: evict failed", logger.Entry(e.ID), logger.Err(err))
			continue
		}
		evicted++
	}
	return evicted, nil
}

// Close stops the expiry sweep, if running.
func (m *Manager) Close() {
	if m.sweepStop != nil {
		close(m.sweepStop)
		<-m.sweepDone
	}
}

// ListEntries exposes the tracking store's full entry listing, for the
// /_precache admin endpoint and `irobot precache list`.
func (m *Manager) ListEntries(ctx context.Context) ([]store.Entry, error) {
	return m.store.ListEntries(ctx)
}

// Commitment reports the precache's current total reserved bytes.
func (m *Manager) Commitment(ctx context.Context) (int64, error) {
	commit, err := m.store.Commitment(ctx)
	if err != nil {
		return 0, err
	}
	if m.cfg.StoreColocated {
		fs, _ := m.store.FileSize()
		commit += fs
	}
	return commit, nil
}

// ProductionRates exposes the tracking store's rolling download/checksum
// throughput statistics, for the /_status admin endpoint.
func (m *Manager) ProductionRates(ctx context.Context) (map[precache.Process]store.RateStats, error) {
	return m.store.ProductionRates(ctx)
}
