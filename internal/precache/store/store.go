// Package store implements the tracking store: a durable, concurrently
// accessed index of precache entries backed by a single local sqlite
// database file, with a single-writer-by-statement-verb discipline.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/internal/precache"
)

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// writingVerbs is the closed set of leading SQL verbs classified as
// potentially writing, per the tracking store's concurrency contract:
// statements are serialised on a single write lock, classified by
// inspecting the first token only.
var writingVerbs = map[string]bool{
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true,
	"INSERT": true, "REPLACE": true, "UPDATE": true, "DELETE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "REINDEX": true,
	"VACUUM": true, "PRAGMA": true, "ANALYZE": true,
	"SAVEPOINT": true, "RELEASE": true,
}

var leadingVerbPattern = regexp.MustCompile(`^\s*([A-Za-z]+)`)

// isWriting classifies a SQL statement by its leading verb.
func isWriting(stmt string) bool {
	m := leadingVerbPattern.FindStringSubmatch(stmt)
	if m == nil {
		return false
	}
	return writingVerbs[strings.ToUpper(m[1])]
}

// Store is the tracking store. Reads proceed concurrently against the
// underlying *sql.DB; writes (and any transaction, which acquires the lock
// at BEGIN and releases at COMMIT/ROLLBACK) are serialised through writeMu.
type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex

	vacuumStop chan struct{}
	vacuumDone chan struct{}
}

// RateStats is a rolling mean/standard-error pair for a production
// process, used by the manager to compute ETAs.
type RateStats struct {
	MeanBytesPerSec   float64
	StdErrBytesPerSec float64
}

// Entry summarises one tracked data object for admin listing and cleanup.
type Entry struct {
	ID           int64
	IrodsPath    string
	PrecachePath string
	Sizes        map[precache.DataType]int64
	Statuses     map[precache.DataType]precache.Status
	LastAccess   time.Time
}

// Open opens (creating if necessary) the tracking store at path, applying
// WAL mode and a busy timeout so that concurrent worker-thread writers
// never block indefinitely, following the sqlite DSN conventions used
// elsewhere in the corpus for local sqlite files.
func Open(path string) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path, sep)
	if !strings.Contains(path, "mode=memory") {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tracking store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1 << 6)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the vacuum timer (if started) and closes the database.
func (s *Store) Close() error {
	if s.vacuumStop != nil {
		close(s.vacuumStop)
		<-s.vacuumDone
	}
	return s.db.Close()
}

// FileSize returns the tracking store's own on-disk size, used by
// Commitment when the store is co-located inside the precache root.
func (s *Store) FileSize() (int64, error) {
	if s.path == ":memory:" || strings.Contains(s.path, "mode=memory") {
		return 0, nil
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return fi.Size(), nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS data_objects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			irods_path TEXT NOT NULL UNIQUE,
			precache_path TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS data_sizes (
			data_object INTEGER NOT NULL REFERENCES data_objects(id) ON DELETE CASCADE,
			datatype TEXT NOT NULL,
			size INTEGER NOT NULL,
			PRIMARY KEY (data_object, datatype)
		)`,
		`CREATE TABLE IF NOT EXISTS status_log (
			data_object INTEGER NOT NULL REFERENCES data_objects(id) ON DELETE CASCADE,
			datatype TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			UNIQUE (data_object, datatype, status)
		)`,
		`CREATE TABLE IF NOT EXISTS last_access (
			data_object INTEGER PRIMARY KEY REFERENCES data_objects(id) ON DELETE CASCADE,
			last_access TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS production_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			process TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			duration_seconds REAL NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_log_lookup ON status_log (data_object, datatype, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_production_samples_process ON production_samples (process, timestamp)`,
	}
	for _, stmt := range stmts {
		if err := s.exec(context.Background(), stmt); err != nil {
			return fmt.Errorf("tracking store: migrate: %w", err)
		}
	}
	return nil
}

// exec runs a single statement, acquiring the write lock iff the leading
// verb classifies as writing.
func (s *Store) exec(ctx context.Context, stmt string, args ...any) error {
	if isWriting(stmt) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	_, err := s.db.ExecContext(ctx, stmt, args...)
	return err
}

// withTx runs fn inside a transaction, holding the write lock for the
// whole BEGIN..COMMIT/ROLLBACK span so callers never observe torn writes.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// StartVacuumTimer starts the periodic compaction timer (spec §4.1
// "Maintenance": every ~12h, must not block readers for more than one
// statement). Rescheduled after each run rather than ticked, so a slow
// vacuum cannot pile up overlapping runs.
func (s *Store) StartVacuumTimer(interval time.Duration) {
	s.vacuumStop = make(chan struct{})
	s.vacuumDone = make(chan struct{})
	go func() {
		defer close(s.vacuumDone)
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-s.vacuumStop:
				return
			case <-timer.C:
				if err := s.exec(context.Background(), "VACUUM"); err != nil {
					logger.Error("tracking store vacuum failed", logger.Err(err))
				}
				timer.Reset(interval)
			}
		}
	}()
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint
// failure. glebarez/go-sqlite (modernc.org/sqlite) surfaces this as a
// plain error whose message contains "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// NewRequest atomically creates a tracking row, seeds all three datatype
// statuses at "requested", records reservations, and initialises
// last-access to now. Fails with precache.ErrAlreadyExists if the path or
// directory is already tracked.
func (s *Store) NewRequest(ctx context.Context, irodsPath, precachePath string, sizes map[precache.DataType]int64) (int64, error) {
	var id int64
	now := time.Now().UTC().Format(timeLayout)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO data_objects (irods_path, precache_path) VALUES (?, ?)`,
			irodsPath, precachePath)
		if err != nil {
			if isUniqueViolation(err) {
				return precache.ErrAlreadyExists
			}
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, dt := range precache.AllDataTypes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO data_sizes (data_object, datatype, size) VALUES (?, ?, ?)`,
				id, string(dt), sizes[dt]); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO status_log (data_object, datatype, status, timestamp) VALUES (?, ?, ?, ?)`,
				id, string(dt), string(precache.StatusRequested), now); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO last_access (data_object, last_access) VALUES (?, ?)`, id, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetID returns the tracking ID for an irods_path, if tracked.
func (s *Store) GetID(ctx context.Context, irodsPath string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM data_objects WHERE irods_path = ?`, irodsPath).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// GetIrodsPath returns the remote path for a tracked entry.
func (s *Store) GetIrodsPath(ctx context.Context, id int64) (string, bool, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT irods_path FROM data_objects WHERE id = ?`, id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// GetPrecachePath returns the on-disk directory for a tracked entry.
func (s *Store) GetPrecachePath(ctx context.Context, id int64) (string, bool, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT precache_path FROM data_objects WHERE id = ?`, id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// GetLastAccess returns an entry's last-access timestamp.
func (s *Store) GetLastAccess(ctx context.Context, id int64) (time.Time, bool, error) {
	var ts string
	err := s.db.QueryRowContext(ctx, `SELECT last_access FROM last_access WHERE data_object = ?`, id).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(timeLayout, ts)
	return t, true, err
}

// TouchLastAccess sets an entry's last-access timestamp to now.
func (s *Store) TouchLastAccess(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(timeLayout)
	return s.exec(ctx, `UPDATE last_access SET last_access = ? WHERE data_object = ?`, now, id)
}

// GetCurrentStatus returns the latest logged (timestamp, status) for a
// (entry, datatype) pair.
func (s *Store) GetCurrentStatus(ctx context.Context, id int64, dt precache.DataType) (time.Time, precache.Status, bool, error) {
	var ts, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, status FROM status_log
		 WHERE data_object = ? AND datatype = ?
		 ORDER BY timestamp DESC LIMIT 1`, id, string(dt)).Scan(&ts, &status)
	if err == sql.ErrNoRows {
		return time.Time{}, "", false, nil
	}
	if err != nil {
		return time.Time{}, "", false, err
	}
	t, err := time.Parse(timeLayout, ts)
	return t, precache.Status(status), true, err
}

// SetStatus appends a new status row for (entry, datatype). Fails with
// precache.ErrStatusExists if that exact transition was already logged.
func (s *Store) SetStatus(ctx context.Context, id int64, dt precache.DataType, status precache.Status) error {
	now := time.Now().UTC().Format(timeLayout)
	err := s.exec(ctx,
		`INSERT INTO status_log (data_object, datatype, status, timestamp) VALUES (?, ?, ?, ?)`,
		id, string(dt), string(status), now)
	if isUniqueViolation(err) {
		return precache.ErrStatusExists
	}
	return err
}

// GetSize returns the reserved byte count for (entry, datatype).
func (s *Store) GetSize(ctx context.Context, id int64, dt precache.DataType) (int64, bool, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT size FROM data_sizes WHERE data_object = ? AND datatype = ?`, id, string(dt)).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return size, true, nil
}

// SetSize updates the reserved byte count for (entry, datatype).
func (s *Store) SetSize(ctx context.Context, id int64, dt precache.DataType, size int64) error {
	return s.exec(ctx,
		`UPDATE data_sizes SET size = ? WHERE data_object = ? AND datatype = ?`, size, id, string(dt))
}

// Commitment returns the total reserved bytes across all rows. It does not
// include the tracking store's own file size; the manager adds FileSize()
// itself when the store is co-located inside the precache root, since only
// it knows whether that is the case.
func (s *Store) Commitment(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM data_sizes`).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// RecordSample appends a production-rate sample.
func (s *Store) RecordSample(ctx context.Context, process precache.Process, sizeBytes int64, durationSeconds float64) error {
	now := time.Now().UTC().Format(timeLayout)
	return s.exec(ctx,
		`INSERT INTO production_samples (process, size_bytes, duration_seconds, timestamp) VALUES (?, ?, ?, ?)`,
		string(process), sizeBytes, durationSeconds, now)
}

// productionSampleWindow bounds how many recent samples feed the rolling
// rate statistics.
const productionSampleWindow = 100

// ProductionRates computes, per process, the mean and standard error of
// bytes/second over the most recent samples. A process with fewer than
// two samples is absent from the result.
func (s *Store) ProductionRates(ctx context.Context) (map[precache.Process]RateStats, error) {
	result := make(map[precache.Process]RateStats)
	for _, proc := range []precache.Process{precache.ProcessDownload, precache.ProcessChecksum} {
		rows, err := s.db.QueryContext(ctx,
			`SELECT size_bytes, duration_seconds FROM production_samples
			 WHERE process = ? ORDER BY timestamp DESC LIMIT ?`, string(proc), productionSampleWindow)
		if err != nil {
			return nil, err
		}
		var rates []float64
		for rows.Next() {
			var size int64
			var dur float64
			if err := rows.Scan(&size, &dur); err != nil {
				rows.Close()
				return nil, err
			}
			if dur > 0 {
				rates = append(rates, float64(size)/dur)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(rates) < 2 {
			continue
		}
		result[proc] = rateStats(rates)
	}
	return result, nil
}

func rateStats(samples []float64) RateStats {
	n := float64(len(samples))
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	variance := sq / (n - 1)
	stderr := math.Sqrt(variance / n)

	return RateStats{MeanBytesPerSec: mean, StdErrBytesPerSec: stderr}
}

// Entries returns the IDs of all tracked entries.
func (s *Store) Entries(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM data_objects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListEntries returns a full summary of every tracked entry, for the
// /_precache admin endpoint and the `irobot precache list` CLI command.
func (s *Store) ListEntries(ctx context.Context) ([]Entry, error) {
	ids, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		path, ok, err := s.GetPrecachePath(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var irodsPath string
		if err := s.db.QueryRowContext(ctx, `SELECT irods_path FROM data_objects WHERE id = ?`, id).Scan(&irodsPath); err != nil {
			return nil, err
		}

		e := Entry{ID: id, IrodsPath: irodsPath, PrecachePath: path,
			Sizes: make(map[precache.DataType]int64), Statuses: make(map[precache.DataType]precache.Status)}
		for _, dt := range precache.AllDataTypes {
			if size, ok, err := s.GetSize(ctx, id, dt); err == nil && ok {
				e.Sizes[dt] = size
			}
			if _, status, ok, err := s.GetCurrentStatus(ctx, id, dt); err == nil && ok {
				e.Statuses[dt] = status
			}
		}
		if la, ok, err := s.GetLastAccess(ctx, id); err == nil && ok {
			e.LastAccess = la
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete cascades dependent rows (via ON DELETE CASCADE) and removes the
// data_objects row. The caller must remove the on-disk directory only
// after this returns successfully (spec §3: row deletion commits before
// filesystem deletion).
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM data_objects WHERE id = ?`, id)
}

// ResetInconsistentOnOpen marks failed any entry whose latest status for
// any datatype is "producing" — such a status can only mean the previous
// process died mid-job. Returns the affected entry IDs so the manager can
// clean up their directories.
func (s *Store) ResetInconsistentOnOpen(ctx context.Context) ([]int64, error) {
	ids, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}

	var affected []int64
	for _, id := range ids {
		inconsistent := false
		for _, dt := range precache.AllDataTypes {
			_, status, ok, err := s.GetCurrentStatus(ctx, id, dt)
			if err != nil {
				return nil, err
			}
			if ok && status == precache.StatusProducing {
				if err := s.SetStatus(ctx, id, dt, precache.StatusFailed); err != nil && err != precache.ErrStatusExists {
					return nil, err
				}
				inconsistent = true
			}
		}
		if inconsistent {
			affected = append(affected, id)
		}
	}
	return affected, nil
}
