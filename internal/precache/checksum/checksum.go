// Package checksum computes whole-file and chunked MD5s for a precache
// entry's data file and serves checksum queries over the resulting index.
package checksum

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

// DefaultWorkerMultiplier is applied to GOMAXPROCS to size the bounded
// worker pool, per spec §4.3 ("default: virtual-core count x 5").
const DefaultWorkerMultiplier = 5

// Summer computes and serves checksum indexes for precache entries.
type Summer struct {
	chunkSize int64
	workers   int
}

// New returns a Summer with the given chunk size and worker-pool size. A
// non-positive workers value defaults to GOMAXPROCS * DefaultWorkerMultiplier.
func New(chunkSize int64, workers int) *Summer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) * DefaultWorkerMultiplier
	}
	return &Summer{chunkSize: chunkSize, workers: workers}
}

// chunk is one fixed-size aligned span of the data file.
type chunk struct {
	start, end int64
	md5        string
}

// IndexSize returns the deterministic size in bytes of the checksum index
// file that Generate would produce for a data file of dataSize bytes, used
// by the precache manager to pre-reserve space before fetching.
//
// One whole-file record is exactly 35 bytes ("*\t" + 32 hex chars + "\n").
// Each chunk record's length is the ASCII length of "{start}-{end}\t{md5}\n".
func (s *Summer) IndexSize(dataSize int64) int64 {
	const wholeFileRecord = 2 + 32 + 1 // "*\t" + md5hex + "\n"
	if dataSize == 0 {
		return wholeFileRecord
	}

	total := int64(wholeFileRecord)
	for start := int64(0); start < dataSize; start += s.chunkSize {
		end := start + s.chunkSize
		if end > dataSize {
			end = dataSize
		}
		line := fmt.Sprintf("%d-%d\t%s\n", start, end, strings.Repeat("0", 32))
		total += int64(len(line))
	}
	return total
}

// Generate reads precachePath/data, computes the whole-file MD5 and
// chunk MD5s in parallel, and atomically writes precachePath/checksums.
func (s *Summer) Generate(ctx context.Context, precachePath string) error {
	dataPath := filepath.Join(precachePath, "data")

	fi, err := os.Stat(dataPath)
	if err != nil {
		return fmt.Errorf("checksum: stat %s: %w", dataPath, err)
	}
	size := fi.Size()

	var bounds [][2]int64
	if size == 0 {
		bounds = nil
	} else {
		for start := int64(0); start < size; start += s.chunkSize {
			end := start + s.chunkSize
			if end > size {
				end = size
			}
			bounds = append(bounds, [2]int64{start, end})
		}
	}

	chunks := make([]chunk, len(bounds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, b := range bounds {
		i, b := i, b
		g.Go(func() error {
			sum, err := hashRange(dataPath, b[0], b[1])
			if err != nil {
				return err
			}
			chunks[i] = chunk{start: b[0], end: b[1], md5: sum}
			_ = gctx
			return nil
		})
	}

	var wholeSum string
	g.Go(func() error {
		var err error
		wholeSum, err = hashRange(dataPath, 0, size)
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	return writeIndex(filepath.Join(precachePath, "checksums"), wholeSum, chunks)
}

func hashRange(path string, start, end int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return "", err
		}
	}

	h := md5.New()
	if _, err := io.CopyN(h, f, end-start); err != nil && err != io.EOF {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeIndex writes the checksum index atomically (write-to-temp, rename)
// so that concurrent readers never observe a partial file.
func writeIndex(path, wholeSum string, chunks []chunk) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "*\t%s\n", wholeSum); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for _, c := range chunks {
		if _, err := fmt.Fprintf(w, "%d-%d\t%s\n", c.start, c.end, c.md5); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Index is a parsed checksum-index file.
type Index struct {
	WholeFileMD5 string
	Chunks       []precache.ByteRange
}

// ReadIndex parses precachePath/checksums.
func ReadIndex(precachePath string) (*Index, error) {
	f, err := os.Open(filepath.Join(precachePath, "checksums"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx := &Index{}
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		if first {
			idx.WholeFileMD5 = parts[1]
			first = false
			continue
		}
		span := strings.SplitN(parts[0], "-", 2)
		if len(span) != 2 {
			continue
		}
		start, err := strconv.ParseInt(span[0], 10, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseInt(span[1], 10, 64)
		if err != nil {
			continue
		}
		idx.Chunks = append(idx.Chunks, precache.ByteRange{Start: start, Finish: end, Checksum: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(idx.Chunks, func(i, j int) bool { return idx.Chunks[i].Start < idx.Chunks[j].Start })
	return idx, nil
}

// Blocks returns covering ByteRanges for the requested span (or, with a
// nil rng, a single whole-file range carrying the whole-file MD5). Aligned
// chunks are pulled from the index; misaligned head/tail portions are
// recomputed on the fly by hashing directly from the data file.
func (s *Summer) Blocks(precachePath string, rng *precache.ByteRange) ([]precache.ByteRange, error) {
	idx, err := ReadIndex(precachePath)
	if err != nil {
		return nil, err
	}

	if rng == nil {
		fi, err := os.Stat(filepath.Join(precachePath, "data"))
		if err != nil {
			return nil, err
		}
		return []precache.ByteRange{{Start: 0, Finish: fi.Size(), Checksum: idx.WholeFileMD5}}, nil
	}

	dataPath := filepath.Join(precachePath, "data")
	var out []precache.ByteRange
	cursor := rng.Start

	for _, c := range idx.Chunks {
		if c.Finish <= cursor || c.Start >= rng.Finish {
			continue
		}
		// Misaligned head before this chunk.
		if cursor < c.Start {
			sum, err := hashRange(dataPath, cursor, c.Start)
			if err != nil {
				return nil, err
			}
			out = append(out, precache.ByteRange{Start: cursor, Finish: c.Start, Checksum: sum})
			cursor = c.Start
		}
		if c.Start >= cursor && c.Finish <= rng.Finish {
			out = append(out, precache.ByteRange{Start: c.Start, Finish: c.Finish, Checksum: c.Checksum})
			cursor = c.Finish
		} else {
			// Partial overlap with the requested range's tail.
			end := min64(c.Finish, rng.Finish)
			sum, err := hashRange(dataPath, cursor, end)
			if err != nil {
				return nil, err
			}
			out = append(out, precache.ByteRange{Start: cursor, Finish: end, Checksum: sum})
			cursor = end
		}
	}
	if cursor < rng.Finish {
		sum, err := hashRange(dataPath, cursor, rng.Finish)
		if err != nil {
			return nil, err
		}
		out = append(out, precache.ByteRange{Start: cursor, Finish: rng.Finish, Checksum: sum})
	}
	return out, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
