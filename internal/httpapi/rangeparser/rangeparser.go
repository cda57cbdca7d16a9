// Package rangeparser implements the RFC-7233 byte-range subset the
// data-object GET handler needs: parsing a Range header into canonical,
// non-overlapping spans.
package rangeparser

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

// ErrUnsatisfiable means the header is malformed, uses a unit other than
// "bytes", or describes a span outside [0, size) — the caller should
// respond 416.
var ErrUnsatisfiable = errors.New("rangeparser: range not satisfiable")

// Parse parses the value of a Range header against a resource of the given
// size, returning one ByteRange per comma-separated spec in request order
// (uncanonicalised — call Canonicalise to merge/sort).
func Parse(header string, size int64) ([]precache.ByteRange, error) {
	unit, specList, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return nil, ErrUnsatisfiable
	}

	var ranges []precache.ByteRange
	for _, spec := range strings.Split(specList, ",") {
		spec = strings.TrimSpace(spec)
		start, finish, err := parseSpec(spec, size)
		if err != nil {
			return nil, err
		}
		if start < 0 {
			start = 0
		}
		if start >= size || start >= finish {
			return nil, ErrUnsatisfiable
		}
		ranges = append(ranges, precache.ByteRange{Start: start, Finish: finish})
	}
	if len(ranges) == 0 {
		return nil, ErrUnsatisfiable
	}
	return ranges, nil
}

func parseSpec(spec string, size int64) (start, finish int64, err error) {
	switch {
	case strings.HasPrefix(spec, "-"):
		n, err := strconv.ParseInt(spec[1:], 10, 64)
		if err != nil {
			return 0, 0, ErrUnsatisfiable
		}
		return size - n, size, nil

	case strings.HasSuffix(spec, "-"):
		n, err := strconv.ParseInt(strings.TrimSuffix(spec, "-"), 10, 64)
		if err != nil {
			return 0, 0, ErrUnsatisfiable
		}
		return n, size, nil

	default:
		a, b, ok := strings.Cut(spec, "-")
		if !ok {
			return 0, 0, ErrUnsatisfiable
		}
		start, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return 0, 0, ErrUnsatisfiable
		}
		end, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return 0, 0, ErrUnsatisfiable
		}
		finish := end + 1
		if finish > size {
			finish = size
		}
		return start, finish, nil
	}
}

// Canonicalise sorts ranges ascending by (start, finish) and merges
// adjacent/overlapping spans. Two ranges merge only when neither carries a
// range-level checksum; when a checksum-less range is overlapped by a
// checksummed one, the checksum-less range is split so the checksummed
// portion survives verbatim.
func Canonicalise(ranges []precache.ByteRange) []precache.ByteRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]precache.ByteRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Finish < sorted[j].Finish
	})

	out := []precache.ByteRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if last.Finish < r.Start {
			out = append(out, r)
			continue
		}

		switch {
		case !last.HasChecksum() && !r.HasChecksum():
			if r.Finish > last.Finish {
				last.Finish = r.Finish
			}

		case last.HasChecksum() && !r.HasChecksum():
			if r.Finish > last.Finish {
				out = append(out, precache.ByteRange{Start: last.Finish, Finish: r.Finish})
			}

		case !last.HasChecksum() && r.HasChecksum():
			origFinish := last.Finish
			if r.Start == last.Start {
				out[len(out)-1] = r
			} else {
				last.Finish = r.Start
				out = append(out, r)
			}
			if r.Finish < origFinish {
				out = append(out, precache.ByteRange{Start: r.Finish, Finish: origFinish})
			}

		default: // both carry checksums: pinned segments are never merged
			out = append(out, r)
		}
	}
	return out
}
