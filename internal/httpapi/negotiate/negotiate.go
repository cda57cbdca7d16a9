// Package negotiate implements RFC-7231 Accept header content negotiation.
package negotiate

import (
	"sort"
	"strconv"
	"strings"
)

// MediaRange is one comma-separated entry of an Accept header.
type MediaRange struct {
	Type    string // e.g. "application/vnd.irobot.metadata+json" or "*/*"
	Quality float64
	order   int
}

// Parse parses an Accept header value into media ranges sorted by
// descending quality, using client-declared order as a tiebreak.
func Parse(header string) []MediaRange {
	if header == "" {
		return []MediaRange{{Type: "*/*", Quality: 1.0}}
	}

	var ranges []MediaRange
	for i, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ";")
		mr := MediaRange{Type: strings.TrimSpace(fields[0]), Quality: 1.0, order: i}
		for _, param := range fields[1:] {
			k, v, ok := strings.Cut(param, "=")
			if !ok || strings.TrimSpace(k) != "q" {
				continue
			}
			if q, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				mr.Quality = q
			}
		}
		ranges = append(ranges, mr)
	}

	sort.SliceStable(ranges, func(i, j int) bool {
		if ranges[i].Quality != ranges[j].Quality {
			return ranges[i].Quality > ranges[j].Quality
		}
		return ranges[i].order < ranges[j].order
	})
	return ranges
}

// matches reports whether a parsed media range covers an offered concrete
// type, honouring "*/*" and "type/*" wildcards.
func matches(pattern, offered string) bool {
	if pattern == "*/*" || pattern == offered {
		return true
	}
	patternType, _, ok := strings.Cut(pattern, "/")
	if !ok {
		return false
	}
	offeredType, _, ok := strings.Cut(offered, "/")
	if !ok {
		return false
	}
	return strings.HasSuffix(pattern, "/*") && patternType == offeredType
}

// Best returns the first offered type (in offered's own priority order)
// accepted by the highest-quality matching range in ranges, or false if
// nothing offered is acceptable (406).
func Best(ranges []MediaRange, offered []string) (string, bool) {
	for _, r := range ranges {
		if r.Quality <= 0 {
			continue
		}
		for _, o := range offered {
			if matches(r.Type, o) {
				return o, true
			}
		}
	}
	return "", false
}
