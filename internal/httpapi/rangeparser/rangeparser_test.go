package rangeparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

func TestParseSingleRange(t *testing.T) {
	ranges, err := Parse("bytes=0-9", 30)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, precache.ByteRange{Start: 0, Finish: 10}, ranges[0])
}

func TestParseMultipleRanges(t *testing.T) {
	ranges, err := Parse("bytes=0-9,20-29", 30)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, int64(0), ranges[0].Start)
	assert.Equal(t, int64(10), ranges[0].Finish)
	assert.Equal(t, int64(20), ranges[1].Start)
	assert.Equal(t, int64(30), ranges[1].Finish)
}

func TestParseOpenEndedRange(t *testing.T) {
	ranges, err := Parse("bytes=10-", 30)
	require.NoError(t, err)
	assert.Equal(t, precache.ByteRange{Start: 10, Finish: 30}, ranges[0])
}

func TestParseSuffixRange(t *testing.T) {
	ranges, err := Parse("bytes=-5", 30)
	require.NoError(t, err)
	assert.Equal(t, precache.ByteRange{Start: 25, Finish: 30}, ranges[0])
}

func TestParseZeroFileZeroStartIsUnsatisfiable(t *testing.T) {
	_, err := Parse("bytes=0-", 0)
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestParseSuffixZeroIsUnsatisfiable(t *testing.T) {
	_, err := Parse("bytes=-0", 30)
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestParseEndBeyondSizeTruncates(t *testing.T) {
	ranges, err := Parse("bytes=0-1000", 30)
	require.NoError(t, err)
	assert.Equal(t, precache.ByteRange{Start: 0, Finish: 30}, ranges[0])
}

func TestParseNonBytesUnitIsUnsatisfiable(t *testing.T) {
	_, err := Parse("items=0-9", 30)
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestParseStartBeyondSizeIsUnsatisfiable(t *testing.T) {
	_, err := Parse("bytes=40-50", 30)
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestCanonicaliseAlreadyCanonicalIsUnchanged(t *testing.T) {
	in := []precache.ByteRange{{Start: 0, Finish: 10}, {Start: 20, Finish: 30}}
	out := Canonicalise(in)
	assert.Equal(t, in, out)
}

func TestCanonicaliseMergesOverlappingUnchecksummed(t *testing.T) {
	in := []precache.ByteRange{{Start: 0, Finish: 10}, {Start: 5, Finish: 15}}
	out := Canonicalise(in)
	require.Len(t, out, 1)
	assert.Equal(t, precache.ByteRange{Start: 0, Finish: 15}, out[0])
}

func TestCanonicaliseMergesAdjacent(t *testing.T) {
	in := []precache.ByteRange{{Start: 0, Finish: 10}, {Start: 10, Finish: 20}}
	out := Canonicalise(in)
	require.Len(t, out, 1)
	assert.Equal(t, precache.ByteRange{Start: 0, Finish: 20}, out[0])
}

func TestCanonicaliseSplitsToExposeChecksummedOverlap(t *testing.T) {
	in := []precache.ByteRange{
		{Start: 0, Finish: 20},
		{Start: 5, Finish: 15, Checksum: "abc"},
	}
	out := Canonicalise(in)
	require.Len(t, out, 3)
	assert.Equal(t, precache.ByteRange{Start: 0, Finish: 5}, out[0])
	assert.Equal(t, precache.ByteRange{Start: 5, Finish: 15, Checksum: "abc"}, out[1])
	assert.Equal(t, precache.ByteRange{Start: 15, Finish: 20}, out[2])
}

func TestCanonicaliseDoesNotMergeTwoChecksummedRanges(t *testing.T) {
	in := []precache.ByteRange{
		{Start: 0, Finish: 10, Checksum: "a"},
		{Start: 10, Finish: 20, Checksum: "b"},
	}
	out := Canonicalise(in)
	require.Len(t, out, 2)
}
