package multipart

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

func TestGenerateBoundaryAvoidsCollisionWithPrefixes(t *testing.T) {
	boundary, err := GenerateBoundary([][]byte{[]byte("some payload bytes")})
	require.NoError(t, err)
	assert.NotContains(t, string([]byte("some payload bytes")), "--"+boundary)
	assert.GreaterOrEqual(t, len(boundary), 16)
}

func TestGenerateBoundaryWithoutPrefixesTerminates(t *testing.T) {
	// With no payload prefixes there is nothing to collide with, so the
	// first candidate is accepted and the function terminates quickly.
	boundary, err := GenerateBoundary(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, boundary)
}

func TestWriteProducesWellFormedMultipartBody(t *testing.T) {
	var buf bytes.Buffer
	parts := []Part{
		{Range: precache.ByteRange{Start: 0, Finish: 2}, Body: strings.NewReader("01")},
		{Range: precache.ByteRange{Start: 4, Finish: 6, Checksum: "abc123"}, Body: strings.NewReader("45")},
	}
	err := Write(&buf, "XBOUNDARYX", "application/octet-stream", 10, parts)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "--XBOUNDARYX\r\n")
	assert.Contains(t, out, "Content-Range: bytes 0-1/10\r\n")
	assert.Contains(t, out, "Content-Range: bytes 4-5/10\r\n")
	assert.Contains(t, out, `ETag: "abc123"`)
	assert.Contains(t, out, "--XBOUNDARYX--\r\n")
	assert.True(t, strings.HasSuffix(out, "--XBOUNDARYX--\r\n"))
}
