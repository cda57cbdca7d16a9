// Package multipart writes RFC-2046 multipart/byteranges bodies for
// multi-range GET responses.
package multipart

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

// boundaryCharset is the RFC-2046 "bchars" subset the spec allows.
const boundaryCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789'()+_,./:=? -"

// maxBoundaryAttempts bounds how many candidate boundaries GenerateBoundary
// tries before giving up.
const maxBoundaryAttempts = 64

// GenerateBoundary returns a boundary string (16-23 chars from
// boundaryCharset) such that "--"+boundary does not occur as a substring of
// any of the given payload prefixes (the first up to 72 bytes of each
// range, per spec.md §4.5).
func GenerateBoundary(prefixes [][]byte) (string, error) {
	for attempt := 0; attempt < maxBoundaryAttempts; attempt++ {
		length := 16 + attempt%8
		candidate, err := randomString(length)
		if err != nil {
			return "", err
		}
		marker := []byte("--" + candidate)
		collides := false
		for _, p := range prefixes {
			if bytes.Contains(p, marker) {
				collides = true
				break
			}
		}
		if !collides {
			return candidate, nil
		}
	}
	return "", errors.New("multipart: could not generate a collision-free boundary")
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(boundaryCharset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = boundaryCharset[idx.Int64()]
	}
	return string(b), nil
}

// Part is one range to emit in a multipart/byteranges body.
type Part struct {
	Range precache.ByteRange
	Body  io.Reader // exactly Range.Len() bytes
}

// Write emits the multipart/byteranges body for parts to w: for each part,
// "\r\n--boundary\r\n", headers, a blank line, the range bytes; finally
// "\r\n--boundary--\r\n".
func Write(w io.Writer, boundary, partContentType string, fileSize int64, parts []Part) error {
	for _, p := range parts {
		if _, err := fmt.Fprintf(w, "\r\n--%s\r\n", boundary); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Content-Type: %s\r\n", partContentType); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Content-Range: bytes %d-%d/%d\r\n",
			p.Range.Start, p.Range.Finish-1, fileSize); err != nil {
			return err
		}
		if p.Range.HasChecksum() {
			if _, err := fmt.Fprintf(w, "ETag: %q\r\n", p.Range.Checksum); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
		if _, err := io.Copy(w, p.Body); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\r\n--%s--\r\n", boundary)
	return err
}
