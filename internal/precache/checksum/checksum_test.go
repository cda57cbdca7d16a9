package checksum

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/internal/precache"
)

func writeData(t *testing.T, dir string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), data, 0o640))
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestGenerateWritesWholeFileAndChunkRecords(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 25)
	for i := range data {
		data[i] = byte(i)
	}
	writeData(t, dir, data)

	s := New(10, 4)
	require.NoError(t, s.Generate(context.Background(), dir))

	idx, err := ReadIndex(dir)
	require.NoError(t, err)

	assert.Equal(t, md5hex(data), idx.WholeFileMD5)
	require.Len(t, idx.Chunks, 3)
	assert.Equal(t, int64(0), idx.Chunks[0].Start)
	assert.Equal(t, int64(10), idx.Chunks[0].Finish)
	assert.Equal(t, md5hex(data[0:10]), idx.Chunks[0].Checksum)
	assert.Equal(t, int64(20), idx.Chunks[2].Start)
	assert.Equal(t, int64(25), idx.Chunks[2].Finish)
	assert.Equal(t, md5hex(data[20:25]), idx.Chunks[2].Checksum)
}

func TestIndexSizeMatchesGeneratedFile(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 100)
	writeData(t, dir, data)

	s := New(30, 2)
	require.NoError(t, s.Generate(context.Background(), dir))

	fi, err := os.Stat(filepath.Join(dir, "checksums"))
	require.NoError(t, err)

	assert.Equal(t, fi.Size(), s.IndexSize(100))
}

func TestBlocksNoRangeReturnsWholeFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte("hello world this is some data")
	writeData(t, dir, data)

	s := New(10, 2)
	require.NoError(t, s.Generate(context.Background(), dir))

	blocks, err := s.Blocks(dir, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, int64(0), blocks[0].Start)
	assert.Equal(t, int64(len(data)), blocks[0].Finish)
	assert.Equal(t, md5hex(data), blocks[0].Checksum)
}

func TestBlocksMisalignedRangeRecomputesOnTheFly(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 30)
	for i := range data {
		data[i] = byte(i)
	}
	writeData(t, dir, data)

	s := New(10, 2)
	require.NoError(t, s.Generate(context.Background(), dir))

	blocks, err := s.Blocks(dir, &precache.ByteRange{Start: 5, Finish: 25})
	require.NoError(t, err)

	var total int64
	for _, b := range blocks {
		total += b.Len()
		require.NotEmpty(t, b.Checksum)
	}
	assert.Equal(t, int64(20), total)
}
