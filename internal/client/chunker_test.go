package client

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// Deterministic pseudo-random content so cut points are stable across runs.
func testContent(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, n)
	rng.Read(data)
	return data
}

func TestChunkFileSmallFileIsSingleChunk(t *testing.T) {
	data := []byte("smaller than the minimum chunk size")
	chunks, fileHash, size, err := ChunkFile(writeTestFile(t, data))
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, hashBytes(data), fileHash)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(0), chunks[0].Ref.Offset)
	assert.Equal(t, int64(len(data)), chunks[0].Ref.Size)
	assert.Equal(t, hashBytes(data), chunks[0].Ref.SHA256)
}

func TestChunkFileEmptyFile(t *testing.T) {
	chunks, fileHash, size, err := ChunkFile(writeTestFile(t, nil))
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, int64(0), size)
	assert.Equal(t, hashBytes(nil), fileHash)
}

func TestChunkFileLargeFileReassembles(t *testing.T) {
	data := testContent(1, 20*1024*1024)
	chunks, fileHash, size, err := ChunkFile(writeTestFile(t, data))
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, hashBytes(data), fileHash)
	require.Greater(t, len(chunks), 1, "20 MiB must split")

	var offset int64
	var buf bytes.Buffer
	for i, c := range chunks {
		assert.Equal(t, offset, c.Ref.Offset, "chunk %d offset", i)
		assert.Equal(t, int64(len(c.Data)), c.Ref.Size)
		assert.Equal(t, hashBytes(c.Data), c.Ref.SHA256)
		assert.LessOrEqual(t, c.Ref.Size, int64(maxChunkSize))
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, c.Ref.Size, int64(minChunkSize))
		}
		offset += c.Ref.Size
		buf.Write(c.Data)
	}
	assert.Equal(t, int64(len(data)), offset)
	assert.Equal(t, data, buf.Bytes())
}

func TestChunkFileAppendKeepsEarlyChunks(t *testing.T) {
	base := testContent(2, 20*1024*1024)
	before, _, _, err := ChunkFile(writeTestFile(t, base))
	require.NoError(t, err)
	require.Greater(t, len(before), 2)

	appended := append(append([]byte{}, base...), testContent(3, 1024*1024)...)
	after, _, _, err := ChunkFile(writeTestFile(t, appended))
	require.NoError(t, err)

	// Cut points depend only on content before them, so appending leaves
	// every chunk but the tail with the same hash.
	for i := 0; i < len(before)-1; i++ {
		assert.Equal(t, before[i].Ref.SHA256, after[i].Ref.SHA256, "chunk %d", i)
	}
}
