// Package client implements the publisher upload and user install sides of
// the sync protocol: manifest construction, missing-chunk diffing, and
// parallel download with end-to-end verification.
package client

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/aclements/go-rabin/rabin"

	"github.com/Coollin0/Indie-Hain/internal/manifest"
)

// Content-defined chunking bounds. Rabin fingerprinting finds cut points in
// the data itself, so an insertion early in a file only reshapes nearby
// chunks and the rest keep their hashes across versions.
const (
	minChunkSize = 1 * 1024 * 1024
	avgChunkSize = 4 * 1024 * 1024
	maxChunkSize = 8 * 1024 * 1024

	chunkerWindow = 64
)

var rabinTable = rabin.NewTable(rabin.Poly64, chunkerWindow)

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Chunk is one cut of a file, with its bytes still attached.
type Chunk struct {
	Ref  manifest.ChunkRef
	Data []byte
}

// ChunkFile splits a file into content-defined chunks and returns them with
// the whole-file hash. The file is read fully into memory; chunk slices
// alias the one buffer.
func ChunkFile(path string) ([]Chunk, string, int64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", 0, err
	}
	fileHash := hashBytes(content)
	if len(content) == 0 {
		return []Chunk{}, fileHash, 0, nil
	}

	chunker := rabin.NewChunker(rabinTable, bytes.NewReader(content), minChunkSize, avgChunkSize, maxChunkSize)

	var chunks []Chunk
	var offset int64
	for {
		length, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", 0, err
		}
		data := content[offset : offset+int64(length)]
		chunks = append(chunks, Chunk{
			Ref: manifest.ChunkRef{
				Offset: offset,
				Size:   int64(length),
				SHA256: hashBytes(data),
			},
			Data: data,
		})
		offset += int64(length)
	}

	// Files below the minimum chunk size may produce no cut points; the
	// whole file becomes a single chunk.
	if len(chunks) == 0 {
		chunks = append(chunks, Chunk{
			Ref: manifest.ChunkRef{
				Offset: 0,
				Size:   int64(len(content)),
				SHA256: hashBytes(content),
			},
			Data: content,
		})
	}

	return chunks, fileHash, int64(len(content)), nil
}
