package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Chunker splits byte streams into fixed-size chunks.
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a chunker with the specified chunk size in bytes.
func NewChunker(chunkSize int64) *Chunker {
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the fixed chunk size in bytes.
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Split reads the stream in chunkSize pieces and hands each to emit in
// sequence order. Only one chunk is held in memory at a time. Every chunk
// except the last has exactly chunkSize bytes. An error from emit or from
// the reader stops the split and is returned; chunks already emitted are the
// caller's to clean up.
func (c *Chunker) Split(reader io.Reader, emit func(seq int, data []byte) error) (int64, int, error) {
	var totalSize int64
	seq := 0

	for {
		buffer := make([]byte, c.chunkSize)
		n, err := io.ReadFull(reader, buffer)

		if n > 0 {
			if emitErr := emit(seq, buffer[:n]); emitErr != nil {
				return totalSize, seq, emitErr
			}
			totalSize += int64(n)
			seq++
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		} else if err != nil {
			return totalSize, seq, fmt.Errorf("error reading chunk: %w", err)
		}
	}

	return totalSize, seq, nil
}

// ComputeHash computes the SHA256 hash of data.
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash.
func VerifyChunkHash(data []byte, expectedHash string) bool {
	return ComputeHash(data) == expectedHash
}
