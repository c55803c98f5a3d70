package chunkstore

import (
	"context"
	"fmt"
	"io"

	"github.com/rmalik/vidvault/internal/chunker"
	"github.com/rmalik/vidvault/internal/models"
	"github.com/rmalik/vidvault/internal/storage"
)

// RangeReader streams one byte range of a file, fetching chunks on demand in
// sequence order. It holds at most one chunk's payload at a time, so a slow
// consumer stalls chunk fetching instead of growing a buffer.
type RangeReader struct {
	ctx          context.Context
	blobs        storage.BlobStore
	chunks       []*models.Chunk
	chunkSize    int64
	start        int64
	endExclusive int64

	idx int
	buf []byte
}

var _ io.ReadCloser = (*RangeReader)(nil)

// Read fills p from the current chunk, fetching the next one when the buffer
// drains. The first and last chunks of the span are trimmed to the requested
// byte window.
func (r *RangeReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.idx >= len(r.chunks) {
			return 0, io.EOF
		}

		chunk := r.chunks[r.idx]
		data, err := r.blobs.Get(r.ctx, chunk.ObjectKey)
		if err != nil {
			return 0, err
		}
		if !chunker.VerifyChunkHash(data, chunk.Hash) {
			return 0, storage.IOError("read range",
				fmt.Errorf("hash mismatch for chunk %d of file %s", chunk.Sequence, chunk.FileID))
		}

		chunkStart := int64(chunk.Sequence) * r.chunkSize
		lo := int64(0)
		if r.start > chunkStart {
			lo = r.start - chunkStart
		}
		hi := int64(len(data))
		if chunkStart+hi > r.endExclusive {
			hi = r.endExclusive - chunkStart
		}
		if lo > hi {
			return 0, storage.IOError("read range",
				fmt.Errorf("chunk %d of file %s shorter than its window", chunk.Sequence, chunk.FileID))
		}

		r.buf = data[lo:hi]
		r.idx++
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close releases the reader's buffer and stops further chunk fetches.
func (r *RangeReader) Close() error {
	r.idx = len(r.chunks)
	r.buf = nil
	return nil
}

// Len returns the total number of bytes the reader will yield.
func (r *RangeReader) Len() int64 {
	return r.endExclusive - r.start
}
