// Package chunkstore persists byte streams as ordered sequences of
// fixed-size chunks. Payloads go to a blob store under deterministic keys;
// chunk rows and the owning file record go to the catalog. A file becomes
// visible to lookups only when its write session finalizes, so readers never
// observe an incomplete chunk set.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rmalik/vidvault/internal/chunker"
	"github.com/rmalik/vidvault/internal/models"
	"github.com/rmalik/vidvault/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vidvault-chunkstore")

// Store is the chunked blob store.
type Store struct {
	blobs     storage.BlobStore
	catalog   storage.Catalog
	cache     storage.RecordCache // optional
	chunkSize int64
}

// New creates a Store. cache may be nil.
func New(blobs storage.BlobStore, catalog storage.Catalog, cache storage.RecordCache, chunkSize int64) *Store {
	return &Store{
		blobs:     blobs,
		catalog:   catalog,
		cache:     cache,
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the fixed chunk size new sessions split with.
func (s *Store) ChunkSize() int64 {
	return s.chunkSize
}

func chunkKey(fileID string, seq int) string {
	return fmt.Sprintf("chunks/%s/%d", fileID, seq)
}

// WriteSession accumulates the chunks of one file. Chunks must be written in
// sequence order; nothing is visible to lookups until Finalize.
type WriteSession struct {
	store       *Store
	fileID      string
	storedName  string
	contentType string
	next        int
	written     int64
}

// NewSession allocates a file id for a new stored name. No chunks or records
// exist yet.
func (s *Store) NewSession(contentType, storedName string) *WriteSession {
	return &WriteSession{
		store:       s,
		fileID:      uuid.New().String(),
		storedName:  storedName,
		contentType: contentType,
	}
}

// StoredName returns the name the session's file will be addressed by.
func (ws *WriteSession) StoredName() string {
	return ws.storedName
}

// Write appends the chunk with the given sequence number. seq must be the
// next unwritten sequence number; anything else is a programming error.
func (ws *WriteSession) Write(ctx context.Context, seq int, data []byte) error {
	if seq != ws.next {
		return fmt.Errorf("%w: chunk %d written, expected %d (file %s)",
			storage.ErrInvariant, seq, ws.next, ws.fileID)
	}

	key := chunkKey(ws.fileID, seq)
	if err := ws.store.blobs.Put(ctx, key, data); err != nil {
		return err
	}

	chunk := &models.Chunk{
		ID:        uuid.New().String(),
		FileID:    ws.fileID,
		Sequence:  seq,
		Hash:      chunker.ComputeHash(data),
		ObjectKey: key,
		Size:      int64(len(data)),
	}
	if err := ws.store.catalog.InsertChunk(ctx, chunk); err != nil {
		return err
	}

	ws.next++
	ws.written += int64(len(data))
	return nil
}

// Finalize fixes the file's length and inserts its record, making it visible
// to lookups. On a stored-name collision the session's chunks are cleaned up
// and ErrDuplicateName surfaces.
func (ws *WriteSession) Finalize(ctx context.Context, meta models.Metadata) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "chunkstore.finalize",
		trace.WithAttributes(
			attribute.String("file_id", ws.fileID),
			attribute.String("stored_name", ws.storedName),
			attribute.Int64("length", ws.written),
			attribute.Int("chunk_count", ws.next),
		),
	)
	defer span.End()

	rec := &models.FileRecord{
		ID:          ws.fileID,
		StoredName:  ws.storedName,
		Length:      ws.written,
		ChunkSize:   ws.store.chunkSize,
		ChunkCount:  ws.next,
		ContentType: ws.contentType,
		UploadDate:  time.Now().UTC(),
		Metadata:    meta,
	}

	if err := ws.store.catalog.InsertFile(ctx, rec); err != nil {
		span.RecordError(err)
		ws.Abort(ctx)
		return nil, err
	}

	return rec, nil
}

// Abort removes the session's already-written blobs and chunk rows. It is
// best-effort and safe to call more than once.
func (ws *WriteSession) Abort(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "chunkstore.abort",
		trace.WithAttributes(
			attribute.String("file_id", ws.fileID),
			attribute.Int("chunks_written", ws.next),
		),
	)
	defer span.End()

	for seq := 0; seq < ws.next; seq++ {
		if err := ws.store.blobs.Remove(ctx, chunkKey(ws.fileID, seq)); err != nil {
			log.Printf("Warning: abort cleanup of chunk %d for %s failed: %v", seq, ws.fileID, err)
			span.RecordError(err)
		}
	}
	if err := ws.store.catalog.DeleteChunks(ctx, ws.fileID); err != nil {
		log.Printf("Warning: abort cleanup of chunk rows for %s failed: %v", ws.fileID, err)
		span.RecordError(err)
	}
}

// Lookup resolves a stored name to its record, consulting the cache first
// and repopulating it on a miss. Cache failures fall through to the catalog.
func (s *Store) Lookup(ctx context.Context, storedName string) (*models.FileRecord, error) {
	if s.cache != nil {
		rec, err := s.cache.Get(ctx, storedName)
		if err != nil {
			log.Printf("Warning: cache lookup for %s failed: %v", storedName, err)
		} else if rec != nil {
			return rec, nil
		}
	}

	rec, err := s.catalog.FindByName(ctx, storedName)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, storedName, rec); err != nil {
			log.Printf("Warning: cache update for %s failed: %v", storedName, err)
		}
	}
	return rec, nil
}

// OpenReadRange streams exactly the bytes [start, endExclusive) of the named
// file, reading only the overlapping chunks and trimming the first and last
// as needed. The stream holds at most one chunk in memory.
//
// A file deleted while a stream from it is open may fail that stream
// mid-read; opens that start after the delete commits return ErrNotFound.
func (s *Store) OpenReadRange(ctx context.Context, storedName string, start, endExclusive int64) (*RangeReader, error) {
	ctx, span := tracer.Start(ctx, "chunkstore.open_read_range",
		trace.WithAttributes(
			attribute.String("stored_name", storedName),
			attribute.Int64("start", start),
			attribute.Int64("end_exclusive", endExclusive),
		),
	)
	defer span.End()

	rec, err := s.Lookup(ctx, storedName)
	if err != nil {
		return nil, err
	}

	if start < 0 || start > endExclusive || start >= rec.Length || endExclusive > rec.Length {
		return nil, fmt.Errorf("%w: [%d, %d) of %d bytes", storage.ErrRangeOutOfBounds, start, endExclusive, rec.Length)
	}
	if rec.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: record %s has chunk size %d", storage.ErrInvariant, rec.StoredName, rec.ChunkSize)
	}

	firstSeq := int(start / rec.ChunkSize)
	lastSeq := int((endExclusive - 1) / rec.ChunkSize)

	chunks, err := s.catalog.ChunkRange(ctx, rec.ID, firstSeq, lastSeq)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(chunks) != lastSeq-firstSeq+1 {
		err := storage.IOError("open read range",
			fmt.Errorf("chunk span %d-%d of %s has %d rows", firstSeq, lastSeq, rec.StoredName, len(chunks)))
		span.RecordError(err)
		return nil, err
	}

	return &RangeReader{
		ctx:          ctx,
		blobs:        s.blobs,
		chunks:       chunks,
		chunkSize:    rec.ChunkSize,
		start:        start,
		endExclusive: endExclusive,
	}, nil
}

// DeleteAll removes the file's blobs, chunk rows and record, in that order,
// and drops it from the cache. Unknown names report ErrNotFound with no side
// effects. A blob removal failure stops the delete before the record is
// touched so the operation stays retryable.
func (s *Store) DeleteAll(ctx context.Context, storedName string) error {
	ctx, span := tracer.Start(ctx, "chunkstore.delete_all",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	rec, err := s.catalog.FindByName(ctx, storedName)
	if err != nil {
		return err
	}

	for seq := 0; seq < rec.ChunkCount; seq++ {
		if err := s.blobs.Remove(ctx, chunkKey(rec.ID, seq)); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if err := s.catalog.DeleteChunks(ctx, rec.ID); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.catalog.DeleteFile(ctx, storedName); err != nil {
		// The record vanished between lookup and delete; the chunks are
		// already gone, so treat a concurrent delete as done.
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		span.RecordError(err)
		return err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, storedName); err != nil {
			log.Printf("Warning: cache invalidation for %s failed: %v", storedName, err)
		}
	}
	return nil
}
