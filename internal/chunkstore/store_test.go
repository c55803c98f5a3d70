package chunkstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rmalik/vidvault/internal/chunker"
	"github.com/rmalik/vidvault/internal/models"
	"github.com/rmalik/vidvault/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 4

func newTestStore() (*Store, *storage.MemoryStore) {
	mem := storage.NewMemoryStore()
	return New(mem, mem, nil, testChunkSize), mem
}

func writeFile(t *testing.T, store *Store, contentType, storedName string, content []byte) *models.FileRecord {
	t.Helper()
	ctx := context.Background()

	session := store.NewSession(contentType, storedName)
	ch := chunker.NewChunker(store.ChunkSize())
	_, _, err := ch.Split(bytes.NewReader(content), func(seq int, data []byte) error {
		return session.Write(ctx, seq, data)
	})
	require.NoError(t, err)

	rec, err := session.Finalize(ctx, models.Metadata{Title: "test"})
	require.NoError(t, err)
	return rec
}

func readRange(t *testing.T, store *Store, storedName string, start, endExclusive int64) []byte {
	t.Helper()
	rc, err := store.OpenReadRange(context.Background(), storedName, start, endExclusive)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestRoundTrip(t *testing.T) {
	store, _ := newTestStore()
	content := []byte("0123456789")

	rec := writeFile(t, store, "video/mp4", "a.mp4", content)
	assert.Equal(t, int64(10), rec.Length)
	assert.Equal(t, 3, rec.ChunkCount)
	assert.Equal(t, int64(testChunkSize), rec.ChunkSize)

	got := readRange(t, store, "a.mp4", 0, rec.Length)
	assert.Equal(t, content, got)
}

func TestChunkIndexInvariants(t *testing.T) {
	store, mem := newTestStore()
	content := []byte("0123456789") // 4 + 4 + 2

	rec := writeFile(t, store, "video/mp4", "a.mp4", content)

	chunks, err := mem.ChunkRange(context.Background(), rec.ID, 0, rec.ChunkCount-1)
	require.NoError(t, err)
	require.Len(t, chunks, rec.ChunkCount)

	var sum int64
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Sequence, "sequence numbers are contiguous from zero")
		if i < len(chunks)-1 {
			assert.Equal(t, int64(testChunkSize), chunk.Size)
		}
		sum += chunk.Size
	}
	assert.Equal(t, rec.Length, sum, "chunk sizes must sum to the record length")
}

func TestRangeLaw(t *testing.T) {
	store, _ := newTestStore()
	content := []byte("abcdefghijklm") // 13 bytes across 4 chunks

	rec := writeFile(t, store, "video/mp4", "a.mp4", content)

	for start := int64(0); start < rec.Length; start++ {
		for end := start; end < rec.Length; end++ {
			got := readRange(t, store, "a.mp4", start, end+1)
			assert.Equal(t, content[start:end+1], got, "range [%d, %d]", start, end)
		}
	}
}

func TestOpenReadRangeBounds(t *testing.T) {
	store, _ := newTestStore()
	rec := writeFile(t, store, "video/mp4", "a.mp4", []byte("0123456789"))
	ctx := context.Background()

	cases := []struct {
		name         string
		start        int64
		endExclusive int64
	}{
		{"start at length", rec.Length, rec.Length + 1},
		{"start past length", rec.Length + 5, rec.Length + 6},
		{"end past length", 0, rec.Length + 1},
		{"inverted range", 6, 2},
		{"negative start", -1, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.OpenReadRange(ctx, "a.mp4", tc.start, tc.endExclusive)
			assert.ErrorIs(t, err, storage.ErrRangeOutOfBounds)
		})
	}

	_, err := store.OpenReadRange(ctx, "missing.mp4", 0, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOutOfOrderWriteIsInvariantViolation(t *testing.T) {
	store, _ := newTestStore()
	session := store.NewSession("video/mp4", "a.mp4")
	ctx := context.Background()

	err := session.Write(ctx, 1, []byte("zzzz"))
	assert.ErrorIs(t, err, storage.ErrInvariant)

	require.NoError(t, session.Write(ctx, 0, []byte("aaaa")))
	err = session.Write(ctx, 2, []byte("cccc"))
	assert.ErrorIs(t, err, storage.ErrInvariant)
}

func TestInvisibleBeforeFinalize(t *testing.T) {
	store, _ := newTestStore()
	session := store.NewSession("video/mp4", "a.mp4")
	ctx := context.Background()

	require.NoError(t, session.Write(ctx, 0, []byte("aaaa")))

	_, err := store.Lookup(ctx, "a.mp4")
	assert.ErrorIs(t, err, storage.ErrNotFound, "unfinalized files must not resolve")
}

func TestAbortCleansUpPartialWrite(t *testing.T) {
	store, mem := newTestStore()
	session := store.NewSession("video/mp4", "a.mp4")
	ctx := context.Background()

	require.NoError(t, session.Write(ctx, 0, []byte("aaaa")))
	require.NoError(t, session.Write(ctx, 1, []byte("bbbb")))

	session.Abort(ctx)

	chunks, err := mem.ChunkRange(ctx, sessionFileID(session), 0, 1)
	require.NoError(t, err)
	assert.Empty(t, chunks, "abort must remove chunk rows")

	_, err = mem.Get(ctx, chunkKey(sessionFileID(session), 0))
	assert.ErrorIs(t, err, storage.ErrIO, "abort must remove payloads")
}

func sessionFileID(ws *WriteSession) string {
	return ws.fileID
}

func TestFinalizeDuplicateNameRejectsAndCleansUp(t *testing.T) {
	store, _ := newTestStore()
	content := []byte("original")
	writeFile(t, store, "video/mp4", "a.mp4", content)
	ctx := context.Background()

	session := store.NewSession("video/mp4", "a.mp4")
	require.NoError(t, session.Write(ctx, 0, []byte("hack")))
	_, err := session.Finalize(ctx, models.Metadata{})
	assert.ErrorIs(t, err, storage.ErrDuplicateName)

	// The original is untouched.
	assert.Equal(t, content, readRange(t, store, "a.mp4", 0, int64(len(content))))

	// The loser's chunks are gone.
	_, err = store.blobs.Get(ctx, chunkKey(sessionFileID(session), 0))
	assert.ErrorIs(t, err, storage.ErrIO)
}

func TestDeleteAllIsIdempotentByReporting(t *testing.T) {
	store, _ := newTestStore()
	writeFile(t, store, "video/mp4", "a.mp4", []byte("0123456789"))
	ctx := context.Background()

	require.NoError(t, store.DeleteAll(ctx, "a.mp4"))

	_, err := store.Lookup(ctx, "a.mp4")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.DeleteAll(ctx, "a.mp4")
	assert.ErrorIs(t, err, storage.ErrNotFound, "second delete reports not found")
}

func TestDeleteUnknownNameHasNoSideEffects(t *testing.T) {
	store, _ := newTestStore()
	content := []byte("0123456789")
	writeFile(t, store, "video/mp4", "a.mp4", content)
	ctx := context.Background()

	err := store.DeleteAll(ctx, "other.mp4")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, content, readRange(t, store, "a.mp4", 0, int64(len(content))))
}

// A file deleted while a stream from it is open fails that stream mid-read;
// this is the documented behavior rather than deferred physical removal.
func TestInFlightReadFailsAfterDelete(t *testing.T) {
	store, _ := newTestStore()
	writeFile(t, store, "video/mp4", "a.mp4", []byte("0123456789"))
	ctx := context.Background()

	rc, err := store.OpenReadRange(ctx, "a.mp4", 0, 10)
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, testChunkSize)
	_, err = io.ReadFull(rc, buf)
	require.NoError(t, err, "first chunk is readable before the delete")

	require.NoError(t, store.DeleteAll(ctx, "a.mp4"))

	_, err = io.ReadAll(rc)
	assert.Error(t, err, "remaining chunks are gone")
}

// recordingCache is a RecordCache over a plain map that counts operations.
type recordingCache struct {
	mu          sync.Mutex
	records     map[string]*models.FileRecord
	sets, hits  int
	invalidates int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{records: make(map[string]*models.FileRecord)}
}

func (c *recordingCache) Get(_ context.Context, storedName string) (*models.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[storedName]; ok {
		c.hits++
		return rec, nil
	}
	return nil, nil
}

func (c *recordingCache) Set(_ context.Context, storedName string, rec *models.FileRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[storedName] = rec
	c.sets++
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, storedName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, storedName)
	c.invalidates++
	return nil
}

func TestLookupPopulatesAndUsesCache(t *testing.T) {
	mem := storage.NewMemoryStore()
	cache := newRecordingCache()
	store := New(mem, mem, cache, testChunkSize)
	ctx := context.Background()

	writeFile(t, store, "video/mp4", "a.mp4", []byte("0123456789"))

	_, err := store.Lookup(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "miss populates the cache")

	_, err = store.Lookup(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.sets, "hit does not re-populate")

	require.NoError(t, store.DeleteAll(ctx, "a.mp4"))
	assert.Equal(t, 1, cache.invalidates, "delete drops the cached record")
}
