package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rmalik/vidvault/internal/models"
)

var errNoSuchObject = errors.New("no such object")

// MemoryStore is an in-process Catalog and BlobStore. It backs the service
// when STORAGE_BACKEND=memory and is the fixture for tests; it honors the
// same contracts as the MySQL/MinIO pair, including stored-name uniqueness.
type MemoryStore struct {
	mu     sync.RWMutex
	order  []string // stored names in insertion order
	files  map[string]*models.FileRecord
	chunks map[string][]*models.Chunk // by file id, ascending sequence
	blobs  map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:  make(map[string]*models.FileRecord),
		chunks: make(map[string][]*models.Chunk),
		blobs:  make(map[string][]byte),
	}
}

func cloneRecord(rec *models.FileRecord) *models.FileRecord {
	out := *rec
	if rec.Metadata.Thumbnail != nil {
		snap := *rec.Metadata.Thumbnail
		out.Metadata.Thumbnail = &snap
	}
	return &out
}

// InsertFile adds a record, rejecting duplicate stored names.
func (ms *MemoryStore) InsertFile(_ context.Context, rec *models.FileRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.files[rec.StoredName]; ok {
		return fmt.Errorf("%s: %w", rec.StoredName, ErrDuplicateName)
	}
	ms.files[rec.StoredName] = cloneRecord(rec)
	ms.order = append(ms.order, rec.StoredName)
	return nil
}

// FindByName returns the record for a stored name.
func (ms *MemoryStore) FindByName(_ context.Context, storedName string) (*models.FileRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	rec, ok := ms.files[storedName]
	if !ok {
		return nil, fmt.Errorf("%s: %w", storedName, ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func matches(rec *models.FileRecord, filter ListFilter) bool {
	if filter.ContentTypePrefix != "" && !strings.HasPrefix(rec.ContentType, filter.ContentTypePrefix) {
		return false
	}
	if filter.TitleSearch != "" &&
		!strings.Contains(strings.ToLower(rec.Metadata.Title), strings.ToLower(filter.TitleSearch)) {
		return false
	}
	return true
}

// List returns one page sorted by upload date descending plus the total
// match count.
func (ms *MemoryStore) List(_ context.Context, filter ListFilter, skip, limit int) ([]*models.FileRecord, int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var matched []*models.FileRecord
	for _, name := range ms.order {
		if rec := ms.files[name]; matches(rec, filter) {
			matched = append(matched, rec)
		}
	}
	// Same ordering as the MySQL catalog: upload date descending, id
	// descending as the tiebreak, so pagination is backend-independent.
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].UploadDate.Equal(matched[j].UploadDate) {
			return matched[i].UploadDate.After(matched[j].UploadDate)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	if skip >= len(matched) {
		return nil, total, nil
	}
	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	page := make([]*models.FileRecord, len(matched))
	for i, rec := range matched {
		page[i] = cloneRecord(rec)
	}
	return page, total, nil
}

// UpdateMetadata merges a patch into a record's metadata.
func (ms *MemoryStore) UpdateMetadata(_ context.Context, storedName string, patch models.MetadataPatch) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.files[storedName]
	if !ok {
		return fmt.Errorf("%s: %w", storedName, ErrNotFound)
	}
	if patch.Title != nil {
		rec.Metadata.Title = *patch.Title
	}
	if patch.Description != nil {
		rec.Metadata.Description = *patch.Description
	}
	if patch.Thumbnail != nil {
		snap := *patch.Thumbnail
		rec.Metadata.Thumbnail = &snap
	}
	return nil
}

// DeleteFile removes the record only.
func (ms *MemoryStore) DeleteFile(_ context.Context, storedName string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.files[storedName]; !ok {
		return fmt.Errorf("%s: %w", storedName, ErrNotFound)
	}
	delete(ms.files, storedName)
	for i, name := range ms.order {
		if name == storedName {
			ms.order = append(ms.order[:i], ms.order[i+1:]...)
			break
		}
	}
	return nil
}

// InsertChunk records one chunk row.
func (ms *MemoryStore) InsertChunk(_ context.Context, chunk *models.Chunk) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c := *chunk
	ms.chunks[chunk.FileID] = append(ms.chunks[chunk.FileID], &c)
	return nil
}

// ChunkRange returns chunk rows overlapping a sequence span, in order.
func (ms *MemoryStore) ChunkRange(_ context.Context, fileID string, firstSeq, lastSeq int) ([]*models.Chunk, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*models.Chunk
	for _, chunk := range ms.chunks[fileID] {
		if chunk.Sequence >= firstSeq && chunk.Sequence <= lastSeq {
			c := *chunk
			out = append(out, &c)
		}
	}
	return out, nil
}

// DeleteChunks removes all chunk rows for a file.
func (ms *MemoryStore) DeleteChunks(_ context.Context, fileID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.chunks, fileID)
	return nil
}

// Put stores a chunk payload.
func (ms *MemoryStore) Put(_ context.Context, objectKey string, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	ms.blobs[objectKey] = buf
	return nil
}

// Get returns a chunk payload.
func (ms *MemoryStore) Get(_ context.Context, objectKey string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	data, ok := ms.blobs[objectKey]
	if !ok {
		return nil, IOError("get object "+objectKey, errNoSuchObject)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Remove deletes a chunk payload. Removing an absent key is a no-op, as with
// MinIO's RemoveObject.
func (ms *MemoryStore) Remove(_ context.Context, objectKey string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.blobs, objectKey)
	return nil
}
