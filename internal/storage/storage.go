package storage

import (
	"context"

	"github.com/rmalik/vidvault/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("vidvault-storage")

// ListFilter restricts a catalog listing. Zero values match everything.
type ListFilter struct {
	// ContentTypePrefix keeps records whose content type starts with the
	// prefix, e.g. "video/".
	ContentTypePrefix string
	// TitleSearch keeps records whose title contains the string,
	// case-insensitively.
	TitleSearch string
}

// Catalog is the queryable index over file records plus the chunk index the
// chunk store maintains alongside them.
type Catalog interface {
	// InsertFile adds a finalized record. ErrDuplicateName if the stored
	// name is taken.
	InsertFile(ctx context.Context, rec *models.FileRecord) error
	// FindByName returns the record for a stored name, or ErrNotFound.
	FindByName(ctx context.Context, storedName string) (*models.FileRecord, error)
	// List returns one page sorted by upload date descending, plus the total
	// match count computed independently of the page.
	List(ctx context.Context, filter ListFilter, skip, limit int) ([]*models.FileRecord, int64, error)
	// UpdateMetadata merges a patch into a record's metadata. ErrNotFound if
	// the record is absent.
	UpdateMetadata(ctx context.Context, storedName string, patch models.MetadataPatch) error
	// DeleteFile removes the record only; chunk rows and payloads are the
	// chunk store's responsibility.
	DeleteFile(ctx context.Context, storedName string) error

	// InsertChunk records one chunk of a not-yet-finalized file.
	InsertChunk(ctx context.Context, chunk *models.Chunk) error
	// ChunkRange returns the chunk rows with firstSeq <= sequence <= lastSeq
	// for a file, ordered by sequence.
	ChunkRange(ctx context.Context, fileID string, firstSeq, lastSeq int) ([]*models.Chunk, error)
	// DeleteChunks removes all chunk rows for a file.
	DeleteChunks(ctx context.Context, fileID string) error
}

// BlobStore persists chunk payloads by object key.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, data []byte) error
	Get(ctx context.Context, objectKey string) ([]byte, error)
	Remove(ctx context.Context, objectKey string) error
}

// RecordCache caches file records by stored name. Get returns (nil, nil) on
// a miss; cache failures are never fatal to the read path.
type RecordCache interface {
	Get(ctx context.Context, storedName string) (*models.FileRecord, error)
	Set(ctx context.Context, storedName string, rec *models.FileRecord) error
	Invalidate(ctx context.Context, storedName string) error
}
