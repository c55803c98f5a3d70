package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rmalik/vidvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(name, contentType, title string, age time.Duration) *models.FileRecord {
	return &models.FileRecord{
		ID:          "id-" + name,
		StoredName:  name,
		Length:      10,
		ChunkSize:   4,
		ChunkCount:  3,
		ContentType: contentType,
		UploadDate:  time.Now().UTC().Add(-age),
		Metadata:    models.Metadata{Title: title},
	}
}

func TestInsertRejectsDuplicateStoredName(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	require.NoError(t, ms.InsertFile(ctx, record("a.mp4", "video/mp4", "First", 0)))
	err := ms.InsertFile(ctx, record("a.mp4", "video/mp4", "Second", 0))
	assert.ErrorIs(t, err, ErrDuplicateName)

	rec, err := ms.FindByName(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "First", rec.Metadata.Title, "existing record must not be overwritten")
}

func TestFindByNameNotFound(t *testing.T) {
	ms := NewMemoryStore()

	_, err := ms.FindByName(context.Background(), "nope.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersAndCountsIndependently(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("v%d.mp4", i)
		require.NoError(t, ms.InsertFile(ctx, record(name, "video/mp4", fmt.Sprintf("Video %d", i), time.Duration(i)*time.Minute)))
	}
	require.NoError(t, ms.InsertFile(ctx, record("t.png", "image/png", "Video thumb", 0)))

	// Prefix filter excludes the image even though its title matches.
	page, total, err := ms.List(ctx, ListFilter{ContentTypePrefix: "video/"}, 0, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, int64(5), total, "total must come from the filter, not the page")

	// Newest first.
	assert.Equal(t, "v0.mp4", page[0].StoredName)
	assert.Equal(t, "v1.mp4", page[1].StoredName)

	// Offset past the end yields an empty page but the true total.
	page, total, err = ms.List(ctx, ListFilter{ContentTypePrefix: "video/"}, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Equal(t, int64(5), total)

	// Case-insensitive title substring.
	page, total, err = ms.List(ctx, ListFilter{ContentTypePrefix: "video/", TitleSearch: "vIdEo 3"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "v3.mp4", page[0].StoredName)
}

func TestListTieBreaksOnIDForEqualDates(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	when := time.Now().UTC()
	for _, name := range []string{"b.mp4", "c.mp4", "a.mp4"} {
		rec := record(name, "video/mp4", "Video", 0)
		rec.UploadDate = when
		require.NoError(t, ms.InsertFile(ctx, rec))
	}

	// Equal upload dates order by id descending, matching the SQL catalog's
	// ORDER BY, so a page boundary lands the same on either backend.
	page, _, err := ms.List(ctx, ListFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "c.mp4", page[0].StoredName)
	assert.Equal(t, "b.mp4", page[1].StoredName)
	assert.Equal(t, "a.mp4", page[2].StoredName)
}

func TestUpdateMetadataMergesPatch(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	require.NoError(t, ms.InsertFile(ctx, record("a.mp4", "video/mp4", "Original", 0)))

	desc := "a description"
	require.NoError(t, ms.UpdateMetadata(ctx, "a.mp4", models.MetadataPatch{Description: &desc}))

	rec, err := ms.FindByName(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "Original", rec.Metadata.Title, "unpatched fields stay put")
	assert.Equal(t, "a description", rec.Metadata.Description)

	title := "Renamed"
	thumb := record("t.png", "image/png", "thumb", 0)
	require.NoError(t, ms.UpdateMetadata(ctx, "a.mp4", models.MetadataPatch{Title: &title, Thumbnail: thumb}))

	rec, err = ms.FindByName(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.Metadata.Title)
	assert.Equal(t, "a description", rec.Metadata.Description)
	require.NotNil(t, rec.Metadata.Thumbnail)
	assert.Equal(t, "t.png", rec.Metadata.Thumbnail.StoredName)

	err = ms.UpdateMetadata(ctx, "missing.mp4", models.MetadataPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThumbnailSnapshotIsNotLive(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	require.NoError(t, ms.InsertFile(ctx, record("a.mp4", "video/mp4", "Video", 0)))
	thumb := record("t.png", "image/png", "Before", 0)
	require.NoError(t, ms.InsertFile(ctx, thumb))
	require.NoError(t, ms.UpdateMetadata(ctx, "a.mp4", models.MetadataPatch{Thumbnail: thumb}))

	// Editing the thumbnail record afterwards must not touch the embedded
	// snapshot.
	after := "After"
	require.NoError(t, ms.UpdateMetadata(ctx, "t.png", models.MetadataPatch{Title: &after}))

	rec, err := ms.FindByName(ctx, "a.mp4")
	require.NoError(t, err)
	require.NotNil(t, rec.Metadata.Thumbnail)
	assert.Equal(t, "Before", rec.Metadata.Thumbnail.Metadata.Title)
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	require.NoError(t, ms.InsertFile(ctx, record("a.mp4", "video/mp4", "Video", 0)))

	require.NoError(t, ms.DeleteFile(ctx, "a.mp4"))

	_, err := ms.FindByName(ctx, "a.mp4")
	assert.ErrorIs(t, err, ErrNotFound)

	err = ms.DeleteFile(ctx, "a.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChunkIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	for seq := 0; seq < 4; seq++ {
		require.NoError(t, ms.InsertChunk(ctx, &models.Chunk{
			ID:        fmt.Sprintf("c%d", seq),
			FileID:    "f1",
			Sequence:  seq,
			ObjectKey: fmt.Sprintf("chunks/f1/%d", seq),
			Size:      4,
		}))
	}

	chunks, err := ms.ChunkRange(ctx, "f1", 1, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Sequence)
	assert.Equal(t, 2, chunks[1].Sequence)

	require.NoError(t, ms.DeleteChunks(ctx, "f1"))
	chunks, err = ms.ChunkRange(ctx, "f1", 0, 3)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	require.NoError(t, ms.Put(ctx, "chunks/f1/0", []byte("payload")))

	data, err := ms.Get(ctx, "chunks/f1/0")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, ms.Remove(ctx, "chunks/f1/0"))
	_, err = ms.Get(ctx, "chunks/f1/0")
	assert.ErrorIs(t, err, ErrIO)

	// Removing an absent key is a no-op.
	require.NoError(t, ms.Remove(ctx, "chunks/f1/0"))
}
