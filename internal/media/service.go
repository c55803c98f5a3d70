// Package media implements the upload pipeline and the delete workflow that
// compose the chunk store and the catalog.
package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/rmalik/vidvault/internal/chunker"
	"github.com/rmalik/vidvault/internal/chunkstore"
	"github.com/rmalik/vidvault/internal/models"
	"github.com/rmalik/vidvault/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vidvault-media")

// Pipeline error kinds.
var (
	// ErrUnsupportedMedia means the filename extension is not on the
	// allow-list. Nothing is written when this surfaces.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrMissingPart means a dual upload lacked one of its required parts.
	ErrMissingPart = errors.New("missing upload part")

	// ErrMetadataAttach means both records of a dual upload finalized but
	// patching the video's metadata failed. The records are not rolled back;
	// callers may retry the attach or delete the pair.
	ErrMetadataAttach = errors.New("metadata attach failed")

	// ErrNotVideo / ErrNotImage reject serving a record whose content type
	// does not match the endpoint's policy.
	ErrNotVideo = errors.New("not a video")
	ErrNotImage = errors.New("not an image")
)

var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
	".mkv": "video/x-matroska",
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// Part is one incoming stream of an upload request.
type Part struct {
	Filename string
	Content  io.Reader
}

// Service is the upload pipeline.
type Service struct {
	store   *chunkstore.Store
	catalog storage.Catalog
	chunker *chunker.Chunker
}

// NewService creates the pipeline over a chunk store and its catalog.
func NewService(store *chunkstore.Store, catalog storage.Catalog, ch *chunker.Chunker) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		chunker: ch,
	}
}

func videoContentType(filename string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	ct, ok := videoTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q is not an allowed video format", ErrUnsupportedMedia, ext)
	}
	return ct, nil
}

func imageContentType(filename string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	ct, ok := imageTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q is not an allowed image format", ErrUnsupportedMedia, ext)
	}
	return ct, nil
}

// newStoredName builds the globally unique name a record is addressed by:
// 16 crypto-random bytes hex-encoded plus the original extension, so user
// filenames never reach storage paths.
func newStoredName(originalName string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate stored name: %w", err)
	}
	return hex.EncodeToString(buf) + strings.ToLower(path.Ext(originalName)), nil
}

func titleFromFilename(filename string) string {
	stem := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	if stem == "" {
		return "Untitled"
	}
	return stem
}

// writeStream pushes one stream through a write session. Mid-stream failures
// clean up the partial chunk set before the error surfaces.
func (s *Service) writeStream(ctx context.Context, contentType string, part Part, meta models.Metadata) (*models.FileRecord, error) {
	storedName, err := newStoredName(part.Filename)
	if err != nil {
		return nil, err
	}

	session := s.store.NewSession(contentType, storedName)
	_, _, err = s.chunker.Split(part.Content, func(seq int, data []byte) error {
		return session.Write(ctx, seq, data)
	})
	if err != nil {
		session.Abort(ctx)
		return nil, err
	}

	return session.Finalize(ctx, meta)
}

// UploadVideo runs the single-file pipeline: validate the extension, write
// the chunks, finalize with the title defaulted from the filename stem.
func (s *Service) UploadVideo(ctx context.Context, part Part) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "media.upload_video",
		trace.WithAttributes(attribute.String("original_name", part.Filename)),
	)
	defer span.End()

	if part.Filename == "" || part.Content == nil {
		return nil, fmt.Errorf("%w: file", ErrMissingPart)
	}

	contentType, err := videoContentType(part.Filename)
	if err != nil {
		return nil, err
	}

	rec, err := s.writeStream(ctx, contentType, part, models.Metadata{
		Title: titleFromFilename(part.Filename),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("stored_name", rec.StoredName),
		attribute.Int64("length", rec.Length),
	)
	return rec, nil
}

// UploadVideoWithThumbnail runs the dual-file pipeline. Both parts are
// validated before either is written. After both records finalize, the
// video's metadata is patched with the title, description and a snapshot of
// the thumbnail record. A patch failure surfaces as ErrMetadataAttach with
// both finalized records still returned — they are intentionally not rolled
// back.
func (s *Service) UploadVideoWithThumbnail(ctx context.Context, video, thumbnail Part, title, description string) (*models.FileRecord, *models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "media.upload_video_with_thumbnail",
		trace.WithAttributes(
			attribute.String("video_name", video.Filename),
			attribute.String("thumbnail_name", thumbnail.Filename),
		),
	)
	defer span.End()

	if video.Filename == "" || video.Content == nil {
		return nil, nil, fmt.Errorf("%w: file", ErrMissingPart)
	}
	if thumbnail.Filename == "" || thumbnail.Content == nil {
		return nil, nil, fmt.Errorf("%w: thumbnail", ErrMissingPart)
	}

	videoType, err := videoContentType(video.Filename)
	if err != nil {
		return nil, nil, err
	}
	thumbType, err := imageContentType(thumbnail.Filename)
	if err != nil {
		return nil, nil, err
	}

	// The video finalizes untitled; its title is assigned at the attach step.
	videoRec, err := s.writeStream(ctx, videoType, video, models.Metadata{})
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	thumbRec, err := s.writeStream(ctx, thumbType, thumbnail, models.Metadata{
		Title:       titleFromFilename(thumbnail.Filename),
		IsThumbnail: true,
	})
	if err != nil {
		span.RecordError(err)
		// The video is already finalized and visible. Take it back out so a
		// failed upload leaves nothing behind for the caller to find.
		if derr := s.store.DeleteAll(ctx, videoRec.StoredName); derr != nil {
			log.Printf("Warning: cleanup of %s after thumbnail failure failed: %v", videoRec.StoredName, derr)
		}
		return nil, nil, err
	}

	if title == "" {
		title = "Untitled"
	}
	patch := models.MetadataPatch{
		Title:       &title,
		Description: &description,
		Thumbnail:   thumbRec,
	}
	if err := s.catalog.UpdateMetadata(ctx, videoRec.StoredName, patch); err != nil {
		span.RecordError(err)
		return videoRec, thumbRec, fmt.Errorf("%w: %w", ErrMetadataAttach, err)
	}

	videoRec.Metadata.Title = title
	videoRec.Metadata.Description = description
	snap := *thumbRec
	videoRec.Metadata.Thumbnail = &snap

	span.SetAttributes(
		attribute.String("stored_name", videoRec.StoredName),
		attribute.String("thumbnail_stored_name", thumbRec.StoredName),
	)
	return videoRec, thumbRec, nil
}

// Delete removes a stored file and, if its metadata carries a thumbnail
// snapshot, the thumbnail's chunks and record as well. The pair is not
// deleted atomically: a failure on the thumbnail leg is reported but never
// re-creates the already-deleted primary.
func (s *Service) Delete(ctx context.Context, storedName string) error {
	ctx, span := tracer.Start(ctx, "media.delete",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	rec, err := s.catalog.FindByName(ctx, storedName)
	if err != nil {
		return err
	}

	if err := s.store.DeleteAll(ctx, storedName); err != nil {
		span.RecordError(err)
		return err
	}

	if thumb := rec.Metadata.Thumbnail; thumb != nil {
		if err := s.store.DeleteAll(ctx, thumb.StoredName); err != nil && !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
			log.Printf("Warning: thumbnail cascade for %s failed: %v", storedName, err)
			return fmt.Errorf("video deleted, thumbnail cascade failed: %w", err)
		}
	}

	return nil
}
