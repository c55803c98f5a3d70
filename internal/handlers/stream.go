package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/rmalik/vidvault/internal/chunkstore"
	"github.com/rmalik/vidvault/internal/media"
	"github.com/rmalik/vidvault/internal/models"
	"github.com/rmalik/vidvault/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var errMalformedRange = errors.New("malformed or unsatisfiable range")

// parseRangeHeader parses a single-range "bytes=<start>-<end?>" header.
// start is required; end defaults to length-1. Suffix ranges and multi-range
// headers are rejected, as is any window that does not fit the file.
func parseRangeHeader(header string, length int64) (int64, int64, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, errMalformedRange
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, errMalformedRange
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, errMalformedRange
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, errMalformedRange
	}

	end := length - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, errMalformedRange
		}
	}

	if start > end || end >= length {
		return 0, 0, errMalformedRange
	}
	return start, end, nil
}

// stream copies the range reader to the client. Once the status line is out
// it cannot be unsent, so a mid-stream failure aborts the connection instead
// of writing an error body over partially sent binary data.
func stream(w http.ResponseWriter, rc io.ReadCloser) {
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("Stream error: %v", err)
		panic(http.ErrAbortHandler)
	}
}

func writeUnsatisfiable(w http.ResponseWriter, length int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", length))
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
}

// serveFull emits the whole file as a 200 response.
func serveFull(w http.ResponseWriter, r *http.Request, store *chunkstore.Store, rec *models.FileRecord) {
	w.Header().Set("Content-Type", rec.ContentType)
	if rec.Length == 0 {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, err := store.OpenReadRange(r.Context(), rec.StoredName, 0, rec.Length)
	if err != nil {
		w.Header().Del("Content-Type")
		writeError(w, http.StatusInternalServerError, "Error streaming file", err)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rec.Length, 10))
	w.WriteHeader(http.StatusOK)
	stream(w, rc)
}

// VideoStreamHandler serves GET /video?filename= with byte-range support.
type VideoStreamHandler struct {
	store *chunkstore.Store
}

// NewVideoStreamHandler creates the range-streaming responder.
func NewVideoStreamHandler(store *chunkstore.Store) *VideoStreamHandler {
	return &VideoStreamHandler{store: store}
}

func (vh *VideoStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "stream_video",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	r = r.WithContext(ctx)

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeMessage(w, http.StatusBadRequest, "Filename is required")
		return
	}
	span.SetAttributes(attribute.String("stored_name", filename))

	rec, err := vh.store.Lookup(ctx, filename)
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Video not found")
		return
	} else if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, "Error streaming video", err)
		return
	}

	if !strings.HasPrefix(rec.ContentType, "video/") {
		writeError(w, http.StatusBadRequest, "The requested file is not a video", media.ErrNotVideo)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		serveFull(w, r, vh.store, rec)
		return
	}

	start, end, perr := parseRangeHeader(rangeHeader, rec.Length)
	if perr != nil {
		writeUnsatisfiable(w, rec.Length)
		return
	}
	span.SetAttributes(
		attribute.Int64("range_start", start),
		attribute.Int64("range_end", end),
	)

	rc, err := vh.store.OpenReadRange(ctx, filename, start, end+1)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, storage.ErrRangeOutOfBounds) {
			writeUnsatisfiable(w, rec.Length)
			return
		}
		writeError(w, http.StatusInternalServerError, "Error streaming video", err)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, rec.Length))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("Content-Type", rec.ContentType)
	w.WriteHeader(http.StatusPartialContent)
	stream(w, rc)
}

// ThumbnailHandler serves GET /thumbnail?filename= in full (no range
// support).
type ThumbnailHandler struct {
	store *chunkstore.Store
}

// NewThumbnailHandler creates the thumbnail responder.
func NewThumbnailHandler(store *chunkstore.Store) *ThumbnailHandler {
	return &ThumbnailHandler{store: store}
}

func (th *ThumbnailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "stream_thumbnail",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	r = r.WithContext(ctx)

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeMessage(w, http.StatusBadRequest, "Filename is required")
		return
	}
	span.SetAttributes(attribute.String("stored_name", filename))

	rec, err := th.store.Lookup(ctx, filename)
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Thumbnail not found")
		return
	} else if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, "Error streaming thumbnail", err)
		return
	}

	if !strings.HasPrefix(rec.ContentType, "image/") {
		writeError(w, http.StatusBadRequest, "The requested file is not an image", media.ErrNotImage)
		return
	}

	serveFull(w, r, th.store, rec)
}

// DeleteVideoHandler serves DELETE /video?filename=, cascading to a linked
// thumbnail.
type DeleteVideoHandler struct {
	svc *media.Service
}

// NewDeleteVideoHandler creates the delete handler.
func NewDeleteVideoHandler(svc *media.Service) *DeleteVideoHandler {
	return &DeleteVideoHandler{svc: svc}
}

func (dh *DeleteVideoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_video",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeMessage(w, http.StatusBadRequest, "Filename is required")
		return
	}
	span.SetAttributes(attribute.String("stored_name", filename))

	err := dh.svc.Delete(ctx, filename)
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Video not found")
		return
	} else if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, "Error deleting video", err)
		return
	}

	writeMessage(w, http.StatusOK, "Video deleted successfully")
}
