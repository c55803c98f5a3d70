package handlers

import (
	"errors"
	"net/http"

	"github.com/rmalik/vidvault/internal/media"
	"github.com/rmalik/vidvault/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UploadHandler accepts single-file video uploads (multipart field "file")
// and dual-file uploads (fields "file" and "thumbnail" plus "title" and
// "description").
type UploadHandler struct {
	svc            *media.Service
	maxUploadBytes int64
}

// NewUploadHandler creates an upload handler with a request size cap.
func NewUploadHandler(svc *media.Service, maxUploadBytes int64) *UploadHandler {
	return &UploadHandler{
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
	}
}

type singleUploadResponse struct {
	Message string             `json:"message"`
	File    *models.FileRecord `json:"file"`
}

type dualUploadResponse struct {
	Message   string             `json:"message"`
	Video     *models.FileRecord `json:"video"`
	Thumbnail *models.FileRecord `json:"thumbnail"`
	Title     string             `json:"title"`
}

// ServeHTTP handles POST /upload.
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	r = r.WithContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, uh.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	span.SetAttributes(attribute.String("file_name", fileHeader.Filename))

	// A thumbnail part or an explicit title marks the dual-file mode; a
	// title without its thumbnail is an incomplete pair.
	thumb, thumbHeader, thumbErr := r.FormFile("thumbnail")
	if thumbErr != nil {
		if r.FormValue("title") != "" {
			writeMessage(w, http.StatusBadRequest, "Missing part: thumbnail")
			return
		}
		uh.handleSingle(w, r, media.Part{Filename: fileHeader.Filename, Content: file})
		return
	}
	defer thumb.Close()

	uh.handleDual(w, r,
		media.Part{Filename: fileHeader.Filename, Content: file},
		media.Part{Filename: thumbHeader.Filename, Content: thumb},
	)
}

func uploadErrorStatus(err error) int {
	if errors.Is(err, media.ErrUnsupportedMedia) || errors.Is(err, media.ErrMissingPart) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (uh *UploadHandler) handleSingle(w http.ResponseWriter, r *http.Request, part media.Part) {
	rec, err := uh.svc.UploadVideo(r.Context(), part)
	if err != nil {
		writeError(w, uploadErrorStatus(err), "Upload failed", err)
		return
	}

	writeJSON(w, http.StatusOK, singleUploadResponse{
		Message: "Upload success",
		File:    rec,
	})
}

func (uh *UploadHandler) handleDual(w http.ResponseWriter, r *http.Request, video, thumbnail media.Part) {
	title := r.FormValue("title")
	description := r.FormValue("description")

	videoRec, thumbRec, err := uh.svc.UploadVideoWithThumbnail(r.Context(), video, thumbnail, title, description)
	if err != nil {
		if errors.Is(err, media.ErrMetadataAttach) {
			// Both records exist but are unlinked; callers see this
			// distinctly from a clean success so they can retry the attach
			// or discard and re-upload.
			writeError(w, http.StatusInternalServerError, "Upload stored but metadata attach failed", err)
			return
		}
		writeError(w, uploadErrorStatus(err), "Upload failed", err)
		return
	}

	writeJSON(w, http.StatusOK, dualUploadResponse{
		Message:   "Upload success",
		Video:     videoRec,
		Thumbnail: thumbRec,
		Title:     videoRec.Metadata.Title,
	})
}
