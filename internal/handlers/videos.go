package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rmalik/vidvault/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// VideosHandler serves the paginated, searchable video catalog.
type VideosHandler struct {
	catalog storage.Catalog
}

// NewVideosHandler creates a catalog listing handler.
func NewVideosHandler(catalog storage.Catalog) *VideosHandler {
	return &VideosHandler{catalog: catalog}
}

type videoItem struct {
	Filename          string    `json:"filename"`
	VideoTitle        string    `json:"videoTitle"`
	Description       string    `json:"description,omitempty"`
	ThumbnailFilename string    `json:"thumbnailFilename,omitempty"`
	UploadDate        time.Time `json:"uploadDate"`
	ContentType       string    `json:"contentType"`
}

type videosResponse struct {
	Page        int         `json:"page"`
	PageSize    int         `json:"pageSize"`
	TotalVideos int64       `json:"totalVideos"`
	Videos      []videoItem `json:"videos"`
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < min {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// ServeHTTP handles GET /getVideos?page&pageSize&search.
func (vh *VideosHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get_videos",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	page := queryInt(r, "page", 1, 1, 1<<30)
	pageSize := queryInt(r, "pageSize", defaultPageSize, 1, maxPageSize)
	search := r.URL.Query().Get("search")

	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
		attribute.String("search", search),
	)

	filter := storage.ListFilter{
		ContentTypePrefix: "video/",
		TitleSearch:       search,
	}
	records, total, err := vh.catalog.List(ctx, filter, (page-1)*pageSize, pageSize)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, "Error retrieving videos", err)
		return
	}

	if len(records) == 0 {
		writeMessage(w, http.StatusNotFound, "No videos found")
		return
	}

	items := make([]videoItem, len(records))
	for i, rec := range records {
		items[i] = videoItem{
			Filename:    rec.StoredName,
			VideoTitle:  rec.Metadata.Title,
			Description: rec.Metadata.Description,
			UploadDate:  rec.UploadDate,
			ContentType: rec.ContentType,
		}
		if thumb := rec.Metadata.Thumbnail; thumb != nil {
			items[i].ThumbnailFilename = thumb.StoredName
		}
	}

	writeJSON(w, http.StatusOK, videosResponse{
		Page:        page,
		PageSize:    pageSize,
		TotalVideos: total,
		Videos:      items,
	})
}
