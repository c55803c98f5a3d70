package models

import "time"

// Metadata is the open key set attached to a FileRecord.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	IsThumbnail bool   `json:"is_thumbnail,omitempty"`
	// Thumbnail is a snapshot of the paired image record, embedded at attach
	// time. It is not a live reference: later edits to the thumbnail record
	// do not propagate here.
	Thumbnail *FileRecord `json:"thumbnail,omitempty"`
}

// FileRecord describes one logical stored file. A record becomes visible to
// catalog queries only once finalized; after that everything except the
// metadata is immutable.
type FileRecord struct {
	ID          string    `json:"id"`
	StoredName  string    `json:"filename"`
	Length      int64     `json:"length"`
	ChunkSize   int64     `json:"chunk_size"`
	ChunkCount  int       `json:"chunk_count"`
	ContentType string    `json:"content_type"`
	UploadDate  time.Time `json:"upload_date"`
	Metadata    Metadata  `json:"metadata"`
}

// Chunk is one indexed unit of a file's content. The payload itself lives in
// the blob store under ObjectKey.
type Chunk struct {
	ID        string `json:"id"`
	FileID    string `json:"file_id"`
	Sequence  int    `json:"sequence"`
	Hash      string `json:"hash"`
	ObjectKey string `json:"object_key"`
	Size      int64  `json:"size"`
}

// MetadataPatch is a partial metadata update. Nil fields are left untouched.
type MetadataPatch struct {
	Title       *string
	Description *string
	Thumbnail   *FileRecord
}
