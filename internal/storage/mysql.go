package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/rmalik/vidvault/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const mysqlDupEntry = 1062

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id CHAR(36) PRIMARY KEY,
		stored_name VARCHAR(191) NOT NULL,
		length BIGINT NOT NULL,
		chunk_size BIGINT NOT NULL,
		chunk_count INT NOT NULL,
		content_type VARCHAR(100) NOT NULL,
		upload_date DATETIME(6) NOT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		description TEXT,
		is_thumbnail BOOLEAN NOT NULL DEFAULT FALSE,
		thumbnail JSON,
		UNIQUE KEY uq_files_stored_name (stored_name),
		KEY idx_files_type_date (content_type, upload_date)
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id CHAR(36) PRIMARY KEY,
		file_id CHAR(36) NOT NULL,
		order_index INT NOT NULL,
		hash CHAR(64) NOT NULL,
		object_key VARCHAR(191) NOT NULL,
		size BIGINT NOT NULL,
		UNIQUE KEY uq_chunks_file_order (file_id, order_index)
	)`,
}

// MySQLCatalog implements Catalog on MySQL/TiDB.
type MySQLCatalog struct {
	db *sql.DB
}

// NewMySQLCatalog opens the database, verifies connectivity and ensures the
// schema exists.
func NewMySQLCatalog(dsn string) (*MySQLCatalog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	return &MySQLCatalog{db: db}, nil
}

// Close closes the database connection.
func (mc *MySQLCatalog) Close() error {
	return mc.db.Close()
}

func isDupEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDupEntry
}

// InsertFile inserts a finalized file record.
func (mc *MySQLCatalog) InsertFile(ctx context.Context, rec *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "mysql.insert_file",
		trace.WithAttributes(
			attribute.String("file_id", rec.ID),
			attribute.String("stored_name", rec.StoredName),
			attribute.Int64("length", rec.Length),
		),
	)
	defer span.End()

	var thumbJSON any
	if rec.Metadata.Thumbnail != nil {
		data, err := json.Marshal(rec.Metadata.Thumbnail)
		if err != nil {
			return fmt.Errorf("failed to marshal thumbnail snapshot: %w", err)
		}
		thumbJSON = string(data)
	}

	query := `INSERT INTO files
		(id, stored_name, length, chunk_size, chunk_count, content_type, upload_date, title, description, is_thumbnail, thumbnail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := mc.db.ExecContext(ctx, query,
		rec.ID, rec.StoredName, rec.Length, rec.ChunkSize, rec.ChunkCount,
		rec.ContentType, rec.UploadDate, rec.Metadata.Title,
		nullableString(rec.Metadata.Description), rec.Metadata.IsThumbnail, thumbJSON,
	)
	if err != nil {
		if isDupEntry(err) {
			return fmt.Errorf("%s: %w", rec.StoredName, ErrDuplicateName)
		}
		span.RecordError(err)
		return IOError("insert file", err)
	}

	return nil
}

const fileColumns = `id, stored_name, length, chunk_size, chunk_count, content_type, upload_date, title, description, is_thumbnail, thumbnail`

func scanFileRecord(row interface{ Scan(dest ...any) error }) (*models.FileRecord, error) {
	var (
		rec         models.FileRecord
		description sql.NullString
		thumbnail   sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.StoredName, &rec.Length, &rec.ChunkSize, &rec.ChunkCount,
		&rec.ContentType, &rec.UploadDate, &rec.Metadata.Title,
		&description, &rec.Metadata.IsThumbnail, &thumbnail,
	)
	if err != nil {
		return nil, err
	}
	rec.Metadata.Description = description.String
	if thumbnail.Valid {
		var snap models.FileRecord
		if err := json.Unmarshal([]byte(thumbnail.String), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal thumbnail snapshot: %w", err)
		}
		rec.Metadata.Thumbnail = &snap
	}
	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FindByName retrieves the record for a stored name.
func (mc *MySQLCatalog) FindByName(ctx context.Context, storedName string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "mysql.find_by_name",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	query := `SELECT ` + fileColumns + ` FROM files WHERE stored_name = ?`

	rec, err := scanFileRecord(mc.db.QueryRowContext(ctx, query, storedName))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("%s: %w", storedName, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, IOError("query file", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return rec, nil
}

func listWhere(filter ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.ContentTypePrefix != "" {
		conds = append(conds, "content_type LIKE ?")
		args = append(args, filter.ContentTypePrefix+"%")
	}
	if filter.TitleSearch != "" {
		conds = append(conds, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.TitleSearch)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of records, newest first, and the total match count.
// The count is a second query with the same filter so that a short page does
// not understate it.
func (mc *MySQLCatalog) List(ctx context.Context, filter ListFilter, skip, limit int) ([]*models.FileRecord, int64, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_files",
		trace.WithAttributes(
			attribute.String("content_type_prefix", filter.ContentTypePrefix),
			attribute.Int("skip", skip),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	where, args := listWhere(filter)

	query := `SELECT ` + fileColumns + ` FROM files` + where +
		` ORDER BY upload_date DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := mc.db.QueryContext(ctx, query, append(append([]any{}, args...), limit, skip)...)
	if err != nil {
		span.RecordError(err)
		return nil, 0, IOError("list files", err)
	}
	defer rows.Close()

	var records []*models.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			span.RecordError(err)
			return nil, 0, IOError("scan file", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, IOError("iterate files", err)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM files` + where
	if err := mc.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, IOError("count files", err)
	}

	span.SetAttributes(
		attribute.Int("page_size", len(records)),
		attribute.Int64("total", total),
	)
	return records, total, nil
}

// UpdateMetadata merges the patch into a record's metadata columns.
func (mc *MySQLCatalog) UpdateMetadata(ctx context.Context, storedName string, patch models.MetadataPatch) error {
	ctx, span := tracer.Start(ctx, "mysql.update_metadata",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	var (
		sets []string
		args []any
	)
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullableString(*patch.Description))
	}
	if patch.Thumbnail != nil {
		data, err := json.Marshal(patch.Thumbnail)
		if err != nil {
			return fmt.Errorf("failed to marshal thumbnail snapshot: %w", err)
		}
		sets = append(sets, "thumbnail = ?")
		args = append(args, string(data))
	}

	// An existence check first: MySQL reports zero affected rows for a no-op
	// update, so affected-row counting cannot distinguish "absent" from
	// "unchanged".
	var id string
	err := mc.db.QueryRowContext(ctx, `SELECT id FROM files WHERE stored_name = ?`, storedName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", storedName, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return IOError("check file", err)
	}

	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE files SET ` + strings.Join(sets, ", ") + ` WHERE stored_name = ?`
	if _, err := mc.db.ExecContext(ctx, query, append(args, storedName)...); err != nil {
		span.RecordError(err)
		return IOError("update metadata", err)
	}

	return nil
}

// DeleteFile removes the file record only.
func (mc *MySQLCatalog) DeleteFile(ctx context.Context, storedName string) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_file",
		trace.WithAttributes(attribute.String("stored_name", storedName)),
	)
	defer span.End()

	res, err := mc.db.ExecContext(ctx, `DELETE FROM files WHERE stored_name = ?`, storedName)
	if err != nil {
		span.RecordError(err)
		return IOError("delete file", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", storedName, ErrNotFound)
	}

	return nil
}

// InsertChunk records one chunk row.
func (mc *MySQLCatalog) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	ctx, span := tracer.Start(ctx, "mysql.insert_chunk",
		trace.WithAttributes(
			attribute.String("file_id", chunk.FileID),
			attribute.Int("sequence", chunk.Sequence),
		),
	)
	defer span.End()

	query := `INSERT INTO chunks (id, file_id, order_index, hash, object_key, size)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := mc.db.ExecContext(ctx, query,
		chunk.ID, chunk.FileID, chunk.Sequence, chunk.Hash, chunk.ObjectKey, chunk.Size)
	if err != nil {
		span.RecordError(err)
		return IOError("insert chunk", err)
	}

	return nil
}

// ChunkRange returns the chunk rows overlapping a sequence span, in order.
func (mc *MySQLCatalog) ChunkRange(ctx context.Context, fileID string, firstSeq, lastSeq int) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "mysql.chunk_range",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.Int("first_seq", firstSeq),
			attribute.Int("last_seq", lastSeq),
		),
	)
	defer span.End()

	query := `SELECT id, file_id, order_index, hash, object_key, size
		FROM chunks
		WHERE file_id = ? AND order_index BETWEEN ? AND ?
		ORDER BY order_index ASC`

	rows, err := mc.db.QueryContext(ctx, query, fileID, firstSeq, lastSeq)
	if err != nil {
		span.RecordError(err)
		return nil, IOError("query chunks", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.FileID, &chunk.Sequence, &chunk.Hash, &chunk.ObjectKey, &chunk.Size); err != nil {
			span.RecordError(err)
			return nil, IOError("scan chunk", err)
		}
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, IOError("iterate chunks", err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	return chunks, nil
}

// DeleteChunks removes all chunk rows for a file.
func (mc *MySQLCatalog) DeleteChunks(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_chunks",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	if _, err := mc.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		span.RecordError(err)
		return IOError("delete chunks", err)
	}

	return nil
}
