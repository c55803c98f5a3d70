package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinioBlobStore implements BlobStore on a MinIO bucket.
type MinioBlobStore struct {
	client     *minio.Client
	bucketName string
}

// NewMinioBlobStore initializes the client and ensures the bucket exists.
func NewMinioBlobStore(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioBlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	bs := &MinioBlobStore{
		client:     client,
		bucketName: bucketName,
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Printf("Creating bucket: %s", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("Bucket %s created successfully", bucketName)
	}

	return bs, nil
}

// Put uploads a chunk payload.
func (bs *MinioBlobStore) Put(ctx context.Context, objectKey string, data []byte) error {
	ctx, span := tracer.Start(ctx, "minio.put_chunk",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	reader := bytes.NewReader(data)
	_, err := bs.client.PutObject(ctx, bs.bucketName, objectKey, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return IOError("put object", err)
	}

	return nil
}

// Get downloads a chunk payload.
func (bs *MinioBlobStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "minio.get_chunk",
		trace.WithAttributes(attribute.String("object_key", objectKey)),
	)
	defer span.End()

	object, err := bs.client.GetObject(ctx, bs.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, IOError("get object", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		return nil, IOError("read object", err)
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return data, nil
}

// Remove deletes a chunk payload.
func (bs *MinioBlobStore) Remove(ctx context.Context, objectKey string) error {
	ctx, span := tracer.Start(ctx, "minio.remove_chunk",
		trace.WithAttributes(attribute.String("object_key", objectKey)),
	)
	defer span.End()

	if err := bs.client.RemoveObject(ctx, bs.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return IOError("remove object", err)
	}

	return nil
}
