package storage

import (
	"context"
	"fmt"
	"os"
)

// StoreType represents the type of blob storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeMem StoreType = "mem"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates a blob store based on environment variables.
//
// Environment variables:
//   - IOA_STORAGE_TYPE: "fs" (default), "mem", "s3", or "gcs"
//   - IOA_DATA_ROOT: base directory for the filesystem store (default "data")
//
// For S3:
//   - IOA_S3_BUCKET (required)
//   - IOA_S3_REGION or AWS_REGION
//   - IOA_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - IOA_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - IOA_GCS_BUCKET (required)
//   - IOA_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Blob, error) {
	storeType := StoreType(os.Getenv("IOA_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeMem:
		return NewMemoryStore(), nil
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storeType)
	}
}

func newFileStoreFromEnv() (Blob, error) {
	dataRoot := os.Getenv("IOA_DATA_ROOT")
	if dataRoot == "" {
		dataRoot = "data"
	}
	return NewFileStore(dataRoot)
}

func newS3StoreFromEnv(ctx context.Context) (Blob, error) {
	bucket := os.Getenv("IOA_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("IOA_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("IOA_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("IOA_S3_ENDPOINT"),
		Prefix:   os.Getenv("IOA_S3_PREFIX"),
	})
}
