//go:build gcp

package storage

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Blob, error) {
	bucket := os.Getenv("IOA_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("IOA_GCS_BUCKET is required for GCS storage")
	}

	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("IOA_GCS_PREFIX"),
	})
}
