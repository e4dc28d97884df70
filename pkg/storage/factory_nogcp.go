//go:build !gcp

package storage

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Blob, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
