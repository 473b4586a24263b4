//go:build !gcp

package pack

import (
	"context"
	"fmt"
)

func newGCSSource(ctx context.Context, bucket, prefix string) (Source, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
