//go:build gcp

package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSSource reads every object under Bucket/Prefix using application default credentials.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCSSource(ctx context.Context, bucket, prefix string) (Source, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSSource) Load(ctx context.Context) (*Pack, error) {
	defer g.client.Close()

	files := make(map[string][]byte)
	bkt := g.client.Bucket(g.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: g.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", g.bucket, g.prefix, err)
		}
		rel := strings.TrimPrefix(attrs.Name, g.prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		r, err := bkt.Object(attrs.Name).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("get gs://%s/%s: %w", g.bucket, attrs.Name, err)
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("read gs://%s/%s: %w", g.bucket, attrs.Name, err)
		}
		files[rel] = data
	}
	return FromFiles(files), nil
}
