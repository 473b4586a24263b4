package pack

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Source loads a raw pack from some location.
type Source interface {
	Load(ctx context.Context) (*Pack, error)
}

// Location is a parsed pack location.
type Location struct {
	Scheme string // "dir", "s3" or "gs"
	Bucket string
	Prefix string
	Dir    string
}

// ParseLocation accepts a directory path, s3://bucket/prefix or gs://bucket/prefix.
func ParseLocation(loc string) (Location, error) {
	for _, scheme := range []string{"s3", "gs"} {
		rest, ok := strings.CutPrefix(loc, scheme+"://")
		if !ok {
			continue
		}
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("pack location %q has no bucket", loc)
		}
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return Location{Scheme: scheme, Bucket: bucket, Prefix: prefix}, nil
	}
	if loc == "" {
		return Location{}, fmt.Errorf("empty pack location")
	}
	return Location{Scheme: "dir", Dir: loc}, nil
}

// OpenOptions tunes remote sources.
type OpenOptions struct {
	S3Region   string
	S3Endpoint string
}

// Open resolves a location string to a source and loads the pack.
func Open(ctx context.Context, loc string, opts OpenOptions) (*Pack, error) {
	l, err := ParseLocation(loc)
	if err != nil {
		return nil, err
	}
	var src Source
	switch l.Scheme {
	case "s3":
		client, err := NewS3Client(ctx, S3Config{Region: opts.S3Region, Endpoint: opts.S3Endpoint})
		if err != nil {
			return nil, err
		}
		src = &S3Source{Client: client, Bucket: l.Bucket, Prefix: l.Prefix}
	case "gs":
		src, err = newGCSSource(ctx, l.Bucket, l.Prefix)
		if err != nil {
			return nil, err
		}
	default:
		src = DirSource(l.Dir)
	}
	return src.Load(ctx)
}

// DirSource reads a pack from a local directory tree. Dot-files are skipped.
type DirSource string

func (d DirSource) Load(ctx context.Context) (*Pack, error) {
	return LoadDir(ctx, string(d))
}

// LoadDir reads every regular file under dir.
func LoadDir(ctx context.Context, dir string) (*Pack, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pack from %s: %w", dir, err)
	}
	return FromFiles(files), nil
}

// WriteManifest writes the pack manifest into dir.
func WriteManifest(dir string, p *Pack) error {
	data, err := p.MarshalManifest()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
