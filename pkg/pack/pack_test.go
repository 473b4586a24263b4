package pack

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFiles() map[string][]byte {
	return map[string][]byte{
		"context.json": []byte(`{"id":"ctx-1","kind":"Context","status":"active"}`),
		"plans/p.json": []byte(`{"id":"plan-1","kind":"Plan","status":"draft"}`),
	}
}

func TestSealThenVerify(t *testing.T) {
	p := Seal("pack-1", []string{"flow-02", "flow-01"}, sampleFiles())
	require.NoError(t, p.Verify())
	assert.Equal(t, "pack-1", p.ID())
	assert.Equal(t, []string{"flow-01", "flow-02"}, p.Scenarios())

	docs := p.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "context.json", docs[0].Path)
	assert.Equal(t, "plans/p.json", docs[1].Path)
}

func TestSealReplacesManifest(t *testing.T) {
	files := sampleFiles()
	files["./manifest.json"] = []byte(`{"pack_id":"client","documents":[]}`)

	p := Seal("pack-1", nil, files)
	require.NoError(t, p.Verify())
	assert.Equal(t, "pack-1", p.ID())
	assert.NotContains(t, p.Files, ManifestFile)
	assert.Len(t, p.Manifest.Documents, 2)
}

func TestVerifyReportsEveryIssue(t *testing.T) {
	p := Seal("pack-1", nil, sampleFiles())
	p.Files["context.json"] = []byte(`{"id":"ctx-1","kind":"Context","status":"closed"}`)
	delete(p.Files, "plans/p.json")
	p.Files["extra.json"] = []byte(`{}`)

	err := p.Verify()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	codes := make([]string, 0, len(ie.Issues))
	for _, is := range ie.Issues {
		codes = append(codes, is.Code+"@"+is.Path)
	}
	assert.Equal(t, []string{
		"HASH_MISMATCH@context.json",
		"UNDECLARED_DOCUMENT@extra.json",
		"DOCUMENT_MISSING@plans/p.json",
	}, codes)
}

func TestVerifyManifestProblems(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		err := FromFiles(sampleFiles()).Verify()
		var ie *IntegrityError
		require.ErrorAs(t, err, &ie)
		assert.True(t, ie.Has(IssueManifestMissing))
	})
	t.Run("invalid", func(t *testing.T) {
		files := sampleFiles()
		files[ManifestFile] = []byte(`{not json`)
		var ie *IntegrityError
		require.ErrorAs(t, FromFiles(files).Verify(), &ie)
		assert.True(t, ie.Has(IssueManifestInvalid))
	})
	t.Run("empty", func(t *testing.T) {
		var ie *IntegrityError
		require.ErrorAs(t, New(&Manifest{PackID: "x"}, nil).Verify(), &ie)
		assert.Equal(t, []Issue{{Code: IssueEmptyPack, Detail: "manifest declares no documents"}}, ie.Issues)
	})
	t.Run("duplicate entry", func(t *testing.T) {
		p := Seal("x", nil, sampleFiles())
		p.Manifest.Documents = append(p.Manifest.Documents, p.Manifest.Documents[0])
		var ie *IntegrityError
		require.ErrorAs(t, p.Verify(), &ie)
		assert.True(t, ie.Has(IssueDuplicateEntry))
	})
}

func TestHashPrefixAccepted(t *testing.T) {
	p := Seal("x", nil, sampleFiles())
	for i := range p.Manifest.Documents {
		p.Manifest.Documents[i].SHA256 = "sha256:" + strings.ToUpper(p.Manifest.Documents[i].SHA256)
	}
	assert.NoError(t, p.Verify())
}

func TestDigestIgnoresEntryOrder(t *testing.T) {
	a := Seal("x", []string{"flow-01"}, sampleFiles())
	b := Seal("x", []string{"flow-01"}, sampleFiles())
	docs := b.Manifest.Documents
	docs[0], docs[1] = docs[1], docs[0]

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)

	c := Seal("y", []string{"flow-01"}, sampleFiles())
	dc, err := c.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestLoadDirRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for name, data := range sampleFiles() {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, data, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("junk"), 0o644))

	loaded, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, loaded.Files, 2)

	sealed := Seal("dir-pack", nil, loaded.Files)
	require.NoError(t, WriteManifest(dir, sealed))

	p, err := Open(context.Background(), dir, OpenOptions{})
	require.NoError(t, err)
	require.NoError(t, p.Verify())
	assert.Equal(t, "dir-pack", p.ID())
}

func TestParseLocation(t *testing.T) {
	l, err := ParseLocation("s3://bucket/packs/gf01")
	require.NoError(t, err)
	assert.Equal(t, Location{Scheme: "s3", Bucket: "bucket", Prefix: "packs/gf01/"}, l)

	l, err = ParseLocation("gs://bucket")
	require.NoError(t, err)
	assert.Equal(t, Location{Scheme: "gs", Bucket: "bucket"}, l)

	l, err = ParseLocation("./testdata/pack")
	require.NoError(t, err)
	assert.Equal(t, "dir", l.Scheme)

	_, err = ParseLocation("s3:///nobucket")
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Source(t *testing.T) {
	sealed := Seal("s3-pack", nil, sampleFiles())
	manifest, err := sealed.MarshalManifest()
	require.NoError(t, err)

	fake := &fakeS3{objects: map[string][]byte{
		"packs/a/manifest.json": manifest,
		"packs/a/context.json":  sampleFiles()["context.json"],
		"packs/a/plans/p.json":  sampleFiles()["plans/p.json"],
		"packs/a/":              nil,
		"packs/b/other.json":    []byte(`{}`),
	}}
	src := &S3Source{Client: fake, Bucket: "bucket", Prefix: "packs/a/"}
	p, err := src.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Verify())
	assert.Equal(t, "s3-pack", p.ID())
	assert.Len(t, p.Files, 2)
}
