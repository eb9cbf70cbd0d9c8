package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data        []byte
	contentType string
	disposition string
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	headErr error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]fakeObject)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, contentType: aws.ToString(in.ContentType), disposition: aws.ToString(in.ContentDisposition)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newTestService(t *testing.T, cfg Config) (*Service, *fakeS3) {
	t.Helper()
	api := newFakeS3()
	svc, err := New(api, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return svc, api
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Bucket = "bytehack-uploads"
	return cfg
}

func TestUploadDownload(t *testing.T) {
	svc, api := newTestService(t, enabledConfig())
	ctx := context.Background()

	obj, err := svc.Upload(ctx, "u1", `..\evil"name.png`, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.True(t, strings.HasPrefix(obj.Key, "uploads/u1/"))
	assert.True(t, strings.HasSuffix(obj.Key, ".png"))
	assert.Equal(t, `attachment; filename="evilname.png"`, api.objects[obj.Key].disposition)

	got, rc, err := svc.Download(ctx, obj.Key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, body)
	assert.Equal(t, "image/png", got.ContentType)
	assert.EqualValues(t, len(pngHeader), got.Size)
}

func TestUpload_SniffsInsteadOfTrustingName(t *testing.T) {
	svc, _ := newTestService(t, enabledConfig())
	elf := append([]byte("\x7fELF\x02\x01\x01"), make([]byte, 64)...)

	_, err := svc.Upload(context.Background(), "u1", "cute.png", bytes.NewReader(elf))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestUpload_SizeCap(t *testing.T) {
	cfg := enabledConfig()
	cfg.MaxUploadBytes = 16
	cfg.AllowedTypes = []string{"text/plain"}
	svc, _ := newTestService(t, cfg)
	ctx := context.Background()

	_, err := svc.Upload(ctx, "u1", "a.txt", strings.NewReader(strings.Repeat("a", 17)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = svc.Upload(ctx, "u1", "a.txt", strings.NewReader(strings.Repeat("a", 16)))
	assert.NoError(t, err)

	_, err = svc.Upload(ctx, "u1", "a.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDownload_NotFoundAndTraversal(t *testing.T) {
	svc, _ := newTestService(t, enabledConfig())
	ctx := context.Background()

	_, _, err := svc.Download(ctx, "uploads/u1/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.Download(ctx, "uploads/../secrets/key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisabled(t *testing.T) {
	svc, err := New(nil, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	_, err = svc.Upload(context.Background(), "u1", "a.png", bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, svc.Ping(context.Background()))

	_, err = New(nil, enabledConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPing(t *testing.T) {
	svc, api := newTestService(t, enabledConfig())
	assert.NoError(t, svc.Ping(context.Background()))
	api.headErr = errors.New("boom")
	assert.Error(t, svc.Ping(context.Background()))
}
