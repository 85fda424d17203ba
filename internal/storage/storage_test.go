package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func TestLocal_PutWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "https://bot.example.com/media/")
	require.NoError(t, err)

	url, err := l.Put(context.Background(), "images/image_1 a.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, "https://bot.example.com/media/images/image_1%20a.jpg", url)

	data, err := os.ReadFile(filepath.Join(dir, "images", "image_1 a.jpg"))
	require.NoError(t, err)
	require.Equal(t, "jpeg", string(data))
}

func TestLocal_KeyCannotEscapeRoot(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "")
	require.NoError(t, err)

	url, err := l.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "etc", "passwd"), url)
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3_Put(t *testing.T) {
	api := &fakeS3{}
	s, err := NewS3(S3Config{Client: api, Bucket: "hk-media", Region: "eu-south-1", Prefix: "/inbound/"})
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "image_9.png", []byte("png"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "https://hk-media.s3.eu-south-1.amazonaws.com/inbound/image_9.png", url)
	require.Equal(t, "inbound/image_9.png", *api.in.Key)
	require.Equal(t, "image/png", *api.in.ContentType)
	require.Equal(t, "png", string(api.body))
}

func TestS3_PutWithPublicBase(t *testing.T) {
	s, err := NewS3(S3Config{Client: &fakeS3{}, Bucket: "b", PublicBaseURL: "https://cdn.example.com"})
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "x.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/x.jpg", url)
}

func TestS3_PutError(t *testing.T) {
	s, err := NewS3(S3Config{Client: &fakeS3{err: errors.New("denied")}, Bucket: "b"})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "x.jpg", []byte("x"), "image/jpeg")
	require.ErrorContains(t, err, "denied")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(S3Config{Client: &fakeS3{}})
	require.Error(t, err)
}
