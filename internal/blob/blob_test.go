package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

var photoKey = Key{
	FormID:      "f1",
	RecordID:    "r1",
	MediaType:   "photo",
	MediaID:     "abc",
	Size:        "thumbnail",
	ContentType: "image/jpeg",
}

func TestKeyName(t *testing.T) {
	require.Equal(t, "f1/r1/photo_abc_thumbnail.jpg", photoKey.Name())

	k := photoKey
	k.RecordID = "../etc"
	require.False(t, strings.Contains(k.Name(), ".."))
}

func TestExtension(t *testing.T) {
	require.Equal(t, ".jpg", Extension("image/jpeg"))
	require.Equal(t, ".mp4", Extension("video/mp4; codecs=avc1"))
	require.Equal(t, "", Extension(""))
}

func TestFSStore_SavePathURL(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(root, "")
	require.NoError(t, err)

	p, err := s.Save(context.Background(), strings.NewReader("jpegdata"), photoKey)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "f1", "r1", "photo_abc_thumbnail.jpg"), p)
	require.Equal(t, p, s.Path(photoKey))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "jpegdata", string(b))

	_, ok := s.URL(photoKey)
	require.False(t, ok)

	s2, err := NewFSStore(root, "https://cdn.example.com/media/")
	require.NoError(t, err)
	u, ok := s2.URL(photoKey)
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/media/f1/r1/photo_abc_thumbnail.jpg", u)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestFSStore_SaveLeavesNothingOnError(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(root, "")
	require.NoError(t, err)

	_, err = s.Save(context.Background(), failingReader{}, photoKey)
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "f1", "r1"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

type fakePut struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakePut) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Store_Save(t *testing.T) {
	api := &fakePut{}
	s := NewS3StoreWithAPI(api, S3Config{Bucket: "media", Prefix: "fulcrum", URLBase: "https://media.example.com"})

	p, err := s.Save(context.Background(), strings.NewReader("data"), photoKey)
	require.NoError(t, err)
	require.Equal(t, "s3://media/fulcrum/f1/r1/photo_abc_thumbnail.jpg", p)
	require.Equal(t, "media", aws.ToString(api.in.Bucket))
	require.Equal(t, "fulcrum/f1/r1/photo_abc_thumbnail.jpg", aws.ToString(api.in.Key))
	require.Equal(t, "image/jpeg", aws.ToString(api.in.ContentType))
	require.Equal(t, "data", api.body)

	u, ok := s.URL(photoKey)
	require.True(t, ok)
	require.Equal(t, "https://media.example.com/fulcrum/f1/r1/photo_abc_thumbnail.jpg", u)
}

func TestS3Store_SaveError(t *testing.T) {
	api := &fakePut{err: errors.New("access denied")}
	s := NewS3StoreWithAPI(api, S3Config{Bucket: "media"})
	_, err := s.Save(context.Background(), strings.NewReader("x"), photoKey)
	require.ErrorContains(t, err, "access denied")
}

func TestNewS3Store_EmptyBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	require.Error(t, err)
}
