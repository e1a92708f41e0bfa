package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/server/internal/shared/config"
	apperrors "github.com/clipforge/server/internal/shared/errors"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/media/")
	require.NoError(t, err)

	t.Run("put then stat", func(t *testing.T) {
		url, err := s.Put(ctx, "audio/t1.mp3", "audio/mpeg", []byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, "/media/audio/t1.mp3", url)

		raw, err := os.ReadFile(filepath.Join(dir, "audio", "t1.mp3"))
		require.NoError(t, err)
		assert.Equal(t, "abc", string(raw))

		info, err := s.Stat(ctx, "audio/t1.mp3")
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.Size)
		assert.Equal(t, "audio/mpeg", info.ContentType)
		assert.False(t, info.ModTime.IsZero())
	})

	t.Run("overwrite", func(t *testing.T) {
		_, err := s.Put(ctx, "videos/v1/timeline.json", "application/json", []byte("{}"))
		require.NoError(t, err)
		_, err = s.Put(ctx, "videos/v1/timeline.json", "application/json", []byte(`{"a":1}`))
		require.NoError(t, err)

		info, err := s.Stat(ctx, "videos/v1/timeline.json")
		require.NoError(t, err)
		assert.Equal(t, int64(7), info.Size)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Stat(ctx, "videos/nope/timeline.json")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("directory is not an object", func(t *testing.T) {
		_, err := s.Stat(ctx, "videos")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("keys cannot escape the root", func(t *testing.T) {
		_, err := s.Put(ctx, "../../escape.txt", "text/plain", []byte("x"))
		require.NoError(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
		assert.NoError(t, statErr)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := s.Put(ctx, "", "text/plain", nil)
		assert.Equal(t, apperrors.CodeInvalidParams, apperrors.Code(err))
	})
}

func TestNew(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		s, err := New(&config.StorageConfig{Backend: "local", LocalDir: t.TempDir(), PublicURL: "/media"})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, s)
	})

	t.Run("incomplete s3", func(t *testing.T) {
		_, err := New(&config.StorageConfig{Backend: "s3", Bucket: "b"})
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(&config.StorageConfig{Backend: "ftp"})
		assert.Error(t, err)
	})
}

// MockObjectAPI records uploads in memory.
type MockObjectAPI struct {
	objects map[string]*s3.PutObjectInput
	body    map[string][]byte
	err     error
}

func NewMockObjectAPI() *MockObjectAPI {
	return &MockObjectAPI{objects: make(map[string]*s3.PutObjectInput), body: make(map[string][]byte)}
}

func (m *MockObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	m.objects[key] = in
	m.body[key] = raw
	return &s3.PutObjectOutput{}, nil
}

func (m *MockObjectAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	key := aws.ToString(in.Key)
	obj, ok := m.objects[key]
	if !ok {
		return nil, &types.NotFound{}
	}
	modified := time.Unix(1700000000, 0)
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(m.body[key]))),
		ContentType:   obj.ContentType,
		LastModified:  &modified,
	}, nil
}

func TestS3Storage(t *testing.T) {
	ctx := context.Background()

	t.Run("put then stat", func(t *testing.T) {
		api := NewMockObjectAPI()
		s := &S3Storage{client: api, bucket: "media", publicURL: "https://cdn.example.com"}

		url, err := s.Put(ctx, "videos/v1/poster.jpg", "image/jpeg", []byte("jpeg"))
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/videos/v1/poster.jpg", url)
		assert.Equal(t, "media", aws.ToString(api.objects["videos/v1/poster.jpg"].Bucket))

		info, err := s.Stat(ctx, "videos/v1/poster.jpg")
		require.NoError(t, err)
		assert.Equal(t, int64(4), info.Size)
		assert.Equal(t, "image/jpeg", info.ContentType)
		assert.Equal(t, int64(1700000000), info.ModTime.Unix())
	})

	t.Run("missing object", func(t *testing.T) {
		s := &S3Storage{client: NewMockObjectAPI(), bucket: "media"}
		_, err := s.Stat(ctx, "nope")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("backend failure", func(t *testing.T) {
		api := NewMockObjectAPI()
		api.err = errors.New("connection reset")
		s := &S3Storage{client: api, bucket: "media"}

		_, err := s.Put(ctx, "k", "", []byte("x"))
		assert.Equal(t, apperrors.CodeStorage, apperrors.Code(err))
		_, err = s.Stat(ctx, "k")
		assert.Equal(t, apperrors.CodeStorage, apperrors.Code(err))
	})
}

func TestDefaultPublicURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000/media",
		defaultPublicURL(&config.StorageConfig{Endpoint: "http://minio:9000/", Bucket: "media"}))
	assert.Equal(t, "https://media.s3.us-east-1.amazonaws.com",
		defaultPublicURL(&config.StorageConfig{Bucket: "media", Region: "us-east-1"}))
}
