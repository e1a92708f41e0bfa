package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipforge/server/internal/module/generation"
	"github.com/clipforge/server/internal/shared/config"
	apperrors "github.com/clipforge/server/internal/shared/errors"
)

// LocalStorage stores media on the local filesystem.
type LocalStorage struct {
	root      string
	publicURL string
}

var _ generation.Storage = (*LocalStorage)(nil)

// NewLocalStorage creates a filesystem backed storage rooted at dir.
func NewLocalStorage(dir, publicURL string) (*LocalStorage, error) {
	if dir == "" {
		return nil, errors.New("local storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{
		root:      dir,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Root returns the directory media is written to.
func (s *LocalStorage) Root() string {
	return s.root
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", apperrors.InvalidParams("invalid storage key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes data under key and returns its public URL.
func (s *LocalStorage) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", apperrors.Storage("create dir", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", apperrors.Storage("write file", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", apperrors.Storage("rename file", err)
	}
	return s.publicURL + "/" + strings.TrimLeft(key, "/"), nil
}

// Stat returns file metadata.
func (s *LocalStorage) Stat(_ context.Context, key string) (*generation.ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("object", key)
		}
		return nil, apperrors.Storage("stat file", err)
	}
	if fi.IsDir() {
		return nil, apperrors.NotFound("object", key)
	}
	return &generation.ObjectInfo{
		Key:         key,
		Size:        fi.Size(),
		ContentType: contentTypeFor(filepath.Ext(p)),
		ModTime:     fi.ModTime(),
	}, nil
}

var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".json": "application/json",
	".jpg":  "image/jpeg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

func contentTypeFor(ext string) string {
	if ct, ok := mediaTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// New creates the storage backend selected by cfg.Backend.
func New(cfg *config.StorageConfig) (generation.Storage, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Storage(cfg)
	case "local", "":
		return NewLocalStorage(cfg.LocalDir, cfg.PublicURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
