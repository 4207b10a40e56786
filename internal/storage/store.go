// Package storage holds uploaded artifact files and hands their bytes back
// to the ingestion worker. Paths beginning with http(s) are fetched remotely,
// mirroring signed-URL style object storage; everything else resolves inside
// the local upload directory.
package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrOutsideDir = fmt.Errorf("storage path escapes upload directory")

type FileStore struct {
	dir    string
	client *http.Client
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Save writes the reader under a uuid-prefixed name and returns the storage
// path, the sha256 of the content and the byte count.
func (s *FileStore) Save(name string, r io.Reader) (string, string, int64, error) {
	filename := fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(name))
	path := filepath.Join(s.dir, filename)

	dst, err := os.Create(path) // #nosec G304 -- path is UUID-based inside the upload dir
	if err != nil {
		return "", "", 0, fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), r)
	if err != nil {
		os.Remove(path)
		return "", "", 0, fmt.Errorf("write file: %w", err)
	}

	return filename, fmt.Sprintf("%x", hash.Sum(nil)), n, nil
}

func (s *FileStore) Download(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return s.fetch(ctx, path)
	}

	full := filepath.Join(s.dir, filepath.Clean("/"+path))
	rel, err := filepath.Rel(s.dir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, ErrOutsideDir
	}

	data, err := os.ReadFile(full) // #nosec G304 -- path is confined to the upload dir above
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return data, nil
}

func (s *FileStore) Remove(path string) error {
	full := filepath.Join(s.dir, filepath.Clean("/"+path))
	return os.Remove(full)
}

func (s *FileStore) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
