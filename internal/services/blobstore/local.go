package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps blobs under a base directory.
type LocalStore struct {
	basePath string
}

func NewLocalStore(basePath string) (*LocalStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		basePath = "./data/media"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) Name() string   { return BackendLocal }
func (s *LocalStore) External() bool { return false }

func (s *LocalStore) Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("blob body is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := newToken(suggestedName)
	fullPath := s.path(token)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("commit blob file: %w", err)
	}

	return token, nil
}

func (s *LocalStore) Download(ctx context.Context, token string, w io.Writer) error {
	if !validToken(token) {
		return ErrInvalidToken
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Open(s.path(token))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("open blob file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("read blob file: %w", err)
	}
	return nil
}

// Delete is idempotent.
func (s *LocalStore) Delete(_ context.Context, token string) error {
	if !validToken(token) {
		return ErrInvalidToken
	}
	if err := os.Remove(s.path(token)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

func (s *LocalStore) path(token string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(token))
}
