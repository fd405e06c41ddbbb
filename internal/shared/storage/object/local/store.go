package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"meetingapp-backend/internal/shared/storage/object"
)

// Store implements object.Provider on the local filesystem for development.
type Store struct {
	baseDir string
	root    string
}

// New creates a local provider rooted at baseDir.
func New(baseDir, root string) *Store {
	return &Store{baseDir: baseDir, root: object.NormalizeRoot(root)}
}

// Type implements object.Provider.
func (s *Store) Type() object.Type { return object.TypeLocal }

// Root implements object.Provider.
func (s *Store) Root() string { return s.root }

func (s *Store) resolve(remotePath string) (string, error) {
	clean := filepath.Clean(strings.TrimLeft(filepath.FromSlash(remotePath), string(filepath.Separator)))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid remote path %q", remotePath)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Download copies the stored file to localPath.
func (s *Store) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.resolve(remotePath)
	if err != nil {
		return err
	}
	if _, err := copyFile(src, localPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", object.ErrNotFound, remotePath)
		}
		return err
	}
	return nil
}

// Upload copies localPath into the store.
func (s *Store) Upload(ctx context.Context, localPath, remotePath string) (object.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return object.UploadResult{}, err
	}
	dst, err := s.resolve(remotePath)
	if err != nil {
		return object.UploadResult{}, err
	}
	n, err := copyFile(localPath, dst)
	if err != nil {
		return object.UploadResult{}, err
	}
	return object.UploadResult{Path: remotePath, Size: n}, nil
}

// Delete removes the stored file.
func (s *Store) Delete(ctx context.Context, remotePath string) (object.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return object.DeleteResult{}, err
	}
	target, err := s.resolve(remotePath)
	if err != nil {
		return object.DeleteResult{}, err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return object.DeleteResult{NotFound: true}, nil
		}
		return object.DeleteResult{}, fmt.Errorf("remove: %w", err)
	}
	return object.DeleteResult{Deleted: true}, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("write body: %w", err)
	}
	return n, out.Close()
}

var _ object.Provider = (*Store)(nil)
