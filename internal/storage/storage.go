// Package storage retrieves uploaded CSV files to the local filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Downloader copies one object to a local file and returns its path
type Downloader interface {
	Download(ctx context.Context, bucket, key string) (string, error)
}

// localPath picks the destination of a download inside dir. Only the
// base name of the key is kept, matching the upload naming scheme.
func localPath(dir, key string) (string, error) {
	name := filepath.Base(filepath.FromSlash(key))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// writeFile streams r into path, removing partial files on error
func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func samePath(a, b string) bool {
	if fa, err := os.Stat(a); err == nil {
		if fb, err := os.Stat(b); err == nil {
			return os.SameFile(fa, fb)
		}
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// tempPath reserves a fresh file name next to name inside dir
func tempPath(dir, name string) (string, error) {
	f, err := os.CreateTemp(dir, "*-"+name)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	return path, nil
}

// LocalStore resolves bucket/key below a root directory. Used for local
// runs where the "bucket" is a folder of exported CSV files.
type LocalStore struct {
	Root string
	Dir  string
}

// NewLocalStore creates a LocalStore copying files into dir
func NewLocalStore(root, dir string) *LocalStore {
	return &LocalStore{Root: root, Dir: dir}
}

// Download copies root/bucket/key into the download directory
func (s *LocalStore) Download(ctx context.Context, bucket, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src := filepath.Join(s.Root, filepath.FromSlash(bucket), filepath.FromSlash(key))
	rel, err := filepath.Rel(s.Root, src)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("object %s/%s escapes storage root", bucket, key)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open object: %w", err)
	}
	defer in.Close()

	dst, err := localPath(s.Dir, key)
	if err != nil {
		return "", err
	}
	// Callers remove downloads when done, so the source is never returned
	if samePath(dst, src) {
		if dst, err = tempPath(filepath.Dir(dst), filepath.Base(dst)); err != nil {
			return "", err
		}
	}
	if err := writeFile(dst, in); err != nil {
		return "", err
	}
	return dst, nil
}
