package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend stores images on the local filesystem under baseDir and serves
// them from urlPrefix.
type LocalBackend struct {
	baseDir   string
	urlPrefix string
}

func NewLocalBackend(baseDir, urlPrefix string) (*LocalBackend, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/uploads"
	}
	return &LocalBackend{baseDir: abs, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (l *LocalBackend) BaseDir() string { return l.baseDir }

func (l *LocalBackend) Save(ctx context.Context, data []byte, fileName, cardID string) (string, error) {
	rel, err := RelativePath(cardID, fileName)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(l.baseDir, cardID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create card dir: %w", err)
	}

	// write to a temp file in the same directory, then rename into place
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, fileName)); err != nil {
		return "", fmt.Errorf("commit image: %w", err)
	}
	committed = true
	return rel, nil
}

func (l *LocalBackend) Delete(ctx context.Context, relPath string) (bool, error) {
	full, err := l.resolve(relPath)
	if err != nil {
		return false, err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete image: %w", err)
	}

	// drop the card directory once its last image is gone; a concurrent
	// Save may have refilled it, in which case Remove fails and that is fine
	dir := filepath.Dir(full)
	if dir != l.baseDir {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return true, nil
}

func (l *LocalBackend) Exists(ctx context.Context, relPath string) (bool, error) {
	full, err := l.resolve(relPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat image: %w", err)
}

func (l *LocalBackend) URLFor(relPath string) string {
	return l.urlPrefix + "/" + relPath
}

func (l *LocalBackend) resolve(relPath string) (string, error) {
	cardID, fileName, err := SplitPath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.baseDir, cardID, fileName), nil
}
