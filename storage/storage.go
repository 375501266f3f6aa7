package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrInvalidPath = errors.New("invalid storage path")

// Backend persists card images. Every relative path it hands out has the shape
// {cardID}/{fileName}, so a card's images can be removed as one directory.
type Backend interface {
	// Save writes data under the card's directory and returns the relative path.
	// A failed Save leaves either nothing or the complete file behind.
	Save(ctx context.Context, data []byte, fileName, cardID string) (string, error)
	// Delete removes the file at relPath. It reports false, without error, when
	// there was nothing to delete.
	Delete(ctx context.Context, relPath string) (bool, error)
	Exists(ctx context.Context, relPath string) (bool, error)
	// URLFor maps a relative path to a public reference without any I/O.
	URLFor(relPath string) string
}

// Presigner is implemented by backends able to hand out time-limited URLs.
type Presigner interface {
	PresignURL(ctx context.Context, relPath string) (string, error)
}

// RelativePath joins a card ID and file name after checking that neither can
// escape the card's directory.
func RelativePath(cardID, fileName string) (string, error) {
	if err := checkSegment(cardID); err != nil {
		return "", fmt.Errorf("%w: card id: %v", ErrInvalidPath, err)
	}
	if err := checkSegment(fileName); err != nil {
		return "", fmt.Errorf("%w: file name: %v", ErrInvalidPath, err)
	}
	return cardID + "/" + fileName, nil
}

// SplitPath validates relPath and returns its card ID and file name.
func SplitPath(relPath string) (cardID, fileName string, err error) {
	if relPath != path.Clean(relPath) {
		return "", "", fmt.Errorf("%w: %q is not clean", ErrInvalidPath, relPath)
	}
	cardID, fileName, ok := strings.Cut(relPath, "/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q has no card directory", ErrInvalidPath, relPath)
	}
	if _, err := RelativePath(cardID, fileName); err != nil {
		return "", "", err
	}
	return cardID, fileName, nil
}

func checkSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is reserved", s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%q contains a separator", s)
	case strings.ContainsRune(s, 0):
		return errors.New("contains NUL")
	}
	return nil
}
