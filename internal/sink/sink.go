// Package sink stores finished audio artifacts under write-once keys.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrExists is returned when a key has already been written.
var ErrExists = errors.New("sink: key already exists")

// Sink persists artifacts and returns a reference to the stored object.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeKey maps an arbitrary string onto a safe flat object name.
func SanitizeKey(key string) string {
	key = unsafeKeyChars.ReplaceAllString(key, "_")
	key = strings.Trim(key, ".")
	if key == "" {
		return "_"
	}
	return key
}

// FileSink writes artifacts as files under a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates the target directory when missing.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Put writes data to dir/key. The returned reference is the file path.
func (s *FileSink) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, SanitizeKey(key))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, key)
		}
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return path, nil
}
