package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FSSink stores objects on the local filesystem.
type FSSink struct {
	dataDir       string
	publicBaseURL string
}

// NewFSSink creates a filesystem sink rooted at dataDir. When publicBaseURL is
// set, references are <publicBaseURL>/<key>; otherwise they are file URLs.
func NewFSSink(dataDir, publicBaseURL string) *FSSink {
	return &FSSink{
		dataDir:       dataDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Put writes r under key and returns its reference.
func (s *FSSink) Put(ctx context.Context, key, mediaType string, r io.Reader, size int64) (string, error) {
	filePath, err := s.path(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, contextReader{ctx: ctx, r: r})
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("wrote %d of %d bytes", written, size)
	}
	if err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("failed to write file content: %w", err)
	}

	return s.reference(key, filePath)
}

// path maps key into the data directory, refusing keys that escape it.
func (s *FSSink) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dataDir, clean), nil
}

func (s *FSSink) reference(key, filePath string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", filePath, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
