//go:generate go run go.uber.org/mock/mockgen -source=sink.go -destination=../../mocks/mock_sink.go -package=mocks

// Package storage moves accepted payloads to their destination and hands the
// resulting references back to the intake engine.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/intake/internal/intake"
)

// Sink stores one object and returns a reference to it.
type Sink interface {
	Put(ctx context.Context, key, mediaType string, r io.Reader, size int64) (string, error)
}

// NewKey builds a storage key of the form uploads/yyyy/mm/dd/<uuid>/<name>.
func NewKey(name string, now time.Time) string {
	return fmt.Sprintf("uploads/%04d/%02d/%02d/%s/%s",
		now.Year(), now.Month(), now.Day(), uuid.New(), safeName(name))
}

// safeName reduces a client-supplied name to a single path segment.
func safeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "file"
	}
	return base
}

// UploadFunc adapts s to the per-file upload callback.
func UploadFunc(s Sink) intake.UploadFunc {
	return func(ctx context.Context, p intake.Payload) (string, error) {
		return put(ctx, s, p)
	}
}

// BatchUploadFunc adapts s to the batch upload callback. The batch fails as a
// whole on the first payload that cannot be stored.
func BatchUploadFunc(s Sink) intake.BatchUploadFunc {
	return func(ctx context.Context, batch []intake.Payload) ([]string, error) {
		refs := make([]string, 0, len(batch))
		for _, p := range batch {
			ref, err := put(ctx, s, p)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		return refs, nil
	}
}

func put(ctx context.Context, s Sink, p intake.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rc, err := p.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p.Name(), err)
	}
	defer rc.Close()

	ref, err := s.Put(ctx, NewKey(p.Name(), time.Now().UTC()), p.MediaType(), rc, p.Size())
	if err != nil {
		return "", fmt.Errorf("store %s: %w", p.Name(), err)
	}
	return ref, nil
}
