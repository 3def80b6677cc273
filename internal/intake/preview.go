package intake

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PreviewScheme prefixes every local preview reference.
const PreviewScheme = "preview://"

// PreviewManager hands out local, non-network references that let a renderer
// show an image payload before it has a remote reference. Every reference must
// be released exactly once.
type PreviewManager struct {
	mu       sync.Mutex
	refs     map[string]Payload
	released int
}

// NewPreviewManager creates an empty manager.
func NewPreviewManager() *PreviewManager {
	return &PreviewManager{refs: make(map[string]Payload)}
}

// Acquire creates a preview reference for d when it is an image without a
// remote reference. It returns false when no preview applies.
func (m *PreviewManager) Acquire(d FileDescriptor) (string, bool) {
	if d.Payload == nil || !d.IsImage() || d.RemoteReference != "" {
		return "", false
	}

	ref := PreviewScheme + uuid.NewString()

	m.mu.Lock()
	m.refs[ref] = d.Payload
	m.mu.Unlock()

	return ref, true
}

// Release frees ref. It returns false if ref was unknown or already released.
func (m *PreviewManager) Release(ref string) bool {
	if ref == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refs[ref]; !ok {
		return false
	}
	delete(m.refs, ref)
	m.released++
	return true
}

// Open streams the payload behind a live reference. Both the full reference
// and its bare token are accepted.
func (m *PreviewManager) Open(ref string) (io.ReadCloser, string, error) {
	if !strings.HasPrefix(ref, PreviewScheme) {
		ref = PreviewScheme + ref
	}

	m.mu.Lock()
	p, ok := m.refs[ref]
	m.mu.Unlock()

	if !ok {
		return nil, "", fmt.Errorf("preview %s: %w", ref, ErrNotFound)
	}

	rc, err := p.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open preview %s: %w", ref, err)
	}
	return rc, p.MediaType(), nil
}

// Active returns the number of live references.
func (m *PreviewManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}

// releaseCount returns how many references have been released so far.
func (m *PreviewManager) releaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
