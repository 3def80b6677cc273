package intake

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
)

// SelectionControl is the source a Selector reads from, such as a file input.
type SelectionControl interface {
	Files() []Payload
	// Clear resets the control so the same file can be selected again.
	Clear()
}

// Selector adapts pointer-driven file selection.
type Selector struct {
	engine *Engine
}

// NewSelector creates a selection adapter for e.
func NewSelector(e *Engine) *Selector {
	return &Selector{engine: e}
}

// Fire reads the full selection, hands it to the engine and clears the control.
// In single-file mode only the first selected file is read.
func (s *Selector) Fire(ctrl SelectionControl) (AddResult, error) {
	defer ctrl.Clear()

	c := s.engine.Constraints()
	if c.Disabled {
		return AddResult{}, ErrDisabled
	}

	files := ctrl.Files()
	if !c.Multiple && len(files) > 1 {
		files = files[:1]
	}
	return s.engine.AddCandidates(files), nil
}

// DropZone adapts drag-and-drop. It tracks whether a drag is over the zone.
type DropZone struct {
	engine *Engine

	mu     sync.Mutex
	active bool
}

// NewDropZone creates a drag-and-drop adapter for e.
func NewDropZone(e *Engine) *DropZone {
	return &DropZone{engine: e}
}

// Enter marks a drag as active over the zone.
func (z *DropZone) Enter() {
	if z.engine.Constraints().Disabled {
		return
	}
	z.mu.Lock()
	z.active = true
	z.mu.Unlock()
}

// Leave clears the active drag.
func (z *DropZone) Leave() {
	z.mu.Lock()
	z.active = false
	z.mu.Unlock()
}

// Active reports whether a drag is currently over the zone.
func (z *DropZone) Active() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.active
}

// Drop ends the drag and hands the dropped files to the engine.
func (z *DropZone) Drop(files []Payload) (AddResult, error) {
	z.Leave()
	if z.engine.Constraints().Disabled {
		return AddResult{}, ErrDisabled
	}
	return z.engine.AddCandidates(files), nil
}

// ReferenceSource supplies one external reference, e.g. by prompting a user.
// An empty reference with a nil error means the user cancelled.
type ReferenceSource func(ctx context.Context) (string, error)

// ImportRequest is a remote reference to import.
type ImportRequest struct {
	Reference string `json:"reference" validate:"required,url"`
	Name      string `json:"name"`
}

// RemoteImporter adapts remote-reference import.
type RemoteImporter struct {
	engine *Engine
}

// NewRemoteImporter creates an import adapter for e.
func NewRemoteImporter(e *Engine) *RemoteImporter {
	return &RemoteImporter{engine: e}
}

// Import asks src for a reference and imports it. It returns false when the
// source yielded nothing.
func (r *RemoteImporter) Import(ctx context.Context, src ReferenceSource) (FileDescriptor, bool, error) {
	ref, err := src(ctx)
	if err != nil {
		return FileDescriptor{}, false, fmt.Errorf("obtain reference: %w", err)
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return FileDescriptor{}, false, nil
	}

	d, err := r.ImportReference(ImportRequest{Reference: ref})
	if err != nil {
		return FileDescriptor{}, false, err
	}
	return d, true, nil
}

// ImportReference validates req and adds an already-successful descriptor for it.
func (r *RemoteImporter) ImportReference(req ImportRequest) (FileDescriptor, error) {
	if r.engine.Constraints().Disabled {
		return FileDescriptor{}, ErrDisabled
	}
	if err := validate.Struct(req); err != nil {
		return FileDescriptor{}, fmt.Errorf("reference %q: %w: %w", req.Reference, ErrInvalidInput, err)
	}

	name := req.Name
	if name == "" {
		name = nameFromReference(req.Reference)
	}
	return r.engine.ImportReference(name, mime.TypeByExtension(path.Ext(name)), req.Reference)
}

// nameFromReference derives a display name from the last path segment.
func nameFromReference(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return u.Host
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}
