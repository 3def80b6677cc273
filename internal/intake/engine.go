package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Snapshot is the consumer-visible state of an engine.
type Snapshot struct {
	Entries   []FileDescriptor `json:"entries"`
	Uploading bool             `json:"uploading"`
	LastError string           `json:"lastError,omitempty"`
}

// AddResult is what an intake event produced.
type AddResult struct {
	Accepted   []FileDescriptor `json:"accepted"`
	Rejections []Rejection      `json:"rejections"`
}

// RunResult is the outcome of an upload run. Entries holds the final state of
// the descriptors accepted by the run that are still in the store.
type RunResult struct {
	Entries    []FileDescriptor
	Rejections []Rejection
	Err        error
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator injects the descriptor identifier source.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.store = NewStore(g) }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithProgress sets the simulated progress step and cadence used by RunPerFileUpload.
func WithProgress(step int, interval time.Duration) Option {
	return func(e *Engine) {
		e.progressStep = step
		e.progressInterval = interval
	}
}

// WithAbortOnError controls whether RunPerFileUpload stops at the first failure.
func WithAbortOnError(abort bool) Option {
	return func(e *Engine) { e.abortOnError = abort }
}

// Engine is the file intake and upload orchestrator for one interaction.
type Engine struct {
	store    *Store
	previews *PreviewManager
	log      *slog.Logger

	progressStep     int
	progressInterval time.Duration
	abortOnError     bool

	// intakeMu makes validate-then-append atomic.
	intakeMu sync.Mutex
	// runMu serializes upload runs.
	runMu sync.Mutex

	mu          sync.Mutex
	constraints Constraints
	uploading   bool
	lastError   string
	listeners   []chan Snapshot
}

// New creates an engine enforcing c.
func New(c Constraints, opts ...Option) *Engine {
	e := &Engine{
		previews:         NewPreviewManager(),
		constraints:      c,
		progressStep:     DefaultProgressStep,
		progressInterval: DefaultProgressInterval,
		abortOnError:     true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewStore(nil)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Constraints returns the constraints currently enforced.
func (e *Engine) Constraints() Constraints {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.constraints
}

// SetConstraints replaces the constraints for subsequent intake events.
func (e *Engine) SetConstraints(c Constraints) error {
	if err := c.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.constraints = c
	e.mu.Unlock()
	return nil
}

// Previews returns the engine's preview manager.
func (e *Engine) Previews() *PreviewManager {
	return e.previews
}

// AddCandidates validates payloads against the current store and appends the
// accepted ones as pending. Rejections never touch the store.
func (e *Engine) AddCandidates(payloads []Payload) AddResult {
	res := e.add(payloads, StatusPending)
	e.notify()
	return res
}

// add validates and appends payloads with the given initial status without
// notifying subscribers.
func (e *Engine) add(payloads []Payload, status Status) AddResult {
	e.intakeMu.Lock()
	c := e.Constraints()
	vr := Validate(e.store.Len(), c, payloads)

	accepted := make([]FileDescriptor, 0, len(vr.Accepted))
	for _, p := range vr.Accepted {
		d := e.store.Append(p, status)
		if c.Preview {
			d = e.attachPreview(d)
		}
		accepted = append(accepted, d)
	}
	e.intakeMu.Unlock()

	e.setLastError(joinRejections(vr.Rejections))
	if len(vr.Rejections) > 0 {
		e.log.Debug("candidates rejected",
			"rejected", len(vr.Rejections),
			"accepted", len(accepted),
		)
	}

	return AddResult{Accepted: accepted, Rejections: vr.Rejections}
}

// ImportReference adds a descriptor for content that already lives at ref.
// It starts in success and never enters the upload state machine. Count and
// single-file constraints still apply.
func (e *Engine) ImportReference(name, mediaType, ref string) (FileDescriptor, error) {
	e.intakeMu.Lock()
	c := e.Constraints()
	c.MaxFileSize = 0
	c.Accept = "*"
	p := remotePayload{name: name, mediaType: mediaType}

	vr := Validate(e.store.Len(), c, []Payload{p})
	if len(vr.Rejections) > 0 {
		e.intakeMu.Unlock()
		rej := vr.Rejections[0]
		e.setLastError(rej.Message)
		e.notify()
		return FileDescriptor{}, &RejectionError{Rejection: rej}
	}

	d := e.store.AppendDescriptor(FileDescriptor{
		Payload:         p,
		Status:          StatusSuccess,
		Progress:        100,
		RemoteReference: ref,
	})
	e.intakeMu.Unlock()

	e.setLastError("")
	e.notify()
	return d, nil
}

// UpdateDescriptor applies patch to the descriptor with the given id.
// Terminal descriptors never change status, progress never decreases while
// uploading, and a remote reference or error message may only accompany the
// matching terminal status.
func (e *Engine) UpdateDescriptor(id string, patch Patch) (FileDescriptor, error) {
	var (
		releaseRef string
		reacquire  bool
	)

	d, err := e.store.Update(id, func(d *FileDescriptor) error {
		next := *d

		if patch.Status != nil && *patch.Status != d.Status {
			if !canTransition(d.Status, *patch.Status) {
				return fmt.Errorf("%s -> %s: %w", d.Status, *patch.Status, ErrInvalidTransition)
			}
			next.Status = *patch.Status
		}

		if patch.Progress != nil {
			p := *patch.Progress
			if p < 0 || p > 100 {
				return fmt.Errorf("progress %d out of range: %w", p, ErrInvalidTransition)
			}
			if next.Status == StatusUploading && d.Status == StatusUploading && p < d.Progress {
				return fmt.Errorf("progress %d < %d: %w", p, d.Progress, ErrInvalidTransition)
			}
			next.Progress = p
		}

		if patch.RemoteReference != nil {
			next.RemoteReference = *patch.RemoteReference
		}
		if patch.ErrorMessage != nil {
			next.ErrorMessage = *patch.ErrorMessage
		}

		switch next.Status {
		case StatusSuccess:
			next.Progress = 100
			next.ErrorMessage = ""
		case StatusError:
			next.RemoteReference = ""
		default:
			if next.RemoteReference != "" || next.ErrorMessage != "" {
				return fmt.Errorf("outcome fields on %s descriptor: %w", next.Status, ErrInvalidTransition)
			}
		}

		if patch.Payload != nil {
			if d.Status == StatusUploading {
				return fmt.Errorf("replace payload while uploading: %w", ErrInvalidTransition)
			}
			next.Payload = patch.Payload
			next.Name = patch.Payload.Name()
			next.Size = patch.Payload.Size()
			next.MediaType = patch.Payload.MediaType()
			reacquire = true
		}

		if next.PreviewReference != "" && (reacquire || next.RemoteReference != "") {
			releaseRef = next.PreviewReference
			next.PreviewReference = ""
		}

		*d = next
		return nil
	})
	if err != nil {
		return d, err
	}

	if releaseRef != "" {
		e.previews.Release(releaseRef)
	}
	if reacquire && e.Constraints().Preview {
		d = e.attachPreview(d)
	}

	e.notify()
	return d, nil
}

// RemoveDescriptor removes the descriptor and releases its preview.
func (e *Engine) RemoveDescriptor(id string) error {
	d, ok := e.store.Remove(id)
	if !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	e.previews.Release(d.PreviewReference)
	e.notify()
	return nil
}

// Reset clears the store, releases all previews and clears the aggregate flags.
func (e *Engine) Reset() {
	for _, d := range e.store.Clear() {
		e.previews.Release(d.PreviewReference)
	}

	e.mu.Lock()
	e.uploading = false
	e.lastError = ""
	e.mu.Unlock()

	e.notify()
}

// Entries returns the descriptors in insertion order.
func (e *Engine) Entries() []FileDescriptor {
	return e.store.List()
}

// Get returns one descriptor.
func (e *Engine) Get(id string) (FileDescriptor, bool) {
	return e.store.Get(id)
}

// Uploading reports whether an upload run is in progress.
func (e *Engine) Uploading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploading
}

// LastError returns the most recent aggregate error message, or "".
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// Snapshot returns the full observable state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// snapshotLocked requires e.mu.
func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Entries:   e.store.List(),
		Uploading: e.uploading,
		LastError: e.lastError,
	}
}

// RunBatchUpload accepts payloads and uploads the accepted batch with one call to fn.
func (e *Engine) RunBatchUpload(ctx context.Context, payloads []Payload, fn BatchUploadFunc) RunResult {
	return e.Run(ctx, payloads, BatchStrategy{Upload: fn})
}

// RunPerFileUpload accepts payloads and uploads them one at a time with fn,
// using the engine's progress and abort settings.
func (e *Engine) RunPerFileUpload(ctx context.Context, payloads []Payload, fn UploadFunc) RunResult {
	return e.Run(ctx, payloads, PerFileStrategy{
		Upload:       fn,
		Step:         e.progressStep,
		Interval:     e.progressInterval,
		AbortOnError: e.abortOnError,
	})
}

// Run accepts payloads and drives the accepted descriptors through s.
// Runs are serialized; a run blocks until the previous one returns.
func (e *Engine) Run(ctx context.Context, payloads []Payload, s Strategy) RunResult {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	// Stored as uploading; first published together with the run flag.
	added := e.add(payloads, StatusUploading)
	result := RunResult{Rejections: added.Rejections}
	if len(added.Accepted) == 0 {
		e.notify()
		return result
	}
	batch := added.Accepted

	e.setUploading(true)
	defer e.setUploading(false)

	log := e.log.With("strategy", s.name(), "files", len(batch))
	log.Info("upload run started")
	start := time.Now()

	result.Err = s.run(ctx, e, batch)

	result.Entries = lo.FilterMap(batch, func(d FileDescriptor, _ int) (FileDescriptor, bool) {
		return e.store.Get(d.ID)
	})

	if result.Err != nil {
		log.Warn("upload run failed", "error", result.Err, "duration_ms", time.Since(start).Milliseconds())
	} else {
		log.Info("upload run completed", "duration_ms", time.Since(start).Milliseconds())
	}
	return result
}

// Subscribe returns a channel that receives a snapshot after every change,
// starting with the current state. Slow readers only ever miss intermediate
// snapshots, never the latest one. Call the returned function to unsubscribe.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	e.mu.Lock()
	ch <- e.snapshotLocked()
	e.listeners = append(e.listeners, ch)
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, l := range e.listeners {
				if l == ch {
					e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// Close closes every subscriber channel.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.listeners {
		close(ch)
	}
	e.listeners = nil
}

// notify sends the current snapshot to all listeners. The snapshot is taken
// under e.mu so listeners see states in order.
func (e *Engine) notify() {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snapshotLocked()
	for _, ch := range e.listeners {
		select {
		case ch <- snap:
		default:
			// Drop the oldest pending snapshot so the latest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (e *Engine) setUploading(v bool) {
	e.mu.Lock()
	e.uploading = v
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.lastError = msg
	e.mu.Unlock()
}

func (e *Engine) failRun(msg string) {
	e.setLastError(msg)
	e.notify()
}

// attachPreview acquires a preview for d and records it on the stored descriptor.
func (e *Engine) attachPreview(d FileDescriptor) FileDescriptor {
	ref, ok := e.previews.Acquire(d)
	if !ok {
		return d
	}
	updated, err := e.store.Update(d.ID, func(d *FileDescriptor) error {
		d.PreviewReference = ref
		return nil
	})
	if err != nil {
		e.previews.Release(ref)
		return d
	}
	return updated
}

// inFlight reports whether the descriptor is still stored and not terminal.
func (e *Engine) inFlight(id string) bool {
	d, ok := e.store.Get(id)
	return ok && !d.Status.Terminal()
}

// advance adds step to an uploading descriptor's progress, never past limit.
func (e *Engine) advance(id string, step, limit int) {
	changed := false
	_, err := e.store.Update(id, func(d *FileDescriptor) error {
		if d.Status != StatusUploading || d.Progress >= limit {
			return nil
		}
		d.Progress = min(d.Progress+step, limit)
		changed = true
		return nil
	})
	if err == nil && changed {
		e.notify()
	}
}

// succeed moves an uploading descriptor to success and releases its preview.
func (e *Engine) succeed(id, ref string) {
	var preview string
	_, err := e.store.Update(id, func(d *FileDescriptor) error {
		if d.Status.Terminal() {
			return ErrInvalidTransition
		}
		d.Status = StatusSuccess
		d.Progress = 100
		d.RemoteReference = ref
		d.ErrorMessage = ""
		if ref != "" {
			preview = d.PreviewReference
			d.PreviewReference = ""
		}
		return nil
	})
	if err != nil {
		return
	}
	e.previews.Release(preview)
	e.notify()
}

// fail moves an uploading descriptor to error.
func (e *Engine) fail(id, msg string) {
	_, err := e.store.Update(id, func(d *FileDescriptor) error {
		if d.Status.Terminal() {
			return ErrInvalidTransition
		}
		d.Status = StatusError
		d.RemoteReference = ""
		d.ErrorMessage = msg
		return nil
	})
	if err == nil {
		e.notify()
	}
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusUploading || to == StatusSuccess || to == StatusError
	case StatusUploading:
		return to == StatusSuccess || to == StatusError
	default:
		return false
	}
}

func joinRejections(rejections []Rejection) string {
	return strings.Join(lo.Map(rejections, func(r Rejection, _ int) string {
		return r.Message
	}), "; ")
}
