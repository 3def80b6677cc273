package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	// DefaultProgressStep is the simulated progress added per tick.
	DefaultProgressStep = 10
	// DefaultProgressInterval is the simulated progress cadence.
	DefaultProgressInterval = 200 * time.Millisecond
	// simulatedProgressCap keeps simulated progress below completion.
	simulatedProgressCap = 90
)

// UploadFunc uploads one payload and returns its remote reference.
type UploadFunc func(ctx context.Context, p Payload) (string, error)

// BatchUploadFunc uploads a whole batch. It may return one reference per
// payload, in order; any other length leaves references empty.
type BatchUploadFunc func(ctx context.Context, batch []Payload) ([]string, error)

// Strategy is how a run moves its batch to a terminal state. The only
// implementations are BatchStrategy and PerFileStrategy.
type Strategy interface {
	name() string
	run(ctx context.Context, e *Engine, batch []FileDescriptor) error
}

// BatchStrategy uploads the whole batch with one call. Every descriptor ends
// in the same terminal state.
type BatchStrategy struct {
	Upload BatchUploadFunc
}

func (BatchStrategy) name() string { return "batch" }

func (s BatchStrategy) run(ctx context.Context, e *Engine, batch []FileDescriptor) error {
	batch = lo.Filter(batch, func(d FileDescriptor, _ int) bool { return e.inFlight(d.ID) })
	if len(batch) == 0 {
		return nil
	}
	payloads := lo.Map(batch, func(d FileDescriptor, _ int) Payload { return d.Payload })

	refs, err := callSafely(func() ([]string, error) { return s.Upload(ctx, payloads) })
	if err != nil {
		for _, d := range batch {
			e.fail(d.ID, ErrUploadFailed.Error())
		}
		e.failRun(fmt.Sprintf("%s: %v", ErrUploadFailed, err))
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	for i, d := range batch {
		ref := ""
		if len(refs) == len(batch) {
			ref = refs[i]
		}
		e.succeed(d.ID, ref)
	}
	return nil
}

// PerFileStrategy uploads files one at a time in insertion order. File N+1
// never starts before file N is terminal.
type PerFileStrategy struct {
	Upload UploadFunc
	// Step and Interval drive the simulated progress ticker.
	Step     int
	Interval time.Duration
	// AbortOnError stops the batch at the first failure, leaving later
	// descriptors uploading with no path to completion.
	AbortOnError bool
}

func (PerFileStrategy) name() string { return "per-file" }

func (s PerFileStrategy) run(ctx context.Context, e *Engine, batch []FileDescriptor) error {
	var errs []error

	for i, d := range batch {
		// Removed or already settled by the caller.
		if !e.inFlight(d.ID) {
			continue
		}

		ref, err := s.uploadOne(ctx, e, d)
		if err != nil {
			upErr := &UploadError{FileName: d.Name, Err: err}
			e.fail(d.ID, err.Error())
			e.failRun(upErr.Error())
			errs = append(errs, upErr)

			if s.AbortOnError {
				e.log.Warn("upload aborted after failure",
					"file", d.Name,
					"remaining", len(batch)-i-1,
				)
				return upErr
			}
			continue
		}

		e.succeed(d.ID, ref)
	}

	return errors.Join(errs...)
}

// uploadOne runs the caller's function with a progress ticker scoped to the call.
func (s PerFileStrategy) uploadOne(ctx context.Context, e *Engine, d FileDescriptor) (string, error) {
	step := s.Step
	if step <= 0 {
		step = DefaultProgressStep
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	t := startProgressTicker(interval, func() {
		e.advance(d.ID, step, simulatedProgressCap)
	})
	defer t.Stop()

	return callSafely(func() (string, error) { return s.Upload(ctx, d.Payload) })
}

// progressTicker calls tick at a fixed cadence until stopped.
type progressTicker struct {
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func startProgressTicker(interval time.Duration, tick func()) *progressTicker {
	t := &progressTicker{stop: make(chan struct{})}
	ticker := time.NewTicker(interval)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	return t
}

// Stop halts the ticker and waits until no tick is running.
func (t *progressTicker) Stop() {
	t.once.Do(func() { close(t.stop) })
	t.wg.Wait()
}

// callSafely turns a panic in caller code into an error.
func callSafely[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upload function panicked: %v", r)
		}
	}()
	return fn()
}
