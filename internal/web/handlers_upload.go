package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/JonMunkholm/intake/internal/intake"
	"github.com/JonMunkholm/intake/internal/logging"
)

// multipartMemory is how much of a multipart form is kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

type uploadResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Files  int    `json:"files"`
}

// formSelection is the selection control behind a multipart request.
type formSelection struct {
	files []intake.Payload
}

func (f *formSelection) Files() []intake.Payload { return f.files }
func (f *formSelection) Clear()                  { f.files = nil }

// handleSelect feeds the request's "file" parts through the selection adapter.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	payloads, err := s.readPayloads(w, r)
	if err != nil {
		s.respondPayloadError(w, r, err)
		return
	}

	res, err := sess.Selector.Fire(&formSelection{files: payloads})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, res)
}

// handleDrop feeds the request's "file" parts through the drag-and-drop adapter.
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	payloads, err := s.readPayloads(w, r)
	if err != nil {
		s.respondPayloadError(w, r, err)
		return
	}

	sess.DropZone.Enter()
	res, err := sess.DropZone.Drop(payloads)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, res)
}

// handleImport adds an already-hosted file by reference.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req intake.ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: empty request body", intake.ErrInvalidInput)
		}
		respondError(w, r, err, 0)
		return
	}

	d, err := sess.Importer.ImportReference(req)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSONStatus(w, http.StatusCreated, d)
}

// handleUpload starts an upload run for the request's files in the background.
// Progress and outcomes are delivered through the events stream.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if sess.Engine.Constraints().Disabled {
		respondError(w, r, intake.ErrDisabled, 0)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "per-file"
	}

	payloads, err := s.readPayloads(w, r)
	if err != nil {
		s.respondPayloadError(w, r, err)
		return
	}

	var run func(ctx context.Context) intake.RunResult
	switch {
	case mode == "batch" && s.opts.BatchUpload != nil:
		run = func(ctx context.Context) intake.RunResult {
			return sess.Engine.RunBatchUpload(ctx, payloads, s.opts.BatchUpload)
		}
	case mode == "per-file" && s.opts.Upload != nil:
		run = func(ctx context.Context) intake.RunResult {
			return sess.Engine.RunPerFileUpload(ctx, payloads, s.opts.Upload)
		}
	default:
		respondError(w, r, fmt.Errorf("%w: upload mode %q is not available", intake.ErrInvalidInput, mode), 0)
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err, 0)
		return
	}

	logger := logging.WithFields(r.Context(), "session_id", sess.ID, "mode", mode)
	go func() {
		defer s.limiter.Release()

		res := run(s.runCtx)
		if res.Err != nil {
			logger.Warn("upload run finished with errors",
				"error", res.Err,
				"entries", len(res.Entries),
				"rejected", len(res.Rejections),
			)
			return
		}
		logger.Info("upload run finished",
			"entries", len(res.Entries),
			"rejected", len(res.Rejections),
		)
	}()

	writeJSONStatus(w, http.StatusAccepted, uploadResponse{
		Status: "started",
		Mode:   mode,
		Files:  len(payloads),
	})
}

// readPayloads loads every "file" part of a multipart request into memory so
// the payloads outlive the request.
func (s *Server) readPayloads(w http.ResponseWriter, r *http.Request) ([]intake.Payload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	payloads := make([]intake.Payload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		payloads = append(payloads, intake.NewBytesPayload(fh.Filename, fh.Header.Get("Content-Type"), data))
	}
	return payloads, nil
}

func (s *Server) respondPayloadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", intake.ErrInvalidInput, tooLarge.Limit), http.StatusRequestEntityTooLarge)
		return
	}
	respondError(w, r, fmt.Errorf("%w: invalid multipart form: %w", intake.ErrInvalidInput, err), 0)
}
