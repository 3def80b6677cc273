package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/intake/internal/intake"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

type createSessionRequest struct {
	Constraints *intake.Constraints `json:"constraints"`
}

type createSessionResponse struct {
	SessionID   string             `json:"session_id"`
	Constraints intake.Constraints `json:"constraints"`
}

type healthResponse struct {
	Status   string                  `json:"status"`
	Sessions int                     `json:"sessions"`
	Runs     intake.RunLimiterStatus `json:"runs"`
}

// patchRequest is the JSON form of intake.Patch. Payload replacement is not
// exposed over HTTP.
type patchRequest struct {
	Status          *intake.Status `json:"status"`
	Progress        *int           `json:"progress"`
	RemoteReference *string        `json:"remoteReference"`
	ErrorMessage    *string        `json:"errorMessage"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Len(),
		Runs:     s.limiter.Status(),
	})
}

// handleCreateSession starts a session. The body is optional; constraint
// fields it carries override the server defaults for this session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	c := s.opts.Constraints

	req := createSessionRequest{Constraints: &c}
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, err, 0)
		return
	}
	if err := c.Validate(); err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", intake.ErrInvalidInput, err), 0)
		return
	}

	sess := s.sessions.Create(c)
	writeJSONStatus(w, http.StatusCreated, createSessionResponse{
		SessionID:   sess.ID,
		Constraints: c,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, sess.Engine.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Engine.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// handleSetConstraints replaces the session's constraints for later intake
// events. Fields the body omits keep their current values.
func (s *Server) handleSetConstraints(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	c := sess.Engine.Constraints()
	if err := decodeJSON(w, r, &c); err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: empty request body", intake.ErrInvalidInput)
		}
		respondError(w, r, err, 0)
		return
	}
	if err := sess.Engine.SetConstraints(c); err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", intake.ErrInvalidInput, err), 0)
		return
	}
	writeJSON(w, sess.Engine.Constraints())
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req patchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}

	d, err := sess.Engine.UpdateDescriptor(chi.URLParam(r, "entryID"), intake.Patch{
		Status:          req.Status,
		Progress:        req.Progress,
		RemoteReference: req.RemoteReference,
		ErrorMessage:    req.ErrorMessage,
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Engine.RemoveDescriptor(chi.URLParam(r, "entryID")); err != nil {
		respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the session named in the URL, writing the error response
// when it does not exist.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err, 0)
		return nil, false
	}
	return sess, true
}

// decodeJSON reads a bounded JSON body into v. An empty body yields io.EOF.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("%w: decode request: %w", intake.ErrInvalidInput, err)
	}
	return nil
}
