package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/intake/internal/logging"
)

// keepAliveInterval is how often an idle event stream sends a comment line.
const keepAliveInterval = 15 * time.Second

// handleEvents streams session snapshots via Server-Sent Events. The first
// event is the current state; the stream ends with a "closed" event when the
// session is released or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	updates, unsubscribe := sess.Engine.Subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	logger := logging.WithFields(r.Context(), "session_id", sess.ID)
	eventID := 0

	for {
		select {
		case <-r.Context().Done():
			return

		case <-s.closing:
			fmt.Fprint(w, "event: closed\ndata: {}\n\n")
			rc.Flush()
			return

		case snap, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				rc.Flush()
				return
			}

			data, err := json.Marshal(snap)
			if err != nil {
				logger.Error("encode snapshot", "error", err)
				continue
			}
			eventID++
			fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", eventID, data)
			if err := rc.Flush(); err != nil {
				logger.Debug("event stream closed", "error", err)
				return
			}

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// handlePreview streams the local content behind a preview reference.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	body, mediaType, err := sess.Engine.Previews().Open(chi.URLParam(r, "token"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, body); err != nil {
		logging.FromContext(r.Context()).Debug("preview copy interrupted", "error", err)
	}
}
