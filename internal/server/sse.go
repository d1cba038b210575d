package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
)

// sseWriter writes server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, eris.New("server: streaming unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) event(name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "server: marshal event")
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, raw); err != nil {
		return eris.Wrap(err, "server: write event")
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return eris.Wrap(err, "server: write ping")
	}
	s.flusher.Flush()
	return nil
}

// handleEvents streams progress events until the session ends or the
// client goes away. A session that is already terminal gets one status
// event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusNotImplemented, "event streaming disabled")
		return
	}
	id := chi.URLParam(r, "id")

	// Subscribe before reading status so a terminal event between the two
	// is not lost.
	events, cancel := s.deps.Events.Subscribe(id)
	defer cancel()

	view, ok := s.status(w, r)
	if !ok {
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if view.Status.IsTerminal() {
		sse.event("status", view) //nolint:errcheck
		return
	}

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := sse.event(string(e.Type), e); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.ping(); err != nil {
				return
			}
		}
	}
}
