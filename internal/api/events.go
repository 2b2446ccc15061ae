package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleEvents streams session events as Server-Sent Events. The optional
// session query parameter filters to one identity.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	identity := r.URL.Query().Get("session")

	events := s.store.Events()
	ch := events.Subscribe()
	defer events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if identity != "" && event.Identity != identity {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to encode event")
				continue
			}
			w.Write([]byte("event: " + string(event.Type) + "\ndata: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// handleEventHistory returns the retained events of one session.
func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Events().History(chi.URLParam(r, "id")))
}
