package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/events"
)

// upgrader checks Origin against the same CORS allow-list as the rest of
// the API; an empty allow-list (the default) rejects every cross-origin
// upgrade, matching spec.md §6's "wildcard is not the default".
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // same-origin requests carry no Origin header
	}
	_, ok := s.corsAllow[origin]
	return ok
}

// handleWSStatus streams status transitions over a WebSocket, identical
// payload to the GET /status/{doc_id} body, per spec.md §6: "Status
// updates also available by subscription ... payload identical to the
// GET body." An optional ?doc_id= query param scopes the stream to one
// document.
func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("httpapi: websocket upgrade failed")
		return
	}
	defer conn.Close()

	var pred events.Predicate
	if docID := r.URL.Query().Get("doc_id"); docID != "" {
		pred = events.ByDocID(docID)
	}
	sub := s.bus.Subscribe(pred)
	defer s.bus.Unsubscribe(sub)

	// Detect client-initiated close without blocking the write loop on a
	// dedicated read goroutine, mirroring the common gorilla/websocket
	// ping/read-pump split.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(event.Status); err != nil {
				return
			}
		}
	}
}
