package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wendui/wendui/internal/chatruntime"
	"github.com/wendui/wendui/internal/stream"
)

// SSE framing: each event is "data: " + JSON + two newlines, and every stream
// ends with "data: [DONE]" so clients never hang waiting for a conclusion.

const sseDone = "[DONE]"

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "unsupported", "streaming unsupported by connection")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) done() {
	_, _ = fmt.Fprintf(s.w, "data: %s\n\n", sseDone)
	s.flusher.Flush()
}

type streamEvent struct {
	Type    string `json:"type"`
	TurnID  string `json:"turn_id,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

func eventFromPayload(p stream.Payload) streamEvent {
	return streamEvent{
		Type:    string(p.Type),
		TurnID:  p.TurnID,
		Content: p.Content,
		Message: p.Message,
	}
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	var req chatruntime.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	start, err := s.service.StartTurn(r.Context(), userID(r), conv.ID, req)
	if err != nil {
		respondDataError(w, err)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		s.service.Unwatch(start.Session, start.Queue)
		return
	}
	defer s.service.Unwatch(start.Session, start.Queue)

	if err := sse.event(streamEvent{Type: "start", TurnID: start.TurnID}); err != nil {
		return
	}
	s.pumpSSE(r, sse, start.Queue)
}

func (s *Server) handleWatchStream(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}
	session, queue, snapshot, live := s.service.Watch(conv.ID)
	if !live {
		// Nothing in flight: an immediate end-of-stream.
		sse.done()
		return
	}
	defer s.service.Unwatch(session, queue)

	if err := sse.event(streamEvent{Type: "snapshot", TurnID: session.TurnID, Content: snapshot}); err != nil {
		return
	}
	s.pumpSSE(r, sse, queue)
}

// pumpSSE relays broker payloads to the client until the done sentinel or the
// client disconnects. The producer is unaffected either way.
func (s *Server) pumpSSE(r *http.Request, sse *sseWriter, queue <-chan stream.Payload) {
	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-queue:
			if p.Type == stream.PayloadDone {
				sse.done()
				return
			}
			if err := sse.event(eventFromPayload(p)); err != nil {
				return
			}
		}
	}
}

// handleWatchStreamWS is the WebSocket variant of watch: the same payloads as
// JSON frames.
func (s *Server) handleWatchStreamWS(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	session, queue, snapshot, live := s.service.Watch(conv.ID)
	if !live {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = conn.WriteJSON(streamEvent{Type: string(stream.PayloadDone)})
		return
	}
	defer s.service.Unwatch(session, queue)

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(streamEvent{Type: "snapshot", TurnID: session.TurnID, Content: snapshot}); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(eventFromPayload(p)); err != nil {
				return
			}
			if p.Type == stream.PayloadDone {
				return
			}
		}
	}
}
