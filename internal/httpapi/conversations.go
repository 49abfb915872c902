package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wendui/wendui/internal/chat"
)

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// ownConversation loads the conversation and enforces ownership.
func (s *Server) ownConversation(ctx context.Context, r *http.Request) (chat.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return chat.Conversation{}, err
	}
	if conv.UserID != userID(r) {
		return chat.Conversation{}, chat.ErrForbidden
	}
	return conv, nil
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil && err != errEmptyBody {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conv, err := s.store.CreateConversation(r.Context(), userID(r), strings.TrimSpace(req.Title))
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context(), userID(r), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		respondDataError(w, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	if err := s.store.DeleteConversation(r.Context(), conv.ID); err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": conv.ID})
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	turns, err := s.store.ListTurns(r.Context(), conv.ID, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		respondDataError(w, err)
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}
