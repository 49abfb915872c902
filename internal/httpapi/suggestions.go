package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wendui/wendui/internal/chat"
)

func suggestionStatusFilter(r *http.Request) (chat.SuggestionStatus, bool) {
	v := strings.TrimSpace(r.URL.Query().Get("status"))
	switch chat.SuggestionStatus(v) {
	case "", chat.StatusPending, chat.StatusAccepted, chat.StatusRejected:
		return chat.SuggestionStatus(v), true
	}
	return "", false
}

func resolveStatusFromBody(r *http.Request) (chat.SuggestionStatus, string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return "", "invalid request body"
	}
	status := chat.SuggestionStatus(strings.TrimSpace(req.Status))
	if status != chat.StatusAccepted && status != chat.StatusRejected {
		return "", "status must be accepted or rejected"
	}
	return status, ""
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	status, ok := suggestionStatusFilter(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown status filter")
		return
	}
	items, err := s.store.ListSuggestions(r.Context(), conv.ID, status)
	if err != nil {
		respondDataError(w, err)
		return
	}
	if items == nil {
		items = []chat.Suggestion{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"suggestions": items})
}

func (s *Server) handleResolveSuggestion(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	status, msg := resolveStatusFromBody(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	sg, err := s.store.GetSuggestion(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		respondDataError(w, err)
		return
	}
	if sg.ConversationID != conv.ID {
		respondDataError(w, chat.ErrNotFound)
		return
	}
	updated, err := s.store.UpdateSuggestionStatus(r.Context(), sg.ID, status)
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	status, ok := suggestionStatusFilter(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown status filter")
		return
	}
	items, err := s.store.ListDraftSuggestions(r.Context(), conv.ID, status)
	if err != nil {
		respondDataError(w, err)
		return
	}
	if items == nil {
		items = []chat.DraftSuggestion{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"draft_suggestions": items})
}

func (s *Server) handleResolveDraft(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	status, msg := resolveStatusFromBody(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	if status == chat.StatusAccepted {
		respondError(w, http.StatusBadRequest, "invalid_request", "use the accept endpoint to accept a draft")
		return
	}
	d, err := s.store.GetDraftSuggestion(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		respondDataError(w, err)
		return
	}
	if d.ConversationID != conv.ID {
		respondDataError(w, chat.ErrNotFound)
		return
	}
	updated, err := s.store.UpdateDraftStatus(r.Context(), d.ID, status, "")
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleAcceptDraft runs the full acceptance path: generate the skill, save
// it privately, mark the draft accepted.
func (s *Server) handleAcceptDraft(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownConversation(r.Context(), r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	var req struct {
		Model string `json:"model"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !s.registry.HasModel(req.Model) {
		respondError(w, http.StatusBadRequest, "unknown_model", "model not available: "+req.Model)
		return
	}
	d, err := s.store.GetDraftSuggestion(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		respondDataError(w, err)
		return
	}
	if d.ConversationID != conv.ID {
		respondDataError(w, chat.ErrNotFound)
		return
	}
	accepted, created, err := s.drafts.Accept(r.Context(), userID(r), d.ID, req.Model)
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"draft": accepted,
		"skill": created,
	})
}
