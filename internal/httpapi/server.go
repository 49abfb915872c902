package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/chatruntime"
	"github.com/wendui/wendui/internal/config"
	"github.com/wendui/wendui/internal/observability"
	"github.com/wendui/wendui/internal/provider"
	"github.com/wendui/wendui/internal/skill"
	"github.com/wendui/wendui/internal/suggest"
)

type Server struct {
	cfg      config.Config
	store    chat.Store
	skills   skill.Store
	registry *provider.Registry
	service  *chatruntime.Service
	drafts   *suggest.DraftMiner
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	store chat.Store,
	skills skill.Store,
	registry *provider.Registry,
	service *chatruntime.Service,
	drafts *suggest.DraftMiner,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		skills:   skills,
		registry: registry,
		service:  service,
		drafts:   drafts,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/ai/models", s.handleListModels)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/conversations", s.handleCreateConversation)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Delete("/v1/conversations/{id}", s.handleDeleteConversation)
	r.Get("/v1/conversations/{id}/turns", s.handleListTurns)

	r.Post("/v1/conversations/{id}/stream", s.handleStartStream)
	r.Get("/v1/conversations/{id}/stream/watch", s.handleWatchStream)
	r.Get("/v1/conversations/{id}/stream/ws", s.handleWatchStreamWS)

	r.Get("/v1/conversations/{id}/suggestions", s.handleListSuggestions)
	r.Patch("/v1/conversations/{id}/suggestions/{sid}", s.handleResolveSuggestion)
	r.Get("/v1/conversations/{id}/draft-suggestions", s.handleListDrafts)
	r.Patch("/v1/conversations/{id}/draft-suggestions/{sid}", s.handleResolveDraft)
	r.Post("/v1/conversations/{id}/draft-suggestions/{sid}/accept", s.handleAcceptDraft)

	r.Post("/v1/skills", s.handleCreateSkill)
	r.Get("/v1/skills", s.handleListSkills)
	r.Get("/v1/skills/search", s.handleSearchSkills)
	r.Get("/v1/skills/{id}", s.handleGetSkill)
	r.Patch("/v1/skills/{id}", s.handleUpdateSkill)
	r.Delete("/v1/skills/{id}", s.handleDeleteSkill)
	r.Get("/v1/skills/{id}/versions", s.handleListVersions)
	r.Post("/v1/skills/{id}/versions", s.handleCreateVersion)
	r.Get("/v1/skills/{id}/versions/{number}", s.handleGetVersion)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"models": len(s.registry.ListModels()),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"models": s.registry.ListModels()})
}

// userID resolves the caller identity. Auth is out of scope; the surrounding
// deployment injects X-User-ID.
func userID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		return "anonymous"
	}
	return id
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDataError maps the data-error taxonomy onto status codes.
func respondDataError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, skill.ErrNotFound), errors.Is(err, skill.ErrVersionNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, chat.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, chat.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, chatruntime.ErrUnknownModel):
		respondError(w, http.StatusBadRequest, "unknown_model", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
