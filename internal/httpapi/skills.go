package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/skill"
)

type skillRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Visibility  string   `json:"visibility"`
	Avatar      string   `json:"avatar"`
	Content     string   `json:"content"`
}

func (s *Server) handleCreateSkill(w http.ResponseWriter, r *http.Request) {
	var req skillRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	name, normalized, err := skill.EnsureName(req.Name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_name", err.Error())
		return
	}
	visibility := skill.EnsureVisibility(skill.Visibility(req.Visibility))
	if !skill.ValidVisibility(visibility) {
		respondError(w, http.StatusBadRequest, "invalid_visibility", "visibility must be public, private, or unlisted")
		return
	}
	content, err := skill.EnsureContent(req.Content, name, req.Description, s.cfg.SkillContentMaxLen)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_content", err.Error())
		return
	}

	var warnings []string
	if normalized {
		warnings = append(warnings, "name_normalized")
	}

	sk, version, err := s.skills.Create(r.Context(), skill.CreateInput{
		OwnerID:     userID(r),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Tags:        skill.CleanTags(req.Tags),
		Visibility:  visibility,
		Avatar:      strings.TrimSpace(req.Avatar),
		Content:     content,
	})
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"skill":    sk,
		"version":  version,
		"warnings": warnings,
	})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := s.skills.ListVisible(r.Context(), userID(r))
	if err != nil {
		respondDataError(w, err)
		return
	}
	if skills == nil {
		skills = []skill.Skill{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

func (s *Server) handleSearchSkills(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "q is required")
		return
	}
	skills, err := s.skills.Search(r.Context(), userID(r), query)
	if err != nil {
		respondDataError(w, err)
		return
	}
	if skills == nil {
		skills = []skill.Skill{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

// readableSkill loads the skill and enforces read visibility. Unlisted skills
// are readable by ID; private ones only by their owner.
func (s *Server) readableSkill(r *http.Request) (skill.Skill, error) {
	sk, err := s.skills.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return skill.Skill{}, err
	}
	if sk.Deleted {
		return skill.Skill{}, skill.ErrNotFound
	}
	if sk.Visibility == skill.VisibilityPrivate && sk.OwnerID != userID(r) {
		return skill.Skill{}, chat.ErrForbidden
	}
	return sk, nil
}

// ownedSkill is readableSkill plus the owner-only write check.
func (s *Server) ownedSkill(r *http.Request) (skill.Skill, error) {
	sk, err := s.readableSkill(r)
	if err != nil {
		return skill.Skill{}, err
	}
	if sk.OwnerID != userID(r) {
		return skill.Skill{}, chat.ErrForbidden
	}
	return sk, nil
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	sk, err := s.readableSkill(r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sk)
}

func (s *Server) handleUpdateSkill(w http.ResponseWriter, r *http.Request) {
	sk, err := s.ownedSkill(r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	var req struct {
		Description *string  `json:"description"`
		Tags        []string `json:"tags"`
		Visibility  *string  `json:"visibility"`
		Avatar      *string  `json:"avatar"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	upd := skill.MetadataUpdate{Description: req.Description, Avatar: req.Avatar}
	if req.Tags != nil {
		upd.Tags = skill.CleanTags(req.Tags)
	}
	if req.Visibility != nil {
		v := skill.Visibility(*req.Visibility)
		if !skill.ValidVisibility(v) {
			respondError(w, http.StatusBadRequest, "invalid_visibility", "visibility must be public, private, or unlisted")
			return
		}
		upd.Visibility = &v
	}
	updated, err := s.skills.UpdateMetadata(r.Context(), sk.ID, upd)
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSkill(w http.ResponseWriter, r *http.Request) {
	sk, err := s.ownedSkill(r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	if err := s.skills.SoftDelete(r.Context(), sk.ID); err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": sk.ID})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	sk, err := s.readableSkill(r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	versions, err := s.skills.ListVersions(r.Context(), sk.ID)
	if err != nil {
		respondDataError(w, err)
		return
	}
	if versions == nil {
		versions = []skill.Version{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	sk, err := s.ownedSkill(r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	var req struct {
		Content         string `json:"content"`
		ParentVersionID string `json:"parent_version_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	content, err := skill.EnsureContent(req.Content, sk.Name, sk.Description, s.cfg.SkillContentMaxLen)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_content", err.Error())
		return
	}
	version, err := s.skills.CreateVersion(r.Context(), sk.ID, content, userID(r), req.ParentVersionID)
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, version)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	sk, err := s.readableSkill(r)
	if err != nil {
		respondDataError(w, err)
		return
	}
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		respondError(w, http.StatusBadRequest, "invalid_request", "version number must be a positive integer")
		return
	}
	version, err := s.skills.GetVersion(r.Context(), sk.ID, number)
	if err != nil {
		respondDataError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, version)
}
