package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/tradeprep/internal/session"
	"github.com/example/tradeprep/pkg/models"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiResponse{Success: status >= 200 && status < 300, Data: data}); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}}); err != nil {
		s.log.Error("failed to encode error response", "error", err)
	}
}

// itemView is an item as shown before it is answered: correctness stays hidden
type itemView struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
}

type sessionView struct {
	ID         string                `json:"id"`
	State      string                `json:"state"`
	Category   string                `json:"category"`
	Position   int                   `json:"position"`
	Total      int                   `json:"total"`
	Current    *itemView             `json:"current,omitempty"`
	LastAnswer *session.AnswerResult `json:"last_answer,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func toSessionView(id string, v session.View) sessionView {
	out := sessionView{
		ID:         id,
		State:      v.State.String(),
		Category:   v.Category,
		Position:   v.Position,
		Total:      v.Total,
		LastAnswer: v.LastAnswer,
	}
	if v.Current != nil {
		iv := &itemView{ID: v.Current.ID, Category: v.Current.Category, Prompt: v.Current.Prompt}
		for _, opt := range v.Current.Options {
			iv.Options = append(iv.Options, opt.Text)
		}
		out.Current = iv
	}
	if v.Err != nil {
		out.Error = v.Err.Error()
	}
	return out
}

type categoryRequest struct {
	Category string `json:"category"`
}

// answerRequest grades an option. ItemID, when set, must name the item currently shown.
type answerRequest struct {
	ItemID  string          `json:"item_id,omitempty"`
	Option  *int            `json:"option"`
	Quality *models.Quality `json:"quality,omitempty"`
}

const (
	defaultResultsLimit = 20
	maxResultsLimit     = 100
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.catalog.ListCategories(r.Context())
	if err != nil {
		s.log.Error("failed to list categories", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal_error", "failed to list categories")
		return
	}
	if categories == nil {
		categories = []string{}
	}
	s.respondJSON(w, http.StatusOK, categories)
}

func (s *Server) handleCategoryStats(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "anonymous", "statistics need the "+UserIDHeader+" header")
		return
	}

	stats, err := s.stats.CategoryStats(r.Context(), userID, chi.URLParam(r, "category"), s.now())
	if err != nil {
		s.log.Error("failed to get category statistics", "user_id", userID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal_error", "failed to get statistics")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "anonymous", "results need the "+UserIDHeader+" header")
		return
	}

	limit := defaultResultsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxResultsLimit {
			s.respondError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and "+strconv.Itoa(maxResultsLimit))
			return
		}
		limit = n
	}

	results, err := s.results.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("failed to list session results", "user_id", userID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal_error", "failed to list results")
		return
	}
	if results == nil {
		results = []models.SessionResult{}
	}
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		s.respondError(w, http.StatusBadRequest, "validation_error", "category is required")
		return
	}

	entry := s.sessions.Create(UserIDFromContext(r.Context()))
	view, err := entry.Controller().Start(r.Context(), req.Category)
	if err != nil && !errors.Is(err, session.ErrSuperseded) {
		// the session stays registered so the client can retry via /category
		s.respondJSON(w, http.StatusBadGateway, toSessionView(entry.ID(), view))
		return
	}
	s.respondJSON(w, http.StatusCreated, toSessionView(entry.ID(), view))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Entry, bool) {
	entry, err := s.sessions.Get(chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		return nil, false
	}
	return entry, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, toSessionView(entry.ID(), entry.Controller().View()))
}

func (s *Server) handleChangeCategory(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Category) == "" {
		s.respondError(w, http.StatusBadRequest, "validation_error", "category is required")
		return
	}

	entry.resetRecorded()
	view, err := entry.Controller().Start(r.Context(), strings.TrimSpace(req.Category))
	switch {
	case errors.Is(err, session.ErrSuperseded):
		s.respondError(w, http.StatusConflict, "superseded", "a newer category request replaced this one")
	case err != nil:
		s.respondJSON(w, http.StatusBadGateway, toSessionView(entry.ID(), view))
	default:
		s.respondJSON(w, http.StatusOK, toSessionView(entry.ID(), view))
	}
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Option == nil {
		s.respondError(w, http.StatusBadRequest, "validation_error", "option is required")
		return
	}

	var (
		result session.AnswerResult
		err    error
	)
	if req.Quality != nil {
		result, err = entry.Controller().AnswerItemWithQuality(req.ItemID, *req.Option, *req.Quality)
	} else {
		result, err = entry.Controller().AnswerItem(req.ItemID, *req.Option)
	}
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	view, err := entry.Controller().Advance()
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	if view.State == session.Complete {
		s.recordResult(r.Context(), entry)
	}
	s.respondJSON(w, http.StatusOK, toSessionView(entry.ID(), view))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(chi.URLParam(r, "id"), UserIDFromContext(r.Context())); err != nil {
		s.respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrStaleAnswer):
		s.respondError(w, http.StatusConflict, "stale_answer", err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		s.respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, session.ErrOptionOutOfRange), errors.Is(err, session.ErrInvalidQuality):
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	default:
		s.log.Error("session operation failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal_error", "session operation failed")
	}
}

func (s *Server) recordResult(ctx context.Context, entry *Entry) {
	ctrl := entry.Controller()
	if ctrl.UserID() == "" || s.results == nil || !entry.markRecorded() {
		return
	}

	result := ctrl.Summary()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.results.Create(ctx, &result); err != nil {
		s.log.Error("failed to record session result", "user_id", result.UserID, "error", err)
	}
}
