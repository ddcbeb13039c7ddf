package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"cadence/api/internal/auth"
	"cadence/api/internal/model"
	"cadence/api/internal/rbac"
	"cadence/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.corsOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/session", s.handleSession)
	if s.service.cfg.DevLoginEnabled() {
		r.Post("/api/session/login", s.handleLogin)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Put("/api/identity/gitlab", s.handleBindIdentity)
		r.Delete("/api/identity/gitlab", s.handleUnbindIdentity)

		r.Route("/api/iteration-plan", func(r chi.Router) {
			r.With(s.allow(rbac.ActionRead)).Get("/projects", s.handleListRepositories)
			r.With(s.allow(rbac.ActionRead)).Get("/business-projects", s.handleListBusinessProjects)

			r.Route("/projects/{repoID}", func(r chi.Router) {
				r.Use(requireRepoID)
				r.With(s.allow(rbac.ActionRead)).Get("/milestones", s.handleListMilestones)
				r.With(s.allow(rbac.ActionPlan)).Post("/milestones", s.handleCreateMilestone)
				r.With(s.allow(rbac.ActionRead)).Get("/backlog", s.handleBacklog)
				r.With(s.allow(rbac.ActionRead)).Get("/sprint/{title}", s.handleSprint)
				r.With(s.allow(rbac.ActionPlan)).Post("/plan", s.handlePlan)
				r.With(s.allow(rbac.ActionPlan)).Post("/remove", s.handleRemove)
				r.With(s.allow(rbac.ActionRelease)).Post("/release", s.handleRelease)
				r.With(s.allow(rbac.ActionRead)).Get("/releases", s.handleListReleases)
			})
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, model.CurrentUser{Authenticated: false})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, model.CurrentUser{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, model.CurrentUser{
		Authenticated: true,
		UserID:        session.UserID,
		UserName:      session.UserName,
		Role:          session.Role,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Name)
	if err != nil {
		log.WithError(err).Error("login failed")
		writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"userName":  session.UserName,
		"userId":    session.UserID,
		"role":      session.Role,
		"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleBindIdentity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token      string `json:"token"`
		ExternalID string `json:"external_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.BindIdentity(r.Context(), sessionFrom(r), body.Token, body.ExternalID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK())
}

func (s *HTTPServer) handleUnbindIdentity(w http.ResponseWriter, r *http.Request) {
	if err := s.service.UnbindIdentity(r.Context(), sessionFrom(r)); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK())
}

func (s *HTTPServer) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.service.ListRepositories(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *HTTPServer) handleListBusinessProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListBusinessProjects(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *HTTPServer) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	milestones, err := s.service.ListMilestones(r.Context(), sessionFrom(r), repoIDFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, milestones)
}

func (s *HTTPServer) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	var draft model.MilestoneDraft
	if err := decodeBody(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	milestone, err := s.service.CreateMilestone(r.Context(), sessionFrom(r), repoIDFrom(r), draft)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, milestone)
}

func (s *HTTPServer) handleBacklog(w http.ResponseWriter, r *http.Request) {
	issues, err := s.service.Backlog(r.Context(), sessionFrom(r), repoIDFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *HTTPServer) handleSprint(w http.ResponseWriter, r *http.Request) {
	title := chi.URLParam(r, "title")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(title); err == nil {
			title = unescaped
		}
	}
	issues, err := s.service.Sprint(r.Context(), sessionFrom(r), repoIDFrom(r), title)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *HTTPServer) handlePlan(w http.ResponseWriter, r *http.Request) {
	var body model.PlanRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Plan(r.Context(), sessionFrom(r), repoIDFrom(r), body.IssueIID, body.MilestoneID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK())
}

func (s *HTTPServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	var body model.RemoveRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Remove(r.Context(), sessionFrom(r), repoIDFrom(r), body.IssueIID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK())
}

func (s *HTTPServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	var body model.ReleaseRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Release(r.Context(), sessionFrom(r), repoIDFrom(r), body)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListReleases(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.service.ListReleases(r.Context(), repoIDFrom(r), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out = append(out, map[string]any{
			"id":              record.ID,
			"tag":             record.Tag,
			"milestone_id":    record.MilestoneID,
			"milestone_title": record.MilestoneTitle,
			"ref_branch":      record.RefBranch,
			"rolled_over":     record.RolledOver,
			"released_by":     record.ReleasedBy,
			"archive_key":     record.ArchiveKey,
			"created_at":      record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionKey struct{}
type repoIDKey struct{}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			log.WithError(err).Error("session lookup failed")
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

// allow rejects sessions whose role does not grant action.
func (s *HTTPServer) allow(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r)
			if !s.service.Can(session.Role, action) {
				log.WithFields(log.Fields{
					"user":   session.UserID,
					"role":   session.Role,
					"action": string(action),
				}).Warn("permission denied")
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": string(action)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireRepoID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repoID, err := strconv.ParseInt(chi.URLParam(r, "repoID"), 10, 64)
		if err != nil || repoID <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_PROJECT", "project id must be a positive integer", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), repoIDKey{}, repoID)))
	})
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func repoIDFrom(r *http.Request) int64 {
	repoID, _ := r.Context().Value(repoIDKey{}).(int64)
	return repoID
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(writer, r)

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("code", code).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
