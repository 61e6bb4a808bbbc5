package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"groundwrite/api/internal/auth"
	"groundwrite/api/internal/essay"
	"groundwrite/api/internal/logger"
	"groundwrite/api/internal/sources"
)

type HTTPServer struct {
	service    *Service
	tokens     *auth.Authority
	corsOrigin string
	log        *logger.Logger
}

func NewHTTPServer(service *Service, tokens *auth.Authority, corsOrigin string, log *logger.Logger) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{service: service, tokens: tokens, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Ping(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "sessions":
		s.handleSessions(w, r, principal, parts[2:])
		return
	case "outlines":
		if len(parts) >= 3 {
			s.handleOutlines(w, r, principal, parts[2], parts[3:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, principal Principal, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.service.CreateSession(r.Context(), principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
		return
	}

	sessionID := rest[0]
	rest = rest[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.Session(r.Context(), principal, sessionID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodDelete:
			if err := s.service.DeleteSession(r.Context(), principal, sessionID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "chunks" && r.Method == http.MethodGet {
		chunks, revision, err := s.service.Chunks(r.Context(), principal, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks, "revision": revision})
		return
	}

	if len(rest) == 1 && rest[0] == "outlines" && r.Method == http.MethodPost {
		var body essay.PlanRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		outline, err := s.service.PlanOutline(r.Context(), principal, sessionID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, outline)
		return
	}

	if len(rest) >= 1 && rest[0] == "sources" {
		s.handleSources(w, r, principal, sessionID, rest[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSources(w http.ResponseWriter, r *http.Request, principal Principal, sessionID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body AddSourceInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.AddSource(ctx, principal, sessionID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}

	if len(rest) == 1 && rest[0] == "import" && r.Method == http.MethodPost {
		var body struct {
			FileID string        `json:"fileId"`
			Group  sources.Group `json:"group"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.FileID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileId is required", nil)
			return
		}
		item, err := s.service.ImportUpload(ctx, principal, sessionID, body.FileID, body.Group)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}

	if len(rest) == 1 && rest[0] == "reorder" && r.Method == http.MethodPost {
		var body struct {
			Group sources.Group `json:"group"`
			From  int           `json:"from"`
			To    int           `json:"to"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.Reorder(ctx, principal, sessionID, body.Group, body.From, body.To)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(rest) == 1 {
		sourceID := rest[0]
		var (
			view SessionView
			err  error
		)
		switch r.Method {
		case http.MethodPatch:
			var body struct {
				ExcerptText *string `json:"excerptText"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.ExcerptText == nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "excerptText is required", nil)
				return
			}
			view, err = s.service.UpdateExcerpt(ctx, principal, sessionID, sourceID, *body.ExcerptText)
		case http.MethodDelete:
			view, err = s.service.RemoveSource(ctx, principal, sessionID, sourceID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(rest) == 2 && rest[1] == "priority" && r.Method == http.MethodPost {
		view, err := s.service.TogglePriority(ctx, principal, sessionID, rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOutlines(w http.ResponseWriter, r *http.Request, principal Principal, outlineID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 && r.Method == http.MethodGet {
		outline, err := s.service.Outline(ctx, principal, outlineID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, outline)
		return
	}

	if len(rest) == 1 && rest[0] == "expand" && r.Method == http.MethodPost {
		concurrency := 1
		if raw := strings.TrimSpace(r.URL.Query().Get("concurrency")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "concurrency must be an integer", nil)
				return
			}
			concurrency = parsed
		}
		results, err := s.service.ExpandAll(ctx, principal, outlineID, concurrency)
		if err != nil && results == nil {
			s.fail(w, r, err)
			return
		}
		failed := 0
		for _, result := range results {
			if result.Err != nil {
				failed++
			}
		}
		payload := map[string]any{"results": results, "failed": failed, "completed": err == nil}
		outline, getErr := s.service.Outline(context.WithoutCancel(ctx), principal, outlineID)
		if getErr == nil {
			payload["outline"] = outline
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "essay" && r.Method == http.MethodGet {
		includeCitations := r.URL.Query().Get("citations") == "true"
		text, err := s.service.Essay(ctx, principal, outlineID, includeCitations)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outlineId": outlineID, "text": text, "includeCitations": includeCitations})
		return
	}

	if len(rest) == 1 && rest[0] == "drafts" {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Message          string `json:"message"`
				IncludeCitations bool   `json:"includeCitations"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			commit, err := s.service.SaveDraft(ctx, principal, outlineID, body.IncludeCitations, body.Message)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, commit)
		case http.MethodGet:
			limit := 50
			if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil {
					writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
					return
				}
				limit = parsed
			}
			history, err := s.service.DraftHistory(ctx, principal, outlineID, limit)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"drafts": history})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[0] == "drafts" && r.Method == http.MethodGet {
		snap, commit, err := s.service.Draft(ctx, principal, outlineID, rest[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"draft": snap, "commit": commit})
		return
	}

	if len(rest) == 3 && rest[0] == "paragraphs" {
		index, err := strconv.Atoi(rest[1])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "paragraph index must be an integer", nil)
			return
		}
		s.handleParagraph(w, r, principal, outlineID, index, rest[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleParagraph(w http.ResponseWriter, r *http.Request, principal Principal, outlineID string, index int, action string) {
	ctx := r.Context()

	if action == "expand" && r.Method == http.MethodPost {
		paragraph, err := s.service.ExpandParagraph(ctx, principal, outlineID, index)
		if err != nil {
			status, code, message, details := mapError(err)
			if paragraph.ExpansionState == essay.StateFailed {
				details = map[string]any{"index": index, "paragraph": paragraph}
			}
			s.logFailure(r, status, err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"index": index, "paragraph": paragraph})
		return
	}

	if action == "edit" {
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Text string `json:"text"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.SetEdit(ctx, principal, outlineID, index, body.Text); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		case http.MethodDelete:
			if err := s.service.ClearEdit(ctx, principal, outlineID, index); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	claims, err := s.tokens.FromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Principal{}, false
	}
	return Principal{
		UserID: claims.Sub,
		Name:   claims.Name,
		Plan:   claims.Plan,
	}, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	s.logFailure(r, status, err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) logFailure(r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "status", status, "error", err)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
