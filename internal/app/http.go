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

	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	metrics    http.Handler
}

type HTTPOption func(*HTTPServer)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) HTTPOption {
	return func(s *HTTPServer) { s.metrics = h }
}

func WithLogger(logger *zap.Logger) HTTPOption {
	return func(s *HTTPServer) { s.logger = logger.Named("http") }
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...HTTPOption) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
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

		ok, checks := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ok {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ok,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		if s.metrics == nil {
			writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
			return
		}
		s.metrics.ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "workflow" {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	// Body identity fields are never trusted; the header is the only source.
	identity := userIdentity(r)
	if identity == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "X-User-Email header required", nil)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/workflow/qa/accept" {
		var body AcceptQAInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.UserEmail = identity
		result, err := s.service.AcceptQA(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withSuccess(result))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/workflow/qa/reject" {
		var body EscalateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.UserEmail = identity
		result, err := s.service.EscalateQuestion(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withSuccess(result))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/workflow/qa" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.ListAcceptedQA(r.Context(), r.URL.Query().Get("language"), limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "qa" {
		entry, err := s.service.GetAcceptedQA(r.Context(), parts[2], r.URL.Query().Get("language"))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/workflow/suggest-feature" {
		var body SuggestFeatureInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.UserEmail = identity
		result, err := s.service.SuggestFeature(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withSuccess(result))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/workflow/features" {
		features, err := s.service.Features(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": features, "count": len(features)})
		return
	}

	if len(parts) == 4 && parts[1] == "features" {
		s.handleFeatureAction(w, r, identity, parts[2], parts[3])
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/workflow/draft-update" {
		var body CreateDraftInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.UserEmail = identity
		result, err := s.service.CreateDraft(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withSuccess(result))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/workflow/drafts" {
		list, err := s.service.Drafts(r.Context(), identity, r.URL.Query().Get("status"))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":         list.Drafts,
			"count":         len(list.Drafts),
			"pending_count": list.PendingCount,
		})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 3 && parts[1] == "accept-draft" {
		var body struct {
			ApplyImmediately *bool `json:"apply_immediately"`
			CommitChanges    *bool `json:"commit_changes"`
			ExpectedVersion  int64 `json:"expected_version"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.AcceptDraft(r.Context(), AcceptDraftInput{
			DraftID:          parts[2],
			AdminEmail:       identity,
			ApplyImmediately: boolOr(body.ApplyImmediately, true),
			CommitChanges:    boolOr(body.CommitChanges, true),
			ExpectedVersion:  body.ExpectedVersion,
		})
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withSuccess(result))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 3 && parts[1] == "reject-draft" {
		var body RejectDraftInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.DraftID = parts[2]
		body.AdminEmail = identity
		result, err := s.service.RejectDraft(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withSuccess(result))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/workflow/queue" {
		questions, err := s.service.PendingQuestions(r.Context(), identity)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": questions, "count": len(questions)})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "queue" && parts[3] == "respond" {
		var body RespondInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.QuestionID = parts[2]
		body.AdminEmail = identity
		result, err := s.service.RespondToQuestion(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, withSuccess(result))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/workflow/git-sync" {
		var body struct {
			CommitMessage string `json:"commit_message"`
			BranchName    string `json:"branch_name"`
			CreatePR      *bool  `json:"create_pr"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.GitSync(r.Context(), GitSyncInput{
			AdminEmail:    identity,
			CommitMessage: body.CommitMessage,
			BranchName:    body.BranchName,
			CreatePR:      boolOr(body.CreatePR, true),
		})
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    result.Success,
			"branch":     result.Branch,
			"commit_sha": result.CommitSHA,
			"pr_url":     result.PRURL,
			"error":      result.Error,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/workflow/set-language" {
		var body struct {
			Language string `json:"language"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		lang, err := s.service.SetLanguage(r.Context(), identity, body.Language)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "language": lang})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/workflow/search" {
		var body struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		hits, err := s.service.Search(r.Context(), body.Query, body.Limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": hits, "count": len(hits)})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleFeatureAction(w http.ResponseWriter, r *http.Request, identity, featureID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Comment string `json:"comment"`
		Status  string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var err error
	var result any
	switch action {
	case "upvote":
		result, err = s.service.UpvoteFeature(r.Context(), featureID)
	case "comments":
		result, err = s.service.CommentFeature(r.Context(), featureID, identity, body.Comment)
	case "status":
		result, err = s.service.UpdateFeatureStatus(r.Context(), identity, featureID, body.Status)
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, code, message, details)
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

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-Email, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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
	if r.Body == nil || r.ContentLength == 0 {
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

// userIdentity is the caller's email as forwarded by the chat front ends.
func userIdentity(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Email"))
}

// withSuccess flattens a result struct into a JSON object with success set.
func withSuccess(result any) map[string]any {
	out := map[string]any{}
	raw, err := json.Marshal(result)
	if err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	out["success"] = true
	return out
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
