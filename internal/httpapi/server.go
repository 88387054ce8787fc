// Package httpapi exposes the cache over HTTP: channel lookup and
// creation for callers, and the signed event endpoint for Slack.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jha-hitesh/slack-channels-proxy/internal/channels"
	"github.com/jha-hitesh/slack-channels-proxy/internal/events"
	"github.com/jha-hitesh/slack-channels-proxy/internal/names"
	"github.com/jha-hitesh/slack-channels-proxy/internal/slack"
	"github.com/jha-hitesh/slack-channels-proxy/internal/store"
)

const maxChannelNameLength = 80

type ServerOptions struct {
	Service  *channels.Service
	Ingester *events.Ingester
	Logger   *zap.Logger
	Env      string

	// RequireBearer rejects requests without an Authorization header.
	// Enabled for per-request token deployments, where the caller's
	// token is what authenticates upstream calls.
	RequireBearer bool

	MaxBodyBytes int64
}

type Server struct {
	svc           *channels.Service
	ingester      *events.Ingester
	logger        *zap.Logger
	env           string
	requireBearer bool
	maxBodyBytes  int64
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBodyBytes := opts.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	env := opts.Env
	if env == "" {
		env = "local"
	}
	return &Server{
		svc:           opts.Service,
		ingester:      opts.Ingester,
		logger:        logger,
		env:           env,
		requireBearer: opts.RequireBearer,
		maxBodyBytes:  maxBodyBytes,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Route("/channels", func(r chi.Router) {
		r.Get("/{name}", s.handleGetChannel)
		r.Post("/", s.handleCreateChannel)
	})
	r.Post("/slack/events", s.handleSlackEvents)
	return r
}

type channelResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Source     string  `json:"source"`
	Exists     bool    `json:"exists"`
	SyncStatus *string `json:"sync_status"`
}

func syncStatusPtr(status string) *string {
	if status == "" {
		return nil
	}
	return &status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "env": s.env})
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	token, ok := s.bearerToken(w, r)
	if !ok {
		return
	}
	name := names.Normalize(chi.URLParam(r, "name"))
	if name == "" || len(name) > maxChannelNameLength {
		writeError(w, http.StatusBadRequest, "invalid_name", "channel name must be 1-80 characters")
		return
	}

	ctx := r.Context()
	workspaceID, err := s.svc.ResolveWorkspace(ctx, token)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	result, err := s.svc.Lookup(ctx, workspaceID, name)
	if errors.Is(err, store.ErrNotFound) {
		status, statusErr := s.svc.SyncStatus(ctx, workspaceID)
		if statusErr != nil {
			s.logger.Warn("sync_status_unavailable", zap.Error(statusErr))
		}
		writeJSON(w, http.StatusNotFound, channelResponse{
			Name:       name,
			Source:     "db",
			SyncStatus: syncStatusPtr(status),
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "channel lookup failed")
		return
	}

	status := ""
	if result.SyncInProgress {
		status = channels.SyncStatusInProgress
	}
	writeJSON(w, http.StatusOK, channelResponse{
		ID:         result.Channel.ChannelID,
		Name:       result.Channel.Name,
		Source:     "db",
		Exists:     true,
		SyncStatus: syncStatusPtr(status),
	})
}

type createChannelRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	token, ok := s.bearerToken(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var payload createChannelRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	name := names.Normalize(payload.Name)
	if name == "" || len(name) > maxChannelNameLength {
		writeError(w, http.StatusBadRequest, "invalid_name", "channel name must be 1-80 characters")
		return
	}

	ctx := r.Context()
	workspaceID, err := s.svc.ResolveWorkspace(ctx, token)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	result, err := s.svc.Create(ctx, workspaceID, name, token)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	switch result.Outcome {
	case channels.OutcomeCreated:
		writeJSON(w, http.StatusOK, channelResponse{
			ID:     result.Channel.ChannelID,
			Name:   result.Channel.Name,
			Source: "slack",
			Exists: true,
		})
	case channels.OutcomeExistsCached:
		status, statusErr := s.svc.SyncStatus(ctx, workspaceID)
		if statusErr != nil {
			s.logger.Warn("sync_status_unavailable", zap.Error(statusErr))
		}
		writeJSON(w, http.StatusOK, channelResponse{
			ID:         result.Channel.ChannelID,
			Name:       result.Channel.Name,
			Source:     "db",
			Exists:     true,
			SyncStatus: syncStatusPtr(status),
		})
	case channels.OutcomeExistsSyncQueued:
		writeJSON(w, http.StatusNotFound, channelResponse{
			Name:       name,
			Source:     channels.SyncStatusQueued,
			Exists:     true,
			SyncStatus: syncStatusPtr(channels.SyncStatusQueued),
		})
	case channels.OutcomeExistsSyncInProgress:
		writeJSON(w, http.StatusNotFound, channelResponse{
			Name:       name,
			Source:     channels.SyncStatusInProgress,
			Exists:     true,
			SyncStatus: syncStatusPtr(channels.SyncStatusInProgress),
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unknown create outcome")
	}
}

func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")

	result, err := s.ingester.Ingest(r.Context(), body, timestamp, signature)
	if errors.Is(err, events.ErrSignatureInvalid) {
		writeError(w, http.StatusUnauthorized, "invalid_signature", "invalid slack request signature")
		return
	}
	if errors.Is(err, events.ErrInvalidPayload) {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid event payload")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "event application failed")
		return
	}
	if result.Challenge != "" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": result.Challenge})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// bearerToken extracts the caller's bearer token. Missing or malformed
// headers are rejected only when per-request tokens are required.
func (s *Server) bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if s.requireBearer {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing Authorization header")
			return "", false
		}
		return "", true
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header must be in format: Bearer <token>")
		return "", false
	}
	return token, true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, channels.ErrWorkspaceResolution):
		writeError(w, http.StatusUnauthorized, "workspace_resolution_failed", err.Error())
	case errors.Is(err, slack.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, slack.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// requestLogger tags each request with an id and logs the outcome.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := newRequestID()
			w.Header().Set("X-Request-Id", requestID)
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			start := time.Now()
			next.ServeHTTP(wrapped, r)
			logger.Info("http_request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
