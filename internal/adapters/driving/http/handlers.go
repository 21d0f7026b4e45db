package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error   string `json:"error" example:"reconnect_required"`
	Message string `json:"message,omitempty" example:"pos connection requires re-authorization"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ConfirmMatchRequest optionally overrides the suggested canonical product
// @Description Confirm a queued match
type ConfirmMatchRequest struct {
	CanonicalID string `json:"canonical_id,omitempty" validate:"omitempty,uuid" example:"5b1e7c9e-3f0a-4d7c-9a53-0c2f1f0b6a11"`
}

// ProcessQueueRequest sets the batch size for a manual queue run
// @Description Process pending match queue items
type ProcessQueueRequest struct {
	Limit int `json:"limit,omitempty" validate:"gte=0,lte=500" example:"50"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings PostgreSQL and Redis when configured
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name   string
		pinger Pinger
	}{
		{"database", s.db},
		{"redis", s.redisClient},
	}
	for _, c := range checks {
		if c.pinger == nil {
			continue
		}
		if err := c.pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "dependency", c.name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "not_ready", Message: c.name + " unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "api documentation not registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

// POS connection endpoints

// handleAuthorize godoc
// @Summary      Start POS authorization
// @Description  Issues a single-use OAuth state and returns the provider authorization URL
// @Tags         POS
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  driving.AuthorizeResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /pos/authorize [post]
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	userID := GetAuthContext(r.Context()).UserID

	resp, err := s.connections.Authorize(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCallback godoc
// @Summary      Complete POS authorization
// @Description  Validates the state, exchanges the code and stores the tokens
// @Tags         POS
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.CallbackRequest  true  "Provider redirect parameters"
// @Success      200      {object}  domain.ConnectionSummary
// @Failure      400      {object}  ErrorResponse  "Invalid state or provider error"
// @Failure      401      {object}  ErrorResponse
// @Router       /pos/callback [post]
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req driving.CallbackRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}

	summary, err := s.connections.Callback(r.Context(), GetAuthContext(r.Context()).UserID, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleGetConnection godoc
// @Summary      Get POS connection
// @Description  Returns the token-free connection summary
// @Tags         POS
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.ConnectionSummary
// @Router       /pos/connection [get]
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	summary, err := s.connections.Status(r.Context(), GetAuthContext(r.Context()).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleDisconnect godoc
// @Summary      Disconnect POS
// @Description  Drops the stored tokens
// @Tags         POS
// @Security     BearerAuth
// @Success      204
// @Router       /pos/connection [delete]
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.connections.Disconnect(r.Context(), GetAuthContext(r.Context()).UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSync godoc
// @Summary      Sync POS data
// @Description  Fetches account, items, categories, customers, shops and recent sales
// @Tags         POS
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.SyncOptions  false  "Sync options"
// @Success      200      {object}  domain.SyncReport
// @Failure      409      {object}  ErrorResponse  "Reconnect required"
// @Failure      502      {object}  ErrorResponse  "Every resource failed"
// @Router       /pos/sync [post]
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var opts domain.SyncOptions
	if !s.decodeBody(w, r, &opts, false) {
		return
	}

	report, err := s.syncs.PerformSync(r.Context(), GetAuthContext(r.Context()).UserID, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Matching endpoints

// handleFindMatch godoc
// @Summary      Match a product
// @Description  Runs the UPC then fuzzy-name policy without queueing
// @Tags         Matching
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.ProductInput  true  "Product"
// @Success      200      {object}  domain.MatchResult
// @Router       /matching/match [post]
func (s *Server) handleFindMatch(w http.ResponseWriter, r *http.Request) {
	var input domain.ProductInput
	if !s.decodeBody(w, r, &input, true) {
		return
	}

	result, err := s.matcher.FindCanonicalProductMatch(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListReview godoc
// @Summary      List manual review items
// @Tags         Matching
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Maximum items (default 50, max 500)"
// @Success      200    {array}   domain.MatchQueueItem
// @Router       /matching/review [get]
func (s *Server) handleListReview(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.matcher.ListReview(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []*domain.MatchQueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleEnqueue godoc
// @Summary      Queue a product for matching
// @Tags         Matching
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.ProductInput  true  "Product"
// @Success      201      {object}  domain.MatchQueueItem
// @Router       /matching/queue [post]
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var input domain.ProductInput
	if !s.decodeBody(w, r, &input, true) {
		return
	}

	item, err := s.matcher.Enqueue(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleProcessItem godoc
// @Summary      Process one queued product
// @Tags         Matching
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Queue item ID"
// @Success      200  {object}  domain.MatchQueueItem
// @Failure      404  {object}  ErrorResponse
// @Router       /matching/queue/{id}/process [post]
func (s *Server) handleProcessItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.matcher.ProcessMatchQueueItem(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleConfirmMatch godoc
// @Summary      Confirm a suggested match
// @Tags         Matching
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string               true   "Queue item ID"
// @Param        request  body      ConfirmMatchRequest  false  "Canonical override"
// @Success      200      {object}  domain.MatchQueueItem
// @Failure      422      {object}  ErrorResponse  "No suggestion and no canonical_id"
// @Router       /matching/queue/{id}/confirm [post]
func (s *Server) handleConfirmMatch(w http.ResponseWriter, r *http.Request) {
	var req ConfirmMatchRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}

	item, err := s.matcher.ConfirmMatch(r.Context(), r.PathValue("id"), req.CanonicalID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleRejectMatch godoc
// @Summary      Reject a match and create a canonical product
// @Tags         Matching
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Queue item ID"
// @Success      200  {object}  domain.MatchQueueItem
// @Router       /matching/queue/{id}/reject [post]
func (s *Server) handleRejectMatch(w http.ResponseWriter, r *http.Request) {
	item, err := s.matcher.RejectMatchAndCreateNew(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleProcessPending godoc
// @Summary      Process pending queue items
// @Tags         Matching
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      ProcessQueueRequest  false  "Batch size"
// @Success      200      {object}  domain.BatchResult
// @Router       /matching/process [post]
func (s *Server) handleProcessPending(w http.ResponseWriter, r *http.Request) {
	var req ProcessQueueRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}

	result, err := s.matcher.ProcessPendingQueue(r.Context(), req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Helper functions

// decodeBody decodes and validates a JSON body. An empty body is accepted
// unless required is set.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) || required {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return false
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: err.Error()})
		return false
	}
	return true
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var oauthErr *driving.OAuthError
	switch {
	case errors.As(err, &oauthErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: oauthErr.Code, Message: oauthErr.Description})
	case errors.Is(err, domain.ErrUnauthenticated):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "reconnect_required", Message: domain.ErrUnauthenticated.Error()})
	case errors.Is(err, domain.ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_state", Message: "the state parameter is invalid or expired"})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: err.Error()})
	case errors.Is(err, domain.ErrMatchNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "no_match_candidate", Message: "no canonical product to link, pass canonical_id"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent modification, retry the request")
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "pos_rate_limited", Message: err.Error()})
	case errors.Is(err, domain.ErrServerError), errors.Is(err, domain.ErrRequestFailed):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "pos_unavailable", Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "operation timed out")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
