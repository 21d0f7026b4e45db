package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

type contextKey int

const (
	authContextKey contextKey = iota
	requestInfoKey
)

// requestInfo is shared by the middleware chain of one request. The auth
// middleware runs inside the logging middleware and fills in the user.
type requestInfo struct {
	id     string
	userID string
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey).(*requestInfo)
	return info
}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	if info := requestInfoFrom(ctx); info != nil {
		return info.id
	}
	return ""
}

// AuthMiddleware verifies the marketplace-issued bearer token and puts the
// caller in the request context.
type AuthMiddleware struct {
	auth driven.AuthAdapter
}

// NewAuthMiddleware creates an AuthMiddleware.
func NewAuthMiddleware(auth driven.AuthAdapter) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// Authenticate rejects requests without a valid token with 401. Expired
// tokens get their own message so clients know to fetch a new one.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="posbridge"`)
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := m.auth.ParseToken(token)
		if err != nil {
			message := "invalid token"
			if errors.Is(err, domain.ErrTokenExpired) {
				message = "token expired"
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="posbridge", error="invalid_token", error_description="`+message+`"`)
			writeError(w, http.StatusUnauthorized, message)
			return
		}

		authCtx := claims.ToAuthContext()
		if info := requestInfoFrom(r.Context()); info != nil {
			info.userID = authCtx.UserID
		}
		ctx := context.WithValue(r.Context(), authContextKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext returns the authenticated caller, or nil.
func GetAuthContext(ctx context.Context) *domain.AuthContext {
	if ctx == nil {
		return nil
	}
	authCtx, _ := ctx.Value(authContextKey).(*domain.AuthContext)
	return authCtx
}

func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// LoggingMiddleware assigns the request id, writes one log line per
// request and records the HTTP metrics.
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware.
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

// Handler wraps next. Health check and scrape endpoints log at debug.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		info := &requestInfo{id: incomingRequestID(r)}
		w.Header().Set(RequestIDHeader, info.id)
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		req := r.WithContext(context.WithValue(r.Context(), requestInfoKey, info))
		next.ServeHTTP(rw, req)

		elapsed := time.Since(start)
		// The mux records the matched pattern on the request it was handed
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		attrs := []any{
			"request_id", info.id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", elapsed.Milliseconds(),
		}
		if info.userID != "" {
			attrs = append(attrs, "user_id", info.userID)
		}
		m.logger.Log(r.Context(), logLevel(r.URL.Path, rw.status), "http request", attrs...)
	})
}

func incomingRequestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxRequestIDLength {
		return uuid.NewString()
	}
	return id
}

func logLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case path == "/health" || path == "/ready" || path == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RecoveryMiddleware turns handler panics into 500 responses.
type RecoveryMiddleware struct {
	logger *slog.Logger
}

// NewRecoveryMiddleware creates a RecoveryMiddleware.
func NewRecoveryMiddleware(logger *slog.Logger) *RecoveryMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryMiddleware{logger: logger}
}

// Handler wraps next with panic recovery. http.ErrAbortHandler is re-raised.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			m.logger.Error("panic recovered",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", w.Header().Get(RequestIDHeader),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware answers browser preflights for the marketplace front end.
type CORSMiddleware struct {
	allowedOrigins []string
}

// NewCORSMiddleware creates a CORSMiddleware. "*" allows any origin.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

// Handler wraps next with CORS headers.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && m.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *CORSMiddleware) allows(origin string) bool {
	return slices.Contains(m.allowedOrigins, "*") || slices.Contains(m.allowedOrigins, origin)
}
