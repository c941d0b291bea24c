package http

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kessel-b2b/aigate/internal/ctxkey"
	"github.com/kessel-b2b/aigate/internal/domain/auth"
	"github.com/kessel-b2b/aigate/internal/domain/ratelimit"
)

type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// RequestIDMiddleware takes X-Request-ID from the request or generates one,
// echoes it in the response and stores a logger carrying request_id.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.NewString()
			}

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = ctxkey.WithLogger(ctx, logger.With("request_id", requestID))
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the request ID, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// LoggerFromContext retrieves the request-scoped logger, falling back to
// slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return ctxkey.Logger(ctx, slog.Default())
}

// Authenticator resolves a raw API key to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*auth.Identity, error)
}

// AuthConfig configures AuthMiddleware.
type AuthConfig struct {
	// Authenticator checks "Authorization: Bearer <key>".
	Authenticator Authenticator
	// TrustedUserHeader, when set, names a header carrying a user id that an
	// upstream proxy has already authenticated. Such users get the user role.
	TrustedUserHeader string
	// Anonymous is used for requests without credentials. Dev mode only.
	Anonymous *auth.Identity
}

// AuthMiddleware resolves the caller's identity and stores it with
// auth.WithIdentity. Requests without a usable identity get 401.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := LoggerFromContext(ctx)

			id, err := resolveIdentity(r, cfg)
			if err != nil {
				logger.Warn("authentication failed", "error", err, "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Bearer realm="aigate"`)
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			ctx = auth.WithIdentity(ctx, id)
			ctx = ctxkey.WithLogger(ctx, logger.With("user_id", id.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errNoCredentials = errors.New("no credentials")

func resolveIdentity(r *http.Request, cfg AuthConfig) (*auth.Identity, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || cfg.Authenticator == nil {
			return nil, auth.ErrInvalidKey
		}
		return cfg.Authenticator.Authenticate(r.Context(), strings.TrimSpace(raw))
	}
	if cfg.TrustedUserHeader != "" {
		if user := strings.TrimSpace(r.Header.Get(cfg.TrustedUserHeader)); user != "" {
			return &auth.Identity{ID: user, Name: user, Roles: []auth.Role{auth.RoleUser}}, nil
		}
	}
	if cfg.Anonymous != nil {
		return cfg.Anonymous, nil
	}
	return nil, errNoCredentials
}

// RateLimitMiddleware applies limit per authenticated user within scope.
// Limiter errors let the request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, scope ratelimit.Scope, limit ratelimit.Limit, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.IdentityFromContext(r.Context())
			if id == nil {
				next.ServeHTTP(w, r)
				return
			}
			res, err := limiter.Allow(r.Context(), ratelimit.Key(scope, id.ID), limit)
			if err != nil {
				LoggerFromContext(r.Context()).Error("rate limiter failed", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				if metrics != nil {
					metrics.RateLimited.WithLabelValues(string(scope)).Inc()
				}
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
