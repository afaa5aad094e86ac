package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	sessionName = "esim_fleet_session"

	sessUserID    = "uid"
	sessCompanyID = "cid"
	sessEmail     = "email"
	sessRole      = "role"
)

// NewSessionStore creates the cookie store holding the logged-in principal.
func NewSessionStore(secret string, secure bool, maxAge time.Duration) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func saveSession(w http.ResponseWriter, r *http.Request, store sessions.Store, p domain.Principal) error {
	sess, _ := store.Get(r, sessionName)
	sess.Values[sessUserID] = p.UserID
	sess.Values[sessCompanyID] = p.CompanyID
	sess.Values[sessEmail] = p.Email
	sess.Values[sessRole] = p.Role
	return sess.Save(r, w)
}

func clearSession(w http.ResponseWriter, r *http.Request, store sessions.Store) error {
	sess, _ := store.Get(r, sessionName)
	sess.Values = map[any]any{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

func principalFromSession(r *http.Request, store sessions.Store) (*domain.Principal, bool) {
	sess, err := store.Get(r, sessionName)
	if err != nil || sess.IsNew {
		return nil, false
	}
	uid, ok1 := sess.Values[sessUserID].(int64)
	cid, ok2 := sess.Values[sessCompanyID].(int64)
	if !ok1 || !ok2 || uid == 0 || cid == 0 {
		return nil, false
	}
	email, _ := sess.Values[sessEmail].(string)
	role, _ := sess.Values[sessRole].(string)
	return &domain.Principal{UserID: uid, CompanyID: cid, Email: email, Role: role}, true
}

// bearerToken returns the token from the Authorization header or, for websocket
// clients that cannot set headers, the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware resolves the caller from a bearer token or the session cookie and
// injects the principal into the request context.
func AuthMiddleware(authSvc *service.AuthService, store sessions.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				p, err := authSvc.ValidateAccessToken(token)
				if err != nil {
					logger.Warn("auth: invalid or expired token",
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", r.RemoteAddr),
						zap.Error(err),
					)
					writeError(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), *p)))
				return
			}

			if p, ok := principalFromSession(r, store); ok {
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), *p)))
				return
			}

			logger.Debug("auth: no credentials",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "authentication required")
		})
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOperator rejects callers that cannot change platform-wide data.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.IsOperator() {
			writeError(w, http.StatusForbidden, "operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the authenticated caller from context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}

// MetricsMiddleware records request durations by route pattern.
func MetricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				pattern = rc.RoutePattern()
			}
			metrics.RecordRequestDuration(r.Method+" "+pattern, time.Since(start))
		})
	}
}
