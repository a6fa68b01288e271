package middleware

import (
	"net/http"
	"strings"

	"github.com/atproject/projectone/internal/app/auth"
	"github.com/atproject/projectone/internal/errors"
	"github.com/atproject/projectone/internal/httputil"
	"github.com/atproject/projectone/pkg/logger"
)

// anonymous is the principal used when no credentials are configured.
var anonymous = auth.Principal{Subject: "anonymous", Role: auth.RoleAdmin, Method: "none"}

// AuthMiddleware resolves bearer credentials into an auth.Principal and
// enforces that read-only principals only use safe methods.
type AuthMiddleware struct {
	manager   *auth.Manager
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the middleware. Requests whose path is in
// skipPaths pass through without credentials.
func NewAuthMiddleware(manager *auth.Manager, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{manager: manager, logger: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !m.manager.Enabled() {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), anonymous)))
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}
		principal, err := m.manager.Authenticate(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Debug("credential rejected")
			m.respondError(w, r, errors.Unauthorized("invalid or expired token"))
			return
		}
		if !principal.CanWrite() && !safeMethod(r.Method) {
			m.respondError(w, r, errors.Forbidden("role "+principal.Role+" is read-only"))
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"subject":     principal.Subject,
			"role":        principal.Role,
			"auth_method": principal.Method,
		}).Debug("authenticated")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects principals without the admin role.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			m.respondError(w, r, errors.Unauthorized(""))
			return
		}
		if !p.IsAdmin() {
			m.respondError(w, r, errors.Forbidden("admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.Unauthorized("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.Unauthorized("invalid Authorization header format")
	}
	return token, nil
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	se := httputil.WriteError(w, err)
	m.logger.LogSecurityEvent(r.Context(), "auth_rejected", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": se.HTTPStatus,
		"code":   string(se.Code),
	})
}

// Subject returns the authenticated subject for the request, if any.
func Subject(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.Subject
	}
	return ""
}
