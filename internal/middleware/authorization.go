package middleware

import (
	"net/http"
	"slices"

	"shopfront/internal/domain"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequireAdmin lets only administrators through. It must run after AuthMiddleware.
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return RequireRole([]string{domain.RoleAdmin}, logger)
}

// RequireRole answers 403 unless the authenticated role is one of allowedRoles.
// A request without a role in its context is treated the same way.
func RequireRole(allowedRoles []string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetUserRole(r.Context())
			if !ok || !slices.Contains(allowedRoles, role) {
				logger.Warn("Access denied by role check",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("path", r.URL.Path),
					zap.String("role", role),
					zap.Strings("allowed_roles", allowedRoles),
				)
				RespondWithErrorCode(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
