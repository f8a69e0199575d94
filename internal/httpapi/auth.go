package httpapi

import (
	"context"
	"net/http"
	"strings"

	"qms/waitless-service/internal/auth"
	"qms/waitless-service/internal/models"
)

type authContextKey struct{}

// AuthMiddleware resolves a bearer token to the current user row and attaches
// it to the request context. Requests without a usable token pass through
// unauthenticated; handlers that need an identity reject them.
func AuthMiddleware(authService *auth.Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := authService.CurrentUser(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(authContextKey{}).(models.User)
	return user, ok
}

// requireStaff gates desk operations behind an admin account unless staff
// authentication is switched off. The role comes from the stored user, not
// the token.
func (h *Handler) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	if !h.requireStaffAuth {
		return true
	}
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	if user.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin access required")
		return false
	}
	return true
}

// requireOwnerOrStaff admits an admin or the patient identified by userID.
func (h *Handler) requireOwnerOrStaff(w http.ResponseWriter, r *http.Request, userID string) bool {
	if !h.requireStaffAuth {
		return true
	}
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	if user.Role == models.RoleAdmin || user.ID == userID {
		return true
	}
	writeError(w, http.StatusForbidden, "access denied")
	return false
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
