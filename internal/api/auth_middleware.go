package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/phunks-mini/internal/auth"
)

type authUserKey struct{}

// requireAuth wraps a handler with bearer-token verification and puts the
// verified user on the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		user, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), authUserKey{}, user)
		next(w, r.WithContext(ctx))
	}
}

// authUser returns the verified user attached by requireAuth.
func authUser(r *http.Request) *auth.VerifiedUser {
	user, _ := r.Context().Value(authUserKey{}).(*auth.VerifiedUser)
	return user
}
