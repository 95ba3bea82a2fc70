package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/missionctl/mission-control/internal/user"
	"github.com/missionctl/mission-control/pkg/cerr"
	"github.com/missionctl/mission-control/pkg/clog"
)

type ownerContextKey struct{}

// authMiddleware resolves the request's bearer token to an owner and stores
// it on the context. Handlers behind it can rely on ownerFromContext never
// returning nil.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			cerr.SetNewJSONError(r.Context(), cerr.Unauthenticated, "missing bearer token", nil)
			return
		}

		owner, err := s.users.GetByAPIToken(r.Context(), token)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				cerr.SetNewJSONError(r.Context(), cerr.Unauthenticated, "invalid token", nil)
				return
			}
			cerr.SetJSONError(r.Context(), err)
			return
		}

		ctx := context.WithValue(r.Context(), ownerContextKey{}, owner)
		clog.AddAttribute(ctx, "user_id", owner.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func ownerFromContext(ctx context.Context) *user.User {
	owner, _ := ctx.Value(ownerContextKey{}).(*user.User)
	return owner
}
