package middleware

import (
	"net/http"
	"strings"

	"tripsync/internal/appctx"
	"tripsync/pkg/response"
)

// SessionSource turns a bearer token into a session.
type SessionSource interface {
	Session(token string) (appctx.Session, error)
}

func AuthMiddleware(sessions SessionSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			sess, err := sessions.Session(parts[1])
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(appctx.WithSession(r.Context(), sess)))
		})
	}
}

func GetUser(r *http.Request) string {
	sess, ok := appctx.FromContext(r.Context())
	if !ok {
		return ""
	}
	return sess.User
}
