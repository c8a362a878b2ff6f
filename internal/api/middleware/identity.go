package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

// headerUser carries the caller's identity. Session issuance and token
// verification live in an upstream auth collaborator; by the time a request
// reaches this service the header holds a trusted user id.
const headerUser = "X-QC-User"

// RequireUser resolves the caller's user id into the request context and
// rejects requests without one.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(headerUser)
		if raw == "" {
			// Websocket clients can't always set headers; accept a query
			// fallback on the connect path.
			raw = r.URL.Query().Get("user_id")
		}
		if raw == "" {
			jsonError(w, http.StatusUnauthorized, "missing user identity")
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid user id")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserFromContext returns the authenticated user id, or uuid.Nil when the
// request never passed through RequireUser.
func GetUserFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(userContextKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// jsonError writes a JSON error body with the given status.
func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
