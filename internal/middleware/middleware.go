package middleware

import (
	"net/http"
	"strings"

	"github.com/xtymac/eventflow-sub004/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

// DefaultActor is recorded when an authorised caller sends no X-Actor header.
const DefaultActor = "admin"

// AdminTokenMiddleware guards mutating routes with a bearer token checked
// against a bcrypt hash. The caller's X-Actor header (or DefaultActor) is
// placed in the request context.
func AdminTokenMiddleware(tokenHash string) func(http.Handler) http.Handler {
	hash := []byte(tokenHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(hash) == 0 {
				http.Error(w, "Forbidden: admin token not configured", http.StatusForbidden)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "Unauthorized: missing bearer token", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			actor := strings.TrimSpace(r.Header.Get("X-Actor"))
			if actor == "" {
				actor = DefaultActor
			}
			next.ServeHTTP(w, r.WithContext(utils.WithActor(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CORSMiddleware echoes allowed origins. An empty allow-list disables CORS
// headers.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Echo the origin back only if it's on our allow-list
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods",
					"GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers",
					"Content-Type, Authorization, X-Actor")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
