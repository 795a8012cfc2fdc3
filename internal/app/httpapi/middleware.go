package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// WithAuth wraps next with static bearer-token authentication. Health and
// metrics endpoints stay open for probes and scrapers. An empty token list
// disables authentication entirely.
func WithAuth(next http.Handler, tokens []string) http.Handler {
	valid := make([][32]byte, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		valid = append(valid, sha256.Sum256([]byte(token)))
	}
	if len(valid) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
			return
		}
		presented := sha256.Sum256([]byte(strings.TrimPrefix(header, "Bearer ")))
		for _, candidate := range valid {
			if subtle.ConstantTimeCompare(candidate[:], presented[:]) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid bearer token"))
	})
}
