package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig holds the credentials accepted by the API.
type AuthConfig struct {
	Users   map[string]string // username -> password
	APIKeys []string
}

// openPaths are served without credentials.
var openPaths = map[string]bool{"/health": true, "/metrics": true}

// authMiddleware requires Basic auth, a Bearer token or an X-API-Key
// header on everything except openPaths.
func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] || cfg.allowed(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="homegw API"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
	})
}

func (a AuthConfig) allowed(r *http.Request) bool {
	if key := r.Header.Get("X-API-Key"); key != "" && a.validKey(key) {
		return true
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return a.validKey(token)
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	want, exists := a.Users[user]
	return exists && subtle.ConstantTimeCompare([]byte(pass), []byte(want)) == 1
}

func (a AuthConfig) validKey(key string) bool {
	for _, k := range a.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
