// Package gate decides which page requests need a signed-in user. It runs in
// front of the router; API paths are left to the handlers, which answer 401.
package gate

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	LoginPath = "/auth/login"
	HomePath  = "/"
)

// publicPrefixes are reachable without a session.
var publicPrefixes = []string{
	"/auth",
	"/_next",
	"/favicon",
	"/icons",
	"/images",
	"/manifest.json",
	"/sw.js",
	"/api/health",
	"/metrics",
	"/test-",
	"/debug-",
	"/setup-",
}

// Authenticator reports whether the request carries a valid session.
type Authenticator func(r *http.Request) bool

// IsPublic reports whether path is on the allow-list.
func IsPublic(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

func isAuthPage(path string) bool {
	return path == "/auth" || strings.HasPrefix(path, "/auth/")
}

// Middleware redirects signed-out page requests to the login page with the
// original path in ?redirect=, and signed-in requests for auth pages home.
func Middleware(authenticated Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if isAPI(path) {
				next.ServeHTTP(w, r)
				return
			}

			if isAuthPage(path) {
				if authenticated(r) {
					http.Redirect(w, r, HomePath, http.StatusFound)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if IsPublic(path) || authenticated(r) {
				next.ServeHTTP(w, r)
				return
			}

			target := LoginPath + "?redirect=" + url.QueryEscape(path)
			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}
