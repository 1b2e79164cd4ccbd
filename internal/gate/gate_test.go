package gate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		signedIn     bool
		wantStatus   int
		wantLocation string
	}{
		{name: "dashboard signed out", path: "/dashboard", wantStatus: http.StatusFound, wantLocation: "/auth/login?redirect=%2Fdashboard"},
		{name: "nested page signed out", path: "/organizations/org-1/documents", wantStatus: http.StatusFound, wantLocation: "/auth/login?redirect=%2Forganizations%2Forg-1%2Fdocuments"},
		{name: "root signed out", path: "/", wantStatus: http.StatusFound, wantLocation: "/auth/login?redirect=%2F"},
		{name: "dashboard signed in", path: "/dashboard", signedIn: true, wantStatus: http.StatusOK},
		{name: "login page signed out", path: "/auth/login", wantStatus: http.StatusOK},
		{name: "login page signed in", path: "/auth/login", signedIn: true, wantStatus: http.StatusFound, wantLocation: "/"},
		{name: "static asset", path: "/_next/static/chunk.js", wantStatus: http.StatusOK},
		{name: "favicon", path: "/favicon.ico", wantStatus: http.StatusOK},
		{name: "manifest", path: "/manifest.json", wantStatus: http.StatusOK},
		{name: "service worker", path: "/sw.js", wantStatus: http.StatusOK},
		{name: "setup page", path: "/setup-database", wantStatus: http.StatusOK},
		{name: "debug page", path: "/debug-auth", wantStatus: http.StatusOK},
		{name: "api passes through", path: "/api/documents", wantStatus: http.StatusOK},
		{name: "health", path: "/api/health", wantStatus: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := Middleware(func(*http.Request) bool { return tc.signedIn })(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
			)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantLocation, rr.Header().Get("Location"))
		})
	}
}

func TestIsPublic(t *testing.T) {
	assert.True(t, IsPublic("/icons/logo.svg"))
	assert.True(t, IsPublic("/images/bg.png"))
	assert.True(t, IsPublic("/test-simple-auth"))
	assert.False(t, IsPublic("/documents"))
	assert.False(t, IsPublic("/api/documents"))
}
