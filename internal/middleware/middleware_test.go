package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fluia/leadmagnet/internal/identity"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantOrigin string
		wantCreds  string
	}{
		{"explicit", []string{"https://fluia.es"}, "https://fluia.es", "https://fluia.es", "true"},
		{"wildcard", []string{"*"}, "https://other.example", "https://other.example", ""},
		{"rejected", []string{"https://fluia.es"}, "https://evil.example", "", ""},
		{"no origin", []string{"*"}, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(ok).ServeHTTP(w, r)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	r := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	r.Header.Set("Origin", "https://fluia.es")
	w := httptest.NewRecorder()
	CORS([]string{"https://fluia.es"})(ok).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), identity.SessionHeaderName)
}

func TestRateLimitPerSession(t *testing.T) {
	h := identity.Middleware()(RateLimit(RateLimitConfig{RequestLimit: 2, WindowSize: time.Minute})(ok))

	hit := func(sid string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/sessions/x/answer", nil)
		r.Header.Set(identity.SessionHeaderName, sid)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, hit("a"))
	assert.Equal(t, http.StatusNoContent, hit("a"))
	assert.Equal(t, http.StatusTooManyRequests, hit("a"))
	assert.Equal(t, http.StatusNoContent, hit("b"))
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(RateLimitConfig{})(ok)
	for range 5 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
