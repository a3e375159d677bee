package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, r *http.Request) (sid, ua string) {
	t.Helper()
	h := Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		sid = SessionIDFromContext(r.Context())
		ua = UserAgentFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	return sid, ua
}

func TestMiddlewareSessionIDPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		cookie string
		want   string
	}{
		{name: "none", want: ""},
		{name: "cookie", cookie: "from-cookie", want: "from-cookie"},
		{name: "query beats cookie", query: "from-query", cookie: "from-cookie", want: "from-query"},
		{name: "header beats all", header: "from-header", query: "from-query", cookie: "c", want: "from-header"},
		{name: "invalid header falls through", header: "../etc", cookie: "from-cookie", want: "from-cookie"},
		{name: "invalid cookie", cookie: "a b", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/sessions/current"
			if tt.query != "" {
				target += "?session_id=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set(SessionHeaderName, tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			sid, _ := capture(t, r)
			assert.Equal(t, tt.want, sid)
		})
	}
}

func TestMiddlewareUserAgent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11)")
	_, ua := capture(t, r)
	assert.Equal(t, "Mozilla/5.0 (X11)", ua)
}

func TestSetSessionCookie(t *testing.T) {
	w := httptest.NewRecorder()
	SetSessionCookie(w, "abc-123", true)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, "abc-123", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", IPFromRequest(r))

	r.RemoteAddr = "garbage"
	assert.Equal(t, "garbage", IPFromRequest(r))
}
