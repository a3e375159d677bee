// Package identity resolves which form session a request belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/fluia/leadmagnet/internal/session"
)

const (
	SessionCookieName = "fluia_lm_session"
	SessionHeaderName = "X-Session-ID"
	sessionQueryParam = "session_id"
	sessionCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	userAgentKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// SessionIDFromContext returns the session id the client presented, or ""
// when it presented none.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// UserAgentFromContext returns the visitor's browser descriptor.
func UserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userAgentKey).(string); ok {
		return v
	}
	return ""
}

// ValidSessionID reports whether id is safe to use as a session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !ValidSessionID(id) {
		return ""
	}
	return id
}

// sessionIDFromRequest prefers the explicit header, then the query string
// (websocket clients cannot set headers), then the cookie.
func sessionIDFromRequest(r *http.Request) string {
	if sid := sanitizeSessionID(r.Header.Get(SessionHeaderName)); sid != "" {
		return sid
	}
	if sid := sanitizeSessionID(r.URL.Query().Get(sessionQueryParam)); sid != "" {
		return sid
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return sanitizeSessionID(c.Value)
	}
	return ""
}

// SetSessionCookie remembers id in the visitor's browser.
func SetSessionCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// Middleware injects the presented session id and the client descriptor.
// The descriptor is also attached for the session package so outbound
// payloads carry the visitor's user agent.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua := r.UserAgent()

			ctx := context.WithValue(r.Context(), sessionIDKey, sessionIDFromRequest(r))
			ctx = context.WithValue(ctx, userAgentKey, ua)
			ctx = session.WithClientDescriptor(ctx, ua)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
