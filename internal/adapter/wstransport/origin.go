package wstransport

import (
	"log/slog"
	"net/http"
	"net/url"
)

// newCheckOrigin builds the upgrader's CheckOrigin function. Empty origins
// pass (same-origin and non-browser clients), as does the app's own origin
// derived from appURL. Development mode additionally admits localhost so
// local frontends can connect.
func newCheckOrigin(appURL string, isDevelopment bool) func(r *http.Request) bool {
	allowed := originOf(appURL)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
			return true
		case origin == allowed:
			return true
		case isDevelopment && isLoopback(origin):
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

// originOf reduces a URL to its scheme://host origin form.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLoopback(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
