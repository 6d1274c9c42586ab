package auth

import (
	"net/http"
	"strings"
)

// TokenCookie is the cookie name checked during the realtime handshake.
const TokenCookie = "pulse_token"

// ExtractToken pulls the bearer credential from a handshake request.
// Clients carry the token in one of three shapes: an Authorization header
// (with or without the Bearer scheme), the session cookie, or a token query
// parameter. The first non-empty shape wins; verification downstream is
// agnostic to which one carried it.
func ExtractToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, ok := stripBearer(header); ok {
			return token
		}
		return header
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func stripBearer(header string) (string, bool) {
	const scheme = "bearer "
	if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
		return strings.TrimSpace(header[len(scheme):]), true
	}
	return "", false
}
