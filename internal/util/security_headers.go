package util

import (
	"net/http"
	"net/url"
	"strings"
)

// WithSecurityHeaders adds security headers suited to server rendered pages.
// Images may come from presigned object storage URLs, so img-src allows https
// plus each of imageOrigins, which lets a plain http endpoint through.
func WithSecurityHeaders(next http.Handler, imageOrigins ...string) http.Handler {
	imgSrc := []string{"'self'", "https:", "data:"}
	for _, origin := range imageOrigins {
		if o, ok := cspOrigin(origin); ok {
			imgSrc = append(imgSrc, o)
		}
	}
	csp := strings.Join([]string{
		"default-src 'self'",
		"img-src " + strings.Join(imgSrc, " "),
		"style-src 'self' 'unsafe-inline'",
		"script-src 'self'",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		h.Set("Content-Security-Policy", csp)

		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// cspOrigin reduces raw to scheme://host for a CSP source list. Anything but
// an http(s) URL is rejected.
func cspOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || strings.ContainsAny(u.Host, " ;,'") {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}
