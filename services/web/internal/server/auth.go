package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/language"

	"lighthousenotes/internal/identity"
	"lighthousenotes/pkg/browserstore"
	"lighthousenotes/pkg/domain"
	"lighthousenotes/services/web/internal/apiclient"
	"lighthousenotes/services/web/internal/settings"
)

const (
	cultureCookie    = ".AspNetCore.Culture"
	cultureCookieAge = 365 * 24 * 60 * 60
	maxCultureLength = 35
)

var (
	errUnauthenticated = errors.New("unauthenticated")
	errSessionExpired  = errors.New("session expired")
)

// page is the per-request state shared by page handlers once the user is
// authenticated and settings are ready.
type page struct {
	principal identity.Principal
	token     string
	store     browserstore.Store
	settings  domain.Settings
}

type pageHandler func(http.ResponseWriter, *http.Request, *page)

// token returns the access token from the Authorization header or the token cookie.
func (s *Server) token(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	if c, err := r.Cookie(s.tokenCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// authenticate verifies the request token and binds the browser store.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*page, error) {
	token := s.token(r)
	if token == "" {
		s.audit(r, "web.token.verify", "fail", "reason", "missing_token")
		return &page{}, errUnauthenticated
	}
	principal, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		p := &page{token: token}
		if identity.Expired(token, s.now()) {
			s.audit(r, "web.token.verify", "fail", "reason", "expired")
			return p, errSessionExpired
		}
		s.audit(r, "web.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return p, errUnauthenticated
	}
	return &page{principal: principal, token: token, store: s.stores.For(w, r)}, nil
}

// begin authenticates r and resolves the settings of the signed in user.
// A non-empty redirect means settings were refreshed; p.settings then holds
// the refreshed record.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) (p *page, redirect string, err error) {
	p, err = s.authenticate(w, r)
	if err != nil {
		return p, "", err
	}
	principal := p.principal
	resolver := settings.NewResolver(settings.Config{
		Store:      p.store,
		Principal:  principal,
		Fetcher:    s.api,
		CurrentURL: r.URL.RequestURI(),
	})
	res, err := resolver.Resolve(r.Context())
	if err != nil {
		return p, "", err
	}
	p.settings = res.Settings()
	if res.Kind() == settings.KindRedirect {
		s.audit(r, "web.settings.refresh", "success", "subject", principal.Subject)
		return p, "/" + res.RedirectURL(), nil
	}
	return p, "", nil
}

// pageRoute wraps an HTML page handler. Unauthenticated users are sent to
// the login endpoint and a settings refresh redirects before rendering.
// Form posts cannot survive that redirect, so they carry on with the
// refreshed settings and pick up the culture cookie on their response.
// Users the API does not know yet are sent to the registration form.
func (s *Server) pageRoute(next pageHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, redirect, err := s.begin(w, r)
		switch {
		case errors.Is(err, errUnauthenticated):
			http.Redirect(w, r, loginPath(r.URL.RequestURI()), http.StatusFound)
		case errors.Is(err, apiclient.ErrNoSettings):
			s.audit(r, "web.settings.refresh", "fail", "reason", "unregistered", "subject", p.principal.Subject)
			http.Redirect(w, r, newUserPath, http.StatusFound)
		case err != nil:
			s.renderError(w, r, p, err)
		case redirect != "" && (r.Method == http.MethodGet || r.Method == http.MethodHead):
			http.Redirect(w, r, redirect, http.StatusFound)
		case redirect != "":
			s.setCultureCookie(w, p.settings.Locale)
			next(w, r, p)
		default:
			next(w, r, p)
		}
	})
}

// accountRoute wraps pages that only need a verified token, such as
// registration, where the API holds no settings for the user yet.
func (s *Server) accountRoute(next pageHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(w, r)
		switch {
		case errors.Is(err, errUnauthenticated):
			http.Redirect(w, r, loginPath(r.URL.RequestURI()), http.StatusFound)
		case err != nil:
			s.renderError(w, r, p, err)
		default:
			next(w, r, p)
		}
	})
}

// apiRoute wraps a JSON handler.
func (s *Server) apiRoute(next pageHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, redirect, err := s.begin(w, r)
		switch {
		case errors.Is(err, errUnauthenticated), errors.Is(err, errSessionExpired):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		case err != nil:
			writeAPIError(w, r, err)
		case redirect != "":
			writeJSON(w, http.StatusPreconditionRequired, map[string]string{
				"error":    "settings refresh required",
				"redirect": redirect,
			})
		default:
			next(w, r, p)
		}
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.authLimiter, "too many login attempts") {
		return
	}
	returnURL := r.URL.Query().Get("returnUrl")
	if !isLocalURL(returnURL) {
		returnURL = "/"
	}
	target, err := url.Parse(s.loginURL)
	if err != nil {
		s.renderError(w, r, &page{}, err)
		return
	}
	q := target.Query()
	// An invitation link signs the user up with the identity provider and
	// lands on the registration form afterwards.
	if invitation := strings.TrimSpace(r.URL.Query().Get("invitation")); invitation != "" {
		q.Set("invitation", invitation)
		if org := strings.TrimSpace(r.URL.Query().Get("organization")); org != "" {
			q.Set("organization", org)
		}
		returnURL = newUserPath
	}
	q.Set("returnUrl", returnURL)
	target.RawQuery = q.Encode()
	s.audit(r, "web.login", "success")
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleLogout forgets the cached settings and the token before handing
// over to the identity provider.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.authLimiter, "too many logout attempts") {
		return
	}
	store := s.stores.For(w, r)
	if err := settings.NewResolver(settings.Config{Store: store}).Remove(r.Context()); err != nil {
		s.audit(r, "web.logout", "fail", "reason", "settings_remove_failed", "err", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	s.audit(r, "web.logout", "success")
	http.Redirect(w, r, s.logoutURL, http.StatusFound)
}

// handleCultureSet stores the culture cookie and returns to a local page.
func (s *Server) handleCultureSet(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.cultureLimiter, "too many requests") {
		return
	}
	culture := strings.TrimSpace(r.URL.Query().Get("culture"))
	if !validCulture(culture) {
		s.audit(r, "web.culture", "fail", "reason", "invalid_culture")
		writeError(w, http.StatusBadRequest, "invalid culture")
		return
	}
	s.setCultureCookie(w, culture)
	redirect := r.URL.Query().Get("redirectUrl")
	if !isLocalURL(redirect) {
		s.audit(r, "web.culture.redirect", "fail", "reason", "non_local", "redirect", redirect)
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (s *Server) setCultureCookie(w http.ResponseWriter, culture string) {
	if !validCulture(culture) {
		culture = settings.DefaultCulture
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cultureCookie,
		Value:    "c=" + culture + "|uic=" + culture,
		Path:     "/",
		MaxAge:   cultureCookieAge,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// isLocalURL accepts paths on this site only: "/x" but not "//host" or "/\host".
func isLocalURL(raw string) bool {
	if raw == "" || raw[0] != '/' {
		return false
	}
	if len(raw) > 1 && (raw[1] == '/' || raw[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(raw, "\r\n")
}

// validCulture accepts well-formed BCP 47 tags such as "en-GB". The parser
// also takes "_" as a separator; the cookie format does not.
func validCulture(culture string) bool {
	if culture == "" || len(culture) > maxCultureLength || strings.ContainsAny(culture, "_ \t") {
		return false
	}
	if culture[0] == '-' || culture[len(culture)-1] == '-' {
		return false
	}
	_, err := language.Parse(culture)
	return err == nil
}

func loginPath(returnURL string) string {
	return "/auth/login?returnUrl=" + url.QueryEscape(returnURL)
}
