// Package server renders the Lighthouse Notes pages on top of the backend API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lighthousenotes/internal/identity"
	"lighthousenotes/internal/latest"
	"lighthousenotes/internal/ratelimit"
	"lighthousenotes/internal/util"
	"lighthousenotes/pkg/browserstore"
	"lighthousenotes/pkg/domain"
	"lighthousenotes/pkg/storage"
	"lighthousenotes/services/web/internal/apiclient"
	"lighthousenotes/services/web/internal/export"
)

const (
	defaultTokenCookie = "access_token"
	maxFormBytes       = 2 << 20
	rateWindow         = time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	API      *apiclient.Client
	Verifier *identity.Verifier
	Stores   browserstore.Provider
	// Redis backs rate limiting. Nil or a zero limit disables it.
	Redis              redis.Cmdable
	RateLimitPerMinute int
	TrustedProxies     *util.TrustedProxies
	LoginURL           string
	LogoutURL          string
	TokenCookieName    string
	BrowserCookieName  string
	SecureCookies      bool
	// Bucket serves images straight from object storage. Nil asks the API.
	Bucket           *storage.BucketImages
	ImageConcurrency int
	// ImageOrigins are allowed as image sources on top of any https origin.
	ImageOrigins []string
	PDF          export.PDFRenderer
}

// Server exposes the web pages.
type Server struct {
	api            *apiclient.Client
	verifier       *identity.Verifier
	stores         browserstore.Provider
	trusted        *util.TrustedProxies
	loginURL       string
	logoutURL      string
	tokenCookie    string
	browserCookie  string
	secureCookies  bool
	bucket         *storage.BucketImages
	concurrency    int
	imageOrigins   []string
	pdf            export.PDFRenderer
	searches       *latest.Tracker
	pages          map[string]*template.Template
	exportPage     *template.Template
	mux            *http.ServeMux
	authLimiter    *ratelimit.FixedWindowLimiter
	cultureLimiter *ratelimit.FixedWindowLimiter
	searchLimiter  *ratelimit.FixedWindowLimiter
	now            func() time.Time
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.API == nil {
		return nil, errors.New("server requires an api client")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server requires a token verifier")
	}
	if cfg.Stores == nil {
		return nil, errors.New("server requires a browser store")
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if cfg.Redis == nil || limit <= 0 {
			return nil, nil
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "lighthouse:web:ratelimit:"+name, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	authLimiter, err := newLimiter("auth", cfg.RateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	cultureLimiter, err := newLimiter("culture", cfg.RateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	// Search fires while the user types.
	searchLimiter, err := newLimiter("search", cfg.RateLimitPerMinute*4)
	if err != nil {
		return nil, err
	}
	pages, exportPage, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		api:            cfg.API,
		verifier:       cfg.Verifier,
		stores:         cfg.Stores,
		trusted:        cfg.TrustedProxies,
		loginURL:       strings.TrimSpace(cfg.LoginURL),
		logoutURL:      strings.TrimSpace(cfg.LogoutURL),
		tokenCookie:    strings.TrimSpace(cfg.TokenCookieName),
		browserCookie:  strings.TrimSpace(cfg.BrowserCookieName),
		secureCookies:  cfg.SecureCookies,
		bucket:         cfg.Bucket,
		concurrency:    cfg.ImageConcurrency,
		imageOrigins:   cfg.ImageOrigins,
		pdf:            cfg.PDF,
		searches:       latest.NewTracker(),
		pages:          pages,
		exportPage:     exportPage,
		mux:            http.NewServeMux(),
		authLimiter:    authLimiter,
		cultureLimiter: cultureLimiter,
		searchLimiter:  searchLimiter,
		now:            time.Now,
	}
	if s.tokenCookie == "" {
		s.tokenCookie = defaultTokenCookie
	}
	if s.browserCookie == "" {
		s.browserCookie = browserstore.DefaultBrowserCookie
	}
	if s.loginURL == "" {
		s.loginURL = "/"
	}
	if s.logoutURL == "" {
		s.logoutURL = "/"
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("web", util.WithSecurityHeaders(s.mux, s.imageOrigins...)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /img/image-error.jpeg", s.handlePlaceholder)

	// culture & auth
	s.mux.HandleFunc("GET /culture/set", s.handleCultureSet)
	s.mux.HandleFunc("GET /Culture/Set", s.handleCultureSet)
	s.mux.HandleFunc("GET /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /auth/logout", s.handleLogout)
	s.mux.Handle("GET /account/new-user", s.accountRoute(s.handleNewUser))
	s.mux.Handle("POST /account/new-user", s.accountRoute(s.handleRegister))

	// pages
	s.mux.Handle("GET /{$}", s.pageRoute(s.handleHome))
	s.mux.Handle("GET /case/{caseID}", s.pageRoute(s.handleCase))
	s.mux.Handle("GET /user/{email}", s.pageRoute(s.handleUser))
	s.mux.Handle("GET /audit", s.pageRoute(s.handleAudit))
	s.mux.Handle("GET /case/{caseID}/exhibits", s.pageRoute(s.handleExhibits))
	s.mux.Handle("GET /case/{caseID}/exhibit/{exhibitID}", s.pageRoute(s.handleExhibit))
	s.mux.Handle("GET /case/{caseID}/export", s.pageRoute(s.handleExport))
	s.mux.Handle("GET /case/{caseID}/export.pdf", s.pageRoute(s.handleExportPDF))

	// notes & tabs
	s.mux.Handle("GET /case/{caseID}/contemporaneous-notes", s.pageRoute(s.handleNotes(domain.Personal)))
	s.mux.Handle("POST /case/{caseID}/contemporaneous-notes", s.pageRoute(s.handleSaveNote(domain.Personal)))
	s.mux.Handle("GET /case/{caseID}/shared/contemporaneous-notes", s.pageRoute(s.handleNotes(domain.Shared)))
	s.mux.Handle("POST /case/{caseID}/shared/contemporaneous-notes", s.pageRoute(s.handleSaveNote(domain.Shared)))
	s.mux.Handle("POST /case/{caseID}/tab", s.pageRoute(s.handleCreateTab(domain.Personal)))
	s.mux.Handle("POST /case/{caseID}/shared/tab", s.pageRoute(s.handleCreateTab(domain.Shared)))
	s.mux.Handle("GET /case/{caseID}/tab/{tabID}", s.pageRoute(s.handleTab(domain.Personal)))
	s.mux.Handle("POST /case/{caseID}/tab/{tabID}", s.pageRoute(s.handleSaveTab(domain.Personal)))
	s.mux.Handle("GET /case/{caseID}/shared/tab/{tabID}", s.pageRoute(s.handleTab(domain.Shared)))
	s.mux.Handle("POST /case/{caseID}/shared/tab/{tabID}", s.pageRoute(s.handleSaveTab(domain.Shared)))

	// management
	s.mux.Handle("POST /cases", s.pageRoute(s.handleCreateCase))
	s.mux.Handle("POST /case/{caseID}", s.pageRoute(s.handleUpdateCase))
	s.mux.Handle("POST /case/{caseID}/users", s.pageRoute(s.handleAddCaseUser))
	s.mux.Handle("POST /case/{caseID}/users/{userID}/remove", s.pageRoute(s.handleRemoveCaseUser))
	s.mux.Handle("POST /case/{caseID}/exhibits", s.pageRoute(s.handleCreateExhibit))
	s.mux.Handle("GET /settings", s.pageRoute(s.handleSettings))
	s.mux.Handle("POST /settings", s.pageRoute(s.handleSaveSettings))
	s.mux.Handle("GET /organization", s.pageRoute(s.handleOrganization))
	s.mux.Handle("POST /organization", s.pageRoute(s.handleSaveOrganization))
	s.mux.Handle("GET /users", s.pageRoute(s.handleUsers))
	s.mux.Handle("POST /users", s.pageRoute(s.handleCreateUser))
	s.mux.Handle("GET /users/{userID}", s.pageRoute(s.handleEditUser))
	s.mux.Handle("POST /users/{userID}", s.pageRoute(s.handleUpdateUser))
	s.mux.Handle("POST /users/{userID}/delete", s.pageRoute(s.handleDeleteUser))

	// json
	s.mux.Handle("GET /api/case/{caseID}/shared/contemporaneous-notes/search", s.apiRoute(s.handleSearch))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate reports whether r is within its limiter quota and writes 429
// otherwise. A nil limiter allows everything.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	d := limiter.Allow(r.Context(), key)
	if d.Allowed {
		return true
	}
	retry := int(d.RetryAfter.Round(time.Second) / time.Second)
	if retry <= 0 {
		retry = int(rateWindow / time.Second)
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	s.audit(r, "web.ratelimit", "fail")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}
