// Package settings makes sure a page renders with settings that belong to
// the signed in user.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"lighthousenotes/internal/identity"
	"lighthousenotes/internal/util"
	"lighthousenotes/pkg/browserstore"
	"lighthousenotes/pkg/domain"
)

// Key is the browser store key of the cached settings record.
const Key = "settings"

// DefaultCulture is used when the API returns settings without a locale.
const DefaultCulture = "en-GB"

// ErrAnonymousPrincipal is returned when the principal has no attribute a
// settings record could be matched against.
var ErrAnonymousPrincipal = errors.New("principal has no identity attributes")

// Fetcher loads the caller's settings from the API.
type Fetcher interface {
	UserSettings(ctx context.Context, token string) (domain.APISettings, error)
}

// Config binds a Resolver to one page request.
type Config struct {
	Store     browserstore.Store
	Principal identity.Principal
	Fetcher   Fetcher
	// CurrentURL is the path and query of the page being rendered.
	CurrentURL string
}

// Resolver resolves settings once per page request.
type Resolver struct {
	cfg   Config
	group singleflight.Group

	mu     sync.Mutex
	done   bool
	result Result
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns Ready with the stored settings when they belong to the
// principal. Otherwise it fetches settings from the API, stores them for
// the principal and returns Redirect to the culture endpoint, which comes
// back to the current page. Concurrent calls share one resolution and a
// successful result is reused for the Resolver's lifetime.
func (r *Resolver) Resolve(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.done {
		res := r.result
		r.mu.Unlock()
		return res, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(Key, func() (any, error) {
		res, err := r.resolve(ctx)
		if err != nil {
			return Result{}, err
		}
		r.mu.Lock()
		r.result = res
		r.done = true
		r.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Resolver) resolve(ctx context.Context) (Result, error) {
	logger := util.LoggerFromContext(ctx).With("component", "settings")
	p := r.cfg.Principal
	if p.Subject == "" && p.Email == "" && p.OrganizationID == "" {
		return Result{}, ErrAnonymousPrincipal
	}

	var stored domain.Settings
	err := r.cfg.Store.Get(ctx, Key, &stored)
	switch {
	case err == nil:
		if OwnedBy(stored, p) {
			return Ready(stored), nil
		}
		logger.Info("stored settings belong to another identity")
	case errors.Is(err, browserstore.ErrNotFound):
	default:
		logger.Warn("stored settings unreadable", "err", err)
	}

	fetched, err := r.cfg.Fetcher.UserSettings(ctx, p.Token)
	if err != nil {
		return Result{}, err
	}
	s := FromAPI(fetched, p)
	if err := r.cfg.Store.Set(ctx, Key, s); err != nil {
		return Result{}, fmt.Errorf("store settings: %w", err)
	}
	logger.Debug("settings refreshed", slog.String("locale", s.Locale))

	current := r.cfg.CurrentURL
	if current == "" {
		current = "/"
	}
	return Redirect(CultureSetURL(s.Locale, current), s), nil
}

// Remove deletes the cached settings.
func (r *Resolver) Remove(ctx context.Context) error {
	r.mu.Lock()
	r.done = false
	r.result = Result{}
	r.mu.Unlock()
	return r.cfg.Store.Delete(ctx, Key)
}

// FromAPI builds the cached record for p from API settings.
func FromAPI(s domain.APISettings, p identity.Principal) domain.Settings {
	locale := strings.TrimSpace(s.Locale)
	if locale == "" {
		locale = DefaultCulture
	}
	return domain.Settings{
		IdentityID:     p.Subject,
		OrganizationID: p.OrganizationID,
		EmailAddress:   p.Email,
		UserID:         s.UserID,
		TimeZone:       s.TimeZone,
		DateFormat:     s.DateFormat,
		TimeFormat:     s.TimeFormat,
		DateTimeFormat: s.DateFormat + " " + s.TimeFormat,
		Locale:         locale,
		S3Endpoint:     s.S3Endpoint,
	}
}

// OwnedBy reports whether s was stored for p. Every identity attribute set
// on both sides must agree and at least one must be compared; email is
// compared case-insensitively.
func OwnedBy(s domain.Settings, p identity.Principal) bool {
	compared := 0
	if s.EmailAddress != "" && p.Email != "" {
		if !strings.EqualFold(s.EmailAddress, p.Email) {
			return false
		}
		compared++
	}
	if s.IdentityID != "" && p.Subject != "" {
		if s.IdentityID != p.Subject {
			return false
		}
		compared++
	}
	if s.OrganizationID != "" && p.OrganizationID != "" {
		if s.OrganizationID != p.OrganizationID {
			return false
		}
		compared++
	}
	return compared > 0
}

// CultureSetURL is the relative culture endpoint URL that sets culture and
// then redirects to redirect.
func CultureSetURL(culture, redirect string) string {
	return "Culture/Set?culture=" + escapeDataString(culture) + "&redirectUrl=" + escapeDataString(redirect)
}

// escapeDataString percent-encodes everything except unreserved characters.
func escapeDataString(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
