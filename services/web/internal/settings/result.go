package settings

import "lighthousenotes/pkg/domain"

// Kind discriminates a Result.
type Kind int

const (
	KindReady Kind = iota + 1
	KindRedirect
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Result is either Ready with settings to render with, or Redirect with a
// URL the browser must navigate to before anything is rendered. A Redirect
// also carries the record it just stored, for requests that cannot be
// replayed by the browser.
type Result struct {
	kind     Kind
	settings domain.Settings
	redirect string
}

func Ready(s domain.Settings) Result {
	return Result{kind: KindReady, settings: s}
}

func Redirect(url string, stored domain.Settings) Result {
	return Result{kind: KindRedirect, redirect: url, settings: stored}
}

func (r Result) Kind() Kind { return r.kind }

// Settings is the stored record for either kind.
func (r Result) Settings() domain.Settings { return r.settings }

// RedirectURL is only meaningful when Kind is KindRedirect.
func (r Result) RedirectURL() string { return r.redirect }
