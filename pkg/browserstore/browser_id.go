package browserstore

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DefaultBrowserCookie names the cookie carrying the browser id.
const DefaultBrowserCookie = "lh_browser"

// BrowserID returns the browser id carried by r, issuing a new random id
// cookie on w when absent or malformed.
func BrowserID(w http.ResponseWriter, r *http.Request, cookieName string, secure bool) string {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultBrowserCookie
	}
	if c, err := r.Cookie(cookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   400 * 24 * 60 * 60,
	})
	// Later lookups in the same request see the id too.
	r.AddCookie(&http.Cookie{Name: cookieName, Value: id})
	return id
}
