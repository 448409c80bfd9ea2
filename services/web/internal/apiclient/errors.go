package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoSettings is returned by UserSettings when the API has no settings
// record for the caller, which happens before the user profile is created.
var ErrNoSettings = errors.New("user has no settings")

// Problem titles the API uses for content that is stored but cannot be
// served. They downgrade to a placeholder instead of failing the page.
const (
	TitleNoteHashMissing        = "Could not find hash value for contemporaneous note!"
	TitleSharedNoteHashMissing  = "Could not find hash value for shared contemporaneous note!"
	TitleImageHashMissing       = "Could not find hash value for the image!"
	TitleSharedImageHashMissing = "Could not find hash value for the shared image!"
	TitleMD5Mismatch            = "MD5 hash verification failed!"
	TitleSHA256Mismatch         = "SHA256 hash verification failed!"
	TitleTabObjectMissing       = "Can not find the S3 object for the tab!"
	TitleSharedTabObjectMissing = "Can not find the S3 object for the shared tab!"
)

var recoverableTitles = map[string]struct{}{
	TitleNoteHashMissing:        {},
	TitleSharedNoteHashMissing:  {},
	TitleImageHashMissing:       {},
	TitleSharedImageHashMissing: {},
	TitleMD5Mismatch:            {},
	TitleSHA256Mismatch:         {},
	TitleTabObjectMissing:       {},
	TitleSharedTabObjectMissing: {},
}

// APIError is a non-success response from the Lighthouse Notes API.
type APIError struct {
	Method string
	URL    string
	Status int
	// Reason is the HTTP reason phrase of Status.
	Reason string
	Title  string
	Detail string
	Body   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, e.Reason)
	if e.Title != "" {
		msg += ": " + e.Title
	}
	return msg
}

// Recoverable reports whether the error only means one piece of content is
// unavailable (hash verification failed or the stored object is missing).
func (e *APIError) Recoverable() bool {
	if e.Status != http.StatusInternalServerError {
		return false
	}
	_, ok := recoverableTitles[strings.TrimSpace(e.Title)]
	return ok
}

// IsRecoverable reports whether err, or any error it wraps, is a recoverable
// content error. Besides *APIError it accepts any error with a
// Recoverable() bool method.
func IsRecoverable(err error) bool {
	var r interface{ Recoverable() bool }
	if errors.As(err, &r) {
		return r.Recoverable()
	}
	return false
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
