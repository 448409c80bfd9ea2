package server

import (
	"context"
	"errors"
	"html"
	"net"
	"net/http"
	"net/url"

	"lighthousenotes/internal/identity"
	"lighthousenotes/internal/util"
	"lighthousenotes/services/web/internal/apiclient"
	"lighthousenotes/services/web/internal/content"
	"lighthousenotes/services/web/internal/export"
	"lighthousenotes/services/web/internal/settings"
)

var (
	errNotFound  = errors.New("not found")
	errForbidden = errors.New("forbidden")
)

// inputError is a problem with what the user submitted.
type inputError string

func (e inputError) Error() string { return string(e) }

type errorView struct {
	Title       string
	Description string
	// Quiet pages show the title only.
	Quiet    bool
	Expired  bool
	LoginURL string
}

// classify maps err to the status and view of the error page.
func (s *Server) classify(r *http.Request, token string, err error) (int, errorView) {
	view := errorView{LoginURL: loginPath(r.URL.RequestURI())}
	var apiErr *apiclient.APIError
	var input inputError
	switch {
	case errors.Is(err, errSessionExpired):
		view.Title = "Session expired"
		view.Description = "Your session has expired. Sign in again to continue."
		view.Expired = true
		return http.StatusUnauthorized, view
	case errors.Is(err, errNotFound):
		view.Title, view.Quiet = "Not Found", true
		return http.StatusNotFound, view
	case errors.Is(err, errForbidden):
		view.Title, view.Quiet = "Forbidden", true
		return http.StatusForbidden, view
	case errors.Is(err, apiclient.ErrNoSettings), errors.Is(err, settings.ErrAnonymousPrincipal):
		view.Title = "Account not set up"
		view.Description = "Your account has not been set up yet. Ask your organization administrator to add you."
		return http.StatusForbidden, view
	case errors.As(err, &input):
		view.Title, view.Description = "Bad Request", string(input)
		return http.StatusBadRequest, view
	case errors.Is(err, content.ErrMalformedHTML):
		view.Title, view.Description = "Bad Request", "The content could not be read."
		return http.StatusBadRequest, view
	case errors.Is(err, export.ErrPDFDependencyMissing):
		view.Title, view.Description = "PDF export unavailable", "PDF rendering is not installed on this server."
		return http.StatusServiceUnavailable, view
	case errors.As(err, &apiErr):
		switch apiErr.Status {
		case http.StatusNotFound:
			view.Title, view.Quiet = "Not Found", true
			return http.StatusNotFound, view
		case http.StatusForbidden:
			view.Title, view.Quiet = "Forbidden", true
			return http.StatusForbidden, view
		case http.StatusUnauthorized:
			if identity.Expired(token, s.now()) {
				return s.classify(r, token, errSessionExpired)
			}
		}
		view.Title = apiErr.Reason
		view.Description = html.UnescapeString(apiErr.Body)
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status, view
		}
		return http.StatusBadGateway, view
	case isTransportError(err):
		view.Title, view.Description = "HTTP Error", err.Error()
		return http.StatusBadGateway, view
	default:
		view.Title, view.Description = "Unknown Error:", err.Error()
		return http.StatusInternalServerError, view
	}
}

// renderError is the page error boundary.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, p *page, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	token := ""
	if p != nil {
		token = p.token
	}
	status, view := s.classify(r, token, err)
	logger := util.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("page_error", "path", r.URL.Path, "status", status, "err", err)
	} else {
		logger.Warn("page_error", "path", r.URL.Path, "status", status, "err", err)
	}
	if p == nil {
		p = &page{}
	}
	s.render(w, r, status, "error", p, view.Title, view)
}

// writeAPIError is the JSON counterpart of renderError.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	status := apiclient.StatusCode(err)
	var input inputError
	switch {
	case errors.As(err, &input):
		writeError(w, http.StatusBadRequest, string(input))
		return
	case errors.Is(err, apiclient.ErrNoSettings), errors.Is(err, settings.ErrAnonymousPrincipal):
		status = http.StatusForbidden
	case status == 0 || status >= http.StatusInternalServerError:
		status = http.StatusBadGateway
	}
	util.LoggerFromContext(r.Context()).Warn("api_error", "path", r.URL.Path, "status", status, "err", err)
	writeError(w, status, http.StatusText(status))
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr)
}
